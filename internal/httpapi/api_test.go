// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard/internal/auth"
	"github.com/taskboard/taskboard/internal/auth/memory"
	"github.com/taskboard/taskboard/internal/httpapi"
	"github.com/taskboard/taskboard/pkg/errutil"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type captureMailer struct {
	mu   sync.Mutex
	sent []auth.ResetMail
}

func (m *captureMailer) SendPasswordReset(_ context.Context, msg auth.ResetMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no reset mail sent")
	return m.sent[len(m.sent)-1].Token
}

type routeRecorder struct {
	mu     sync.Mutex
	routes map[string]int
}

func (r *routeRecorder) ObserveHTTP(route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routes == nil {
		r.routes = map[string]int{}
	}
	r.routes[route]++
	_ = status
}

type testAPI struct {
	handler http.Handler
	mailer  *captureMailer
	routes  *routeRecorder
}

type option struct {
	service func(*auth.ServiceConfig)
	api     func(*httpapi.Config)
}

func newTestAPI(t *testing.T, opts ...option) *testAPI {
	t.Helper()

	repo := memory.NewAccountRepository()
	hasher, err := auth.NewArgon2idHasherWithParams(auth.HashParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1})
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(testSecret, time.Hour, "taskboard")
	require.NoError(t, err)
	resets, err := auth.NewResetTokenManager(repo, time.Hour, nil)
	require.NoError(t, err)

	mailer := &captureMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svcCfg := auth.ServiceConfig{
		Accounts: repo,
		Hasher:   hasher,
		Tokens:   tokens,
		Resets:   resets,
		Mailer:   mailer,
		Logger:   logger,
		Lockout:  auth.DefaultLockoutPolicy(),
	}
	for _, o := range opts {
		if o.service != nil {
			o.service(&svcCfg)
		}
	}
	svc, err := auth.NewService(svcCfg)
	require.NoError(t, err)

	routes := &routeRecorder{}
	apiCfg := httpapi.Config{
		Auth:        svc,
		Logger:      logger,
		Metrics:     routes,
		CookieName:  "token",
		SessionTTL:  time.Hour,
		CORSOrigins: []string{"http://localhost:*"},
	}
	for _, o := range opts {
		if o.api != nil {
			o.api(&apiCfg)
		}
	}
	api, err := httpapi.New(apiCfg)
	require.NoError(t, err)
	t.Cleanup(api.Close)

	return &testAPI{handler: api.Handler(), mailer: mailer, routes: routes}
}

type response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ResetToken string `json:"resetToken"`
	User       *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

func (a *testAPI) do(t *testing.T, method, path, body string, mutate ...func(*http.Request)) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

const aliceBody = `{"username":"alice","email":"Alice@Example.com","password":"secret1"}`

func (a *testAPI) registerAndLogin(t *testing.T) *http.Cookie {
	t.Helper()
	rec, _ := a.do(t, http.MethodPost, "/api/auth/register", aliceBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = a.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func TestNew_Validation(t *testing.T) {
	_, err := httpapi.New(httpapi.Config{CookieName: "token", SessionTTL: time.Hour})
	errutil.AssertErrorCode(t, err, "HTTP_INVALID_CONFIG")

	api := newTestAPI(t)
	require.NotNil(t, api)

	_, err = httpapi.New(httpapi.Config{
		Auth:        &auth.Service{},
		CookieName:  "token",
		SessionTTL:  time.Hour,
		CORSOrigins: []string{"http://[bad"},
	})
	errutil.AssertErrorCode(t, err, "HTTP_INVALID_CORS_ORIGIN")

	for _, proxy := range []string{"10.0.0.0/33", "not-an-ip", ""} {
		_, err = httpapi.New(httpapi.Config{
			Auth:           &auth.Service{},
			CookieName:     "token",
			SessionTTL:     time.Hour,
			TrustedProxies: []string{proxy},
		})
		errutil.AssertErrorCode(t, err, "HTTP_INVALID_CONFIG")
		errutil.AssertErrorContext(t, err, "trusted_proxy", proxy)
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec, _ := api.do(t, http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK","message":"Server is running"}`, rec.Body.String())
}

func TestRegister(t *testing.T) {
	api := newTestAPI(t)

	rec, resp := api.do(t, http.MethodPost, "/api/auth/register", aliceBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, "User registered successfully", resp.Message)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice", resp.User.Username)
	assert.Equal(t, "Alice@Example.com", resp.User.Email)
	assert.NotContains(t, rec.Body.String(), "argon2id")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "password")

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"duplicate email in another case", `{"username":"alice2","email":"ALICE@example.com","password":"secret1"}`,
			http.StatusConflict, "User with this email already exists"},
		{"missing fields", `{}`, http.StatusBadRequest, ""},
		{"short password", `{"username":"bob","email":"bob@example.com","password":"12345"}`, http.StatusBadRequest, ""},
		{"malformed email", `{"username":"bob","email":"not-an-email","password":"secret1"}`, http.StatusBadRequest, ""},
		{"wrong field type", `{"username":"bob","email":5,"password":"secret1"}`, http.StatusBadRequest, "Invalid request body"},
		{"not json", `username=bob`, http.StatusBadRequest, "Invalid request body"},
		{"array body", `[]`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := api.do(t, http.MethodPost, "/api/auth/register", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
		})
	}
}

func TestRegister_BodyTooLarge(t *testing.T) {
	api := newTestAPI(t)
	body := `{"username":"` + strings.Repeat("a", 70<<10) + `"}`

	rec, _ := api.do(t, http.MethodPost, "/api/auth/register", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)
	rec, _ := api.do(t, http.MethodPost, "/api/auth/register", aliceBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("sets an http-only session cookie", func(t *testing.T) {
		rec, resp := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"ALICE@example.com","password":"secret1"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.True(t, resp.Success)
		assert.Equal(t, "Login successful", resp.Message)
		assert.Equal(t, "alice", resp.User.Username)

		c := sessionCookie(t, rec)
		assert.NotEmpty(t, c.Value)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, 3600, c.MaxAge)
		assert.NotContains(t, rec.Body.String(), c.Value, "token travels only in the cookie")
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong, wrongResp := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"nope123"}`)
		unknown, unknownResp := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"ghost@example.com","password":"nope123"}`)

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.Equal(t, "Invalid credentials", wrongResp.Message)
		assert.Equal(t, wrong.Body.String(), unknown.Body.String())
		assert.Empty(t, wrong.Result().Cookies())
		_ = unknownResp
	})

	t.Run("missing fields", func(t *testing.T) {
		rec, _ := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin_Lockout(t *testing.T) {
	api := newTestAPI(t)
	rec, _ := api.do(t, http.MethodPost, "/api/auth/register", aliceBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := 0; i < auth.LockoutThreshold; i++ {
		rec, _ := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"wrong-one"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, resp := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"secret1"}`)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "Account temporarily locked, try again later", resp.Message)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMe(t *testing.T) {
	api := newTestAPI(t)
	cookie := api.registerAndLogin(t)

	t.Run("with cookie", func(t *testing.T) {
		rec, resp := api.do(t, http.MethodGet, "/api/auth/me", "", withCookie(cookie))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, "alice", resp.User.Username)
	})

	t.Run("with bearer header", func(t *testing.T) {
		rec, _ := api.do(t, http.MethodGet, "/api/auth/me", "", withBearer(cookie.Value))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejections", func(t *testing.T) {
		tampered := cookie.Value[:len(cookie.Value)-2] + "xx"
		for name, mutate := range map[string][]func(*http.Request){
			"no token":       nil,
			"garbage cookie": {withCookie(&http.Cookie{Name: "token", Value: "garbage"})},
			"tampered token": {withBearer(tampered)},
			"wrong scheme":   {func(r *http.Request) { r.Header.Set("Authorization", "Basic "+cookie.Value) }},
		} {
			t.Run(name, func(t *testing.T) {
				rec, resp := api.do(t, http.MethodGet, "/api/auth/me", "", mutate...)
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Equal(t, "Not authorized", resp.Message)
			})
		}
	})
}

func TestLogout(t *testing.T) {
	t.Run("stateless logout clears the cookie only", func(t *testing.T) {
		api := newTestAPI(t)
		cookie := api.registerAndLogin(t)

		rec, resp := api.do(t, http.MethodPost, "/api/auth/logout", "", withCookie(cookie))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Logged out successfully", resp.Message)
		cleared := sessionCookie(t, rec)
		assert.Empty(t, cleared.Value)
		assert.Negative(t, cleared.MaxAge)

		// The token itself stays valid until it expires.
		rec, _ = api.do(t, http.MethodGet, "/api/auth/me", "", withCookie(cookie))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("revocation rejects the token afterwards", func(t *testing.T) {
		api := newTestAPI(t, option{service: func(c *auth.ServiceConfig) {
			c.Revoker = auth.NewMemoryRevoker(nil)
		}})
		cookie := api.registerAndLogin(t)

		rec, _ := api.do(t, http.MethodPost, "/api/auth/logout", "", withCookie(cookie))
		require.Equal(t, http.StatusOK, rec.Code)

		rec, _ = api.do(t, http.MethodGet, "/api/auth/me", "", withCookie(cookie))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("requires a session", func(t *testing.T) {
		api := newTestAPI(t)
		rec, _ := api.do(t, http.MethodPost, "/api/auth/logout", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestForgotAndResetPassword(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t)

	rec, resp := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.ResetToken, "token is not exposed by default")
	token := api.mailer.lastToken(t)

	unknown, unknownResp := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"ghost@example.com"}`)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, resp.Message, unknownResp.Message)

	bad, _ := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":""}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	short, _ := api.do(t, http.MethodPost, "/api/auth/reset-password", `{"token":"`+token+`","newPassword":"123"}`)
	assert.Equal(t, http.StatusBadRequest, short.Code)

	rec, resp = api.do(t, http.MethodPost, "/api/auth/reset-password", `{"token":"`+token+`","newPassword":"brand-new"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Password has been reset successfully", resp.Message)

	again, againResp := api.do(t, http.MethodPost, "/api/auth/reset-password", `{"token":"`+token+`","newPassword":"another1"}`)
	assert.Equal(t, http.StatusBadRequest, again.Code)
	assert.Equal(t, "Invalid or expired reset token", againResp.Message)

	old, _ := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, old.Code)
	fresh, _ := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"brand-new"}`)
	assert.Equal(t, http.StatusOK, fresh.Code)
}

func TestForgotPassword_ExposedToken(t *testing.T) {
	api := newTestAPI(t, option{service: func(c *auth.ServiceConfig) { c.ExposeResetToken = true }})
	api.registerAndLogin(t)

	_, resp := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"alice@example.com"}`)
	assert.Equal(t, api.mailer.lastToken(t), resp.ResetToken)

	_, unknown := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"ghost@example.com"}`)
	assert.Empty(t, unknown.ResetToken)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, option{api: func(c *httpapi.Config) {
		c.RateLimit = httpapi.RateLimiterConfig{Requests: 2, Window: time.Hour}
		c.TrustedProxies = []string{"192.0.2.0/24"} // httptest peer is 192.0.2.1
	}})
	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Real-IP", ip) }
	}

	for i := 0; i < 2; i++ {
		rec, _ := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@example.com"}`, from("198.51.100.7"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := api.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"x"}`, from("198.51.100.7"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Too many requests, please try again later", resp.Message)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	other, _ := api.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@example.com"}`, from("198.51.100.8"))
	assert.Equal(t, http.StatusOK, other.Code)

	health, _ := api.do(t, http.MethodGet, "/api/health", "", from("198.51.100.7"))
	assert.Equal(t, http.StatusOK, health.Code, "health is not limited")
}

func TestRateLimit_ForwardedHeadersFromUntrustedPeer(t *testing.T) {
	headers := []string{"X-Forwarded-For", "X-Real-IP", "True-Client-IP"}

	for _, trusted := range [][]string{nil, {"10.0.0.0/8", "2001:db8::1"}} {
		api := newTestAPI(t, option{api: func(c *httpapi.Config) {
			c.RateLimit = httpapi.RateLimiterConfig{Requests: 2, Window: time.Hour}
			c.TrustedProxies = trusted
		}})

		var limited int
		for i := range 20 {
			spoof := func(r *http.Request) {
				r.Header.Set(headers[i%len(headers)], fmt.Sprintf("203.0.113.%d", i+1))
			}
			rec, _ := api.do(t, http.MethodPost, "/api/auth/login",
				`{"email":"a@example.com","password":"wrong-password"}`, spoof)
			if rec.Code == http.StatusTooManyRequests {
				limited++
			}
		}
		assert.Equal(t, 18, limited, "trusted proxies %v", trusted)
	}
}

func TestCORS(t *testing.T) {
	api := newTestAPI(t)
	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		return rec
	}

	allowed := preflight("http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", allowed.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", allowed.Header().Get("Access-Control-Allow-Credentials"))

	denied := preflight("https://evil.example")
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFoundAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec, resp := api.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)

	api.do(t, http.MethodGet, "/api/health", "")
	api.do(t, http.MethodGet, "/api/auth/me", "")

	api.routes.mu.Lock()
	defer api.routes.mu.Unlock()
	assert.Equal(t, 1, api.routes.routes["/api/health"])
	assert.Equal(t, 1, api.routes.routes["/api/auth/me"])
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	api := newTestAPI(t, option{api: func(c *httpapi.Config) {
		c.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	}})

	api.do(t, http.MethodGet, "/api/health", "", func(r *http.Request) { r.RemoteAddr = "203.0.113.9:4242" })

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "/api/health", entry["route"])
	assert.Equal(t, "203.0.113.9", entry["remote"])
	assert.EqualValues(t, 200, entry["status"])
}
