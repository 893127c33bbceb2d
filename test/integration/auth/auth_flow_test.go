// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/taskboard/taskboard/internal/auth"
)

type apiResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ResetToken string `json:"resetToken"`
	User       *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

func call(client *http.Client, method, url string, body any) (int, apiResponse, *http.Response) {
	var payload bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&payload).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequest(method, url, &payload)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, resp
}

func register(s *stack, client *http.Client, username, email, password string) {
	status, out, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/register",
		map[string]string{"username": username, "email": email, "password": password})
	Expect(status).To(Equal(http.StatusCreated), out.Message)
}

var _ = Describe("Account lifecycle over HTTP with MongoDB", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack(stackOptions{})
	})

	Describe("registration", func() {
		It("creates an account and hides credentials", func() {
			client := newClient()
			status, out, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/register",
				map[string]string{"username": "alice", "email": "Alice@Example.com", "password": "secret1"})

			Expect(status).To(Equal(http.StatusCreated))
			Expect(out.Success).To(BeTrue())
			Expect(out.User).NotTo(BeNil())
			Expect(out.User.Username).To(Equal("alice"))

			stored, err := s.repo.GetByEmail(env.ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PasswordHash).To(HavePrefix("$argon2id$"))
			Expect(stored.Reset).To(BeNil())
		})

		It("rejects an email registered with different case", func() {
			client := newClient()
			register(s, client, "alice", "alice@example.com", "secret1")

			status, out, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/register",
				map[string]string{"username": "alice2", "email": "ALICE@example.com", "password": "secret1"})
			Expect(status).To(Equal(http.StatusConflict))
			Expect(out.Success).To(BeFalse())
		})

		It("rejects short passwords", func() {
			status, out, _ := call(newClient(), http.MethodPost, s.server.URL+"/api/auth/register",
				map[string]string{"username": "bob", "email": "bob@example.com", "password": "abc"})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(out.Message).NotTo(BeEmpty())
		})
	})

	Describe("sessions", func() {
		It("logs in, serves me from the cookie and logs out", func() {
			client := newClient()
			register(s, client, "alice", "alice@example.com", "secret1")

			status, out, resp := call(client, http.MethodPost, s.server.URL+"/api/auth/login",
				map[string]string{"email": "alice@example.com", "password": "secret1"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(out.Message).To(Equal("Login successful"))

			var cookie *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == "token" {
					cookie = c
				}
			}
			Expect(cookie).NotTo(BeNil())
			Expect(cookie.HttpOnly).To(BeTrue())

			status, out, _ = call(client, http.MethodGet, s.server.URL+"/api/auth/me", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(out.User.Email).To(Equal("alice@example.com"))

			status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/logout", nil)
			Expect(status).To(Equal(http.StatusOK))

			status, _, _ = call(client, http.MethodGet, s.server.URL+"/api/auth/me", nil)
			Expect(status).To(Equal(http.StatusUnauthorized), "cleared cookie must not authenticate")
		})

		It("gives the same answer for unknown email and wrong password", func() {
			client := newClient()
			register(s, client, "alice", "alice@example.com", "secret1")

			s1, unknown, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/login",
				map[string]string{"email": "nobody@example.com", "password": "secret1"})
			s2, wrong, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/login",
				map[string]string{"email": "alice@example.com", "password": "nope!!"})

			Expect(s1).To(Equal(http.StatusUnauthorized))
			Expect(s2).To(Equal(s1))
			Expect(wrong.Message).To(Equal(unknown.Message))
		})

		It("locks the account after repeated failures", func() {
			client := newClient()
			register(s, client, "alice", "alice@example.com", "secret1")

			for range auth.LockoutThreshold {
				status, _, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/login",
					map[string]string{"email": "alice@example.com", "password": "wrong-pass"})
				Expect(status).To(Equal(http.StatusUnauthorized))
			}

			status, _, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/login",
				map[string]string{"email": "alice@example.com", "password": "secret1"})
			Expect(status).To(Equal(http.StatusLocked))
		})
	})

	Describe("password reset", func() {
		It("resets the password with the mailed token exactly once", func() {
			client := newClient()
			register(s, client, "alice", "alice@example.com", "secret1")

			status, out, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/forgot-password",
				map[string]string{"email": "ALICE@example.com"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(out.ResetToken).To(BeEmpty(), "token must not be exposed by default")
			Expect(s.mailer.count()).To(Equal(1))

			token := s.mailer.last().Token
			stored, err := s.repo.GetByEmail(env.ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Reset).NotTo(BeNil())
			Expect(stored.Reset.TokenHash).To(Equal(auth.HashResetToken(token)))

			status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/reset-password",
				map[string]string{"token": token, "newPassword": "newsecret"})
			Expect(status).To(Equal(http.StatusOK))

			status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/reset-password",
				map[string]string{"token": token, "newPassword": "another1"})
			Expect(status).To(Equal(http.StatusBadRequest))

			status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/login",
				map[string]string{"email": "alice@example.com", "password": "secret1"})
			Expect(status).To(Equal(http.StatusUnauthorized))
			status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/login",
				map[string]string{"email": "alice@example.com", "password": "newsecret"})
			Expect(status).To(Equal(http.StatusOK))
		})

		It("answers unknown emails exactly like known ones", func() {
			status, out, _ := call(newClient(), http.MethodPost, s.server.URL+"/api/auth/forgot-password",
				map[string]string{"email": "ghost@example.com"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(out.Success).To(BeTrue())
			Expect(s.mailer.count()).To(BeZero())
		})
	})
})

var _ = Describe("Development token exposure", func() {
	It("returns the reset token in the forgot-password response", func() {
		s := newStack(stackOptions{expose: true})
		client := newClient()
		register(s, client, "carol", "carol@example.com", "secret1")

		status, out, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/forgot-password",
			map[string]string{"email": "carol@example.com"})
		Expect(status).To(Equal(http.StatusOK))
		Expect(out.ResetToken).NotTo(BeEmpty())

		status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/reset-password",
			map[string]string{"token": out.ResetToken, "newPassword": "carol-new"})
		Expect(status).To(Equal(http.StatusOK))
	})
})

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Expired reset tokens", func() {
	It("are rejected and cleared by the sweep", func() {
		clock := &fakeClock{now: time.Now()}
		s := newStack(stackOptions{now: clock.Now})
		client := newClient()
		register(s, client, "dave", "dave@example.com", "secret1")

		status, _, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/forgot-password",
			map[string]string{"email": "dave@example.com"})
		Expect(status).To(Equal(http.StatusOK))
		token := s.mailer.last().Token

		clock.Advance(2 * time.Hour)

		status, _, _ = call(client, http.MethodPost, s.server.URL+"/api/auth/reset-password",
			map[string]string{"token": token, "newPassword": "dave-new"})
		Expect(status).To(Equal(http.StatusBadRequest))

		cleared, err := s.resets.Sweep(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cleared).To(Equal(int64(1)))

		stored, err := s.repo.GetByEmail(env.ctx, "dave@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Reset).To(BeNil())
	})
})

var _ = Describe("Logout with Redis revocation", func() {
	It("rejects a logged-out token presented again as a bearer token", func() {
		s := newStack(stackOptions{redisRevoke: true})
		client := newClient()
		register(s, client, "erin", "erin@example.com", "secret1")

		_, _, resp := call(client, http.MethodPost, s.server.URL+"/api/auth/login",
			map[string]string{"email": "erin@example.com", "password": "secret1"})
		var token string
		for _, c := range resp.Cookies() {
			if c.Name == "token" {
				token = c.Value
			}
		}
		Expect(token).NotTo(BeEmpty())

		status, _, _ := call(client, http.MethodPost, s.server.URL+"/api/auth/logout", nil)
		Expect(status).To(Equal(http.StatusOK))

		req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/auth/me", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token)
		replay, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		_ = replay.Body.Close()
		Expect(replay.StatusCode).To(Equal(http.StatusUnauthorized))
	})
})
