// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package mail delivers password reset links.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/taskboard/taskboard/internal/auth"
)

// DefaultPostmarkEndpoint is the Postmark single-message API.
const DefaultPostmarkEndpoint = "https://api.postmarkapp.com/email"

// PostmarkClient sends reset mails through the Postmark HTTP API.
type PostmarkClient struct {
	serverToken string
	from        string
	resetURL    string
	endpoint    string
	httpClient  *http.Client
}

// Option customizes a PostmarkClient.
type Option func(*PostmarkClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *PostmarkClient) { p.httpClient = c }
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *PostmarkClient) { p.endpoint = endpoint }
}

// NewPostmarkClient creates a client. resetURL is the page the raw token is
// appended to as the token query parameter.
func NewPostmarkClient(serverToken, from, resetURL string, opts ...Option) (*PostmarkClient, error) {
	if serverToken == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("postmark server token is required")
	}
	if from == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("sender address is required")
	}
	if _, err := url.Parse(resetURL); err != nil || resetURL == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").With("reset_url", resetURL).Errorf("reset url is invalid")
	}

	p := &PostmarkClient{
		serverToken: serverToken,
		from:        from,
		resetURL:    resetURL,
		endpoint:    DefaultPostmarkEndpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"` //nolint:revive // Postmark field name
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream"`
}

type postmarkError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// SendPasswordReset posts the reset mail.
func (p *PostmarkClient) SendPasswordReset(ctx context.Context, m auth.ResetMail) error {
	link, err := ResetLink(p.resetURL, m.Token)
	if err != nil {
		return err
	}

	body, err := json.Marshal(postmarkEmail{
		From:          p.from,
		To:            m.To,
		Subject:       resetSubject,
		TextBody:      resetText(m, link),
		HtmlBody:      resetHTML(m, link),
		MessageStream: "outbound",
	})
	if err != nil {
		return oops.Code("MAIL_ENCODE_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return oops.Code("MAIL_REQUEST_FAILED").With("endpoint", p.endpoint).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.serverToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("endpoint", p.endpoint).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr postmarkError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best-effort detail
		_ = json.Unmarshal(raw, &apiErr)                       //nolint:errcheck // best-effort detail
		return oops.Code("MAIL_REJECTED").
			With("status", resp.StatusCode).
			With("postmark_code", apiErr.ErrorCode).
			Errorf("postmark rejected message: %s", apiErr.Message)
	}
	return nil
}

const resetSubject = "Reset your Taskboard password"

// ResetLink appends the token to base as the token query parameter.
func ResetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", oops.Code("MAIL_INVALID_CONFIG").With("reset_url", base).Wrap(err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func resetText(m auth.ResetMail, link string) string {
	return fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password:\n\n%s\n\n"+
		"The link expires at %s. If you did not ask for a reset, ignore this mail.\n",
		m.Username, link, m.ExpiresAt.UTC().Format(time.RFC1123))
}

func resetHTML(m auth.ResetMail, link string) string {
	return fmt.Sprintf(`<p>Hi %s,</p><p><a href="%s">Choose a new password</a></p>`+
		`<p>The link expires at %s. If you did not ask for a reset, ignore this mail.</p>`,
		html.EscapeString(m.Username), html.EscapeString(link), m.ExpiresAt.UTC().Format(time.RFC1123))
}

var _ auth.Mailer = (*PostmarkClient)(nil)
