// ABOUTME: Tests for bearer-token and webhook-secret authentication
// ABOUTME: Covers header parsing, secret matching, and empty-secret lockout

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   string
	}{
		{"valid", "Bearer secret123", "secret123", ""},
		{"missing header", "", "", "missing authorization header"},
		{"wrong scheme", "Basic secret123", "", "invalid authorization header format"},
		{"empty token", "Bearer ", "", "empty token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantErr, errMsg)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	var called bool
	handler := RequireAdmin("admin-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"correct secret", "Bearer admin-secret", http.StatusOK},
		{"wrong secret", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodPost, "/reset", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
		})
	}
}

func TestRequireAdmin_EmptySecretRejectsAll(t *testing.T) {
	handler := RequireAdmin("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a configured secret")
	}))

	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/reset", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckWebhookSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Webhook-Secret", "hook-secret")

	assert.True(t, CheckWebhookSecret(req, "hook-secret"))
	assert.False(t, CheckWebhookSecret(req, "other"))
	assert.False(t, CheckWebhookSecret(req, ""), "empty configured secret rejects")

	bare := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	assert.False(t, CheckWebhookSecret(bare, "hook-secret"))
}
