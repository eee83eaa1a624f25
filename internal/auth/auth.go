// ABOUTME: HTTP middleware for static-secret authentication on API endpoints
// ABOUTME: Extracts bearer tokens and checks webhook signatures in constant time

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// secretsEqual compares two secrets in constant time.
func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireAdmin creates an HTTP middleware that requires the static admin
// secret as a bearer token. A server configured with an empty secret rejects
// everything rather than opening the endpoints up.
func RequireAdmin(adminSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			if adminSecret == "" || !secretsEqual(token, adminSecret) {
				http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CheckWebhookSecret reports whether the request carries the expected webhook
// secret in the X-Webhook-Secret header.
func CheckWebhookSecret(r *http.Request, webhookSecret string) bool {
	if webhookSecret == "" {
		return false
	}
	return secretsEqual(r.Header.Get("X-Webhook-Secret"), webhookSecret)
}
