package middleware

import (
	"crypto/subtle"
	"net/http"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret admits worker callbacks carrying the shared secret. An empty
// secret disables the check so local workers can run without one.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && !secretMatches(r, secret) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret", r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminSecret is WebhookSecret without the open fallback: with no secret
// configured every request is refused.
func AdminSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusForbidden, "ADMIN_DISABLED", "Admin routes require WEBHOOK_SECRET", r)
				return
			}
			if !secretMatches(r, secret) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret", r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretMatches(r *http.Request, secret string) bool {
	got := r.Header.Get(WebhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
