package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware returns a chi-compatible middleware gating every /admin
// route behind a single static bearer token (§12.2's admin_token, configured
// at bootstrap — not a per-provider api_key, and never consulted on the
// CLI-facing catch-all route). The comparison runs in constant time to avoid
// a timing oracle on the token check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			got := strings.TrimPrefix(auth, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
