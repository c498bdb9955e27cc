package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/R3E-Network/subscription_layer/internal/errors"
	"github.com/R3E-Network/subscription_layer/internal/httputil"
)

// BearerAuth admits requests carrying "Authorization: Bearer <secret>".
// An empty secret rejects every request.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) != 1 {
				httputil.WriteError(w, errors.Unauthorized("missing or invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
