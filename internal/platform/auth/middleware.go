package auth

import (
	"net/http"

	"github.com/branchops-labs/branchops-go/internal/platform/httpserver"
)

// Middleware rejects unauthenticated requests with 401 and stores the
// resolved identity in the request context. A nil authenticator (auth
// disabled) passes everything through untouched.
func Middleware(authenticator Authenticator, next http.Handler) http.Handler {
	if authenticator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := authenticator.Authenticate(r.Context(), r)
		if err != nil {
			httpserver.WriteJSON(w, http.StatusUnauthorized, map[string]any{
				"error": "unauthenticated",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}
