package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// Authenticator resolves a request's credentials into a principal.
type Authenticator interface {
	Authenticate(r *http.Request) *models.Principal
}

// Identify attaches the request's principal to its context when the token
// verifies. Anonymous requests pass through untouched so the websocket
// handler can answer them with a close code.
func Identify(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := a.Authenticate(r); p != nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests that Identify did not resolve.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.PrincipalFrom(r.Context()) == nil {
			jsonError(w, http.StatusUnauthorized, apperrors.ErrUnauthenticated.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
