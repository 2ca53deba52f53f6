package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type contextKey struct{}

var userContextKey contextKey

// UserFromContext returns the credential the middleware attached to the
// request.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok
}

// Middleware authenticates the Authorization bearer token and rejects
// requests with a uniform 401; the internal distinction between expired,
// revoked, and malformed tokens is for logging only.
func Middleware(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		user, err := service.Authenticate(r.Context(), token)
		if err != nil {
			if isAuthFailure(err) {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}
