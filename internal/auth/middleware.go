package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

type userContextKey struct{}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

// Middleware rejects requests without a valid bearer access token and
// stores the resolved user in the request context.
func Middleware(authenticator Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeUnauthorized(w, "Not authenticated")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			writeUnauthorized(w, "Not authenticated")
			return
		}

		user, err := authenticator.Authenticate(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if flowErr, ok := AsError(err); ok {
				writeFlowError(w, flowErr)
				return
			}
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAuth adapts Middleware to router middleware chains.
func RequireAuth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Middleware(authenticator, next)
	}
}

// RequireAdmin reports ErrForbidden for principals without the admin role.
func RequireAdmin(user User) error {
	if !user.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// AdminOnly must run after Middleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeFlowError(w, ErrCouldNotValidate)
			return
		}
		if err := RequireAdmin(user); err != nil {
			flowErr, _ := AsError(err)
			writeFlowError(w, flowErr)
			return
		}

		next.ServeHTTP(w, r)
	})
}
