package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
)

type authContextKey string

const contextKeyAuth authContextKey = "social-auth-profile"

type contextSetter interface {
	SetContext(context.Context)
}

var errMissingBearer = errors.New("missing bearer token")

// requireAuth rejects requests without a bearer token (401) or with an
// unverifiable one (403) and passes the decoded profile to next.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeMessage(w, http.StatusUnauthorized, "Access denied")
			return
		}
		profile, err := r.auth.Authorize(token)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeMessage(w, http.StatusForbidden, "Invalid token")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, profile)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireAuthIf applies requireAuth only when enabled.
func (r *Router) requireAuthIf(enabled bool, next http.HandlerFunc) http.HandlerFunc {
	if !enabled {
		return next
	}
	return r.requireAuth(next)
}

// profileFromContext extracts the acting identity from context.
func profileFromContext(ctx context.Context) (domain.Profile, bool) {
	profile, ok := ctx.Value(contextKeyAuth).(domain.Profile)
	return profile, ok
}

// optionalProfile returns a pointer to the acting identity or nil for anonymous requests.
func optionalProfile(ctx context.Context) *domain.Profile {
	profile, ok := profileFromContext(ctx)
	if !ok {
		return nil
	}
	return &profile
}

// bearerToken returns the credential following the scheme. The scheme itself
// is not checked; a non-bearer credential fails verification instead.
func bearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) < 2 {
		return "", errMissingBearer
	}
	return parts[1], nil
}
