package subscription

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var userSubKey = contextKey{name: "user_sub"}

// SubjectResolver extracts the authenticated user subject from a request.
// Authentication itself lives outside this module; the resolver is the
// integration seam for whatever session or token layer fronts the API.
type SubjectResolver func(r *http.Request) (uuid.UUID, error)

// HeaderSubjectResolver trusts a gateway-injected header carrying the
// subject UUID. Suitable behind an authenticating reverse proxy only.
func HeaderSubjectResolver(header string) SubjectResolver {
	return func(r *http.Request) (uuid.UUID, error) {
		return uuid.Parse(r.Header.Get(header))
	}
}

// RequireSubject resolves the user subject and stores it in the request
// context, answering 401 when the resolver fails.
func RequireSubject(resolve SubjectResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userSub, err := resolve(r)
			if err != nil || userSub == uuid.Nil {
				writeError(w, errUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserSub(r.Context(), userSub)))
		})
	}
}

func withUserSub(ctx context.Context, userSub uuid.UUID) context.Context {
	return context.WithValue(ctx, userSubKey, userSub)
}

// UserSubFromContext returns the authenticated subject placed by
// RequireSubject, or false when the request is anonymous.
func UserSubFromContext(ctx context.Context) (uuid.UUID, bool) {
	userSub, ok := ctx.Value(userSubKey).(uuid.UUID)
	return userSub, ok
}
