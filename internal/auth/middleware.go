package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// SessionCookie carries the signed session token.
const SessionCookie = "rl_session"

type contextKey string

const ctxUserKey contextKey = "user_id"

// SessionAuth resolves the session cookie into a user id and puts it in
// the request context. Requests without a valid session get a 401.
func SessionAuth(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(SessionCookie)
			if err != nil || c.Value == "" {
				http.Error(w, "no session", http.StatusUnauthorized)
				return
			}
			userID, err := svc.ValidateSession(c.Value)
			if err != nil {
				http.Error(w, "no session", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// WithUser returns a context carrying the given user id.
func WithUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserKey, userID)
}

// UserFromCtx returns the authenticated user id, if any.
func UserFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserKey).(uuid.UUID)
	return id, ok
}
