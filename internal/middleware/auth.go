package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mozlend/microcredit/internal/service"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor identifies the authenticated caller and its tenant scope.
type Actor struct {
	UserID        int64
	InstitutionID int64
	Role          string
}

// IsClient reports whether the caller is a borrower rather than staff.
func (a Actor) IsClient() bool { return a.Role == "client" }

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// AuthMiddleware validates the bearer token and attaches the actor to
// the request context.
func AuthMiddleware(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "Missing or invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			userID, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil {
				http.Error(w, "Invalid token subject", http.StatusUnauthorized)
				return
			}

			actor := Actor{
				UserID:        userID,
				InstitutionID: claims.InstitutionID,
				Role:          claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}
