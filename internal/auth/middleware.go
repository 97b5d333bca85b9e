package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/treyhollis/factorgate/pkg/http"
)

type contextKey string

const challengeContextKey contextKey = "challenge"

// ChallengeContext is the verified identity a challenge token carries.
type ChallengeContext struct {
	UserID    string
	SessionID string
}

// ChallengeMiddleware requires a valid challenge token in the
// Authorization header and stores its claims in the request context.
func ChallengeMiddleware(cm *ChallengeManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				pkghttp.WriteUnauthorized(w, "Missing challenge token")
				return
			}

			userID, sessionID, err := cm.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired challenge token")
				return
			}

			ctx := context.WithValue(r.Context(), challengeContextKey, &ChallengeContext{
				UserID:    userID,
				SessionID: sessionID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetChallengeFromContext returns the challenge claims set by
// ChallengeMiddleware, or nil outside a challenge-authenticated request.
func GetChallengeFromContext(r *http.Request) *ChallengeContext {
	cc, _ := r.Context().Value(challengeContextKey).(*ChallengeContext)
	return cc
}
