// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header, loads the user and adds it to context

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/parley/internal/store"
)

// UserLookup resolves the user a verified token refers to.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// unauthorizedBody is the response body for every rejected request.
const unauthorizedBody = `{"error":"Unauthorized"}`

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// authenticate resolves the request's bearer token to an AuthContext.
// Returns a reason (non-empty) when the request is not authenticated.
func authenticate(r *http.Request, users UserLookup, verifier TokenVerifier) (*AuthContext, string) {
	token, reason := extractBearerToken(r.Header.Get("Authorization"))
	if reason != "" {
		return nil, reason
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, err.Error()
	}

	user, err := users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, "user not found"
	}

	return &AuthContext{UserID: user.ID, Email: user.Email, Name: user.Name}, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// It looks up the user and adds AuthContext to the request context.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, reason := authenticate(r, users, verifier)
			if authCtx == nil {
				logger.Debug("rejecting request", "path", r.URL.Path, "reason", reason)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(unauthorizedBody + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware creates an HTTP middleware that attempts JWT auth but allows unauthenticated requests.
// Handlers check FromContext to tell the two apart.
func OptionalAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, _ := authenticate(r, users, verifier)
			if authCtx == nil {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
