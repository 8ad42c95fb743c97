package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jvelez79/travelr-sub002/internal/config"
)

type userIDKey struct{}

// userFromContext returns the authenticated user id set by the auth
// middleware.
func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// Authenticator verifies bearer tokens against the bcrypt hashes in
// config and maps them to user ids.
type Authenticator struct {
	tokens []config.APIToken
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator from configured tokens.
func NewAuthenticator(cfg config.AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{tokens: cfg.Tokens, logger: logger}
}

// Verify returns the user id for a presented bearer token, or false.
func (a *Authenticator) Verify(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for _, t := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)) == nil {
			return t.UserID, true
		}
	}
	return "", false
}

// requireAuth wraps a handler with bearer-token authentication. The
// resolved user id rides the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.errorResponse(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, ok := s.auth.Verify(strings.TrimSpace(token))
		if !ok {
			s.logger.Warn("rejected invalid token", "path", r.URL.Path)
			s.errorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	}
}
