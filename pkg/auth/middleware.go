package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware. It is thin and
// delegates token validation to the configured TokenValidator.
type Middleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given validator.
func NewMiddleware(validator TokenValidator, logger *zap.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    logger,
	}
}

// Authenticate validates the request's bearer token and returns the
// principal. Websocket upgrades may carry the token as a query parameter
// since browsers cannot set headers on the upgrade request.
func (m *Middleware) Authenticate(r *http.Request) (*Principal, string, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, "", ErrMissingToken
	}

	claims, err := m.validator.ValidateToken(token)
	if err != nil {
		return nil, "", err
	}

	principal, err := NewPrincipal(claims)
	if err != nil {
		return nil, "", err
	}
	return principal, token, nil
}

// RequireAuth validates the bearer token and sets the principal in the
// request context for downstream handlers.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, token, err := m.Authenticate(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		next(w, r.WithContext(WithPrincipal(r.Context(), principal, token)))
	}
}

// RequireAdmin validates the bearer token and rejects non-admin roles.
// Use for the configuration write surface.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, token, err := m.Authenticate(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		if !principal.Role.IsAdmin() {
			m.logger.Warn("non-admin attempted to access admin endpoint",
				zap.String("user_id", principal.UserID.String()),
				zap.String("role", string(principal.Role)),
				zap.String("path", r.URL.Path))
			m.forbidden(w, "Admin authorization required")
			return
		}

		next(w, r.WithContext(WithPrincipal(r.Context(), principal, token)))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
