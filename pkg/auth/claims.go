// Package auth provides JWT-based authentication for the config engine.
// It validates tokens issued by the identity service using JWKS endpoints
// and exposes the resulting principal through the request context.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cowors/booking-engine/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// PrincipalKey is the context key for storing the authenticated principal.
	PrincipalKey contextKey = "principal"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims structure issued by the identity
// service. It embeds RegisteredClaims for standard JWT fields (sub, iss,
// exp, etc.) and adds the platform's access claims.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`       // admin, super_admin, partner, user
	PartnerID string `json:"partner_id,omitempty"` // partner UUID, empty for non-partner roles
}

// Principal is the authenticated identity attached to a request or
// websocket connection.
type Principal struct {
	UserID    uuid.UUID
	Role      models.Role
	PartnerID *uuid.UUID
}

// NewPrincipal builds a principal from validated claims. The subject must
// be a UUID; a partner_id claim, when present, must parse as well.
func NewPrincipal(claims *Claims) (*Principal, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidSubject
	}

	p := &Principal{
		UserID: userID,
		Role:   models.Role(claims.Role),
	}
	if claims.PartnerID != "" {
		partnerID, err := uuid.Parse(claims.PartnerID)
		if err != nil {
			return nil, ErrInvalidPartnerClaim
		}
		p.PartnerID = &partnerID
	}
	return p, nil
}

// CanAccessScope reports whether the principal may read configuration
// scoped to partnerID. Admins see everything; a partner sees global
// configuration and its own; other roles see global only.
func (p *Principal) CanAccessScope(partnerID *uuid.UUID) bool {
	if p.Role.IsAdmin() {
		return true
	}
	if partnerID == nil {
		return true
	}
	return p.PartnerID != nil && *p.PartnerID == *partnerID
}

// GetPrincipal retrieves the authenticated principal from the request
// context. Returns nil and false if not present.
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*Principal)
	return p, ok
}

// GetToken retrieves the raw JWT token string from the request context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithPrincipal returns a context carrying the principal and raw token.
func WithPrincipal(ctx context.Context, p *Principal, token string) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	return context.WithValue(ctx, TokenKey, token)
}
