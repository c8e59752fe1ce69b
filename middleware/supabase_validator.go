package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/preset/enhancement-gateway/config"
)

var (
	// ErrAuthNotConfigured is returned when no JWT secret is configured
	ErrAuthNotConfigured = errors.New("authentication not configured")

	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")
)

// supabaseClaims mirrors the payload of a Supabase Auth access token
type supabaseClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

// SupabaseValidator verifies HS256 access tokens signed with the project's JWT secret
type SupabaseValidator struct {
	secret    []byte
	adminRole string
	parser    *jwt.Parser
}

// NewSupabaseValidator creates a validator from the auth settings.
// Issuer is checked only when configured.
func NewSupabaseValidator(cfg config.AuthConfig) (*SupabaseValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrAuthNotConfigured
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &SupabaseValidator{
		secret:    []byte(cfg.JWTSecret),
		adminRole: cfg.AdminRole,
		parser:    jwt.NewParser(opts...),
	}, nil
}

// ValidateToken verifies the token signature and registered claims
func (v *SupabaseValidator) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	claims := &supabaseClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	out := &Claims{
		Sub:     claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		AppRole: claims.AppMetadata.Role,
		IsAdmin: v.adminRole != "" && claims.AppMetadata.Role == v.adminRole,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// RejectAllValidator rejects every token; used when auth is not configured
type RejectAllValidator struct{}

// ValidateToken always fails
func (RejectAllValidator) ValidateToken(context.Context, string) (*Claims, error) {
	return nil, ErrAuthNotConfigured
}
