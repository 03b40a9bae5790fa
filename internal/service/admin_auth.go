package service

import (
	"fmt"

	"txrelay/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAdminTokenVerifier implements ports.AdminTokenVerifier using HS256
// JWT. Token issuance belongs to the external admin surface; this repo
// only verifies bearer tokens. It guards the /api/admin route group; the
// webhook acknowledge callback is unauthenticated by design.
type JWTAdminTokenVerifier struct {
	secret []byte
}

// NewJWTAdminTokenVerifier creates a verifier for tokens signed with secret.
func NewJWTAdminTokenVerifier(secret string) *JWTAdminTokenVerifier {
	return &JWTAdminTokenVerifier{secret: []byte(secret)}
}

// Validate parses and validates a JWT, returning the operator's claims.
func (v *JWTAdminTokenVerifier) Validate(tokenString string) (*ports.AdminClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("missing subject claim")
	}

	var roles []string
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range rawRoles {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return &ports.AdminClaims{
		Subject: sub,
		Roles:   roles,
	}, nil
}
