// Package auth validates the bearer tokens guarding the multi-tenant API. Tokens are RS256 JWTs issued by the
// configured identity domain for the configured audience; signing keys come from the domain's JWKS endpoint.

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("no bearer token was provided")
	ErrTokenInvalid = errors.New("bearer token is invalid")
)

// TokenValidator checks a raw bearer token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*jwt.RegisteredClaims, error)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrTokenMissing
	}
	// A bare "Bearer" carries the scheme but no token.
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: authorization scheme must be Bearer", ErrTokenInvalid)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenMissing
	}
	return token, nil
}

// Validator verifies RS256 tokens against a key function, an audience and an issuer.
type Validator struct { // Implements TokenValidator.
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

var _ TokenValidator = (*Validator)(nil)

// NewValidator builds a Validator. Tokens must carry an expiry, be signed with RS256 by a key `keyfunc` resolves,
// and name `audience` and `issuer`.
func NewValidator(keyfunc jwt.Keyfunc, audience, issuer string) *Validator {
	return &Validator{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
		keyfunc: keyfunc,
	}
}

func (v *Validator) Validate(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return claims, nil
}
