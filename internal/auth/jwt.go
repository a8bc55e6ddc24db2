package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studyroom/internal/apperr"
)

var (
	ErrMissingToken = apperr.Unauthorized("missing bearer token")
	ErrInvalidToken = apperr.Unauthorized("invalid token")
	ErrNoTenant     = apperr.Unauthorized("token carries no organization")
)

// Claims is the tenant token payload. OrgID scopes every request.
type Claims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Token is a signed access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issue signs an access token for subject acting in orgID.
func Issue(orgID, subject, role, issuer, key string, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(orgID) == "" {
		return Token{}, ErrNoTenant
	}
	if key == "" {
		return Token{}, errors.New("empty signing key")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		OrgID: orgID,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, apperr.Wrap(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, apperr.Wrap(ErrInvalidToken, errors.New("issuer mismatch"))
	}
	if strings.TrimSpace(claims.OrgID) == "" {
		return Claims{}, ErrNoTenant
	}
	return *claims, nil
}
