package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/token-revocation/internal/core/domain"
)

// CredentialClaims carries the claims the revocation flow reads from a JWT credential.
type CredentialClaims struct {
	UserID    string
	ExpiresAt time.Time
}

// ParseCredentialClaims extracts the owner and expiry from a JWT without verifying its signature.
// Revocation only narrows what a credential can do, so an unverified read is sufficient here;
// signature checks belong to the issuing side.
func ParseCredentialClaims(token string) (*CredentialClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse credential claims: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return nil, domain.ErrUnknownExpiry
	}

	result := &CredentialClaims{ExpiresAt: exp.Time.UTC()}
	if raw, ok := claims["user_id"]; ok && raw != nil {
		result.UserID = strings.TrimSpace(fmt.Sprint(raw))
	}
	if result.UserID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			result.UserID = strings.TrimSpace(sub)
		}
	}
	return result, nil
}
