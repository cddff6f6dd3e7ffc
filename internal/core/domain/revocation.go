package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyToken is returned when a revocation is requested without a credential.
	ErrEmptyToken = errors.New("token is required")
	// ErrEmptyUserID is returned when a user-wide revocation names no user.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrUnknownExpiry is returned when a credential's expiry cannot be determined.
	ErrUnknownExpiry = errors.New("credential expiry is unknown")
	// ErrInvalidReason is returned for revocation reasons outside the known set.
	ErrInvalidReason = errors.New("invalid revocation reason")
)

// RevocationReason labels why a credential was revoked.
type RevocationReason string

const (
	RevocationReasonLogout           RevocationReason = "logout"
	RevocationReasonSecurityIncident RevocationReason = "security_incident"
	RevocationReasonManual           RevocationReason = "manual"
)

// ParseRevocationReason maps raw input to a known reason, using fallback when raw is blank.
func ParseRevocationReason(raw string, fallback RevocationReason) (RevocationReason, error) {
	switch reason := RevocationReason(strings.ToLower(strings.TrimSpace(raw))); reason {
	case "":
		return fallback, nil
	case RevocationReasonLogout, RevocationReasonSecurityIncident, RevocationReasonManual:
		return reason, nil
	default:
		return "", ErrInvalidReason
	}
}

// RevocationRecord marks a credential fingerprint as revoked until ExpiresAt.
type RevocationRecord struct {
	Fingerprint string    `json:"fingerprint"`
	UserID      string    `json:"user_id"`
	RevokedAt   time.Time `json:"revoked_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the record has outlived the credential it protects.
func (r RevocationRecord) IsExpired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}

// TTL returns the remaining lifetime of the record relative to at.
func (r RevocationRecord) TTL(at time.Time) time.Duration {
	return r.ExpiresAt.Sub(at)
}

// UserFingerprint is one member of a user's durable revocation index.
type UserFingerprint struct {
	Fingerprint string
	ExpiresAt   time.Time
}

// RevocationSnapshot is a serialised copy of the local revocation cache used for warm starts.
type RevocationSnapshot struct {
	SnapshotID  string
	GeneratedAt time.Time
	Payload     []byte
	Checksum    string
}
