package port

import (
	"context"
	"time"

	"github.com/arklim/token-revocation/internal/core/domain"
)

// DurableRevocationStore is the shared, expiring store holding authoritative revocation records.
// Implementations must reclaim records once ttl elapses without explicit deletes.
type DurableRevocationStore interface {
	Set(ctx context.Context, fingerprint string, record domain.RevocationRecord, ttl time.Duration) error
	// Get reports found=false with a nil error for a clean miss; any error means the store could not answer.
	Get(ctx context.Context, fingerprint string) (*domain.RevocationRecord, bool, error)
}

// UserRevocationIndex tracks which fingerprints belong to a user so user-wide revocation can find
// credentials this process has never seen.
type UserRevocationIndex interface {
	AddUserFingerprint(ctx context.Context, userID, fingerprint string, expiresAt time.Time) error
	// ListUserFingerprints returns unexpired members with the expiry they were indexed under.
	ListUserFingerprints(ctx context.Context, userID string, now time.Time) ([]domain.UserFingerprint, error)
}

// HealthChecker exposes readiness behaviour for durable backends.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
