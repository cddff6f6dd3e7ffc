package port

import (
	"context"
	"time"

	"github.com/arklim/token-revocation/internal/core/domain"
)

// LocalRevocationCache mirrors recent revocations in process memory.
type LocalRevocationCache interface {
	Put(record domain.RevocationRecord)
	Get(fingerprint string) (domain.RevocationRecord, bool)
	ByUser(userID string) []domain.RevocationRecord
	Sweep(now time.Time) int
	Len() int
	Snapshot(ctx context.Context) (*domain.RevocationSnapshot, error)
	RestoreSnapshot(ctx context.Context, snapshot domain.RevocationSnapshot) error
}

// EvictionGuardedCache is a bounded local cache that can be told which entries are the only
// copy of a revocation and must survive eviction.
type EvictionGuardedCache interface {
	SetEvictionGuard(guard func(fingerprint string) bool)
}

// RevocationSnapshotStore persists serialised local cache snapshots for warm starts.
// LoadLatestSnapshot returns repository.ErrNotFound when nothing has been saved.
type RevocationSnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot domain.RevocationSnapshot) error
	LoadLatestSnapshot(ctx context.Context) (*domain.RevocationSnapshot, error)
}

// RevocationMetrics captures telemetry hooks for revocation traffic.
type RevocationMetrics interface {
	ObserveCheck(outcome domain.CheckOutcome)
	IncDurableFailure(operation string)
	IncAuditFailure()
	AddSwept(count int)
	SetLocalEntries(count int)
	IncResync(result string)
}
