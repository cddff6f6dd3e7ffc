package security

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arklim/token-revocation/internal/core/domain"
)

func TestRevocationCachePutGetAndSweep(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{})

	cache.Put(domain.RevocationRecord{
		Fingerprint: "fp-1",
		UserID:      "user-1",
		RevokedAt:   base,
		ExpiresAt:   base.Add(time.Hour),
	})

	record, ok := cache.Get("fp-1")
	if !ok {
		t.Fatalf("expected fingerprint to be cached")
	}
	if record.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", record.UserID)
	}

	if removed := cache.Sweep(base.Add(30 * time.Minute)); removed != 0 {
		t.Fatalf("expected nothing swept before expiry, got %d", removed)
	}

	if removed := cache.Sweep(base.Add(time.Hour)); removed != 1 {
		t.Fatalf("expected entry swept at expiry, got %d", removed)
	}
	if _, ok := cache.Get("fp-1"); ok {
		t.Fatalf("expected fingerprint removed after sweep")
	}
	if got := cache.ByUser("user-1"); len(got) != 0 {
		t.Fatalf("expected user index cleared, got %d records", len(got))
	}
}

func TestRevocationCacheExpiredEntryStillPresentUntilSwept(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{})
	cache.Put(domain.RevocationRecord{Fingerprint: "fp-1", ExpiresAt: base})

	if _, ok := cache.Get("fp-1"); !ok {
		t.Fatalf("expected unswept entry to remain present")
	}
}

func TestRevocationCacheKeepsLaterExpiry(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{})

	cache.Put(domain.RevocationRecord{Fingerprint: "fp-1", UserID: "user-1", ExpiresAt: base.Add(2 * time.Hour)})
	cache.Put(domain.RevocationRecord{Fingerprint: "fp-1", UserID: "user-1", ExpiresAt: base.Add(time.Hour)})

	record, _ := cache.Get("fp-1")
	if !record.ExpiresAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected later expiry to win, got %s", record.ExpiresAt)
	}

	cache.Put(domain.RevocationRecord{Fingerprint: "fp-1", UserID: "user-1", ExpiresAt: base.Add(3 * time.Hour)})
	record, _ = cache.Get("fp-1")
	if !record.ExpiresAt.Equal(base.Add(3 * time.Hour)) {
		t.Fatalf("expected expiry extended, got %s", record.ExpiresAt)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", cache.Len())
	}
}

func TestRevocationCacheByUser(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{})

	cache.Put(domain.RevocationRecord{Fingerprint: "fp-b", UserID: "user-1", ExpiresAt: base.Add(time.Hour)})
	cache.Put(domain.RevocationRecord{Fingerprint: "fp-a", UserID: "user-1", ExpiresAt: base.Add(time.Hour)})
	cache.Put(domain.RevocationRecord{Fingerprint: "fp-c", UserID: "user-2", ExpiresAt: base.Add(time.Hour)})

	records := cache.ByUser("user-1")
	if len(records) != 2 {
		t.Fatalf("expected 2 records for user-1, got %d", len(records))
	}
	if records[0].Fingerprint != "fp-a" || records[1].Fingerprint != "fp-b" {
		t.Fatalf("unexpected records order: %+v", records)
	}
	if got := cache.ByUser(""); got != nil {
		t.Fatalf("expected nil for empty user id")
	}
}

func TestRevocationCacheEvictsClosestToExpiry(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{MaxEntries: 2})

	cache.Put(domain.RevocationRecord{Fingerprint: "short", ExpiresAt: base.Add(time.Minute)})
	cache.Put(domain.RevocationRecord{Fingerprint: "long", ExpiresAt: base.Add(time.Hour)})
	cache.Put(domain.RevocationRecord{Fingerprint: "newest", ExpiresAt: base.Add(30 * time.Minute)})

	if cache.Len() != 2 {
		t.Fatalf("expected cache bounded to 2, got %d", cache.Len())
	}
	if _, ok := cache.Get("short"); ok {
		t.Fatalf("expected entry closest to expiry to be evicted")
	}
}

func TestRevocationCacheEvictionSkipsGuardedEntries(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{MaxEntries: 2})
	cache.SetEvictionGuard(func(fingerprint string) bool { return fingerprint == "unsynced" })

	cache.Put(domain.RevocationRecord{Fingerprint: "unsynced", ExpiresAt: base.Add(time.Minute)})
	cache.Put(domain.RevocationRecord{Fingerprint: "synced", ExpiresAt: base.Add(time.Hour)})
	cache.Put(domain.RevocationRecord{Fingerprint: "newest", ExpiresAt: base.Add(30 * time.Minute)})

	if _, ok := cache.Get("unsynced"); !ok {
		t.Fatalf("expected guarded entry to survive eviction")
	}
	if _, ok := cache.Get("synced"); ok {
		t.Fatalf("expected the oldest unguarded entry to be evicted")
	}
	if cache.Len() != 2 {
		t.Fatalf("expected cache bounded to 2, got %d", cache.Len())
	}
}

func TestRevocationCacheGrowsPastBoundWhenEveryEntryIsGuarded(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{MaxEntries: 1})
	cache.SetEvictionGuard(func(string) bool { return true })

	cache.Put(domain.RevocationRecord{Fingerprint: "fp-a", ExpiresAt: base.Add(time.Minute)})
	cache.Put(domain.RevocationRecord{Fingerprint: "fp-b", ExpiresAt: base.Add(time.Hour)})

	if cache.Len() != 2 {
		t.Fatalf("expected guarded entries to be kept over the bound, got %d", cache.Len())
	}
}

func TestRevocationCacheSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewRevocationCache(RevocationCacheOptions{})
	cache.WithClock(func() time.Time { return base })

	cache.Put(domain.RevocationRecord{Fingerprint: "fp-live", UserID: "user-1", ExpiresAt: base.Add(5 * time.Minute)})
	cache.Put(domain.RevocationRecord{Fingerprint: "fp-dead", UserID: "user-1", ExpiresAt: base.Add(-time.Minute)})

	snapshot, err := cache.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot == nil || len(snapshot.Payload) == 0 {
		t.Fatalf("expected snapshot payload to be populated")
	}

	restored := NewRevocationCache(RevocationCacheOptions{})
	restored.WithClock(func() time.Time { return base.Add(time.Minute) })
	if err := restored.RestoreSnapshot(ctx, *snapshot); err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}

	if _, ok := restored.Get("fp-live"); !ok {
		t.Fatalf("expected restored cache to contain live fingerprint")
	}
	if _, ok := restored.Get("fp-dead"); ok {
		t.Fatalf("expected expired fingerprint to be excluded from snapshot")
	}
	if got := restored.ByUser("user-1"); len(got) != 1 {
		t.Fatalf("expected user index rebuilt on restore, got %d", len(got))
	}
}

func TestRevocationCacheRestoreRejectsChecksumMismatch(t *testing.T) {
	cache := NewRevocationCache(RevocationCacheOptions{})
	err := cache.RestoreSnapshot(context.Background(), domain.RevocationSnapshot{
		Payload:  []byte(`{"entries":[]}`),
		Checksum: "bogus",
	})
	if err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestRevocationCacheConcurrentAccess(t *testing.T) {
	base := time.Now().UTC()
	cache := NewRevocationCache(RevocationCacheOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				fp := fmt.Sprintf("fp-%d-%d", worker, j)
				cache.Put(domain.RevocationRecord{Fingerprint: fp, UserID: "user", ExpiresAt: base.Add(time.Duration(j) * time.Millisecond)})
				cache.Get(fp)
				if j%50 == 0 {
					cache.Sweep(base.Add(100 * time.Millisecond))
					cache.ByUser("user")
				}
			}
		}(i)
	}
	wg.Wait()

	cache.Sweep(base.Add(time.Second))
	if cache.Len() != 0 {
		t.Fatalf("expected all entries swept, got %d", cache.Len())
	}
}
