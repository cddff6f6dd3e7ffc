package security

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
)

// RevocationCacheOptions controls in-memory revocation cache behaviour.
type RevocationCacheOptions struct {
	// MaxEntries bounds the cache; zero means unbounded. When full, entries closest to expiry are evicted
	// first. Entries the eviction guard protects are never evicted, so the bound is soft while they exist.
	MaxEntries int
}

// RevocationCache is the process-local mirror of revoked fingerprints.
// It has no TTL of its own; Sweep is the only reclamation path.
type RevocationCache struct {
	mu         sync.RWMutex
	entries    map[string]domain.RevocationRecord
	byUser     map[string]map[string]struct{}
	maxEntries int
	now        func() time.Time
	guard      func(fingerprint string) bool
}

// NewRevocationCache constructs an empty in-memory revocation cache.
func NewRevocationCache(opts RevocationCacheOptions) *RevocationCache {
	cache := &RevocationCache{
		entries:    make(map[string]domain.RevocationRecord),
		byUser:     make(map[string]map[string]struct{}),
		maxEntries: opts.MaxEntries,
	}
	cache.now = func() time.Time { return time.Now().UTC() }
	return cache
}

// WithClock overrides the internal clock for deterministic testing.
func (c *RevocationCache) WithClock(clock func() time.Time) *RevocationCache {
	if clock != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.now = clock
	}
	return c
}

// SetEvictionGuard installs a predicate reporting fingerprints that must not be evicted.
// It is called with the cache lock held and must not call back into the cache.
func (c *RevocationCache) SetEvictionGuard(guard func(fingerprint string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guard = guard
}

// Put records a revocation. When the fingerprint is already present the later expiry wins.
func (c *RevocationCache) Put(record domain.RevocationRecord) {
	fingerprint := strings.TrimSpace(record.Fingerprint)
	if fingerprint == "" {
		return
	}
	record.Fingerprint = fingerprint
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.RevokedAt = record.RevokedAt.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[fingerprint]; ok {
		if existing.ExpiresAt.After(record.ExpiresAt) {
			return
		}
		c.unindexLocked(existing)
	} else if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked(len(c.entries) - c.maxEntries + 1)
	}

	c.entries[fingerprint] = record
	c.indexLocked(record)
}

// Get returns the record for the fingerprint when present. Presence means revoked,
// even if the entry has expired and not yet been swept.
func (c *RevocationCache) Get(fingerprint string) (domain.RevocationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.entries[strings.TrimSpace(fingerprint)]
	return record, ok
}

// ByUser returns every cached record owned by userID.
func (c *RevocationCache) ByUser(userID string) []domain.RevocationRecord {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	fingerprints := c.byUser[userID]
	if len(fingerprints) == 0 {
		return nil
	}
	records := make([]domain.RevocationRecord, 0, len(fingerprints))
	for fingerprint := range fingerprints {
		if record, ok := c.entries[fingerprint]; ok {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Fingerprint < records[j].Fingerprint })
	return records
}

// Sweep removes entries whose expiry is at or before now and returns how many were removed.
func (c *RevocationCache) Sweep(now time.Time) int {
	cutoff := now.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fingerprint, record := range c.entries {
		if record.IsExpired(cutoff) {
			delete(c.entries, fingerprint)
			c.unindexLocked(record)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached entries.
func (c *RevocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot serialises the unexpired entries for persistence.
func (c *RevocationCache) Snapshot(_ context.Context) (*domain.RevocationSnapshot, error) {
	now := c.currentTime()
	c.mu.RLock()
	records := make([]domain.RevocationRecord, 0, len(c.entries))
	for _, record := range c.entries {
		if record.IsExpired(now) {
			continue
		}
		records = append(records, record)
	}
	c.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].ExpiresAt.Equal(records[j].ExpiresAt) {
			return records[i].Fingerprint < records[j].Fingerprint
		}
		return records[i].ExpiresAt.Before(records[j].ExpiresAt)
	})

	payload, err := json.Marshal(cacheSnapshot{Entries: records})
	if err != nil {
		return nil, fmt.Errorf("encode revocation snapshot: %w", err)
	}

	checksum := sha256.Sum256(payload)
	return &domain.RevocationSnapshot{
		SnapshotID:  uuid.NewString(),
		GeneratedAt: now,
		Payload:     payload,
		Checksum:    base64.StdEncoding.EncodeToString(checksum[:]),
	}, nil
}

// RestoreSnapshot merges snapshot entries into the cache, skipping expired ones.
func (c *RevocationCache) RestoreSnapshot(_ context.Context, snapshot domain.RevocationSnapshot) error {
	if len(snapshot.Payload) == 0 {
		return nil
	}

	if snapshot.Checksum != "" {
		sum := sha256.Sum256(snapshot.Payload)
		if base64.StdEncoding.EncodeToString(sum[:]) != snapshot.Checksum {
			return fmt.Errorf("revocation snapshot checksum mismatch")
		}
	}

	var data cacheSnapshot
	if err := json.Unmarshal(snapshot.Payload, &data); err != nil {
		return fmt.Errorf("decode revocation snapshot: %w", err)
	}

	now := c.currentTime()
	for _, record := range data.Entries {
		if record.IsExpired(now) {
			continue
		}
		c.Put(record)
	}
	return nil
}

func (c *RevocationCache) currentTime() time.Time {
	c.mu.RLock()
	nowFn := c.now
	c.mu.RUnlock()
	if nowFn == nil {
		return time.Now().UTC()
	}
	return nowFn().UTC()
}

func (c *RevocationCache) indexLocked(record domain.RevocationRecord) {
	if record.UserID == "" {
		return
	}
	set, ok := c.byUser[record.UserID]
	if !ok {
		set = make(map[string]struct{})
		c.byUser[record.UserID] = set
	}
	set[record.Fingerprint] = struct{}{}
}

func (c *RevocationCache) unindexLocked(record domain.RevocationRecord) {
	set, ok := c.byUser[record.UserID]
	if !ok {
		return
	}
	delete(set, record.Fingerprint)
	if len(set) == 0 {
		delete(c.byUser, record.UserID)
	}
}

func (c *RevocationCache) evictOldestLocked(count int) {
	if count <= 0 || len(c.entries) == 0 {
		return
	}
	values := make([]domain.RevocationRecord, 0, len(c.entries))
	for fingerprint, record := range c.entries {
		if c.guard != nil && c.guard(fingerprint) {
			continue
		}
		values = append(values, record)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].ExpiresAt.Before(values[j].ExpiresAt) })
	if count > len(values) {
		count = len(values)
	}
	for i := 0; i < count; i++ {
		delete(c.entries, values[i].Fingerprint)
		c.unindexLocked(values[i])
	}
}

type cacheSnapshot struct {
	Entries []domain.RevocationRecord `json:"entries"`
}

var (
	_ port.LocalRevocationCache = (*RevocationCache)(nil)
	_ port.EvictionGuardedCache = (*RevocationCache)(nil)
)
