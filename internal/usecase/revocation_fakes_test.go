package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeDurableEntry struct {
	record   domain.RevocationRecord
	deadline time.Time
	ttl      time.Duration
}

// fakeDurableStore reclaims records once the simulated clock passes their TTL.
type fakeDurableStore struct {
	mu       sync.Mutex
	clock    *testClock
	records  map[string]fakeDurableEntry
	index    map[string]map[string]time.Time
	setErr   error
	getErr   error
	indexErr error
	listErr  error
	blockGet bool
	setCalls int
}

func newFakeDurableStore(clock *testClock) *fakeDurableStore {
	return &fakeDurableStore{
		clock:   clock,
		records: make(map[string]fakeDurableEntry),
		index:   make(map[string]map[string]time.Time),
	}
}

func (f *fakeDurableStore) Set(ctx context.Context, fingerprint string, record domain.RevocationRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.records[fingerprint] = fakeDurableEntry{record: record, deadline: f.clock.Now().Add(ttl), ttl: ttl}
	return nil
}

func (f *fakeDurableStore) Get(ctx context.Context, fingerprint string) (*domain.RevocationRecord, bool, error) {
	f.mu.Lock()
	block := f.blockGet
	getErr := f.getErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	if getErr != nil {
		return nil, false, getErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.records[fingerprint]
	if !ok {
		return nil, false, nil
	}
	if !f.clock.Now().Before(entry.deadline) {
		delete(f.records, fingerprint)
		return nil, false, nil
	}
	record := entry.record
	return &record, true, nil
}

func (f *fakeDurableStore) AddUserFingerprint(_ context.Context, userID, fingerprint string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	members, ok := f.index[userID]
	if !ok {
		members = make(map[string]time.Time)
		f.index[userID] = members
	}
	if current, exists := members[fingerprint]; !exists || expiresAt.After(current) {
		members[fingerprint] = expiresAt
	}
	return nil
}

func (f *fakeDurableStore) ListUserFingerprints(_ context.Context, userID string, now time.Time) ([]domain.UserFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]domain.UserFingerprint, 0)
	for fingerprint, expiresAt := range f.index[userID] {
		if expiresAt.After(now) {
			result = append(result, domain.UserFingerprint{Fingerprint: fingerprint, ExpiresAt: expiresAt})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Fingerprint < result[j].Fingerprint })
	return result, nil
}

func (f *fakeDurableStore) entry(fingerprint string) (fakeDurableEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.records[fingerprint]
	return entry, ok
}

func (f *fakeDurableStore) setFailures(setErr, getErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = setErr
	f.getErr = getErr
}

// durableOnly hides the user index so the service falls back to local discovery.
type durableOnly struct {
	port.DurableRevocationStore
}

type fakeAuditSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (f *fakeAuditSink) Record(_ context.Context, event domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditSink) recorded() []domain.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeAuditSink) byAction(action domain.AuditAction) []domain.AuditEvent {
	out := make([]domain.AuditEvent, 0)
	for _, event := range f.recorded() {
		if event.Action == action {
			out = append(out, event)
		}
	}
	return out
}

type fakeSnapshotStore struct {
	mu    sync.Mutex
	saved []domain.RevocationSnapshot
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, snapshot domain.RevocationSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snapshot)
	return nil
}

func (f *fakeSnapshotStore) LoadLatestSnapshot(context.Context) (*domain.RevocationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return nil, repository.ErrNotFound
	}
	latest := f.saved[len(f.saved)-1]
	return &latest, nil
}

type fakeRevocationMetrics struct {
	mu              sync.Mutex
	outcomes        map[domain.CheckOutcome]int
	durableFailures map[string]int
	auditFailures   int
	swept           int
	resyncs         map[string]int
}

func newFakeRevocationMetrics() *fakeRevocationMetrics {
	return &fakeRevocationMetrics{
		outcomes:        make(map[domain.CheckOutcome]int),
		durableFailures: make(map[string]int),
		resyncs:         make(map[string]int),
	}
}

func (m *fakeRevocationMetrics) ObserveCheck(outcome domain.CheckOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *fakeRevocationMetrics) IncDurableFailure(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durableFailures[operation]++
}

func (m *fakeRevocationMetrics) IncAuditFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditFailures++
}

func (m *fakeRevocationMetrics) AddSwept(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept += count
}

func (m *fakeRevocationMetrics) SetLocalEntries(int) {}

func (m *fakeRevocationMetrics) IncResync(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resyncs[result]++
}
