package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/infra/logger"
	"github.com/arklim/token-revocation/internal/repository"
)

const (
	defaultStoreTimeout          = 250 * time.Millisecond
	defaultAuditTimeout          = 2 * time.Second
	defaultSweepInterval         = time.Hour
	defaultBulkRevocationHorizon = 24 * time.Hour
	defaultResyncInterval        = 5 * time.Second
	defaultResyncQueueSize       = 1024
	snapshotTimeout              = 5 * time.Second
)

// Resync results reported to metrics.
const (
	ResyncResultSuccess = "success"
	ResyncResultFailure = "failure"
	ResyncResultExpired = "expired"
	ResyncResultDropped = "dropped"
)

// RevocationOptions configures timeouts and background cadence for the revocation service.
type RevocationOptions struct {
	StoreTimeout          time.Duration
	AuditTimeout          time.Duration
	SweepInterval         time.Duration
	BulkRevocationHorizon time.Duration
	ResyncInterval        time.Duration
	ResyncQueueSize       int
	// InstanceID tags audit events so peers can ignore their own revocations. Generated when empty.
	InstanceID string
}

type pendingWrite struct {
	record domain.RevocationRecord
	// indexOnly is set when the record itself reached the durable store but the user index did not.
	indexOnly bool
}

// RevocationService decides whether credentials are revoked, combining the durable store with
// the local cache. It never fails open: a check that cannot be answered is treated as revoked.
type RevocationService struct {
	durable       port.DurableRevocationStore
	index         port.UserRevocationIndex
	local         port.LocalRevocationCache
	fingerprinter port.Fingerprinter
	audit         port.AuditSink
	metrics       port.RevocationMetrics
	snapshots     port.RevocationSnapshotStore
	logger        *zap.Logger
	tracer        trace.Tracer
	opts          RevocationOptions
	now           func() time.Time

	pendingMu sync.Mutex
	pending   map[string]pendingWrite
	// stranded holds expiries of revocations dropped by a full resync queue; the local cache is their only copy.
	stranded  map[string]time.Time

	lifecycleMu sync.Mutex
	scheduler   *cron.Cron
	stop        chan struct{}
	wg          sync.WaitGroup
	started     bool
	closed      bool
}

// NewRevocationService wires the revocation service. When durable also implements
// port.UserRevocationIndex, user-wide revocation consults the durable index as well.
func NewRevocationService(durable port.DurableRevocationStore, local port.LocalRevocationCache, fingerprinter port.Fingerprinter, audit port.AuditSink, opts RevocationOptions) (*RevocationService, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable revocation store is required")
	}
	if local == nil {
		return nil, fmt.Errorf("local revocation cache is required")
	}
	if fingerprinter == nil {
		return nil, fmt.Errorf("fingerprinter is required")
	}

	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = defaultAuditTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.BulkRevocationHorizon <= 0 {
		opts.BulkRevocationHorizon = defaultBulkRevocationHorizon
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = defaultResyncInterval
	}
	if opts.ResyncQueueSize <= 0 {
		opts.ResyncQueueSize = defaultResyncQueueSize
	}
	if strings.TrimSpace(opts.InstanceID) == "" {
		opts.InstanceID = uuid.NewString()
	}

	svc := &RevocationService{
		durable:       durable,
		local:         local,
		fingerprinter: fingerprinter,
		audit:         audit,
		metrics:       noopRevocationMetrics{},
		logger:        zap.NewNop(),
		tracer:        otel.Tracer("github.com/arklim/token-revocation/internal/usecase"),
		opts:          opts,
		now:           time.Now,
		pending:       make(map[string]pendingWrite),
		stranded:      make(map[string]time.Time),
		stop:          make(chan struct{}),
	}
	if index, ok := durable.(port.UserRevocationIndex); ok {
		svc.index = index
	}
	if guarded, ok := local.(port.EvictionGuardedCache); ok {
		guarded.SetEvictionGuard(svc.heldLocallyOnly)
	}
	return svc, nil
}

// WithLogger attaches a structured logger to the service.
func (s *RevocationService) WithLogger(l *zap.Logger) *RevocationService {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithMetrics wires telemetry observers for revocation operations.
func (s *RevocationService) WithMetrics(metrics port.RevocationMetrics) *RevocationService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithSnapshotStore enables warm starts and snapshot persistence for the local cache.
func (s *RevocationService) WithSnapshotStore(store port.RevocationSnapshotStore) *RevocationService {
	s.snapshots = store
	return s
}

// WithUserIndex overrides the durable user index used by RevokeAllForUser.
func (s *RevocationService) WithUserIndex(index port.UserRevocationIndex) *RevocationService {
	s.index = index
	return s
}

// WithClock overrides the time source, primarily for deterministic testing.
func (s *RevocationService) WithClock(clock func() time.Time) *RevocationService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// InstanceID identifies this service instance on emitted audit events.
func (s *RevocationService) InstanceID() string {
	return s.opts.InstanceID
}

// Revoke marks a credential as revoked until its own expiry, recording logout as the reason.
func (s *RevocationService) Revoke(ctx context.Context, token, userID string, expiresAt time.Time) error {
	return s.RevokeWithReason(ctx, token, userID, expiresAt, domain.RevocationReasonLogout)
}

// RevokeWithReason marks a credential as revoked until expiresAt. Durable store and audit
// failures are absorbed: the local cache always receives the record and durable writes are retried
// in the background.
func (s *RevocationService) RevokeWithReason(ctx context.Context, token, userID string, expiresAt time.Time, reason domain.RevocationReason) error {
	ctx, span := s.tracer.Start(ctx, "revocation.revoke")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		span.SetStatus(codes.Error, domain.ErrEmptyToken.Error())
		return domain.ErrEmptyToken
	}

	now := s.now().UTC()
	fingerprint := s.fingerprinter.Fingerprint(token)
	userID = strings.TrimSpace(userID)
	log := s.requestLogger(ctx).With(zap.String("fingerprint", logger.ShortFingerprint(fingerprint)))

	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		log.Debug("skip revocation of expired credential", zap.Time("expires_at", expiresAt.UTC()))
		span.SetAttributes(attribute.Bool("revocation.skipped", true))
		return nil
	}

	record := domain.RevocationRecord{
		Fingerprint: fingerprint,
		UserID:      userID,
		RevokedAt:   now,
		ExpiresAt:   expiresAt.UTC(),
	}

	s.local.Put(record)
	s.metrics.SetLocalEntries(s.local.Len())
	s.writeDurable(ctx, record, ttl, log)

	s.recordAudit(ctx, domain.AuditEvent{
		Action:      domain.AuditActionRevoke,
		UserID:      userID,
		Fingerprint: fingerprint,
		ExpiresAt:   record.ExpiresAt,
		Reason:      reason,
	})

	log.Info("credential revoked", zap.String("user_id", userID), zap.Duration("ttl", ttl), zap.String("reason", string(reason)))
	return nil
}

// IsRevoked reports whether the credential must be rejected. It never errors: when the durable
// store cannot answer and the local cache has no entry, the credential is treated as revoked.
func (s *RevocationService) IsRevoked(ctx context.Context, token string) bool {
	return s.Check(ctx, token).Revoked()
}

// Check is IsRevoked with the decision path exposed.
func (s *RevocationService) Check(ctx context.Context, token string) domain.CheckOutcome {
	ctx, span := s.tracer.Start(ctx, "revocation.check")
	defer span.End()

	outcome := s.check(ctx, token)
	span.SetAttributes(attribute.String("revocation.outcome", string(outcome)))
	s.metrics.ObserveCheck(outcome)
	return outcome
}

func (s *RevocationService) check(ctx context.Context, token string) domain.CheckOutcome {
	if strings.TrimSpace(token) == "" {
		s.requestLogger(ctx).Debug("revocation check on empty credential",
			zap.String("degradation", string(domain.DegradationReasonEmptyCredential)))
		return domain.CheckOutcomeFailSecure
	}

	fingerprint := s.fingerprinter.Fingerprint(token)

	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	_, found, err := s.durable.Get(storeCtx, fingerprint)
	cancel()

	if err != nil {
		s.metrics.IncDurableFailure("get")
		if _, ok := s.local.Get(fingerprint); ok {
			return domain.CheckOutcomeLocalHit
		}
		s.requestLogger(ctx).Warn("durable revocation lookup failed, treating credential as revoked",
			zap.String("fingerprint", logger.ShortFingerprint(fingerprint)),
			zap.String("degradation", string(domain.DegradationReasonDurableUnavailable)),
			zap.Error(err),
		)
		return domain.CheckOutcomeFailSecure
	}
	if found {
		return domain.CheckOutcomeDurableHit
	}
	if _, ok := s.local.Get(fingerprint); ok {
		return domain.CheckOutcomeLocalHit
	}
	return domain.CheckOutcomeMiss
}

// RevokeAllForUser revokes every credential known to belong to userID, recording a security
// incident as the reason.
func (s *RevocationService) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return s.RevokeAllForUserWithReason(ctx, userID, domain.RevocationReasonSecurityIncident)
}

// RevokeAllForUserWithReason re-revokes every fingerprint owned by userID found in the local cache
// or the durable user index. Each is held until the later of its known expiry and now plus the
// bulk revocation horizon, so an existing revocation is never shortened.
func (s *RevocationService) RevokeAllForUserWithReason(ctx context.Context, userID string, reason domain.RevocationReason) (int, error) {
	ctx, span := s.tracer.Start(ctx, "revocation.revoke_all_for_user")
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		span.SetStatus(codes.Error, domain.ErrEmptyUserID.Error())
		return 0, domain.ErrEmptyUserID
	}

	log := s.requestLogger(ctx).With(zap.String("user_id", userID))
	now := s.now().UTC()
	horizon := now.Add(s.opts.BulkRevocationHorizon)

	candidates := make(map[string]time.Time)
	for _, record := range s.local.ByUser(userID) {
		candidates[record.Fingerprint] = record.ExpiresAt
	}

	if s.index != nil {
		storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		members, err := s.index.ListUserFingerprints(storeCtx, userID, now)
		cancel()
		if err != nil {
			s.metrics.IncDurableFailure("list_user")
			log.Warn("durable user index unavailable, revoking locally known credentials only", zap.Error(err))
		}
		for _, member := range members {
			if known, ok := candidates[member.Fingerprint]; !ok || member.ExpiresAt.After(known) {
				candidates[member.Fingerprint] = member.ExpiresAt
			}
		}
	}

	fingerprints := make([]string, 0, len(candidates))
	for fingerprint := range candidates {
		fingerprints = append(fingerprints, fingerprint)
	}
	sort.Strings(fingerprints)

	for _, fingerprint := range fingerprints {
		expiresAt := horizon
		if known := candidates[fingerprint]; known.After(expiresAt) {
			expiresAt = known
		}

		record := domain.RevocationRecord{
			Fingerprint: fingerprint,
			UserID:      userID,
			RevokedAt:   now,
			ExpiresAt:   expiresAt,
		}
		s.local.Put(record)
		s.writeDurable(ctx, record, expiresAt.Sub(now), log.With(zap.String("fingerprint", logger.ShortFingerprint(fingerprint))))

		s.recordAudit(ctx, domain.AuditEvent{
			Action:      domain.AuditActionBulkRevokeToken,
			UserID:      userID,
			Fingerprint: fingerprint,
			ExpiresAt:   expiresAt,
			Reason:      reason,
		})
	}
	s.metrics.SetLocalEntries(s.local.Len())

	count := len(fingerprints)
	s.recordAudit(ctx, domain.AuditEvent{
		Action: domain.AuditActionBulkRevoke,
		UserID: userID,
		Count:  count,
		Reason: reason,
	})

	span.SetAttributes(attribute.Int("revocation.count", count))
	log.Info("user credentials revoked", zap.Int("count", count), zap.String("reason", string(reason)))
	return count, nil
}

// Sweep evicts local entries whose credentials expired at or before now.
func (s *RevocationService) Sweep(now time.Time) int {
	removed := s.local.Sweep(now)
	s.pruneStranded(now)
	s.metrics.AddSwept(removed)
	s.metrics.SetLocalEntries(s.local.Len())
	if removed > 0 {
		s.logger.Debug("local revocation cache swept", zap.Int("removed", removed))
	}
	return removed
}

// PendingResyncs reports how many durable writes are waiting for retry.
func (s *RevocationService) PendingResyncs() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// ResyncPending retries queued durable writes once and returns how many succeeded.
// Entries whose credentials have expired are dropped.
func (s *RevocationService) ResyncPending(ctx context.Context) int {
	s.pendingMu.Lock()
	batch := make([]pendingWrite, 0, len(s.pending))
	for _, write := range s.pending {
		batch = append(batch, write)
	}
	s.pendingMu.Unlock()

	now := s.now().UTC()
	synced := 0
	for _, write := range batch {
		fingerprint := write.record.Fingerprint
		if write.record.IsExpired(now) {
			s.forgetPending(write)
			s.metrics.IncResync(ResyncResultExpired)
			continue
		}

		if err := s.applyDurable(ctx, write, write.record.TTL(now)); err != nil {
			s.metrics.IncResync(ResyncResultFailure)
			s.logger.Debug("durable revocation resync failed",
				zap.String("fingerprint", logger.ShortFingerprint(fingerprint)),
				zap.Error(err),
			)
			continue
		}

		s.forgetPending(write)
		s.metrics.IncResync(ResyncResultSuccess)
		synced++
	}
	return synced
}

// WarmStart restores the local cache from the latest persisted snapshot, if any.
func (s *RevocationService) WarmStart(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}

	snapshot, err := s.snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load revocation snapshot: %w", err)
	}
	if snapshot == nil {
		return nil
	}

	if err := s.local.RestoreSnapshot(ctx, *snapshot); err != nil {
		return fmt.Errorf("restore revocation snapshot: %w", err)
	}

	s.metrics.SetLocalEntries(s.local.Len())
	s.logger.Info("local revocation cache restored",
		zap.String("snapshot_id", snapshot.SnapshotID),
		zap.Time("generated_at", snapshot.GeneratedAt),
		zap.Int("entries", s.local.Len()),
	)
	return nil
}

// PersistSnapshot writes the current local cache to the snapshot store.
func (s *RevocationService) PersistSnapshot(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}

	snapshot, err := s.local.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot local revocations: %w", err)
	}
	if snapshot == nil {
		return nil
	}
	if err := s.snapshots.SaveSnapshot(ctx, *snapshot); err != nil {
		return fmt.Errorf("save revocation snapshot: %w", err)
	}
	return nil
}

// Start schedules the periodic sweep and launches the durable resync worker.
func (s *RevocationService) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started || s.closed {
		return nil
	}

	scheduler := cron.New()
	schedule := fmt.Sprintf("@every %s", s.opts.SweepInterval)
	if _, err := scheduler.AddFunc(schedule, s.scheduledSweep); err != nil {
		return fmt.Errorf("schedule revocation sweep: %w", err)
	}
	scheduler.Start()
	s.scheduler = scheduler

	s.wg.Add(1)
	go s.resyncLoop()

	s.started = true
	s.logger.Info("revocation service started",
		zap.Duration("sweep_interval", s.opts.SweepInterval),
		zap.Duration("resync_interval", s.opts.ResyncInterval),
		zap.String("instance_id", s.opts.InstanceID),
	)
	return nil
}

// Close stops background work and persists a final snapshot when a snapshot store is configured.
func (s *RevocationService) Close() error {
	s.lifecycleMu.Lock()
	if s.closed {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.closed = true
	scheduler := s.scheduler
	s.lifecycleMu.Unlock()

	close(s.stop)
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	s.wg.Wait()

	if pending := s.PendingResyncs(); pending > 0 {
		s.logger.Warn("revocation service closing with unsynchronised durable writes", zap.Int("pending", pending))
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	return s.PersistSnapshot(ctx)
}

func (s *RevocationService) scheduledSweep() {
	s.Sweep(s.now().UTC())

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := s.PersistSnapshot(ctx); err != nil {
		s.logger.Warn("persist revocation snapshot failed", zap.Error(err))
	}
}

func (s *RevocationService) resyncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.PendingResyncs() == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.ResyncInterval)
			s.ResyncPending(ctx)
			cancel()
		}
	}
}

// writeDurable stores the record and its user index entry, queueing whatever fails for resync.
func (s *RevocationService) writeDurable(ctx context.Context, record domain.RevocationRecord, ttl time.Duration, log *zap.Logger) {
	write := pendingWrite{record: record}
	if err := s.applyDurable(ctx, write, ttl); err != nil {
		log.Warn("durable revocation write failed, queued for resync", zap.Error(err))
		var indexErr *indexWriteError
		if errors.As(err, &indexErr) {
			write.indexOnly = true
		}
		s.enqueuePending(write, log)
		return
	}
	s.clearStranded(record.Fingerprint)
}

func (s *RevocationService) applyDurable(ctx context.Context, write pendingWrite, ttl time.Duration) error {
	record := write.record

	if !write.indexOnly {
		storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		err := s.durable.Set(storeCtx, record.Fingerprint, record, ttl)
		cancel()
		if err != nil {
			s.metrics.IncDurableFailure("set")
			return fmt.Errorf("durable set: %w", err)
		}
	}

	if s.index != nil && record.UserID != "" {
		storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		err := s.index.AddUserFingerprint(storeCtx, record.UserID, record.Fingerprint, record.ExpiresAt)
		cancel()
		if err != nil {
			s.metrics.IncDurableFailure("index")
			return &indexWriteError{err: err}
		}
	}

	return nil
}

func (s *RevocationService) enqueuePending(write pendingWrite, log *zap.Logger) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	fingerprint := write.record.Fingerprint
	if existing, ok := s.pending[fingerprint]; ok {
		if !existing.indexOnly {
			write.indexOnly = false
		}
		s.pending[fingerprint] = write
		return
	}
	if len(s.pending) >= s.opts.ResyncQueueSize {
		if current, ok := s.stranded[fingerprint]; !ok || write.record.ExpiresAt.After(current) {
			s.stranded[fingerprint] = write.record.ExpiresAt
		}
		s.metrics.IncResync(ResyncResultDropped)
		log.Warn("durable resync queue full, revocation held in local cache only",
			zap.Int("queue_size", s.opts.ResyncQueueSize))
		return
	}
	s.pending[fingerprint] = write
}

// heldLocallyOnly reports whether the local cache holds the only copy of the revocation,
// either because its durable write is queued for resync or because the queue dropped it.
func (s *RevocationService) heldLocallyOnly(fingerprint string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if _, ok := s.pending[fingerprint]; ok {
		return true
	}
	expiresAt, ok := s.stranded[fingerprint]
	return ok && expiresAt.After(s.now())
}

func (s *RevocationService) clearStranded(fingerprint string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	delete(s.stranded, fingerprint)
}

func (s *RevocationService) pruneStranded(now time.Time) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for fingerprint, expiresAt := range s.stranded {
		if !expiresAt.After(now) {
			delete(s.stranded, fingerprint)
		}
	}
}

// forgetPending removes the entry unless a newer write replaced it meanwhile.
func (s *RevocationService) forgetPending(write pendingWrite) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	fingerprint := write.record.Fingerprint
	if current, ok := s.pending[fingerprint]; ok && current == write {
		delete(s.pending, fingerprint)
	}
}

func (s *RevocationService) recordAudit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	event.InstanceID = s.opts.InstanceID

	auditCtx, cancel := context.WithTimeout(ctx, s.opts.AuditTimeout)
	defer cancel()

	if err := s.audit.Record(auditCtx, event); err != nil {
		s.metrics.IncAuditFailure()
		s.requestLogger(ctx).Warn("revocation audit event not recorded",
			zap.String("action", string(event.Action)),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

func (s *RevocationService) requestLogger(ctx context.Context) *zap.Logger {
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		return s.logger.With(zap.String("request_id", requestID))
	}
	return s.logger
}

type indexWriteError struct {
	err error
}

func (e *indexWriteError) Error() string { return "durable user index: " + e.err.Error() }

func (e *indexWriteError) Unwrap() error { return e.err }

type noopRevocationMetrics struct{}

func (noopRevocationMetrics) ObserveCheck(domain.CheckOutcome) {}
func (noopRevocationMetrics) IncDurableFailure(string)         {}
func (noopRevocationMetrics) IncAuditFailure()                 {}
func (noopRevocationMetrics) AddSwept(int)                     {}
func (noopRevocationMetrics) SetLocalEntries(int)              {}
func (noopRevocationMetrics) IncResync(string)                 {}
