package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Reaper periodically deletes expired revocation rows.
type Reaper struct {
	repo     expiredDeleter
	logger   *zap.Logger
	cron     *cron.Cron
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	started bool
}

// NewReaper schedules DeleteExpired every interval. Start must be called to run it.
func NewReaper(repo expiredDeleter, interval time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reaper{
		repo:     repo,
		logger:   logger,
		cron:     cron.New(),
		interval: interval,
		timeout:  30 * time.Second,
		now:      time.Now,
	}
}

// WithClock overrides the time source used as the reaping cutoff.
func (r *Reaper) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Start registers the schedule and starts the scheduler.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	schedule := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_, _ = r.ReapOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule revocation reaper: %w", err)
	}

	r.cron.Start()
	r.started = true
	r.logger.Info("revocation reaper started", zap.Duration("interval", r.interval))
	return nil
}

// ReapOnce deletes expired rows immediately.
func (r *Reaper) ReapOnce(ctx context.Context) (int64, error) {
	deleted, err := r.repo.DeleteExpired(ctx, r.now().UTC())
	if err != nil {
		r.logger.Warn("revocation reaper failed", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		r.logger.Debug("expired revocations reaped", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
}
