package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/infra/app"
	"github.com/arklim/token-revocation/internal/infra/config"
	kafkainfra "github.com/arklim/token-revocation/internal/infra/kafka"
	"github.com/arklim/token-revocation/internal/infra/logger"
	"github.com/arklim/token-revocation/internal/infra/security"
	"github.com/arklim/token-revocation/internal/usecase"
)

type revocationService interface {
	RevokeWithReason(ctx context.Context, token, userID string, expiresAt time.Time, reason domain.RevocationReason) error
	Check(ctx context.Context, token string) domain.CheckOutcome
	RevokeAllForUserWithReason(ctx context.Context, userID string, reason domain.RevocationReason) (int, error)
}

type reaper interface {
	ReapOnce(ctx context.Context) (int64, error)
}

// environment is what a single command invocation runs against.
type environment struct {
	revocations revocationService
	// reaper is nil unless the durable backend is PostgreSQL.
	reaper reaper
	close  func()
}

type environmentOpener func(ctx context.Context) (*environment, error)

// openEnvironment connects to the configured durable backend. The CLI never persists a local
// snapshot: its cache is empty and would overwrite the one the API instances keep.
func openEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	backend, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	fingerprinter, err := security.NewTokenFingerprinter(cfg.Revocation.FingerprintKey)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("init fingerprinter: %w", err)
	}

	var (
		audit    port.AuditSink = kafkainfra.NewStubPublisher(log)
		producer *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		if producer, err = kafkainfra.NewProducer(cfg.Kafka, log); err != nil {
			log.Warn("kafka unavailable, audit events are logged only", zap.Error(err))
		} else {
			audit = kafkainfra.NewAuditPublisher(producer, cfg.App, log)
		}
	}

	cache := security.NewRevocationCache(security.RevocationCacheOptions{})
	service, err := usecase.NewRevocationService(backend.Store, cache, fingerprinter, audit, usecase.RevocationOptions{
		StoreTimeout:          cfg.Revocation.StoreTimeout,
		AuditTimeout:          cfg.Revocation.AuditTimeout,
		SweepInterval:         cfg.Revocation.SweepInterval,
		BulkRevocationHorizon: cfg.Revocation.BulkRevocationHorizon,
		ResyncInterval:        cfg.Revocation.ResyncInterval,
		ResyncQueueSize:       cfg.Revocation.ResyncQueueSize,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("init revocation service: %w", err)
	}
	service.WithLogger(log)

	env := &environment{
		revocations: service,
		close: func() {
			if pending := service.PendingResyncs(); pending > 0 {
				resyncCtx, cancel := context.WithTimeout(context.Background(), cfg.Revocation.StoreTimeout*4)
				service.ResyncPending(resyncCtx)
				cancel()
			}
			_ = service.Close()
			if producer != nil {
				_ = producer.Close()
			}
			backend.Close()
			_ = log.Sync()
		},
	}
	if backend.Reaper != nil {
		env.reaper = backend.Reaper
	}
	return env, nil
}
