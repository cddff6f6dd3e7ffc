package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/infra/config"
	kafkainfra "github.com/arklim/token-revocation/internal/infra/kafka"
	"github.com/arklim/token-revocation/internal/infra/logger"
	"github.com/arklim/token-revocation/internal/infra/security"
	"github.com/arklim/token-revocation/internal/infra/telemetry"
	"github.com/arklim/token-revocation/internal/transport/http/middleware"
	"github.com/arklim/token-revocation/internal/transport/http/routes"
	"github.com/arklim/token-revocation/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg         *config.AppConfig
	engine      *gin.Engine
	logger      *zap.Logger
	backend     *Backend
	revocations *usecase.RevocationService
	producer    *kafkainfra.Producer
	consumer    *kafkainfra.ConsumerGroup
	tracer      *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	application := &Application{cfg: cfg, logger: log}

	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			application.tracer = tp
		}
	}

	backend, err := OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	application.backend = backend

	fingerprinter, err := security.NewTokenFingerprinter(cfg.Revocation.FingerprintKey)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("init fingerprinter: %w", err)
	}

	cache := security.NewRevocationCache(security.RevocationCacheOptions{
		MaxEntries: cfg.Revocation.LocalMaxEntries,
	})

	instanceID := resolveInstanceID(cfg.Revocation.InstanceID, os.Hostname)
	log.Info("revocation instance identified", zap.String("instance_id", instanceID))

	var audit port.AuditSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			audit = kafkainfra.NewStubPublisher(log)
		} else {
			application.producer = producer
			audit = kafkainfra.NewAuditPublisher(producer, cfg.App, log)
			log.Info("kafka audit publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		audit = kafkainfra.NewStubPublisher(log)
	}

	metrics, err := telemetry.NewRevocationMetrics(telemetry.RevocationMetricsOptions{})
	if err != nil {
		application.closeResources()
		return nil, fmt.Errorf("init revocation metrics: %w", err)
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		application.closeResources()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	revocations, err := usecase.NewRevocationService(backend.Store, cache, fingerprinter, audit, usecase.RevocationOptions{
		StoreTimeout:          cfg.Revocation.StoreTimeout,
		AuditTimeout:          cfg.Revocation.AuditTimeout,
		SweepInterval:         cfg.Revocation.SweepInterval,
		BulkRevocationHorizon: cfg.Revocation.BulkRevocationHorizon,
		ResyncInterval:        cfg.Revocation.ResyncInterval,
		ResyncQueueSize:       cfg.Revocation.ResyncQueueSize,
		InstanceID:            instanceID,
	})
	if err != nil {
		application.closeResources()
		return nil, fmt.Errorf("init revocation service: %w", err)
	}
	revocations.WithLogger(log).WithMetrics(metrics)
	if backend.Snapshots != nil {
		revocations.WithSnapshotStore(backend.Snapshots)
	}
	application.revocations = revocations

	if err := revocations.WarmStart(ctx); err != nil {
		log.Warn("local revocation cache warm start failed", zap.Error(err))
	}

	if cfg.Revocation.PropagationEnabled && len(cfg.Kafka.Brokers) > 0 {
		handler := kafkainfra.NewRevocationConsumer(cache, log, kafkainfra.RevocationConsumerOptions{
			InstanceID:  instanceID,
			MaxEventLag: cfg.Revocation.ResyncInterval * 12,
		})
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, instanceID)
		group, err := kafkainfra.NewConsumerGroup(cfg.Kafka, groupID, handler, log)
		if err != nil {
			log.Warn("peer revocation propagation disabled", zap.Error(err))
		} else {
			application.consumer = group
		}
	}

	routeDeps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Revocations: revocations,
		HTTPMetrics: httpMetrics,
		Durable:     backend,
	}
	if backend.Name == BackendPostgres && backend.Redis != nil {
		routeDeps.Cache = backend.Redis
	}
	application.engine = routes.Register(routeDeps)

	return application, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.closeResources()

	if err := a.revocations.Start(); err != nil {
		return fmt.Errorf("start revocation service: %w", err)
	}
	if a.backend.Reaper != nil {
		if err := a.backend.Reaper.Start(); err != nil {
			return fmt.Errorf("start revocation reaper: %w", err)
		}
	}

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if a.consumer != nil {
		go a.consumer.Run(consumerCtx)
		a.logger.Info("peer revocation propagation enabled", zap.String("instance_id", a.revocations.InstanceID()))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting token revocation API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("durable_backend", a.backend.Name),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// closeResources releases everything New acquired. The revocation service is closed before the
// backend so its final snapshot can still reach Redis.
func (a *Application) closeResources() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("close consumer group", zap.Error(err))
		}
	}
	if a.revocations != nil {
		if err := a.revocations.Close(); err != nil {
			a.logger.Warn("close revocation service", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.backend != nil {
		a.backend.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	}
}
