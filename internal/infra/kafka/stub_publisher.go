package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
)

// StubPublisher logs audit events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly audit sink.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// Record logs the audit event.
func (p *StubPublisher) Record(_ context.Context, event domain.AuditEvent) error {
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_type", RevocationEventType),
		zap.String("action", string(event.Action)),
		zap.String("user_id", event.UserID),
		zap.Time("timestamp", at.UTC()),
	}
	if event.Fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", event.Fingerprint))
	}
	if event.Count > 0 {
		fields = append(fields, zap.Int("count", event.Count))
	}
	if !event.ExpiresAt.IsZero() {
		fields = append(fields, zap.Time("expires_at", event.ExpiresAt.UTC()))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", string(event.Reason)))
	}

	p.logger.Info("Stub audit event published", fields...)
	return nil
}

var _ port.AuditSink = (*StubPublisher)(nil)
