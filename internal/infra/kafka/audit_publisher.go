package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/infra/config"
)

const (
	schemaVersion = "1.0"
	// RevocationEventType is the event type and topic suffix for revocation audit events.
	RevocationEventType = "token.revocation"
)

// AuditPublisher implements port.AuditSink using Kafka.
type AuditPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewAuditPublisher constructs a Kafka-backed audit sink.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *AuditPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   json.RawMessage  `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type auditPayload struct {
	Action      string     `json:"action"`
	UserID      string     `json:"user_id,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Count       int        `json:"count,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	InstanceID  string     `json:"instance_id,omitempty"`
}

// Record publishes the audit event. Delivery failures after enqueueing surface on Producer.Errors.
func (p *AuditPublisher) Record(ctx context.Context, event domain.AuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := event.EventID
	if id == "" {
		id = uuid.NewString()
	}

	payload := auditPayload{
		Action:      string(event.Action),
		UserID:      event.UserID,
		Fingerprint: event.Fingerprint,
		Count:       event.Count,
		Reason:      string(event.Reason),
		InstanceID:  event.InstanceID,
	}
	if !event.ExpiresAt.IsZero() {
		expiresAt := event.ExpiresAt.UTC()
		payload.ExpiresAt = &expiresAt
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: RevocationEventType,
		UserID:    event.UserID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   rawPayload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(RevocationEventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if event.UserID != "" {
		message.Key = sarama.StringEncoder(event.UserID)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeAuditEvent reverses Record for consumers of the audit topic.
func decodeAuditEvent(data []byte) (domain.AuditEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if envelope.EventType != RevocationEventType {
		return domain.AuditEvent{}, fmt.Errorf("unexpected event type %q", envelope.EventType)
	}

	var payload auditPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("decode audit payload: %w", err)
	}

	event := domain.AuditEvent{
		EventID:     envelope.EventID,
		Action:      domain.AuditAction(payload.Action),
		UserID:      payload.UserID,
		Fingerprint: payload.Fingerprint,
		Count:       payload.Count,
		Reason:      domain.RevocationReason(payload.Reason),
		InstanceID:  payload.InstanceID,
		Timestamp:   envelope.Timestamp,
	}
	if payload.ExpiresAt != nil {
		event.ExpiresAt = *payload.ExpiresAt
	}
	return event, nil
}

var _ port.AuditSink = (*AuditPublisher)(nil)
