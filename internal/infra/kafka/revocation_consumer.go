package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
	"github.com/arklim/token-revocation/internal/infra/config"
)

// RevocationConsumerOptions controls peer filtering and lag monitoring.
type RevocationConsumerOptions struct {
	// InstanceID identifies this process; events it emitted itself are skipped.
	InstanceID  string
	MaxEventLag time.Duration
}

// RevocationConsumer mirrors revocations made by peer instances into the local cache.
type RevocationConsumer struct {
	cache       port.LocalRevocationCache
	logger      *zap.Logger
	instanceID  string
	maxEventLag time.Duration
	now         func() time.Time
}

// NewRevocationConsumer constructs a consumer that keeps the local cache in step with peers.
func NewRevocationConsumer(cache port.LocalRevocationCache, logger *zap.Logger, opts RevocationConsumerOptions) *RevocationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationConsumer{
		cache:       cache,
		logger:      logger,
		instanceID:  opts.InstanceID,
		maxEventLag: opts.MaxEventLag,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *RevocationConsumer) WithClock(clock func() time.Time) *RevocationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes a Kafka message prior to processing.
func (c *RevocationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	event, err := decodeAuditEvent(msg.Value)
	if err != nil {
		return err
	}

	return c.HandleEvent(ctx, event)
}

// HandleEvent applies a peer revocation to the local cache.
func (c *RevocationConsumer) HandleEvent(_ context.Context, event domain.AuditEvent) error {
	if c.cache == nil || !event.CarriesRevocation() {
		return nil
	}
	if c.instanceID != "" && event.InstanceID == c.instanceID {
		return nil
	}

	now := c.now()
	if event.ExpiresAt.IsZero() || !event.ExpiresAt.After(now) {
		c.logger.Debug("skip expired peer revocation", zap.String("event_id", event.EventID))
		return nil
	}

	if !event.Timestamp.IsZero() && c.maxEventLag > 0 {
		if lag := now.Sub(event.Timestamp); lag > c.maxEventLag {
			c.logger.Warn("peer revocation event lag exceeds threshold",
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxEventLag),
				zap.String("event_id", event.EventID),
			)
		}
	}

	revokedAt := event.Timestamp.UTC()
	if revokedAt.IsZero() {
		revokedAt = now
	}

	c.cache.Put(domain.RevocationRecord{
		Fingerprint: event.Fingerprint,
		UserID:      event.UserID,
		RevokedAt:   revokedAt,
		ExpiresAt:   event.ExpiresAt.UTC(),
	})
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. Undecodable messages are logged and committed.
func (c *RevocationConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("peer revocation message rejected",
					zap.Error(err),
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// ConsumerGroup runs a RevocationConsumer against the revocation audit topic.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topic   string
	handler sarama.ConsumerGroupHandler
	logger  *zap.Logger
}

// NewConsumerGroup joins the configured consumer group. Every instance should use its own group
// so each one sees every peer revocation.
func NewConsumerGroup(cfg config.KafkaSettings, groupID string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return newConsumerGroup(group, topicName(cfg.TopicPrefix, RevocationEventType), handler, logger), nil
}

func newConsumerGroup(group sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		group:   group,
		topic:   topic,
		handler: handler,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled. Consume returns on every rebalance, so it is called in a loop.
func (g *ConsumerGroup) Run(ctx context.Context) {
	go func() {
		for err := range g.group.Errors() {
			g.logger.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := g.group.Consume(ctx, []string{g.topic}, g.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			g.logger.Warn("kafka consume failed", zap.Error(err), zap.String("topic", g.topic))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close leaves the consumer group.
func (g *ConsumerGroup) Close() error {
	if err := g.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

var _ sarama.ConsumerGroupHandler = (*RevocationConsumer)(nil)
