package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/courier-backend/pkg/enums"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/notify"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
)

// ConsumerName scopes the idempotency keys claimed by this worker.
const ConsumerName = "order-notifications"

// Receiver is satisfied by *pubsub.Subscriber.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error)
	Release(ctx context.Context, consumer, id string) error
}

type payloadDecoder interface {
	Handles(eventType enums.OutboxEventType) bool
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type ConsumerParams struct {
	Subscriptions []Receiver
	Decoders      payloadDecoder
	Idempotency   idempotencyChecker
	Sender        notify.Sender
	Logger        *logger.Logger
}

// Consumer reads order and delivery events and sends the matching customer
// notices. Each event is delivered at most once per idempotency TTL.
type Consumer struct {
	subscriptions []Receiver
	decoders      payloadDecoder
	idempotency   idempotencyChecker
	sender        notify.Sender
	logg          *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if len(params.Subscriptions) == 0 {
		return nil, fmt.Errorf("at least one subscription required")
	}
	for i, sub := range params.Subscriptions {
		if sub == nil {
			return nil, fmt.Errorf("subscription %d is nil", i)
		}
	}
	if params.Decoders == nil {
		return nil, fmt.Errorf("payload decoders required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("notification sender required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscriptions: params.Subscriptions,
		decoders:      params.Decoders,
		idempotency:   params.Idempotency,
		sender:        params.Sender,
		logg:          params.Logger,
	}, nil
}

// Run receives from every subscription until the context is canceled or one
// of them fails.
func (c *Consumer) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, sub := range c.subscriptions {
		group.Go(func() error {
			return sub.Receive(groupCtx, c.receive)
		})
	}
	return group.Wait()
}

func (c *Consumer) receive(ctx context.Context, msg *pubsub.Message) {
	result := c.handle(ctx, msg.ID, msg.Attributes, msg.Data)
	if result.nack {
		msg.Nack()
		return
	}
	msg.Ack()
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) handle(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if !c.decoders.Handles(eventType) {
		c.logg.Info(logCtx, "event not handled by notification consumer")
		return processResult{ack: true}
	}

	envelope, err := outbox.ParseEnvelope(data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping unreadable envelope")
		return processResult{ack: true}
	}

	if err := c.Process(logCtx, eventType, envelope); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

// Process sends the notices for one envelope. On failure the idempotency claim
// is released so a redelivery can try again.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		return fmt.Errorf("event id missing")
	}
	logCtx := c.logg.WithField(ctx, "event_id", eventID)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, ConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	if err := c.deliver(logCtx, eventType, envelope); err != nil {
		if relErr := c.idempotency.Release(ctx, ConsumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", relErr)
		}
		return err
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		// Redelivery cannot fix a payload this worker does not understand.
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"error":   err.Error(),
			"version": envelope.Version,
		}), "dropping undecodable payload")
		return nil
	}
	messages, err := composeMessages(payload)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		c.logg.Info(ctx, "no notification for event")
		return nil
	}

	for _, msg := range messages {
		if msg.To == "" {
			c.logg.Warn(ctx, "recipient phone missing; notification skipped")
			continue
		}
		if err := c.sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
	}
	c.logg.Info(c.logg.WithField(ctx, "messages", len(messages)), "notifications sent")
	return nil
}
