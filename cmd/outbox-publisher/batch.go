package main

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	"github.com/angelmondragon/courier-backend/pkg/outbox/registry"
)

type outcomeKind int

const (
	outcomePublished outcomeKind = iota
	outcomeRetry
	outcomeTerminal
	// outcomeDeferred rows were never sent because an earlier row of the
	// same aggregate failed in this batch. They keep their attempt count.
	outcomeDeferred
)

type outcome struct {
	kind     outcomeKind
	event    models.OutboxEvent
	topic    string
	eventID  string
	serverID string
	err      error
}

// processBatch locks up to batchSize rows, publishes them and records the
// result of each. It returns the number of rows fetched.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	fetched := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		fetched = len(events)
		if fetched == 0 {
			return nil
		}
		for _, o := range s.publishLanes(ctx, events) {
			if err := s.settle(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
	return fetched, err
}

// publishLanes groups events by aggregate and publishes the groups
// concurrently. Inside a group events go out one at a time in fetch order,
// and a retryable failure defers the rest of that group to the next poll.
// The returned outcomes line up with events.
func (s *Service) publishLanes(ctx context.Context, events []models.OutboxEvent) []outcome {
	outcomes := make([]outcome, len(events))
	var group errgroup.Group
	group.SetLimit(s.lanes)
	for _, lane := range groupByAggregate(events) {
		group.Go(func() error {
			for i, idx := range lane {
				outcomes[idx] = s.publishOne(ctx, events[idx])
				if outcomes[idx].kind != outcomeRetry {
					continue
				}
				for _, rest := range lane[i+1:] {
					outcomes[rest] = outcome{kind: outcomeDeferred, event: events[rest]}
				}
				return nil
			}
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// groupByAggregate returns event indexes bucketed by aggregate, buckets in
// order of first appearance.
func groupByAggregate(events []models.OutboxEvent) [][]int {
	type key struct {
		kind enums.OutboxAggregateType
		id   string
	}
	positions := map[key]int{}
	var lanes [][]int
	for i, event := range events {
		k := key{kind: event.AggregateType, id: event.AggregateID.String()}
		pos, ok := positions[k]
		if !ok {
			pos = len(lanes)
			positions[k] = pos
			lanes = append(lanes, nil)
		}
		lanes[pos] = append(lanes[pos], i)
	}
	return lanes
}

func (s *Service) publishOne(ctx context.Context, event models.OutboxEvent) outcome {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcome{kind: classify(err), event: event, err: err}
	}
	o := outcome{event: event, topic: resolved.Descriptor.Topic, eventID: resolved.Envelope.EventID}

	pub := s.publisher(o.topic)
	if pub == nil {
		o.kind = outcomeTerminal
		o.err = fmt.Errorf("no publisher for topic %q", o.topic)
		return o
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       o.eventID,
			"outbox_id":      event.ID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.orderingKeys {
		msg.OrderingKey = event.AggregateID.String()
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		o.kind = outcomeTerminal
		o.err = fmt.Errorf("publisher for %q returned no result", o.topic)
		return o
	}
	o.serverID, o.err = result.Get(publishCtx)
	if o.err == nil {
		o.kind = outcomePublished
		return o
	}
	if msg.OrderingKey != "" {
		pub.ResumePublish(msg.OrderingKey)
	}
	o.kind = classify(o.err)
	return o
}

func classify(err error) outcomeKind {
	if registry.IsNonRetryable(err) {
		return outcomeTerminal
	}
	return outcomeRetry
}

// settle writes one outcome back to the outbox inside the batch transaction.
// A retryable failure that reaches the attempt ceiling becomes terminal.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, o outcome) error {
	eventType := string(o.event.EventType)
	logCtx := s.logg.WithFields(ctx, o.fields())

	switch o.kind {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, o.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", o.event.ID, err)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(s.logg.WithField(logCtx, "message_id", o.serverID), "outbox event published")
		return nil

	case outcomeDeferred:
		s.metrics.IncDeferred(eventType)
		s.logg.Debug(logCtx, "outbox event deferred behind failed aggregate event")
		return nil

	case outcomeRetry:
		attempt := o.event.AttemptCount + 1
		if attempt >= s.maxAttempts {
			return s.deadLetter(logCtx, tx, o, enums.OutboxDLQReasonMaxAttempts,
				fmt.Errorf("gave up after %d attempts: %w", attempt, o.err))
		}
		if err := s.repo.MarkFailedTx(tx, o.event.ID, o.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", o.event.ID, err)
		}
		s.metrics.IncFailed(eventType)
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"attempt_count": attempt,
			"error":         o.err.Error(),
		}), "outbox publish failed")
		return nil

	default:
		return s.deadLetter(logCtx, tx, o, enums.OutboxDLQReasonNonRetryable, o.err)
	}
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, o outcome, reason enums.OutboxDLQErrorReason, cause error) error {
	message := cause.Error()
	entry := o.event.DeadLetter(reason, message, s.now().UTC())
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", o.event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, o.event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", o.event.ID, err)
	}
	s.metrics.IncDLQ(string(o.event.EventType), string(reason))
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        message,
	}), "outbox event dead-lettered")
	return nil
}

func (o outcome) fields() map[string]any {
	fields := map[string]any{
		"outbox_id":      o.event.ID.String(),
		"event_type":     o.event.EventType,
		"aggregate_type": o.event.AggregateType,
		"aggregate_id":   o.event.AggregateID.String(),
		"attempt_count":  o.event.AttemptCount,
	}
	if o.topic != "" {
		fields["topic"] = o.topic
	}
	if o.eventID != "" {
		fields["event_id"] = o.eventID
	}
	return fields
}
