package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/metrics"
	"github.com/angelmondragon/courier-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	defaultLanes          = 8
	maxIdleBackoff        = 10 * time.Second
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// publisher is the slice of *gcppubsub.Publisher the service needs.
// ResumePublish clears the paused state Pub/Sub puts an ordering key in
// after a failed publish.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// publisherFactory must be safe for concurrent use; lanes call it in parallel.
type publisherFactory func(topic string) publisher

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pinger
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

// Service drains outbox_events into Pub/Sub. Each poll locks a batch, fans
// it out over per-aggregate lanes, and settles every row in the same
// transaction that locked it.
type Service struct {
	logg      *logger.Logger
	db        dbClient
	pubsub    pinger
	repo      outboxRepository
	registry  registryResolver
	dlq       dlqRepository
	publisher publisherFactory
	metrics   *metrics.OutboxMetrics

	batchSize      int
	maxAttempts    int
	lanes          int
	pollInterval   time.Duration
	publishTimeout time.Duration
	orderingKeys   bool
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	case params.PublisherFactory == nil:
		return nil, errors.New("publisher factory is required")
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:           params.Logger,
		db:             params.DB,
		pubsub:         params.PubSub,
		repo:           params.Repository,
		registry:       params.Registry,
		dlq:            params.DLQRepository,
		publisher:      params.PublisherFactory,
		metrics:        params.Metrics,
		batchSize:      positive(cfg.BatchSize, defaultBatchSize),
		maxAttempts:    positive(cfg.MaxAttempts, defaultMaxAttempts),
		lanes:          positive(cfg.Lanes, defaultLanes),
		pollInterval:   positiveDuration(time.Duration(cfg.PollIntervalMS)*time.Millisecond, defaultPollInterval),
		publishTimeout: positiveDuration(cfg.PublishTimeout, defaultPublishTimeout),
		orderingKeys:   cfg.OrderingKeys,
		now:            time.Now,
	}, nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by
// another poll; an empty one or an error waits, doubling the wait on
// consecutive errors.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return errors.Join(errors.New("database ping failed"), err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return errors.Join(errors.New("pubsub ping failed"), err)
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(s.logg.WithField(ctx, "retry_in_ms", wait.Milliseconds()), "outbox publisher batch error", err)
			if err := sleep(ctx, jitter(wait)); err != nil {
				return err
			}
			wait = min(wait*2, maxIdleBackoff)
			continue
		case processed == s.batchSize:
			wait = s.pollInterval
			continue
		}

		wait = s.pollInterval
		if err := sleep(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitter spreads wakeups of replicas by up to a quarter of d.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func positiveDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
