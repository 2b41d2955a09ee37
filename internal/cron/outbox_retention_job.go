package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/logger"
)

const (
	defaultOutboxRetention  = 30 * 24 * time.Hour
	defaultTerminalAttempts = 10
	defaultRetentionChunk   = 500
)

// OutboxRetentionJobParams configure pruning of delivered and dead-lettered
// outbox rows. TerminalAttempts should match the publisher's attempt ceiling.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Repository       outboxRetentionRepo
	Retention        time.Duration
	TerminalAttempts int
	ChunkSize        int
}

type outboxRetentionRepo interface {
	DeleteSettledBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   retention,
		minAttempts: positiveOr(params.TerminalAttempts, defaultTerminalAttempts),
		chunk:       positiveOr(params.ChunkSize, defaultRetentionChunk),
		now:         time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxRetentionRepo
	retention   time.Duration
	minAttempts int
	chunk       int
	now         func() time.Time
	lastRun     time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Due limits pruning to once a day per worker.
func (j *outboxRetentionJob) Due(now time.Time) bool {
	return j.lastRun.IsZero() || now.Sub(j.lastRun) >= 24*time.Hour
}

// Run deletes settled rows one chunk per transaction until a chunk comes
// back short. Cancellation is honoured between chunks.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	chunks := 0
	for n := int64(j.chunk); n == int64(j.chunk); chunks++ {
		if ctx.Err() != nil {
			return fmt.Errorf("outbox retention interrupted after %d rows: %w", total, context.Cause(ctx))
		}
		var err error
		if n, err = j.deleteChunk(ctx, cutoff); err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		total += n
	}
	j.lastRun = j.now().UTC()

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": int(j.retention.Hours() / 24),
		"min_attempts":   j.minAttempts,
		"rows_deleted":   total,
		"chunks":         chunks,
	}), "outbox retention cleanup complete")
	return nil
}

func (j *outboxRetentionJob) deleteChunk(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.DeleteSettledBefore(ctx, tx, cutoff, j.minAttempts, j.chunk)
		deleted = n
		return err
	})
	return deleted, err
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
