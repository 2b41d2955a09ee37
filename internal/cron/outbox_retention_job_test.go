package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/pkg/logger"
)

func TestOutboxRetentionJobDeletesInChunks(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{remaining: 25}
	job := newOutboxRetentionJob(t, repo, 10)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-defaultOutboxRetention)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	if repo.minAttempts != defaultTerminalAttempts {
		t.Fatalf("expected min attempts %d, got %d", defaultTerminalAttempts, repo.minAttempts)
	}
	if repo.lastLimit != 10 {
		t.Fatalf("expected chunk limit 10, got %d", repo.lastLimit)
	}
	// 10 + 10 + 5: the short third chunk ends the run.
	if repo.called != 3 {
		t.Fatalf("expected 3 chunks, got %d", repo.called)
	}
	if repo.remaining != 0 {
		t.Fatalf("expected backlog drained, %d left", repo.remaining)
	}
	if job.Due(now.Add(time.Hour)) {
		t.Fatal("expected job not due again the same day")
	}
}

func TestOutboxRetentionJobExactChunkProbesOnce(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{remaining: 10}
	job := newOutboxRetentionJob(t, repo, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.called != 2 {
		t.Fatalf("expected a full chunk followed by an empty probe, got %d calls", repo.called)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, 0)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !job.Due(time.Now()) {
		t.Fatal("expected failed run to stay due")
	}
}

func TestOutboxRetentionJobStopsOnCancel(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{remaining: 100}
	job := newOutboxRetentionJob(t, repo, 10)
	ctx, cancel := context.WithCancelCause(context.Background())
	repo.afterCall = func(calls int) {
		if calls == 2 {
			cancel(ErrLockLost)
		}
	}

	err := job.Run(ctx)
	if !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lock lost cause, got %v", err)
	}
	if repo.called != 2 {
		t.Fatalf("expected deletion to stop after 2 chunks, got %d", repo.called)
	}
}

func newOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo, chunk int) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         outboxRetentionTxRunner{},
		Repository: repo,
		ChunkSize:  chunk,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeOutboxRetentionRepo struct {
	remaining   int64
	lastCutoff  time.Time
	minAttempts int
	lastLimit   int
	called      int
	err         error
	afterCall   func(calls int)
}

func (f *fakeOutboxRetentionRepo) DeleteSettledBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.minAttempts = minAttempts
	f.lastLimit = limit
	if f.afterCall != nil {
		defer f.afterCall(f.called)
	}
	if f.err != nil {
		return 0, f.err
	}
	n := min(int64(limit), f.remaining)
	f.remaining -= n
	return n, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
