package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/internal/payouts"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

const defaultPayoutWindow = 7 * 24 * time.Hour

type payoutGenerator interface {
	Generate(ctx context.Context, actorID uuid.UUID, input payouts.GenerateInput) (*payouts.GenerateResult, error)
}

type PayoutJobParams struct {
	Logger     *logger.Logger
	Payouts    payoutGenerator
	Window     time.Duration
	Weekday    string
	FeePercent *float64
}

// NewPayoutJob builds the weekly job that settles the window ending at the most
// recent UTC midnight.
func NewPayoutJob(params PayoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	weekday, err := parseWeekday(params.Weekday)
	if err != nil {
		return nil, err
	}
	window := params.Window
	if window <= 0 {
		window = defaultPayoutWindow
	}
	return &payoutJob{
		logg:    params.Logger,
		payouts: params.Payouts,
		window:  window,
		weekday: weekday,
		fee:     params.FeePercent,
		now:     time.Now,
	}, nil
}

type payoutJob struct {
	logg    *logger.Logger
	payouts payoutGenerator
	window  time.Duration
	weekday time.Weekday
	fee     *float64
	now     func() time.Time

	mu      sync.Mutex
	lastEnd time.Time
}

func (j *payoutJob) Name() string { return "vendor-payouts" }

// Due is true on the configured weekday until that day's period has been generated.
func (j *payoutJob) Due(now time.Time) bool {
	now = now.UTC()
	if now.Weekday() != j.weekday {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.lastEnd.Equal(periodEnd(now))
}

func (j *payoutJob) Run(ctx context.Context) error {
	end := periodEnd(j.now())
	start := end.Add(-j.window)

	result, err := j.payouts.Generate(ctx, uuid.Nil, payouts.GenerateInput{
		PeriodStart:        start,
		PeriodEnd:          end,
		PlatformFeePercent: j.fee,
	})
	if err != nil {
		return fmt.Errorf("generate payouts for %s..%s: %w", start.Format(time.DateOnly), end.Format(time.DateOnly), err)
	}

	j.mu.Lock()
	j.lastEnd = end
	j.mu.Unlock()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"period_start": start,
		"period_end":   end,
		"payouts":      len(result.Payouts),
		"orders":       result.OrderCount,
	})
	j.logg.Info(logCtx, "vendor payouts generated")
	return nil
}

func periodEnd(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

func parseWeekday(value string) (time.Weekday, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return time.Monday, nil
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.ToLower(day.String()) == value {
			return day, nil
		}
	}
	return 0, fmt.Errorf("invalid payout weekday %q", value)
}
