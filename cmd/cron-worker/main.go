package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/courier-backend/api/controllers"
	"github.com/angelmondragon/courier-backend/api/routes"
	"github.com/angelmondragon/courier-backend/internal/cron"
	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/internal/payouts"
	"github.com/angelmondragon/courier-backend/internal/stock"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/metrics"
	"github.com/angelmondragon/courier-backend/pkg/migrate"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func run() error {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		return err
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Fields:      map[string]any{"env": cfg.App.Env},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	defer closeWithLog(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		return err
	}
	defer closeWithLog(ctx, logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.LockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		return err
	}
	jobs, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(ctx, "failed to build cron jobs", err)
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(logg.WithFields(groupCtx, map[string]any{
			"jobs":     jobs.Len(),
			"interval": cfg.Cron.Interval.String(),
			"lock_ttl": cfg.Cron.LockTTL.String(),
		}), "starting cron worker")
		return ignoreCanceled(service.Run(groupCtx))
	})
	readiness := map[string]controllers.Pinger{"db": dbClient, "redis": redisClient}
	if ops := routes.NewOpsServer(cfg, logg, readiness, prometheus.DefaultGatherer); ops != nil {
		group.Go(func() error { return ignoreCanceled(ops.Run(groupCtx)) })
	}
	if err := group.Wait(); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "cron worker shut down")
	return nil
}

// buildRegistry wires the order expiry, weekly payout and outbox retention
// jobs against one database connection.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	lifecycle, err := orders.NewLifecycle(stock.NewLedger(conn), emitter)
	if err != nil {
		return nil, err
	}
	orderTTL, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger:     logg,
		DB:         dbClient,
		Orders:     orders.NewRepository(conn),
		Lifecycle:  lifecycle,
		PendingTTL: cfg.Cron.PendingTTL,
	})
	if err != nil {
		return nil, err
	}

	payoutService, err := payouts.NewService(payouts.NewRepository(conn), dbClient, emitter, cfg.Payouts.DefaultFeePercent)
	if err != nil {
		return nil, err
	}
	payoutJob, err := cron.NewPayoutJob(cron.PayoutJobParams{
		Logger:  logg,
		Payouts: payoutService,
		Window:  cfg.Cron.PayoutWindow,
		Weekday: cfg.Cron.PayoutWeekday,
	})
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		Retention:        cfg.Cron.OutboxRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
		ChunkSize:        cfg.Cron.RetentionChunk,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(orderTTL, payoutJob, retention)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func closeWithLog(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "error closing "+name, err)
	}
}
