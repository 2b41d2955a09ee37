package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/courier-backend/api/controllers"
	"github.com/angelmondragon/courier-backend/api/routes"
	"github.com/angelmondragon/courier-backend/internal/notifications"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/notify"
	"github.com/angelmondragon/courier-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/courier-backend/pkg/pubsub"
	"github.com/angelmondragon/courier-backend/pkg/redis"
)

const serviceKind = "worker"

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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		return err
	}
	defer closeWithLog(ctx, logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, pubsub.Params{
		GCP:           cfg.GCP,
		PubSub:        cfg.PubSub,
		Logger:        logg,
		Subscriptions: []string{cfg.PubSub.NotificationSubscription, cfg.PubSub.DeliverySubscription},
	})
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		return err
	}
	defer closeWithLog(ctx, logg, "pubsub client", pubsubClient.Close)

	sender, err := notify.NewClient(cfg.Notify.BaseURL, cfg.Notify.APIKey,
		notify.WithSender(cfg.Notify.Sender),
		notify.WithChannel(cfg.Notify.Channel),
		notify.WithTimeout(cfg.Notify.RequestTimeout),
	)
	if err != nil {
		logg.Error(ctx, "failed to create notify client", err)
		return err
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		return err
	}

	var subscriptions []notifications.Receiver
	if sub := pubsubClient.NotificationSubscription(); sub != nil {
		subscriptions = append(subscriptions, sub)
	}
	if sub := pubsubClient.DeliverySubscription(); sub != nil {
		subscriptions = append(subscriptions, sub)
	}
	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Subscriptions: subscriptions,
		Decoders:      notifications.NewDecoders(),
		Idempotency:   manager,
		Sender:        sender,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create notification consumer", err)
		return err
	}

	tasks := map[string]runner{"notifications": consumer}
	readiness := map[string]controllers.Pinger{"redis": redisClient, "pubsub": pubsubClient}
	if ops := routes.NewOpsServer(cfg, logg, readiness, prometheus.DefaultGatherer); ops != nil {
		tasks["ops"] = ops
	}

	service, err := NewService(ServiceParams{
		Logger:       logg,
		Dependencies: map[string]pinger{"redis": redisClient, "pubsub": pubsubClient},
		Tasks:        tasks,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		return err
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "worker shut down")
	return nil
}

func closeWithLog(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "error closing "+name, err)
	}
}
