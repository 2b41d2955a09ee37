package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/courier-backend/api/routes"
	"github.com/angelmondragon/courier-backend/internal/delivery"
	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/internal/payments"
	"github.com/angelmondragon/courier-backend/internal/payouts"
	"github.com/angelmondragon/courier-backend/internal/stock"
	"github.com/angelmondragon/courier-backend/internal/tracking"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/metrics"
	"github.com/angelmondragon/courier-backend/pkg/migrate"
	"github.com/angelmondragon/courier-backend/pkg/outbox"
	"github.com/angelmondragon/courier-backend/pkg/paygate"
	"github.com/angelmondragon/courier-backend/pkg/redis"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
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

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		return err
	}
	handler, err := routes.NewRouter(cfg, logg, deps)
	if err != nil {
		logg.Error(ctx, "failed to build router", err)
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logCtx := logg.WithField(ctx, "addr", server.Addr)

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logg.Error(logCtx, "api server stopped unexpectedly", err)
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(logCtx, "api server shutdown failed", err)
		return err
	}
	return nil
}

func closeWithLog(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "error closing "+name, err)
	}
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Dependencies, error) {
	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	ordersRepo := orders.NewRepository(conn)
	ledger := stock.NewLedger(conn)

	lifecycle, err := orders.NewLifecycle(ledger, outboxSvc)
	if err != nil {
		return routes.Dependencies{}, err
	}
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, ledger, lifecycle, outboxSvc)
	if err != nil {
		return routes.Dependencies{}, err
	}

	gateway, err := paygate.NewClient(cfg.Payments.SecretKey,
		paygate.WithBaseURL(cfg.Payments.GatewayBaseURL),
		paygate.WithTimeout(cfg.Payments.RequestTimeout),
	)
	if err != nil {
		return routes.Dependencies{}, err
	}
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Orders:    ordersRepo,
		Events:    payments.NewEventRepository(conn),
		Lifecycle: lifecycle,
		Gateway:   gateway,
		Tx:        dbClient,
		Config:    cfg.Payments,
		Logger:    logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}
	verifier, err := payments.NewVerifier(cfg.Payments.WebhookSecret, cfg.Payments.WebhookTolerance, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	guard, err := payments.NewIdempotencyGuard(redisClient, cfg.Payments.WebhookGuardTTL)
	if err != nil {
		return routes.Dependencies{}, err
	}

	deliverySvc, err := delivery.NewService(conn, ordersRepo, dbClient, lifecycle, outboxSvc)
	if err != nil {
		return routes.Dependencies{}, err
	}
	trackingSvc, err := tracking.NewService(conn, ordersRepo, dbClient, cfg.Tracking)
	if err != nil {
		return routes.Dependencies{}, err
	}
	payoutsSvc, err := payouts.NewService(payouts.NewRepository(conn), dbClient, outboxSvc, cfg.Payouts.DefaultFeePercent)
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:              dbClient,
		Redis:           redisClient,
		Gatherer:        prometheus.DefaultGatherer,
		HTTPMetrics:     metrics.NewHTTPMetrics(prometheus.DefaultRegisterer, "api"),
		WebhookMetrics:  metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Orders:          ordersSvc,
		Payments:        paymentsSvc,
		Delivery:        deliverySvc,
		Tracking:        trackingSvc,
		Payouts:         payoutsSvc,
		WebhookVerifier: verifier,
		WebhookGuard:    guard,
	}, nil
}
