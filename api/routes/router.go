package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/courier-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/courier-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/courier-backend/api/controllers/webhooks"
	"github.com/angelmondragon/courier-backend/api/middleware"
	"github.com/angelmondragon/courier-backend/internal/delivery"
	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/internal/payments"
	"github.com/angelmondragon/courier-backend/internal/payouts"
	"github.com/angelmondragon/courier-backend/internal/tracking"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/courier-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP layer uses.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, webhookID string) (bool, error)
	Delete(ctx context.Context, webhookID string) error
}

type signatureVerifier interface {
	Verify(ctx context.Context, sig payments.Signature, body []byte) error
}

// Dependencies are the collaborators NewRouter wires into handlers.
type Dependencies struct {
	DB             db.Pinger
	Redis          RedisStore
	Gatherer       prometheus.Gatherer
	HTTPMetrics    *metrics.HTTPMetrics
	WebhookMetrics *metrics.WebhookMetrics

	Orders   orders.Service
	Payments payments.Service
	Delivery delivery.Service
	Tracking tracking.Service
	Payouts  payouts.Service

	WebhookVerifier signatureVerifier
	WebhookGuard    webhookGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) (http.Handler, error) {
	limits := cfg.RateLimit
	ipLimiter, err := middleware.NewLimiter(limits.Backend, deps.Redis, limits.RequestsPerIP, limits.Window)
	if err != nil {
		return nil, fmt.Errorf("api rate limiter: %w", err)
	}
	webhookLimiter, err := middleware.NewLimiter(limits.Backend, deps.Redis, limits.WebhookPerIP, limits.Window)
	if err != nil {
		return nil, fmt.Errorf("webhook rate limiter: %w", err)
	}
	locationLimiter, err := middleware.NewLimiter(limits.Backend, deps.Redis, limits.LocationPerDriver, limits.Window)
	if err != nil {
		return nil, fmt.Errorf("location rate limiter: %w", err)
	}

	idempotent := middleware.Idempotency(deps.Redis, logg)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	mountProbes(r, cfg, logg, readiness, deps.Gatherer)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit("webhook_ip", webhookLimiter, middleware.ByClientIP, logg))
		r.Post("/payments", webhookcontrollers.PaymentWebhook(deps.Payments, deps.WebhookVerifier, deps.WebhookGuard, deps.WebhookMetrics, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit("api_ip", ipLimiter, middleware.ByClientIP, logg))
		r.Use(middleware.Auth(cfg.JWT, logg))

		customer := middleware.RequireRole(logg, enums.RoleCustomer)
		r.With(customer, idempotent).Post("/orders", ordercontrollers.Place(deps.Orders, logg))
		r.With(customer).Get("/orders", ordercontrollers.List(deps.Orders, logg))
		r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
		r.With(customer).Get("/orders/{orderId}/tracking", ordercontrollers.Track(deps.Tracking, logg))
		r.With(customer, idempotent).Post("/payments/checkout", controllers.Checkout(deps.Payments, logg))

		r.Route("/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleVendor))
			r.Get("/orders", ordercontrollers.VendorList(deps.Orders, logg))
			r.Patch("/orders/{orderId}/status", ordercontrollers.VendorUpdateStatus(deps.Orders, logg))
			r.Get("/payouts", controllers.VendorPayouts(deps.Payouts, logg))
		})

		r.Route("/driver", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleDriver))
			r.Get("/orders/available", controllers.DriverAvailableOrders(deps.Delivery, logg))
			r.Get("/orders", controllers.DriverAssignedOrders(deps.Delivery, logg))
			r.Post("/orders/accept", controllers.DriverAcceptOrder(deps.Delivery, logg))
			r.Post("/orders/pickup", controllers.DriverPickUpOrder(deps.Delivery, logg))
			r.Post("/orders/complete", controllers.DriverCompleteOrder(deps.Delivery, logg))
			r.With(middleware.RateLimit("driver_location", locationLimiter, middleware.ByUser, logg)).
				Post("/location", controllers.DriverLocation(deps.Tracking, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Patch("/orders/{orderId}", ordercontrollers.AdminOverride(deps.Orders, logg))
			r.With(idempotent).Post("/payouts", controllers.AdminGeneratePayouts(deps.Payouts, logg))
			r.Get("/payouts", controllers.AdminListPayouts(deps.Payouts, logg))
			r.Patch("/payouts/{payoutId}", controllers.AdminUpdatePayout(deps.Payouts, logg))
		})
	})

	return r, nil
}
