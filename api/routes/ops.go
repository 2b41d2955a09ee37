package routes

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/courier-backend/api/controllers"
	"github.com/angelmondragon/courier-backend/api/middleware"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/logger"
	"github.com/angelmondragon/courier-backend/pkg/metrics"
)

const opsShutdownTimeout = 5 * time.Second

func mountProbes(r chi.Router, cfg *config.Config, logg *logger.Logger, readiness map[string]controllers.Pinger, gatherer prometheus.Gatherer) {
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
}

// NewOpsRouter serves only probes and metrics. Background processes that
// have no public API mount it on their ops port.
func NewOpsRouter(cfg *config.Config, logg *logger.Logger, readiness map[string]controllers.Pinger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logg), middleware.Logging(logg))
	mountProbes(r, cfg, logg, readiness, gatherer)
	return r
}

// OpsServer is the ops listener of a background process.
type OpsServer struct {
	srv  *http.Server
	logg *logger.Logger
}

// NewOpsServer returns nil when cfg.Service.OpsPort is empty.
func NewOpsServer(cfg *config.Config, logg *logger.Logger, readiness map[string]controllers.Pinger, gatherer prometheus.Gatherer) *OpsServer {
	if cfg.Service.OpsPort == "" {
		return nil
	}
	return &OpsServer{
		srv: &http.Server{
			Addr:              net.JoinHostPort("", cfg.Service.OpsPort),
			Handler:           NewOpsRouter(cfg, logg, readiness, gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logg: logg,
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *OpsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logg.Info(s.logg.WithField(ctx, "addr", s.srv.Addr), "ops listener started")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opsShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
