package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/courier-backend/api/controllers"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func opsTestConfig(port string) *config.Config {
	return &config.Config{
		App:     config.AppConfig{Env: "test"},
		Service: config.ServiceConfig{Kind: "worker", OpsPort: port},
	}
}

func TestOpsRouterServesProbesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobs := prometheus.NewCounter(prometheus.CounterOpts{Name: "ops_test_total", Help: "test"})
	reg.MustRegister(jobs)
	jobs.Inc()

	healthy := true
	readiness := map[string]controllers.Pinger{
		"pubsub": pingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("unavailable")
		}),
	}
	logg := logger.New(logger.Options{Output: io.Discard})
	router := NewOpsRouter(opsTestConfig("9090"), logg, readiness, reg)

	for path, want := range map[string]int{
		"/health/live":  http.StatusOK,
		"/health/ready": http.StatusOK,
		"/metrics":      http.StatusOK,
		"/api/orders":   http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
		if path == "/metrics" {
			assert.Contains(t, rec.Body.String(), "ops_test_total 1")
		}
	}

	healthy = false
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pubsub":"down"`)
}

func TestNewOpsServerDisabledWithoutPort(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	assert.Nil(t, NewOpsServer(opsTestConfig(""), logg, nil, nil))
}

func TestOpsServerStopsOnCancel(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	srv := NewOpsServer(opsTestConfig("0"), logg, nil, prometheus.NewRegistry())
	require.NotNil(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ops server did not stop")
	}
}
