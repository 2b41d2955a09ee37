package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/courier-backend/api/responses"
	"github.com/angelmondragon/courier-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

// Limiter decides whether one more request for key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type fixedWindowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// NewLimiter builds the configured backend. The redis backend is shared by
// every API replica; the local one only protects a single process.
func NewLimiter(backend string, store fixedWindowStore, limit int, window time.Duration) (Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("rate limit requires a positive limit and window")
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", config.RateLimitBackendRedis:
		if store == nil {
			return nil, fmt.Errorf("redis rate limiter requires a store")
		}
		return &RedisLimiter{store: store, limit: int64(limit), window: window}, nil
	case config.RateLimitBackendLocal:
		return NewLocalLimiter(limit, window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
}

// RedisLimiter applies a fixed window counter in Redis.
type RedisLimiter struct {
	store  fixedWindowStore
	limit  int64
	window time.Duration
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := l.store.FixedWindowAllow(ctx, key, l.limit, l.window)
	return allowed, err
}

// LocalLimiter keeps one token bucket per key, refilled at limit per window
// with a burst of limit.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

// KeyFunc extracts the throttling subject from a request. An empty key skips
// the limiter.
type KeyFunc func(*http.Request) string

func ByClientIP(r *http.Request) string {
	return clientIP(r)
}

func ByUser(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// RateLimit rejects requests over the limiter's budget with 429.
func RateLimit(policy string, limiter Limiter, key KeyFunc, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || key == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject := key(r)
			if subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(ctx, policy+":"+subject)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !allowed {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":  policy,
						"subject": subject,
					}), "rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
