package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Payments  PaymentsConfig
	Notify    NotifyConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Eventing  EventingConfig
	Cron      CronConfig
	RateLimit RateLimitConfig
	Tracking  TrackingConfig
	Payouts   PayoutsConfig
	Features  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.App.IsProd() {
		if strings.TrimSpace(c.Payments.WebhookSecret) == "" {
			return fmt.Errorf("%s is required in production", EnvPaymentsWebhookSecret)
		}
		if strings.TrimSpace(c.JWT.Secret) == "" {
			return fmt.Errorf("%s is required in production", EnvJWTSecret)
		}
	}
	if c.Payouts.DefaultFeePercent < 0 || c.Payouts.DefaultFeePercent > 100 {
		return fmt.Errorf("%s must be between 0 and 100", EnvPayoutsFeePercent)
	}
	switch strings.ToLower(c.RateLimit.Backend) {
	case RateLimitBackendRedis, RateLimitBackendLocal:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvRateLimitBackend, RateLimitBackendRedis, RateLimitBackendLocal)
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"COURIER_APP_ENV" required:"true"`
	Port         string   `envconfig:"COURIER_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"COURIER_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"COURIER_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"COURIER_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"COURIER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// ServiceConfig identifies the process. Background processes serve probes
// and /metrics on OpsPort; an empty port turns the listener off.
type ServiceConfig struct {
	Kind    string `envconfig:"COURIER_SERVICE_KIND" default:"api"`
	OpsPort string `envconfig:"COURIER_OPS_PORT" default:"9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"COURIER_DB_DSN"`
	Driver string `envconfig:"COURIER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"COURIER_DB_HOST"`
	Port     int    `envconfig:"COURIER_DB_PORT" default:"5432"`
	User     string `envconfig:"COURIER_DB_USER"`
	Password string `envconfig:"COURIER_DB_PASSWORD"`
	Name     string `envconfig:"COURIER_DB_NAME"`
	SSLMode  string `envconfig:"COURIER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURIER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURIER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURIER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURIER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"COURIER_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxMaxAttempts      int           `envconfig:"COURIER_DB_TX_MAX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURIER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COURIER_REDIS_ADDR"`
	Password     string        `envconfig:"COURIER_REDIS_PASSWORD"`
	DB           int           `envconfig:"COURIER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COURIER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURIER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURIER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURIER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURIER_REDIS_WRITE_TIMEOUT" default:"5s"`
	// Namespace prefixes every key so environments can share one instance.
	Namespace string `envconfig:"COURIER_REDIS_NAMESPACE" default:"courier"`
}

// JWTConfig describes the tokens issued by the identity provider.
type JWTConfig struct {
	Secret string        `envconfig:"COURIER_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"COURIER_JWT_ISSUER" required:"true"`
	Leeway time.Duration `envconfig:"COURIER_JWT_LEEWAY" default:"30s"`
}

// PaymentsConfig configures the hosted checkout gateway and its webhook.
type PaymentsConfig struct {
	GatewayBaseURL   string        `envconfig:"COURIER_PAYMENTS_GATEWAY_URL" default:"https://payments.yoco.com/api"`
	SecretKey        string        `envconfig:"COURIER_PAYMENTS_SECRET_KEY"`
	WebhookSecret    string        `envconfig:"COURIER_PAYMENTS_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `envconfig:"COURIER_PAYMENTS_WEBHOOK_TOLERANCE" default:"300s"`
	WebhookGuardTTL  time.Duration `envconfig:"COURIER_PAYMENTS_WEBHOOK_GUARD_TTL" default:"72h"`
	Currency         string        `envconfig:"COURIER_PAYMENTS_CURRENCY" default:"ZAR"`
	SuccessURL       string        `envconfig:"COURIER_PAYMENTS_SUCCESS_URL" default:"http://localhost:3000/orders/success"`
	CancelURL        string        `envconfig:"COURIER_PAYMENTS_CANCEL_URL" default:"http://localhost:3000/orders/cancelled"`
	FailureURL       string        `envconfig:"COURIER_PAYMENTS_FAILURE_URL" default:"http://localhost:3000/orders/failed"`
	RequestTimeout   time.Duration `envconfig:"COURIER_PAYMENTS_REQUEST_TIMEOUT" default:"10s"`
}

// NotifyConfig configures the SMS/WhatsApp gateway used by the notification worker.
type NotifyConfig struct {
	BaseURL        string        `envconfig:"COURIER_NOTIFY_BASE_URL"`
	APIKey         string        `envconfig:"COURIER_NOTIFY_API_KEY"`
	Sender         string        `envconfig:"COURIER_NOTIFY_SENDER" default:"Courier"`
	Channel        string        `envconfig:"COURIER_NOTIFY_CHANNEL" default:"whatsapp"`
	RequestTimeout time.Duration `envconfig:"COURIER_NOTIFY_REQUEST_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"COURIER_GCP_PROJECT_ID"`
}

// PubSubConfig names the topics the outbox publisher routes to and the
// subscriptions the notification worker reads. NotificationSubscription is
// attached to OrdersTopic and DeliverySubscription to DomainTopic.
type PubSubConfig struct {
	DomainTopic              string `envconfig:"COURIER_PUBSUB_DOMAIN_TOPIC" default:"courier-domain-events"`
	OrdersTopic              string `envconfig:"COURIER_PUBSUB_ORDERS_TOPIC" default:"courier-order-events"`
	PayoutsTopic             string `envconfig:"COURIER_PUBSUB_PAYOUTS_TOPIC" default:"courier-payout-events"`
	NotificationSubscription string `envconfig:"COURIER_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"courier-notifications"`
	DeliverySubscription     string `envconfig:"COURIER_PUBSUB_DELIVERY_SUBSCRIPTION" default:"courier-delivery-notifications"`
}

// OutboxConfig tunes the outbox publisher. Lanes bounds how many aggregates
// publish concurrently; events of one aggregate always publish in order.
type OutboxConfig struct {
	BatchSize      int           `envconfig:"COURIER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"COURIER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"COURIER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Lanes          int           `envconfig:"COURIER_OUTBOX_PUBLISH_LANES" default:"8"`
	PublishTimeout time.Duration `envconfig:"COURIER_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	OrderingKeys   bool          `envconfig:"COURIER_OUTBOX_ORDERING_KEYS" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"COURIER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"COURIER_CRON_INTERVAL" default:"1m"`
	LockTTL         time.Duration `envconfig:"COURIER_CRON_LOCK_TTL" default:"5m"`
	PendingTTL      time.Duration `envconfig:"COURIER_CRON_PENDING_TTL" default:"30m"`
	PayoutWindow    time.Duration `envconfig:"COURIER_CRON_PAYOUT_WINDOW" default:"168h"`
	PayoutWeekday   string        `envconfig:"COURIER_CRON_PAYOUT_WEEKDAY" default:"monday"`
	OutboxRetention time.Duration `envconfig:"COURIER_CRON_OUTBOX_RETENTION" default:"720h"`
	RetentionChunk  int           `envconfig:"COURIER_CRON_RETENTION_CHUNK" default:"500"`
}

type RateLimitConfig struct {
	Backend           string        `envconfig:"COURIER_RATE_LIMIT_BACKEND" default:"redis"`
	Window            time.Duration `envconfig:"COURIER_RATE_LIMIT_WINDOW" default:"1m"`
	RequestsPerIP     int           `envconfig:"COURIER_RATE_LIMIT_REQUESTS_PER_IP" default:"300"`
	LocationPerDriver int           `envconfig:"COURIER_RATE_LIMIT_LOCATION_PER_DRIVER" default:"30"`
	WebhookPerIP      int           `envconfig:"COURIER_RATE_LIMIT_WEBHOOK_PER_IP" default:"600"`
}

type TrackingConfig struct {
	AverageSpeedKMH   float64 `envconfig:"COURIER_TRACKING_AVERAGE_SPEED_KMH" default:"40"`
	ETAWriteThreshold int     `envconfig:"COURIER_TRACKING_ETA_THRESHOLD_MINUTES" default:"5"`
	RouteHistoryLimit int     `envconfig:"COURIER_TRACKING_ROUTE_LIMIT" default:"100"`
}

type PayoutsConfig struct {
	DefaultFeePercent float64 `envconfig:"COURIER_PAYOUTS_FEE_PERCENT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COURIER_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dsnPartEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
