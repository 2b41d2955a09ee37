package config

// EnvPrefix scopes envconfig lookups; every field also carries its full key as a tag.
const EnvPrefix = "COURIER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

const (
	EnvAppEnv   = "COURIER_APP_ENV"
	EnvPort     = "COURIER_APP_PORT"
	EnvLogLevel = "COURIER_LOG_LEVEL"

	EnvDBDSN  = "COURIER_DB_DSN"
	EnvDBHost = "COURIER_DB_HOST"
	EnvDBPort = "COURIER_DB_PORT"
	EnvDBUser = "COURIER_DB_USER"
	EnvDBPass = "COURIER_DB_PASSWORD"
	EnvDBName = "COURIER_DB_NAME"

	EnvRedisURL = "COURIER_REDIS_URL"

	EnvJWTSecret = "COURIER_JWT_SECRET"
	EnvJWTIssuer = "COURIER_JWT_ISSUER"

	EnvPaymentsWebhookSecret = "COURIER_PAYMENTS_WEBHOOK_SECRET"
	EnvPaymentsSecretKey     = "COURIER_PAYMENTS_SECRET_KEY"

	EnvGCPProjectID = "COURIER_GCP_PROJECT_ID"

	EnvRateLimitBackend  = "COURIER_RATE_LIMIT_BACKEND"
	EnvPayoutsFeePercent = "COURIER_PAYOUTS_FEE_PERCENT"
	EnvCronPendingTTL    = "COURIER_CRON_PENDING_TTL"
)

// dsnPartEnvVars must all be present when no DSN is supplied.
var dsnPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
