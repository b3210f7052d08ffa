package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "confreg"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CONFREG_DB_DSN"
	EnvDBHost = "CONFREG_DB_HOST"
	EnvDBUser = "CONFREG_DB_USER"
	EnvDBName = "CONFREG_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Registration RegistrationConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Eventing     EventingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CONFREG_APP_ENV" required:"true"`
	Port         string `envconfig:"CONFREG_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CONFREG_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CONFREG_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CONFREG_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CONFREG_DB_DSN"`
	Driver string `envconfig:"CONFREG_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CONFREG_DB_HOST"`
	LegacyPort     int    `envconfig:"CONFREG_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CONFREG_DB_USER"`
	LegacyPassword string `envconfig:"CONFREG_DB_PASSWORD"`
	LegacyName     string `envconfig:"CONFREG_DB_NAME"`
	LegacySSLMode  string `envconfig:"CONFREG_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CONFREG_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CONFREG_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CONFREG_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CONFREG_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CONFREG_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CONFREG_REDIS_ADDR"`
	Password     string        `envconfig:"CONFREG_REDIS_PASSWORD"`
	DB           int           `envconfig:"CONFREG_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CONFREG_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CONFREG_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CONFREG_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CONFREG_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CONFREG_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CONFREG_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CONFREG_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CONFREG_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CONFREG_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CONFREG_AUTO_MIGRATE" default:"false"`
}

// RegistrationConfig carries the commerce knobs for the registration engine.
type RegistrationConfig struct {
	CartExpiryMinutes         int    `envconfig:"CONFREG_CART_EXPIRY_MINUTES" default:"30"`
	PendingOrderExpiryMinutes int    `envconfig:"CONFREG_PENDING_ORDER_EXPIRY_MINUTES" default:"15"`
	OrderReferencePrefix      string `envconfig:"CONFREG_ORDER_REFERENCE_PREFIX" default:"ORD"`
	Currency                  string `envconfig:"CONFREG_CURRENCY" default:"USD"`
}

// CartExpiry returns how long an open cart may sit idle before it is
// considered abandoned.
func (r RegistrationConfig) CartExpiry() time.Duration {
	return time.Duration(r.CartExpiryMinutes) * time.Minute
}

// PendingOrderExpiry returns how long a pending order holds inventory.
func (r RegistrationConfig) PendingOrderExpiry() time.Duration {
	return time.Duration(r.PendingOrderExpiryMinutes) * time.Minute
}

type StripeConfig struct {
	// Platform-level fallback credentials. Conferences may carry their own
	// secret key and webhook secret, which take precedence.
	SecretKey            string        `envconfig:"CONFREG_STRIPE_SECRET_KEY"`
	WebhookSecret        string        `envconfig:"CONFREG_STRIPE_WEBHOOK_SECRET"`
	Env                  string        `envconfig:"CONFREG_STRIPE_ENV" default:"test"`
	WebhookTolerance     time.Duration `envconfig:"CONFREG_STRIPE_WEBHOOK_TOLERANCE" default:"300s"`
	IdempotencyKeyPrefix string        `envconfig:"CONFREG_STRIPE_IDEMPOTENCY_PREFIX" default:"confreg"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CONFREG_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CONFREG_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CONFREG_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"CONFREG_PUBSUB_ORDERS_TOPIC" default:"confreg-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CONFREG_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CONFREG_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CONFREG_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"CONFREG_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
