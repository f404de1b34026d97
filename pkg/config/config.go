package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Locks        LocksConfig
	Pools        PoolsConfig
	Runs         RunsConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	JWT          JWTConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Locks.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Pools.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PACKFINDERZ_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PACKFINDERZ_DB_DSN"`
	Driver string `envconfig:"PACKFINDERZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PACKFINDERZ_DB_HOST"`
	LegacyPort     int    `envconfig:"PACKFINDERZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PACKFINDERZ_DB_USER"`
	LegacyPassword string `envconfig:"PACKFINDERZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"PACKFINDERZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"PACKFINDERZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PACKFINDERZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACKFINDERZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"PACKFINDERZ_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PACKFINDERZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
}

// LocksConfig selects how per-aggregate mutations are serialized.
type LocksConfig struct {
	Backend string        `envconfig:"PACKFINDERZ_LOCK_BACKEND" default:"local"`
	Wait    time.Duration `envconfig:"PACKFINDERZ_LOCK_WAIT" default:"2s"`
	TTL     time.Duration `envconfig:"PACKFINDERZ_LOCK_TTL" default:"30s"`
}

func (l LocksConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Backend)) {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvLockBackend, LockBackendLocal, LockBackendRedis)
	}
	if l.Wait < 0 {
		return fmt.Errorf("%s must not be negative", EnvLockWait)
	}
	return nil
}

// UsesRedis reports whether aggregate locks live in redis.
func (l LocksConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(l.Backend), LockBackendRedis)
}

type PoolsConfig struct {
	// MinimumFraction of the target quantity a pool must reach by its deadline.
	// Zero means "reach the lowest price tier breakpoint".
	MinimumFraction     string `envconfig:"PACKFINDERZ_POOL_MINIMUM_FRACTION" default:"0"`
	EvaluationBatchSize int    `envconfig:"PACKFINDERZ_POOL_EVALUATION_BATCH" default:"200"`
	EvaluationWorkers   int    `envconfig:"PACKFINDERZ_POOL_EVALUATION_WORKERS" default:"8"`
}

// MinimumFractionDecimal parses the configured fraction; validate() guarantees it parses.
func (p PoolsConfig) MinimumFractionDecimal() decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(p.MinimumFraction))
	if err != nil {
		return decimal.Zero
	}
	return value
}

func (p PoolsConfig) validate() error {
	raw := strings.TrimSpace(p.MinimumFraction)
	if raw == "" {
		return nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvPoolMinimumFraction, err)
	}
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be between 0 and 1", EnvPoolMinimumFraction)
	}
	return nil
}

type RunsConfig struct {
	DefaultSplitMode string `envconfig:"PACKFINDERZ_RUN_DEFAULT_SPLIT_MODE" default:"weight"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PACKFINDERZ_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"PACKFINDERZ_CRON_LOCK_TTL" default:"5m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PoolEventsTopic        string `envconfig:"PACKFINDERZ_PUBSUB_POOL_EVENTS_TOPIC" default:"pf-pool-events"`
	RunEventsTopic         string `envconfig:"PACKFINDERZ_PUBSUB_RUN_EVENTS_TOPIC" default:"pf-run-events"`
	SettlementTopic        string `envconfig:"PACKFINDERZ_PUBSUB_SETTLEMENT_TOPIC" default:"pf-settlement-events"`
	NotificationTopic      string `envconfig:"PACKFINDERZ_PUBSUB_NOTIFICATION_TOPIC" default:"pf-notification-events"`
	PoolEventsSubscription string `envconfig:"PACKFINDERZ_PUBSUB_POOL_EVENTS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PACKFINDERZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"PACKFINDERZ_OUTBOX_RETENTION" default:"720h"`
}

// JWTConfig verifies the bearer tokens issued to shops, operators and drivers.
type JWTConfig struct {
	Secret            string        `envconfig:"PACKFINDERZ_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"PACKFINDERZ_JWT_ISSUER" default:"packfinderz"`
	ExpirationMinutes int           `envconfig:"PACKFINDERZ_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"PACKFINDERZ_JWT_LEEWAY" default:"30s"`
}

type HTTPConfig struct {
	AllowedOrigins    []string      `envconfig:"PACKFINDERZ_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	InviteWindow      time.Duration `envconfig:"PACKFINDERZ_INVITE_RATE_WINDOW" default:"1h"`
	InviteLimit       int           `envconfig:"PACKFINDERZ_INVITE_RATE_LIMIT" default:"20"`
	ReadHeaderTimeout time.Duration `envconfig:"PACKFINDERZ_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownTimeout   time.Duration `envconfig:"PACKFINDERZ_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = DefaultSQLiteDSN
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
