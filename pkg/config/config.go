package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Collector    CollectorConfig
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
	Env          string `envconfig:"CIRCULUM_APP_ENV" required:"true"`
	Port         string `envconfig:"CIRCULUM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CIRCULUM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CIRCULUM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CIRCULUM_DB_DSN"`
	Driver string `envconfig:"CIRCULUM_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CIRCULUM_DB_HOST"`
	Port     int    `envconfig:"CIRCULUM_DB_PORT" default:"5432"`
	User     string `envconfig:"CIRCULUM_DB_USER"`
	Password string `envconfig:"CIRCULUM_DB_PASSWORD"`
	Name     string `envconfig:"CIRCULUM_DB_NAME"`
	SSLMode  string `envconfig:"CIRCULUM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CIRCULUM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CIRCULUM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CIRCULUM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CIRCULUM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CIRCULUM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CIRCULUM_REDIS_ADDR"`
	Password     string        `envconfig:"CIRCULUM_REDIS_PASSWORD"`
	DB           int           `envconfig:"CIRCULUM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CIRCULUM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CIRCULUM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CIRCULUM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CIRCULUM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CIRCULUM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CIRCULUM_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CIRCULUM_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CIRCULUM_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CIRCULUM_AUTO_MIGRATE" default:"false"`
}

type PubSubConfig struct {
	ProjectID    string `envconfig:"CIRCULUM_PUBSUB_PROJECT_ID"`
	BillingTopic string `envconfig:"CIRCULUM_PUBSUB_BILLING_TOPIC" default:"circulum-billing-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CIRCULUM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CIRCULUM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CIRCULUM_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CollectorConfig struct {
	SweepInterval time.Duration `envconfig:"CIRCULUM_COLLECTOR_SWEEP_INTERVAL" default:"1m"`
	BatchSize     int           `envconfig:"CIRCULUM_COLLECTOR_BATCH_SIZE" default:"100"`
	Reconcile     bool          `envconfig:"CIRCULUM_COLLECTOR_RECONCILE" default:"true"`
	LockTTL       time.Duration `envconfig:"CIRCULUM_COLLECTOR_LOCK_TTL" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
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
