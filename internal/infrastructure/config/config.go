package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Cart          CartConfig          `mapstructure:"cart"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MinConnections   int           `mapstructure:"min_connections"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	ApplicationName  string        `mapstructure:"application_name"`
	QueryLogLevel    string        `mapstructure:"query_log_level"`
	SSLMode          string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// GatewayConfig tunes outbound calls to payment gateways.
type GatewayConfig struct {
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	Currency          string        `mapstructure:"currency"`
	ReadRetryAttempts uint          `mapstructure:"read_retry_attempts"`
	ReadRetryDelay    time.Duration `mapstructure:"read_retry_delay"`
	ReversalLockTTL   time.Duration `mapstructure:"reversal_lock_ttl"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	AuthorizeNetURL   string        `mapstructure:"authorize_net_url"`
}

type WebhookConfig struct {
	PublicBaseURL     string        `mapstructure:"public_base_url"`
	DeletionMarkerTTL time.Duration `mapstructure:"deletion_marker_ttl"`
	EventRetention    time.Duration `mapstructure:"event_retention"`
	RateLimit         int           `mapstructure:"rate_limit"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxRetention    time.Duration `mapstructure:"outbox_retention"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	StaleCheckInterval time.Duration `mapstructure:"stale_check_interval"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	// MetricsPort serves the worker's /metrics; zero disables it.
	MetricsPort int `mapstructure:"metrics_port"`
}

// CartConfig points at the external cart amount verification service.
// An empty URL disables verification.
type CartConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYRECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payrecon")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every problem at once, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Server.ReadTimeout > 0, "server.read_timeout must be positive")
	check(c.Server.WriteTimeout > 0, "server.write_timeout must be positive")
	check(c.Database.Host != "", "database.host is required")
	check(c.Database.Port > 0, "database.port must be positive")
	check(c.Redis.Port > 0, "redis.port must be positive")

	check(c.Gateway.RequestTimeout > 0, "gateway.request_timeout must be positive")
	check(len(c.Gateway.Currency) == 3, "gateway.currency must be a 3-letter ISO code, got %q", c.Gateway.Currency)
	check(c.Gateway.ReversalLockTTL > 0, "gateway.reversal_lock_ttl must be positive")

	if c.Webhook.PublicBaseURL != "" {
		u, err := url.Parse(c.Webhook.PublicBaseURL)
		check(err == nil && u.Scheme != "" && u.Host != "", "webhook.public_base_url must be an absolute URL")
	}
	check(c.Webhook.DeletionMarkerTTL > 0, "webhook.deletion_marker_ttl must be positive")
	check(c.Worker.BatchSize > 0, "worker.batch_size must be positive")

	if env := os.Getenv("ENV"); env == "production" || env == "prod" {
		check(c.Database.Password != "", "database.password required in production")
		check(c.Auth.JWTSecret != "", "auth.jwt_secret required in production")
		check(c.Webhook.PublicBaseURL != "", "webhook.public_base_url required in production")
	}
	check(c.Auth.JWTSecret == "" || len(c.Auth.JWTSecret) >= 32, "auth.jwt_secret must be at least 32 characters")

	return errors.Join(errs...)
}

var defaults = map[string]any{
	"server.port":                   8080,
	"server.read_timeout":           "15s",
	"server.write_timeout":          "45s",
	"server.idle_timeout":           "120s",
	"server.shutdown_timeout":       "30s",
	"server.request_timeout":        "40s",
	"server.cors.allowed_origins":   []string{"*"},
	"server.cors.allow_credentials": false,

	"database.host":              "localhost",
	"database.port":              5432,
	"database.user":              "payrecon",
	"database.database":          "payrecon",
	"database.max_connections":   25,
	"database.min_connections":   5,
	"database.conn_max_lifetime": "1h",
	"database.statement_timeout": "10s",
	"database.application_name":  "payrecon",
	"database.ssl_mode":          "disable",
	"database.query_log_level":   "warn",

	"redis.host":                "localhost",
	"redis.port":                6379,
	"redis.db":                  0,
	"redis.connect_retries":     5,
	"redis.connect_retry_delay": "1s",

	// Gateway calls sit inside server.request_timeout.
	"gateway.request_timeout":     "30s",
	"gateway.currency":            "usd",
	"gateway.read_retry_attempts": 3,
	"gateway.read_retry_delay":    "200ms",
	"gateway.reversal_lock_ttl":   "45s",
	"gateway.breaker_timeout":     "30s",
	"gateway.authorize_net_url":   "",

	"webhook.public_base_url":     "",
	"webhook.deletion_marker_ttl": "24h",
	"webhook.event_retention":     "720h",
	"webhook.rate_limit":          300,
	"webhook.max_body_bytes":      1 << 20,

	"worker.batch_size":           50,
	"worker.outbox_poll_interval": "2s",
	"worker.outbox_retention":     "168h",
	"worker.stale_after":          "30m",
	"worker.stale_check_interval": "1m",
	"worker.cleanup_interval":     "1h",
	"worker.idempotency_ttl":      "24h",
	"worker.metrics_port":         9091,

	"cart.url":     "",
	"cart.timeout": "10s",

	"observability.log_level":       "info",
	"observability.log_format":      "json",
	"observability.jaeger_endpoint": "http://localhost:14268/api/traces",
	"observability.enable_metrics":  true,
	"observability.enable_tracing":  true,

	"instance_id": "payrecon-1",
}

// setDefaults also registers every key with viper, so AutomaticEnv can
// override keys that no config file mentions.
func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrationURL is the URL form golang-migrate's postgres driver expects.
func (c *DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CallbackURL is the webhook URL a gateway calls for a tenant.
func (c *WebhookConfig) CallbackURL(slug string, userID int64) string {
	return fmt.Sprintf("%s/webhook/%s/user/%d", strings.TrimRight(c.PublicBaseURL, "/"), slug, userID)
}
