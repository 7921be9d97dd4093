// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or a path to one.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or a path to one.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on issued credentials.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on issued credentials.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// CredentialTTL is the credential lifetime (e.g. "15m").
	CredentialTTL string `mapstructure:"CREDENTIAL_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// RoleGracePeriod is the recovery window between deactivation and purge
	// (e.g. "2160h" = 90 days). The one lifecycle tunable.
	RoleGracePeriod string `mapstructure:"ROLE_GRACE_PERIOD"`
	// SweepInterval is the purge sweeper's daemon-mode tick (e.g. "24h").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// SweepRatePerSec paces the sweeper's per-row transactions.
	SweepRatePerSec float64 `mapstructure:"SWEEP_RATE_PER_SEC"`
	// MetricsAddr is the Prometheus exposition listen address for the
	// sweeper daemon (empty disables it).
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint (empty disables telemetry export).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext export to an https endpoint.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// KafkaBrokers is a comma-separated broker list for role events (empty disables Kafka).
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the role-events topic.
	KafkaTopic string `mapstructure:"ROLE_EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the event worker pushes to.
	LokiURL string `mapstructure:"LOKI_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI); env vars
// override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "multirole-accounts")
	v.SetDefault("JWT_AUDIENCE", "multirole-api")
	v.SetDefault("CREDENTIAL_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ROLE_GRACE_PERIOD", "2160h") // 90 days
	v.SetDefault("SWEEP_INTERVAL", "24h")
	v.SetDefault("SWEEP_RATE_PER_SEC", 20.0)
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ROLE_EVENTS_KAFKA_TOPIC", "multirole-role-events")
	v.SetDefault("KAFKA_GROUP_ID", "multirole-events-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if d, err := time.ParseDuration(cfg.RoleGracePeriod); err == nil && d <= 0 {
		return nil, errors.New("config: ROLE_GRACE_PERIOD must be positive")
	}

	return &cfg, nil
}

// GracePeriod parses RoleGracePeriod. Returns 90 days if unset or invalid.
func (c *Config) GracePeriod() time.Duration {
	d, err := time.ParseDuration(c.RoleGracePeriod)
	if err != nil || d <= 0 {
		return 90 * 24 * time.Hour
	}
	return d
}

// TTL parses CredentialTTL. Returns 15m if unset or invalid.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(c.CredentialTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// Interval parses SweepInterval. Returns 24h if unset or invalid.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// KafkaBrokersList splits KafkaBrokers on commas, dropping empty entries.
func (c *Config) KafkaBrokersList() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
