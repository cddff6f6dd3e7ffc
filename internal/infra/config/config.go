package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Revocation RevocationSettings `mapstructure:"revocation"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection, TLS and revocation key layout
type RedisSettings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DB               int           `mapstructure:"db"`
	Password         string        `mapstructure:"password"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	RevocationPrefix string        `mapstructure:"revocation_prefix"`
	UserIndexPrefix  string        `mapstructure:"user_index_prefix"`
	SnapshotKey      string        `mapstructure:"snapshot_key"`
	SnapshotTTL      time.Duration `mapstructure:"snapshot_ttl"`
}

// KafkaSettings configures the audit producer and peer revocation consumer
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RevocationSettings controls the dual-store revocation service.
type RevocationSettings struct {
	// DurableBackend selects the authoritative store: "redis" or "postgres".
	DurableBackend        string        `mapstructure:"durable_backend"`
	FingerprintKey        string        `mapstructure:"fingerprint_key"`
	StoreTimeout          time.Duration `mapstructure:"store_timeout"`
	AuditTimeout          time.Duration `mapstructure:"audit_timeout"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	BulkRevocationHorizon time.Duration `mapstructure:"bulk_revocation_horizon"`
	ResyncInterval        time.Duration `mapstructure:"resync_interval"`
	ResyncQueueSize       int           `mapstructure:"resync_queue_size"`
	LocalMaxEntries       int           `mapstructure:"local_max_entries"`
	ReapInterval          time.Duration `mapstructure:"reap_interval"`
	PropagationEnabled    bool          `mapstructure:"propagation_enabled"`
	// InstanceID names this process on audit events and in its peer consumer group.
	// Falls back to the hostname so restarts resume the same group.
	InstanceID            string        `mapstructure:"instance_id"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("REVOCATION")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.revocation_prefix",
		"redis.user_index_prefix",
		"redis.snapshot_key",
		"redis.snapshot_ttl",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"revocation.durable_backend",
		"revocation.fingerprint_key",
		"revocation.store_timeout",
		"revocation.audit_timeout",
		"revocation.sweep_interval",
		"revocation.bulk_revocation_horizon",
		"revocation.resync_interval",
		"revocation.resync_queue_size",
		"revocation.local_max_entries",
		"revocation.reap_interval",
		"revocation.propagation_enabled",
		"revocation.instance_id",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the revocation service cannot run with.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Revocation.DurableBackend)) {
	case "redis", "postgres":
	default:
		return fmt.Errorf("unsupported durable backend %q", c.Revocation.DurableBackend)
	}
	if c.Revocation.StoreTimeout <= 0 {
		return fmt.Errorf("revocation.store_timeout must be positive")
	}
	if c.Revocation.SweepInterval <= 0 {
		return fmt.Errorf("revocation.sweep_interval must be positive")
	}
	if len(c.Revocation.FingerprintKey) > 64 {
		return fmt.Errorf("revocation.fingerprint_key must be at most 64 bytes")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "token-revocation")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "revocation")
	v.SetDefault("postgres.password", "revocation_password")
	v.SetDefault("postgres.database", "revocation")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.revocation_prefix", "revoked")
	v.SetDefault("redis.user_index_prefix", "revoked:user")
	v.SetDefault("redis.snapshot_key", "revoked:local_snapshot")
	v.SetDefault("redis.snapshot_ttl", "25h")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "token-revocation")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "token-revocation")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("revocation.durable_backend", "redis")
	v.SetDefault("revocation.fingerprint_key", "")
	v.SetDefault("revocation.store_timeout", "250ms")
	v.SetDefault("revocation.audit_timeout", "2s")
	v.SetDefault("revocation.sweep_interval", "1h")
	v.SetDefault("revocation.bulk_revocation_horizon", "24h")
	v.SetDefault("revocation.resync_interval", "5s")
	v.SetDefault("revocation.resync_queue_size", 1024)
	v.SetDefault("revocation.local_max_entries", 0)
	v.SetDefault("revocation.reap_interval", "10m")
	v.SetDefault("revocation.propagation_enabled", false)
	v.SetDefault("revocation.instance_id", "")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "REVOCATION_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
