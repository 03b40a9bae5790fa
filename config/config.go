package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Log          LogConfig          `mapstructure:"log"`
	Transaction  TransactionConfig  `mapstructure:"transaction"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Anomaly      AnomalyConfig      `mapstructure:"anomaly"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
	Cron         CronConfig         `mapstructure:"cron"`
	AES          AESConfig          `mapstructure:"aes"`
}

// AESConfig holds the key backing the signing-secret cache's
// encrypt-at-rest box.
type AESConfig struct {
	KeyHex string `mapstructure:"key_hex"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig configures the eventbus/kafka adapter. Bootstrap empty means
// cmd/txrelayd falls back to the in-memory bus (dev profile).
type KafkaConfig struct {
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	ConsumerGroup    string `mapstructure:"consumer_group"`
	Partitions       int    `mapstructure:"partitions"`
	ReplicationFactor int   `mapstructure:"replication_factor"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// SMTPConfig configures the default alert dispatcher channel.
type SMTPConfig struct {
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// TransactionConfig holds timeout and retry thresholds for the state
// manager and transaction service.
type TransactionConfig struct {
	TimeoutPendingMinutes    int `mapstructure:"timeout_pending_minutes"`
	TimeoutProcessingMinutes int `mapstructure:"timeout_processing_minutes"`
	RetryMaxAttempts         int `mapstructure:"retry_max_attempts"`
	MonitorIntervalMS        int `mapstructure:"monitor_interval_ms"`
}

func (t TransactionConfig) PendingTimeout() time.Duration {
	return time.Duration(t.TimeoutPendingMinutes) * time.Minute
}

func (t TransactionConfig) ProcessingTimeout() time.Duration {
	return time.Duration(t.TimeoutProcessingMinutes) * time.Minute
}

func (t TransactionConfig) MonitorInterval() time.Duration {
	return time.Duration(t.MonitorIntervalMS) * time.Millisecond
}

// WebhookConfig holds delivery engine tuning: retry budget, signature
// algorithm, and pooled HTTP transport limits.
type WebhookConfig struct {
	RetryMaxAttempts        int    `mapstructure:"retry_max_attempts"`
	RetryBaseDelaySeconds   int    `mapstructure:"retry_base_delay_seconds"`
	ConnectionTimeoutMS     int    `mapstructure:"connection_timeout_ms"`
	SocketTimeoutMS         int    `mapstructure:"socket_timeout_ms"`
	AcquireTimeoutMS        int    `mapstructure:"acquire_timeout_ms"`
	MaxTotalConnections     int    `mapstructure:"max_total_connections"`
	MaxConnectionsPerRoute  int    `mapstructure:"max_connections_per_route"`
	IdleEvictionSeconds     int    `mapstructure:"idle_eviction_seconds"`
	KeepAliveSeconds        int    `mapstructure:"keep_alive_seconds"`
	SignatureAlgorithm      string `mapstructure:"signature_algorithm"`
	HangTimeoutMinutes      int    `mapstructure:"hang_timeout_minutes"`
	CleanupMaxAgeHours      int    `mapstructure:"cleanup_max_age_hours"`
	BcryptCost              int    `mapstructure:"bcrypt_cost"`
	SecretCacheTTLMinutes   int    `mapstructure:"secret_cache_ttl_minutes"`
	DedupTTLMinutes         int    `mapstructure:"dedup_ttl_minutes"`
	DueRetrySweepSeconds    int    `mapstructure:"due_retry_sweep_seconds"`
	HangSweepSeconds        int    `mapstructure:"hang_sweep_seconds"`
	SweepBatchLimit         int    `mapstructure:"sweep_batch_limit"`
}

func (w WebhookConfig) ConnectionTimeout() time.Duration {
	return time.Duration(w.ConnectionTimeoutMS) * time.Millisecond
}

func (w WebhookConfig) SocketTimeout() time.Duration {
	return time.Duration(w.SocketTimeoutMS) * time.Millisecond
}

func (w WebhookConfig) AcquireTimeout() time.Duration {
	return time.Duration(w.AcquireTimeoutMS) * time.Millisecond
}

func (w WebhookConfig) IdleEviction() time.Duration {
	return time.Duration(w.IdleEvictionSeconds) * time.Second
}

func (w WebhookConfig) KeepAlive() time.Duration {
	return time.Duration(w.KeepAliveSeconds) * time.Second
}

func (w WebhookConfig) HangTimeout() time.Duration {
	return time.Duration(w.HangTimeoutMinutes) * time.Minute
}

func (w WebhookConfig) CleanupMaxAge() time.Duration {
	return time.Duration(w.CleanupMaxAgeHours) * time.Hour
}

func (w WebhookConfig) SecretCacheTTL() time.Duration {
	return time.Duration(w.SecretCacheTTLMinutes) * time.Minute
}

func (w WebhookConfig) DedupTTL() time.Duration {
	return time.Duration(w.DedupTTLMinutes) * time.Minute
}

func (w WebhookConfig) DueRetrySweepInterval() time.Duration {
	return time.Duration(w.DueRetrySweepSeconds) * time.Second
}

func (w WebhookConfig) HangSweepInterval() time.Duration {
	return time.Duration(w.HangSweepSeconds) * time.Second
}

// AnomalyConfig holds the monitor's anomaly-detection thresholds.
type AnomalyConfig struct {
	PendingThresholdMinutes    int `mapstructure:"pending_threshold_minutes"`
	ProcessingThresholdMinutes int `mapstructure:"processing_threshold_minutes"`
	RetryThreshold             int `mapstructure:"retry_threshold"`
	StateChangeThreshold       int `mapstructure:"state_change_threshold"`
}

func (a AnomalyConfig) PendingThreshold() time.Duration {
	return time.Duration(a.PendingThresholdMinutes) * time.Minute
}

func (a AnomalyConfig) ProcessingThreshold() time.Duration {
	return time.Duration(a.ProcessingThresholdMinutes) * time.Minute
}

// IdempotencyConfig holds the idempotency resolver's field classification
// and similarity threshold.
type IdempotencyConfig struct {
	CriticalFields       []string `mapstructure:"critical_fields"`
	IgnoredFields        []string `mapstructure:"ignored_fields"`
	SimilarityThreshold  int      `mapstructure:"similarity_threshold"`
}

// CronConfig holds the cron expressions for the scheduled sweep tasks.
type CronConfig struct {
	CleanupSweep string `mapstructure:"cleanup_sweep"`
	WeeklyReport string `mapstructure:"weekly_report"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: TXR_.
// Nested keys use underscore: TXR_DATABASE_HOST, TXR_WEBHOOK_RETRY_MAX_ATTEMPTS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "txrelay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.bootstrap_servers", "")
	v.SetDefault("kafka.consumer_group", "txrelay")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "txrelay")

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "alerts@txrelay.local")
	v.SetDefault("smtp.recipients", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("transaction.timeout_pending_minutes", 5)
	v.SetDefault("transaction.timeout_processing_minutes", 10)
	v.SetDefault("transaction.retry_max_attempts", 3)
	v.SetDefault("transaction.monitor_interval_ms", 60000)

	v.SetDefault("webhook.retry_max_attempts", 5)
	v.SetDefault("webhook.retry_base_delay_seconds", 60)
	v.SetDefault("webhook.connection_timeout_ms", 5000)
	v.SetDefault("webhook.socket_timeout_ms", 10000)
	v.SetDefault("webhook.acquire_timeout_ms", 2000)
	v.SetDefault("webhook.max_total_connections", 100)
	v.SetDefault("webhook.max_connections_per_route", 20)
	v.SetDefault("webhook.idle_eviction_seconds", 60)
	v.SetDefault("webhook.keep_alive_seconds", 30)
	v.SetDefault("webhook.signature_algorithm", "HmacSHA256")
	v.SetDefault("webhook.hang_timeout_minutes", 30)
	v.SetDefault("webhook.cleanup_max_age_hours", 24)
	v.SetDefault("webhook.bcrypt_cost", 0)
	v.SetDefault("webhook.secret_cache_ttl_minutes", 60)
	v.SetDefault("webhook.dedup_ttl_minutes", 60)
	v.SetDefault("webhook.due_retry_sweep_seconds", 30)
	v.SetDefault("webhook.hang_sweep_seconds", 300)
	v.SetDefault("webhook.sweep_batch_limit", 100)

	v.SetDefault("aes.key_hex", "")

	v.SetDefault("anomaly.pending_threshold_minutes", 30)
	v.SetDefault("anomaly.processing_threshold_minutes", 60)
	v.SetDefault("anomaly.retry_threshold", 5)
	v.SetDefault("anomaly.state_change_threshold", 10)

	v.SetDefault("idempotency.critical_fields", []string{"amount", "accountNumber", "description", "reference"})
	v.SetDefault("idempotency.ignored_fields", []string{"timestamp", "clientIp", "deviceId"})
	v.SetDefault("idempotency.similarity_threshold", 80)

	v.SetDefault("cron.cleanup_sweep", "0 0 3 * * *")
	v.SetDefault("cron.weekly_report", "0 0 6 * * MON")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TXR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
