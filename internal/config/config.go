package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Telephony  TelephonyConfig  `mapstructure:"telephony"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
}

type AppConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts" validate:"min=1"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace" validate:"required"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers" validate:"min=1"`
	ClientID          string        `mapstructure:"client_id"`
	EventsTopic       string        `mapstructure:"events_topic" validate:"required"`
	WebhookTopic      string        `mapstructure:"webhook_topic" validate:"required"`
	ConsumerGroupID   string        `mapstructure:"consumer_group_id" validate:"required"`
	CommitInterval    time.Duration `mapstructure:"commit_interval"`
	Partitions        int           `mapstructure:"partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DispatchConfig tunes the dialer loop. LockTTL only has to outlast one
// spacing delay plus a dispatch, since the campaign lock is renewed before
// every call.
type DispatchConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	SpacingDelay   time.Duration `mapstructure:"spacing_delay"`
	NumberCooldown time.Duration `mapstructure:"number_cooldown"`
	CampaignLimit  int           `mapstructure:"campaign_limit"`
	FailureBackoff time.Duration `mapstructure:"failure_backoff"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

// ComplianceConfig points at the jurisdiction rules and the optional federal registry.
type ComplianceConfig struct {
	RulesPath      string        `mapstructure:"rules_path"`
	DefaultRegion  string        `mapstructure:"default_region"`
	FederalDNCURL  string        `mapstructure:"federal_dnc_url" validate:"omitempty,url"`
	FederalAPIKey  string        `mapstructure:"federal_api_key"`
	FederalTimeout time.Duration `mapstructure:"federal_timeout"`
	FederalRPS     float64       `mapstructure:"federal_rps"`
}

// JobsConfig configures the durable job processor.
type JobsConfig struct {
	Concurrency        int           `mapstructure:"concurrency" validate:"gte=1"`
	Queue              string        `mapstructure:"queue"`
	CleanupSchedule    string        `mapstructure:"cleanup_schedule"`
	ResetSchedule      string        `mapstructure:"reset_schedule"`
	StaleThreshold     time.Duration `mapstructure:"stale_threshold"`
	CampaignRetryDelay time.Duration `mapstructure:"campaign_retry_delay"`
	Retention          time.Duration `mapstructure:"retention"`
}

type WebhookConfig struct {
	Secret   string        `mapstructure:"secret" validate:"required"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// TelephonyConfig selects and tunes the voice provider client.
type TelephonyConfig struct {
	Provider        string        `mapstructure:"provider" validate:"oneof=http mock"`
	BaseURL         string        `mapstructure:"base_url" validate:"required_if=Provider http"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type AnalysisConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RealtimeConfig configures the live dashboard socket server.
type RealtimeConfig struct {
	Port              int           `mapstructure:"port" validate:"gt=0"`
	JWTSecret         string        `mapstructure:"jwt_secret" validate:"required"`
	JWTIssuer         string        `mapstructure:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints on a loaded config.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "voice-dialer")
	v.SetDefault("http.port", 8080)
	v.SetDefault("kafka.events_topic", "dialer.events")
	v.SetDefault("kafka.webhook_topic", "dialer.webhooks")
	v.SetDefault("kafka.consumer_group_id", "voice-dialer")
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("kafka.partitions", 12)

	v.SetDefault("dispatch.tick_interval", 30*time.Second)
	v.SetDefault("dispatch.spacing_delay", 30*time.Second)
	v.SetDefault("dispatch.number_cooldown", 2*time.Minute)
	v.SetDefault("dispatch.campaign_limit", 100)
	v.SetDefault("dispatch.failure_backoff", 24*time.Hour)
	v.SetDefault("dispatch.lock_ttl", 10*time.Minute)

	v.SetDefault("compliance.default_region", "US")
	v.SetDefault("compliance.federal_timeout", 3*time.Second)
	v.SetDefault("compliance.federal_rps", 5)

	v.SetDefault("jobs.concurrency", 3)
	v.SetDefault("jobs.queue", "calls")
	v.SetDefault("jobs.cleanup_schedule", "@every 15m")
	v.SetDefault("jobs.reset_schedule", "0 0 * * *")
	v.SetDefault("jobs.stale_threshold", 2*time.Hour)
	v.SetDefault("jobs.campaign_retry_delay", time.Hour)
	v.SetDefault("jobs.retention", 24*time.Hour)

	v.SetDefault("webhook.dedup_ttl", 72*time.Hour)

	v.SetDefault("telephony.provider", "http")
	v.SetDefault("telephony.request_timeout", 10*time.Second)
	v.SetDefault("telephony.rps", 1)
	v.SetDefault("telephony.burst", 1)
	v.SetDefault("telephony.breaker_failures", 5)
	v.SetDefault("telephony.breaker_timeout", 30*time.Second)

	v.SetDefault("analysis.request_timeout", 30*time.Second)

	v.SetDefault("realtime.port", 8090)
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.send_buffer", 256)
}
