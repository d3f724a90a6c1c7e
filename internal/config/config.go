// Package config loads and validates the process configuration: environment
// variables layered over an optional YAML file, plus the alert rule table
// kept in its own file so it can be re-read and hot-swapped at runtime.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level process configuration.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// OrchestratorConfig tunes the worker pool and job deadlines.
type OrchestratorConfig struct {
	Workers     int           `mapstructure:"workers" validate:"gte=1,lte=256"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" validate:"gt=0"`
	CancelGrace time.Duration `mapstructure:"cancel_grace" validate:"gt=0"`
	// ProgressBuffer is the per-subscriber progress channel depth.
	ProgressBuffer int `mapstructure:"progress_buffer" validate:"gte=1"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string         `mapstructure:"backend" validate:"oneof=memory postgres"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds connection settings for the postgres backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     uint16 `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// KafkaConfig configures the optional durable event export.
type KafkaConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Brokers           []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	JobLifecycleTopic string   `mapstructure:"job_lifecycle_topic"`
	FindingsTopic     string   `mapstructure:"findings_topic"`
	AlertsTopic       string   `mapstructure:"alerts_topic"`
	ClientID          string   `mapstructure:"client_id"`
}

// WebhookConfig tunes outbound alert delivery.
type WebhookConfig struct {
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	// RatePerSecond and Burst bound requests per destination endpoint.
	RatePerSecond float64 `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int     `mapstructure:"burst" validate:"gte=1"`
}

// AlertingConfig locates the rule table and maps channels to endpoints.
type AlertingConfig struct {
	// RulesFile is the YAML rule table path; empty disables alerting.
	RulesFile string `mapstructure:"rules_file"`
	// Channels maps logical channel names to webhook URLs.
	Channels map[string]string `mapstructure:"channels" validate:"dive,url"`
}

// TelemetryConfig configures the OpenTelemetry export.
type TelemetryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
}

// Load reads configuration from the optional YAML file at path layered under
// SENTINEL_-prefixed environment variables, applies defaults, and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.job_timeout", 10*time.Minute)
	v.SetDefault("orchestrator.cancel_grace", 10*time.Second)
	v.SetDefault("orchestrator.progress_buffer", 64)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.job_lifecycle_topic", "scan-jobs")
	v.SetDefault("kafka.findings_topic", "scan-findings")
	v.SetDefault("kafka.alerts_topic", "scan-alerts")
	v.SetDefault("kafka.client_id", "sentinel")
	v.SetDefault("webhook.attempt_timeout", 5*time.Second)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.rate_per_second", 5.0)
	v.SetDefault("webhook.burst", 10)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "sentinel")
	v.SetDefault("telemetry.sampling_ratio", 1.0)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
