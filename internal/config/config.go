// Package config provides configuration types and loading for Guardian.
//
// Configuration comes from guardian.yaml, overridden by GUARDIAN_-prefixed
// environment variables (GUARDIAN_REDIS_URL overrides redis.url). Everything
// has a working local default: a fresh checkout runs against SQLite and a
// local Redis with no config file at all.
package config

import "time"

// Config is the top-level configuration for Guardian.
type Config struct {
	// Server configures the HTTP API listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures decision and approval persistence.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Redis configures the stream broker.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Streams names the four Guardian streams.
	Streams StreamsConfig `yaml:"streams" mapstructure:"streams"`

	// Consumer configures the intent stream consumer group.
	Consumer ConsumerConfig `yaml:"consumer" mapstructure:"consumer"`

	// LLM configures the optional risk scorer. Empty base_url disables it.
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Telemetry toggles OpenTelemetry trace/metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Addr is the address to listen on. Defaults to "127.0.0.1:8085".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AdminKeyHash is the argon2id hash of the admin key protecting policy
	// mutations. Generate with `guardian hashkey`. Empty leaves them open.
	AdminKeyHash string `yaml:"admin_key_hash" mapstructure:"admin_key_hash" validate:"omitempty,startswith=$argon2id$"`

	// EvaluatePersistsApprovals makes the synchronous /evaluate endpoint
	// create durable approval records for REQUIRE_APPROVAL verdicts.
	EvaluatePersistsApprovals bool `yaml:"evaluate_persists_approvals" mapstructure:"evaluate_persists_approvals"`
}

// DatabaseConfig configures persistence. A postgres:// URL selects
// PostgreSQL; anything else is a SQLite file path.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// RedisConfig configures the stream broker connection.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,redis_url"`
}

// StreamsConfig names the Guardian streams.
type StreamsConfig struct {
	Intent           string `yaml:"intent" mapstructure:"intent" validate:"omitempty,stream_name"`
	Decision         string `yaml:"decision" mapstructure:"decision" validate:"omitempty,stream_name"`
	ApprovalRequest  string `yaml:"approval_request" mapstructure:"approval_request" validate:"omitempty,stream_name"`
	ApprovalDecision string `yaml:"approval_decision" mapstructure:"approval_decision" validate:"omitempty,stream_name"`
}

// ConsumerConfig configures the worker's consumer group membership.
type ConsumerConfig struct {
	// Group is the consumer group name shared by all workers.
	Group string `yaml:"group" mapstructure:"group"`
	// Name identifies this worker within the group. Must differ per replica.
	Name string `yaml:"name" mapstructure:"name"`
}

// LLMConfig configures the OpenAI-compatible risk scorer.
type LLMConfig struct {
	// BaseURL is the API base, e.g. "http://localhost:11434/v1" for Ollama.
	// Empty disables LLM scoring entirely.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model" mapstructure:"model"`
	// APIKey is sent as a bearer token when set. Local runtimes ignore it.
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// TelemetryConfig toggles OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults fills in the local-development defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8085"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.URL == "" {
		c.Database.URL = "guardian.db"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Streams.Intent == "" {
		c.Streams.Intent = "action.intent"
	}
	if c.Streams.Decision == "" {
		c.Streams.Decision = "action.decision"
	}
	if c.Streams.ApprovalRequest == "" {
		c.Streams.ApprovalRequest = "approval.request"
	}
	if c.Streams.ApprovalDecision == "" {
		c.Streams.ApprovalDecision = "approval.decision"
	}
	if c.Consumer.Group == "" {
		c.Consumer.Group = "guardian"
	}
	if c.Consumer.Name == "" {
		c.Consumer.Name = "guardian-1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.2:3b"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 10 * time.Second
	}
}
