// Package config loads the runtime's on-disk configuration: which
// provider is active, retry tuning, tool-output truncation limits,
// compaction thresholds, and snapshot retention. Configuration is YAML
// (or JSON/JSON5) with $include-directive merging, handled by loader.go.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full on-disk configuration for a agentcore instance.
type Config struct {
	ActiveProvider           string            `yaml:"active_provider"`
	DefaultModels            map[string]string `yaml:"default_models"`
	ShouldCreateDefaultPerms *bool             `yaml:"should_create_default_perms"`

	Providers   ProvidersConfig   `yaml:"providers"`
	Retry       RetryConfig       `yaml:"retry"`
	Tools       ToolsConfig       `yaml:"tools"`
	Compact     CompactConfig     `yaml:"compact"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ProvidersConfig carries per-provider credentials and endpoints. Values
// left empty fall back to the matching environment variable at wiring
// time (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, AWS_*).
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Gemini    ProviderConfig `yaml:"gemini"`
	Bedrock   BedrockConfig  `yaml:"bedrock"`
}

// ProviderConfig configures one API-key-based provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// BedrockConfig configures the AWS-credentialed Bedrock provider.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	Model           string `yaml:"model"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RetryConfig tunes the Retry/Classifier component's backoff.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// ToolsConfig tunes the Tool Executor's shell and fetch behavior.
type ToolsConfig struct {
	InlineMaxCommands     int           `yaml:"inline_max_commands"`
	InlineCommandTimeout  time.Duration `yaml:"inline_command_timeout"`
	InlineMaxOutputLength int           `yaml:"inline_max_output_length"`
	StdoutMaxPrefixLength int           `yaml:"stdout_max_prefix_length"`
	StdoutMaxSuffixLength int           `yaml:"stdout_max_suffix_length"`
	StdoutMaxLineLength   int           `yaml:"stdout_max_line_length"`
	FetchTruncationLimit  int           `yaml:"fetch_truncation_limit"`
}

// CompactConfig tunes the Compactor component.
type CompactConfig struct {
	Threshold     float64 `yaml:"compact_threshold"`
	MaxEmptyCalls int     `yaml:"max_empty_tool_calls"`
}

// SnapshotConfig tunes the SnapshotStore's retention.
type SnapshotConfig struct {
	MaxAge     time.Duration `yaml:"max_age"`
	MaxPerFile int           `yaml:"max_per_file"`
}

// MaintenanceConfig schedules the background sweep of expired snapshots
// and idle conversations.
type MaintenanceConfig struct {
	Cron string `yaml:"cron"`
}

// LoggingConfig tunes the slog-backed structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns a Config with every knob set to its production
// default, so a deployment with no config file still runs sanely.
func Default() *Config {
	return &Config{
		ActiveProvider: "anthropic",
		DefaultModels: map[string]string{
			"anthropic": "claude-sonnet-4-5",
			"openai":    "gpt-4o",
			"gemini":    "gemini-2.0-flash",
			"bedrock":   "anthropic.claude-3-5-sonnet-20241022-v2:0",
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		Tools: ToolsConfig{
			InlineMaxCommands:     5,
			InlineCommandTimeout:  2 * time.Minute,
			InlineMaxOutputLength: 100_000,
			StdoutMaxPrefixLength: 20_000,
			StdoutMaxSuffixLength: 5_000,
			StdoutMaxLineLength:   2_000,
			FetchTruncationLimit:  1_000_000,
		},
		Compact: CompactConfig{
			Threshold:     0.8,
			MaxEmptyCalls: 3,
		},
		Snapshot: SnapshotConfig{
			MaxAge:     7 * 24 * time.Hour,
			MaxPerFile: 20,
		},
		Maintenance: MaintenanceConfig{
			Cron: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and merges the config file at path over Default, resolving
// $include directives and expanding environment variables.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := Default()
	if err := decodeRawOnto(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeRawOnto(raw map[string]any, cfg *Config) error {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// resolveAPIKey returns value if set, else the named environment
// variable. Used by cmd/agentcore to fall back from config file to env.
func resolveAPIKey(value, envVar string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envVar)
}

// ResolveAnthropicKey resolves the Anthropic API key from config or
// ANTHROPIC_API_KEY.
func (c *Config) ResolveAnthropicKey() string {
	return resolveAPIKey(c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
}

// ResolveOpenAIKey resolves the OpenAI API key from config or
// OPENAI_API_KEY.
func (c *Config) ResolveOpenAIKey() string {
	return resolveAPIKey(c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
}

// ResolveGeminiKey resolves the Gemini API key from config or
// GEMINI_API_KEY.
func (c *Config) ResolveGeminiKey() string {
	return resolveAPIKey(c.Providers.Gemini.APIKey, "GEMINI_API_KEY")
}
