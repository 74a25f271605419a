// Package config loads the gateway's operational configuration: a YAML
// document for timeouts and wiring, with environment variables overriding
// the operational knobs and supplying provider credentials that are never
// written to the YAML file, keeping secrets out of version-controlled
// config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Defaults match spec.md's fixed operational constants.
const (
	DefaultAddr            = ":8080"
	DefaultMaxRounds       = 5
	DefaultFrameTimeoutMS  = 15000
	DefaultHeartbeatMS     = 15000
	DefaultMaxQueuedChunks = 128
	DefaultToolTimeoutMS   = 8000
	DefaultToolMaxRetries  = 1
	DefaultRepairRetries   = 1
	DefaultTemperature     = 0.2
	DefaultSeed            = 42
	DefaultMaxTokens       = 384
)

// ProviderAPIKeyEnv is the environment variable credentials are read from.
// It is deliberately never a YAML field.
const ProviderAPIKeyEnv = "PROVIDER_API_KEY"

// Config is the gateway's full operational configuration.
type Config struct {
	Addr string `yaml:"addr"`

	Provider ProviderConfig `yaml:"provider"`

	MaxRounds       int `yaml:"max_rounds"`
	FrameTimeoutMS  int `yaml:"frame_timeout_ms"`
	HeartbeatMS     int `yaml:"heartbeat_ms"`
	MaxQueuedChunks int `yaml:"max_queued_chunks"`
	ToolTimeoutMS   int `yaml:"tool_timeout_ms"`
	ToolMaxRetries  int `yaml:"tool_max_retries"`
	RepairRetries   int `yaml:"repair_retries"`

	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// APIKey is populated from the environment, never from YAML.
	APIKey string `yaml:"-"`
}

// ProviderConfig names the reference provider adapter's model, base URL,
// and the sampling parameters that govern determinism.
type ProviderConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	Seed        int64   `yaml:"seed"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ArtifactsConfig configures the per-session artifacts sink.
type ArtifactsConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`
	// Root is the local directory root, or the s3 bucket name.
	Root string `yaml:"root"`
	// Prefix is an optional key prefix, used by the s3 backend.
	Prefix string `yaml:"prefix,omitempty"`
}

// Default returns a Config populated with spec.md's fixed constants.
func Default() *Config {
	return &Config{
		Addr: DefaultAddr,
		Provider: ProviderConfig{
			Model:       "gpt-4o-mini",
			Temperature: DefaultTemperature,
			Seed:        DefaultSeed,
			MaxTokens:   DefaultMaxTokens,
		},
		MaxRounds:       DefaultMaxRounds,
		FrameTimeoutMS:  DefaultFrameTimeoutMS,
		HeartbeatMS:     DefaultHeartbeatMS,
		MaxQueuedChunks: DefaultMaxQueuedChunks,
		ToolTimeoutMS:   DefaultToolTimeoutMS,
		ToolMaxRetries:  DefaultToolMaxRetries,
		RepairRetries:   DefaultRepairRetries,
		Artifacts: ArtifactsConfig{
			Backend: "local",
			Root:    "./artifacts",
		},
	}
}

// Load reads a YAML config document from path (if it exists) layered over
// Default, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers the recognized environment options over cfg.
// Unset or unparseable variables leave the existing value untouched.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRAMEGATE_ADDR"); v != "" {
		cfg.Addr = v
	}
	envInt("FRAME_TIMEOUT_MS", &cfg.FrameTimeoutMS)
	envInt("TOOL_TIMEOUT_MS", &cfg.ToolTimeoutMS)
	envInt("TOOL_RETRIES", &cfg.ToolMaxRetries)
	envInt("REPAIR_RETRIES", &cfg.RepairRetries)
	envInt("MAX_QUEUED_CHUNKS", &cfg.MaxQueuedChunks)

	if v := os.Getenv("MODEL_ID"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	envFloat("TEMPERATURE", &cfg.Provider.Temperature)
	envInt64("SEED", &cfg.Provider.Seed)
	envInt("MAX_TOKENS", &cfg.Provider.MaxTokens)

	cfg.APIKey = os.Getenv(ProviderAPIKeyEnv)
}

func envInt(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envInt64(name string, dst *int64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func envFloat(name string, dst *float64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

// FrameTimeout is FrameTimeoutMS as a time.Duration.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.FrameTimeoutMS) * time.Millisecond
}

// Heartbeat is HeartbeatMS as a time.Duration.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

// ToolTimeout is ToolTimeoutMS as a time.Duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMS) * time.Millisecond
}
