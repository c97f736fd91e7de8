// Package config loads the application configuration from YAML, with
// environment variable expansion and per-section defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexandertaboriskiy/navixmind/internal/conversations"
	"github.com/alexandertaboriskiy/navixmind/internal/observability"
	"github.com/alexandertaboriskiy/navixmind/internal/ratelimit"
	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
	"github.com/alexandertaboriskiy/navixmind/internal/storage"
	"github.com/alexandertaboriskiy/navixmind/internal/usage"
)

// Config is the top-level application configuration.
type Config struct {
	Engine        EngineConfig                  `yaml:"engine"`
	Storage       storage.Config                `yaml:"storage"`
	RateLimits    ratelimit.Config              `yaml:"rate_limits"`
	CostLimits    usage.LimitsConfig            `yaml:"cost_limits"`
	Pricing       map[string]usage.Pricing      `yaml:"pricing"`
	Summarization conversations.SummarizeConfig `yaml:"summarization"`
	Logging       observability.LogConfig       `yaml:"logging"`
	Tracing       observability.TraceConfig     `yaml:"tracing"`
	Tools         ToolsConfig                   `yaml:"tools"`
}

// EngineConfig selects and configures the reasoning engine transport.
type EngineConfig struct {
	// Transport is "stdio" (engine subprocess) or "websocket" (remote
	// engine).
	Transport string `yaml:"transport"`

	Stdio     rpc.StdioConfig     `yaml:"stdio"`
	WebSocket rpc.WebSocketConfig `yaml:"websocket"`

	// CallTimeout bounds each RPC round trip.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// ToolsConfig configures native tool execution.
type ToolsConfig struct {
	// MaxFileSize caps file_read payloads in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`

	// DefaultTimeout applies to tool calls without their own timeout_ms.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// Load reads and parses the configuration file, expanding ${ENV}
// references and resolving $include directives.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	return Parse(payload)
}

// Parse decodes configuration bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.Transport == "" {
		cfg.Engine.Transport = "stdio"
	}
	if cfg.Engine.CallTimeout == 0 {
		cfg.Engine.CallTimeout = 30 * time.Second
	}
	if cfg.Storage.Path == "" {
		cfg.Storage = storage.DefaultConfig()
	}
	if cfg.RateLimits.MaxRequestsPerMinute == 0 {
		cfg.RateLimits = ratelimit.DefaultConfig()
	}
	if cfg.CostLimits.DailyLimitUSD == 0 && cfg.CostLimits.MonthlyLimitUSD == 0 {
		cfg.CostLimits = usage.DefaultLimitsConfig()
	}
	if cfg.CostLimits.WarnThreshold == 0 {
		cfg.CostLimits.WarnThreshold = usage.DefaultLimitsConfig().WarnThreshold
	}
	if cfg.CostLimits.BlockThreshold == 0 {
		cfg.CostLimits.BlockThreshold = usage.DefaultLimitsConfig().BlockThreshold
	}
	if cfg.Pricing == nil {
		cfg.Pricing = usage.DefaultPricing()
	}
	if cfg.Summarization.Threshold == 0 {
		cfg.Summarization = conversations.DefaultSummarizeConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tools.MaxFileSize == 0 {
		cfg.Tools.MaxFileSize = 10 << 20
	}
	if cfg.Tools.DefaultTimeout == 0 {
		cfg.Tools.DefaultTimeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Engine.Transport {
	case "stdio", "websocket":
	default:
		return fmt.Errorf("unknown engine transport %q", c.Engine.Transport)
	}
	if c.Engine.Transport == "websocket" && c.Engine.WebSocket.URL == "" {
		return fmt.Errorf("websocket transport requires engine.websocket.url")
	}
	return nil
}
