package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Transport != "stdio" {
		t.Errorf("transport = %q, want stdio", cfg.Engine.Transport)
	}
	if cfg.RateLimits.MaxRequestsPerMinute != 20 {
		t.Errorf("max requests = %d, want 20", cfg.RateLimits.MaxRequestsPerMinute)
	}
	if cfg.CostLimits.DailyLimitUSD != 5 || cfg.CostLimits.MonthlyLimitUSD != 50 {
		t.Errorf("cost limits = %+v", cfg.CostLimits)
	}
	if cfg.Summarization.Threshold != 50 || cfg.Summarization.KeepRecent != 20 {
		t.Errorf("summarization = %+v", cfg.Summarization)
	}
	if _, ok := cfg.Pricing["claude-sonnet-4"]; !ok {
		t.Error("default pricing table missing")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging format = %q", cfg.Logging.Format)
	}
}

func TestParse_Sections(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  transport: websocket
  websocket:
    url: wss://engine.example.com/rpc
  call_timeout: 45s
rate_limits:
  max_requests_per_minute: 10
  max_tool_calls_per_query: 5
  max_agent_loops: 5
cost_limits:
  enabled: true
  daily_limit_usd: 2.5
  monthly_limit_usd: 25
pricing:
  custom-model:
    input_per_1k: 0.001
    output_per_1k: 0.002
logging:
  level: debug
  format: text
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Transport != "websocket" || cfg.Engine.WebSocket.URL != "wss://engine.example.com/rpc" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.CallTimeout != 45*time.Second {
		t.Errorf("call timeout = %v", cfg.Engine.CallTimeout)
	}
	if cfg.RateLimits.MaxToolCallsPerQuery != 5 {
		t.Errorf("tool call budget = %d", cfg.RateLimits.MaxToolCallsPerQuery)
	}
	if cfg.CostLimits.DailyLimitUSD != 2.5 {
		t.Errorf("daily limit = %v", cfg.CostLimits.DailyLimitUSD)
	}
	if p, ok := cfg.Pricing["custom-model"]; !ok || p.InputPer1K != 0.001 {
		t.Errorf("pricing = %+v", cfg.Pricing)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_ENGINE_URL", "wss://expanded.example.com")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "engine:\n  transport: websocket\n  websocket:\n    url: ${TEST_ENGINE_URL}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.WebSocket.URL != "wss://expanded.example.com" {
		t.Errorf("url = %q", cfg.Engine.WebSocket.URL)
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	baseBody := "logging:\n  level: debug\nrate_limits:\n  max_requests_per_minute: 5\n"
	if err := os.WriteFile(base, []byte(baseBody), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "config.yaml")
	mainBody := "$include: base.yaml\nrate_limits:\n  max_requests_per_minute: 7\n"
	if err := os.WriteFile(main, []byte(mainBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("included level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.RateLimits.MaxRequestsPerMinute != 7 {
		t.Errorf("max requests = %d, want including file to win", cfg.RateLimits.MaxRequestsPerMinute)
	}
}

func TestLoad_RejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(a); err == nil {
		t.Error("include cycle should be rejected")
	}
}

func TestParse_RejectsUnknownTransport(t *testing.T) {
	if _, err := Parse([]byte("engine:\n  transport: carrier-pigeon\n")); err == nil {
		t.Error("unknown transport should be rejected")
	}
}

func TestParse_WebsocketRequiresURL(t *testing.T) {
	if _, err := Parse([]byte("engine:\n  transport: websocket\n")); err == nil {
		t.Error("websocket without url should be rejected")
	}
}
