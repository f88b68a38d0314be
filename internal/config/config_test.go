package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.LLMProvider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %q", cfg.LLMProvider)
	}
	if cfg.MaxToolIterations != 8 {
		t.Errorf("expected 8 tool iterations, got %d", cfg.MaxToolIterations)
	}
	if cfg.ToolTimeout != 30.0 {
		t.Errorf("expected 30s tool timeout, got %v", cfg.ToolTimeout)
	}
	if cfg.ListenAddr != "localhost:8420" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("QUILL_ANTHROPIC_API_KEY", "sk-test")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLMMaxTokens != 4096 {
		t.Errorf("expected default max tokens, got %d", cfg.LLMMaxTokens)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"llm_provider: openai",
		"llm_model: gpt-4o",
		"llm_temperature: 0.2",
		"openai_api_key: sk-file",
		"memory_cache_size: 500",
		"tool_timeout: 45.5",
		"memory_ttl:",
		"  episodic: 720h",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLMProvider != "openai" || cfg.LLMModel != "gpt-4o" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.ToolTimeout != 45.5 {
		t.Errorf("expected tool_timeout 45.5, got %v", cfg.ToolTimeout)
	}
	if got := cfg.TTLFor("episodic"); got != 720*time.Hour {
		t.Errorf("expected episodic ttl 720h, got %v", got)
	}
	if got := cfg.TTLFor("semantic"); got != 0 {
		t.Errorf("expected no ttl for semantic, got %v", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm_model: from-file\nanthropic_api_key: sk-a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUILL_LLM_MODEL", "from-env")
	t.Setenv("QUILL_LLM_MAX_TOKENS", "2048")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLMModel != "from-env" {
		t.Errorf("env should win over file, got %q", cfg.LLMModel)
	}
	if cfg.LLMMaxTokens != 2048 {
		t.Errorf("expected 2048 from env, got %d", cfg.LLMMaxTokens)
	}
}

func TestEnvInvalidNumber(t *testing.T) {
	t.Setenv("QUILL_LLM_MAX_TOKENS", "lots")
	t.Setenv("QUILL_ANTHROPIC_API_KEY", "sk-test")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric env value")
	}
}

func TestValidateRanges(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.AnthropicAPIKey = "sk-test"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.LLMProvider = "cohere" }},
		{"max_tokens_low", func(c *Config) { c.LLMMaxTokens = 0 }},
		{"max_tokens_high", func(c *Config) { c.LLMMaxTokens = 200001 }},
		{"temperature", func(c *Config) { c.LLMTemperature = 2.5 }},
		{"cache_size", func(c *Config) { c.MemoryCacheSize = 5 }},
		{"tool_timeout", func(c *Config) { c.ToolTimeout = 0.5 }},
		{"max_parallel", func(c *Config) { c.ToolMaxParallel = 11 }},
		{"reserve", func(c *Config) { c.ResponseReserveTokens = c.MaxContextTokens }},
		{"missing_key", func(c *Config) { c.AnthropicAPIKey = "" }},
		{"fallback_key", func(c *Config) { c.LLMFallbacks = []string{"openai"} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("baseline config should validate: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/data/memory.db"); got != filepath.Join(home, "data/memory.db") {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path should be untouched, got %q", got)
	}
}

func TestAllowedPaths(t *testing.T) {
	cfg := Default()
	cfg.ToolAllowedPaths = "/tmp, /var/data ,"
	got := cfg.AllowedPaths()
	if len(got) != 2 || got[0] != "/tmp" || got[1] != "/var/data" {
		t.Errorf("unexpected allowed paths %v", got)
	}
}
