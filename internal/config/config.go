// Package config loads and validates the flat option set for the agent
// server. Options come from an optional YAML file with QUILL_-prefixed
// environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment variable overrides to this application.
const EnvPrefix = "QUILL_"

// SupportedProviders lists the recognised llm_provider values.
var SupportedProviders = []string{"anthropic", "openai", "dashscope"}

// Config is the flat set of typed options recognised by the server.
type Config struct {
	LLMProvider    string   `yaml:"llm_provider"`
	LLMModel       string   `yaml:"llm_model"`
	LLMMaxTokens   int      `yaml:"llm_max_tokens"`
	LLMTemperature float64  `yaml:"llm_temperature"`
	LLMFallbacks   []string `yaml:"llm_fallbacks"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	DashScopeAPIKey string `yaml:"dashscope_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`

	MemoryDBPath          string                   `yaml:"memory_db_path"`
	MemoryCacheSize       int                      `yaml:"memory_cache_size"`
	MemoryCapacity        int                      `yaml:"memory_capacity"`
	MemoryTTL             map[string]time.Duration `yaml:"memory_ttl"`
	MemoryCleanupInterval time.Duration            `yaml:"memory_cleanup_interval"`

	ToolTimeout      float64 `yaml:"tool_timeout"`
	ToolMaxParallel  int     `yaml:"tool_max_parallel"`
	ToolAllowedPaths string  `yaml:"tool_allowed_paths"`
	ToolWorkDir      string  `yaml:"tool_workdir"`

	MaxToolIterations     int    `yaml:"max_tool_iterations"`
	MaxContextTokens      int    `yaml:"max_context_tokens"`
	ResponseReserveTokens int    `yaml:"response_reserve_tokens"`
	IdentityDir           string `yaml:"identity_dir"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		LLMProvider:           "anthropic",
		LLMModel:              "",
		LLMMaxTokens:          4096,
		LLMTemperature:        0.7,
		MemoryDBPath:          "~/.quill/memory.db",
		MemoryCacheSize:       100,
		MemoryCapacity:        10000,
		MemoryCleanupInterval: time.Hour,
		ToolTimeout:           30.0,
		ToolMaxParallel:       1,
		MaxToolIterations:     8,
		MaxContextTokens:      100000,
		ResponseReserveTokens: 4096,
		ListenAddr:            "localhost:8420",
		LogLevel:              "info",
	}
}

// Load reads configuration from path (optional: empty path or a missing
// file yields defaults), applies environment overrides, expands paths,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.MemoryDBPath = ExpandPath(cfg.MemoryDBPath)
	cfg.ToolWorkDir = ExpandPath(cfg.ToolWorkDir)
	cfg.IdentityDir = ExpandPath(cfg.IdentityDir)
	cfg.ToolAllowedPaths = expandPathList(cfg.ToolAllowedPaths)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies QUILL_-prefixed environment overrides.
func (c *Config) applyEnv() error {
	lookup := func(key string) (string, bool) {
		return os.LookupEnv(EnvPrefix + key)
	}

	if v, ok := lookup("LLM_PROVIDER"); ok {
		c.LLMProvider = v
	}
	if v, ok := lookup("LLM_MODEL"); ok {
		c.LLMModel = v
	}
	if v, ok := lookup("LLM_MAX_TOKENS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sLLM_MAX_TOKENS: %q", EnvPrefix, v)
		}
		c.LLMMaxTokens = n
	}
	if v, ok := lookup("LLM_TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sLLM_TEMPERATURE: %q", EnvPrefix, v)
		}
		c.LLMTemperature = f
	}
	if v, ok := lookup("LLM_FALLBACKS"); ok {
		c.LLMFallbacks = splitList(v)
	}
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok {
		c.AnthropicAPIKey = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok {
		c.OpenAIAPIKey = v
	}
	if v, ok := lookup("DASHSCOPE_API_KEY"); ok {
		c.DashScopeAPIKey = v
	}
	if v, ok := lookup("OPENAI_BASE_URL"); ok {
		c.OpenAIBaseURL = v
	}
	if v, ok := lookup("MEMORY_DB_PATH"); ok {
		c.MemoryDBPath = v
	}
	if v, ok := lookup("MEMORY_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMEMORY_CACHE_SIZE: %q", EnvPrefix, v)
		}
		c.MemoryCacheSize = n
	}
	if v, ok := lookup("TOOL_TIMEOUT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %sTOOL_TIMEOUT: %q", EnvPrefix, v)
		}
		c.ToolTimeout = f
	}
	if v, ok := lookup("TOOL_MAX_PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sTOOL_MAX_PARALLEL: %q", EnvPrefix, v)
		}
		c.ToolMaxParallel = n
	}
	if v, ok := lookup("TOOL_ALLOWED_PATHS"); ok {
		c.ToolAllowedPaths = v
	}
	if v, ok := lookup("LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

// Validate checks option ranges and provider credentials. Violations are
// fatal at startup.
func (c *Config) Validate() error {
	if !providerSupported(c.LLMProvider) {
		return fmt.Errorf("llm_provider must be one of %s, got %q",
			strings.Join(SupportedProviders, ", "), c.LLMProvider)
	}
	for _, fallback := range c.LLMFallbacks {
		if !providerSupported(fallback) {
			return fmt.Errorf("llm_fallbacks entry %q is not a supported provider", fallback)
		}
	}
	if c.LLMMaxTokens < 1 || c.LLMMaxTokens > 200000 {
		return fmt.Errorf("llm_max_tokens must be in [1,200000], got %d", c.LLMMaxTokens)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("llm_temperature must be in [0,2], got %v", c.LLMTemperature)
	}
	if c.MemoryCacheSize < 10 || c.MemoryCacheSize > 100000 {
		return fmt.Errorf("memory_cache_size must be in [10,100000], got %d", c.MemoryCacheSize)
	}
	if c.ToolTimeout < 1.0 || c.ToolTimeout > 300.0 {
		return fmt.Errorf("tool_timeout must be in [1.0,300.0], got %v", c.ToolTimeout)
	}
	if c.ToolMaxParallel < 1 || c.ToolMaxParallel > 10 {
		return fmt.Errorf("tool_max_parallel must be in [1,10], got %d", c.ToolMaxParallel)
	}
	if c.MaxToolIterations < 1 {
		return fmt.Errorf("max_tool_iterations must be positive, got %d", c.MaxToolIterations)
	}
	if c.ResponseReserveTokens >= c.MaxContextTokens {
		return fmt.Errorf("response_reserve_tokens (%d) must be below max_context_tokens (%d)",
			c.ResponseReserveTokens, c.MaxContextTokens)
	}
	if key := c.APIKeyFor(c.LLMProvider); key == "" {
		return fmt.Errorf("missing api key for provider %q", c.LLMProvider)
	}
	for _, fallback := range c.LLMFallbacks {
		if c.APIKeyFor(fallback) == "" {
			return fmt.Errorf("missing api key for fallback provider %q", fallback)
		}
	}
	return nil
}

// APIKeyFor returns the credential configured for a provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "dashscope":
		return c.DashScopeAPIKey
	default:
		return ""
	}
}

// ToolTimeoutDuration returns the tool timeout as a time.Duration.
func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout * float64(time.Second))
}

// AllowedPaths splits the comma-separated tool_allowed_paths option.
func (c *Config) AllowedPaths() []string {
	return splitList(c.ToolAllowedPaths)
}

// TTLFor returns the configured TTL for a memory type. Types without a
// configured TTL are immortal (zero duration).
func (c *Config) TTLFor(memoryType string) time.Duration {
	if c.MemoryTTL == nil {
		return 0
	}
	return c.MemoryTTL[memoryType]
}

func providerSupported(name string) bool {
	for _, p := range SupportedProviders {
		if p == name {
			return true
		}
	}
	return false
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPathList(paths string) string {
	parts := splitList(paths)
	for i, p := range parts {
		parts[i] = ExpandPath(p)
	}
	return strings.Join(parts, ",")
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
