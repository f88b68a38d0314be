package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quillagent/quill/internal/agent"
	"github.com/quillagent/quill/internal/config"
	"github.com/quillagent/quill/internal/llm"
	"github.com/quillagent/quill/internal/memory"
	"github.com/quillagent/quill/internal/tools"
	"github.com/quillagent/quill/internal/tools/shell"
	"github.com/quillagent/quill/internal/tools/web"
)

// runtime holds the wired core built from one config.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *memory.Store
	memory   *memory.Manager
	llm      *llm.Client
	registry *tools.Registry
	agent    *agent.Agent
}

func (r *runtime) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("closing memory store", "error", err)
		}
	}
}

// buildRuntime loads config and wires the full stack.
func buildRuntime(configPath string, debug bool) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel, debug)
	slog.SetDefault(logger)

	client, err := buildLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := memory.OpenStore(cfg.MemoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	manager, err := memory.NewManager(store, memory.ManagerConfig{
		CacheSize: cfg.MemoryCacheSize,
		Capacity:  cfg.MemoryCapacity,
		TTL:       cfg.MemoryTTL,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("memory manager: %w", err)
	}

	registry := tools.NewRegistry(tools.RegistryConfig{
		DefaultTimeout: cfg.ToolTimeoutDuration(),
		MaxParallel:    cfg.ToolMaxParallel,
	}, logger)
	if err := registry.Register(shell.New(cfg.ToolWorkDir)); err != nil {
		store.Close()
		return nil, fmt.Errorf("register shell tool: %w", err)
	}
	if err := registry.Register(web.New()); err != nil {
		store.Close()
		return nil, fmt.Errorf("register web tool: %w", err)
	}

	identity := agent.NewIdentityProvider(cfg.IdentityDir)
	assembler := agent.NewPromptAssembler(identity, manager, cfg.MaxContextTokens, cfg.ResponseReserveTokens, logger)

	ag := agent.New(client, manager, registry, assembler, agent.NewMonitor(), agent.Config{
		Model:             cfg.LLMModel,
		MaxTokens:         cfg.LLMMaxTokens,
		Temperature:       cfg.LLMTemperature,
		MaxToolIterations: cfg.MaxToolIterations,
		ToolTimeout:       cfg.ToolTimeoutDuration(),
	}, logger)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		memory:   manager,
		llm:      client,
		registry: registry,
		agent:    ag,
	}, nil
}

func buildLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.Client, error) {
	primary, err := buildProvider(cfg, cfg.LLMProvider)
	if err != nil {
		return nil, err
	}
	fallbacks := make([]llm.Provider, 0, len(cfg.LLMFallbacks))
	for _, name := range cfg.LLMFallbacks {
		p, err := buildProvider(cfg, name)
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, p)
	}
	return llm.NewClient(logger, primary, fallbacks...), nil
}

func buildProvider(cfg *config.Config, name string) (llm.Provider, error) {
	key := cfg.APIKeyFor(name)
	// The configured model applies to the primary; fallbacks run on
	// their own vendor defaults.
	model := ""
	if name == cfg.LLMProvider {
		model = cfg.LLMModel
	}
	switch name {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{APIKey: key, DefaultModel: model})
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: key, BaseURL: cfg.OpenAIBaseURL, DefaultModel: model})
	case "dashscope":
		return llm.NewDashScopeProvider(llm.DashScopeConfig{APIKey: key, DefaultModel: model})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func newLogger(level string, debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	} else {
		switch strings.ToLower(level) {
		case "debug":
			lvl = slog.LevelDebug
		case "warn", "warning":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
