package llm

// DashScope exposes an OpenAI-compatible chat-completions surface, so
// the adapter is the OpenAI provider pointed at Alibaba's endpoint.

const (
	dashScopeBaseURL      = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultDashScopeModel = "qwen-max"
)

// DashScopeConfig configures a DashScope provider. APIKey is required.
type DashScopeConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewDashScopeProvider builds a provider against the DashScope
// compatible-mode API.
func NewDashScopeProvider(cfg DashScopeConfig) (*OpenAIProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = dashScopeBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultDashScopeModel
	}
	return NewOpenAIProvider(OpenAIConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      baseURL,
		DefaultModel: model,
		name:         "dashscope",
	})
}
