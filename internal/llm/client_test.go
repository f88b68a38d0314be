package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/quillagent/quill/pkg/models"
)

type fakeProvider struct {
	name    string
	err     error
	resp    *ChatResponse
	calls   int
	healthy bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *models.StreamChunk, 1)
	ch <- models.DoneChunk()
	close(ch)
	return ch, nil
}

func (f *fakeProvider) CountTokens(messages []models.Message) int {
	return estimateMessageTokens(messages)
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error {
	if !f.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func TestChatFailoverToFallback(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", err: errors.New("dial tcp: connection refused")}
	fallback := &fakeProvider{name: "openai", resp: &ChatResponse{Content: "hello"}}
	client := NewClient(nil, primary, fallback)

	resp, err := client.Chat(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("expected one call each, got %d/%d", primary.calls, fallback.calls)
	}
}

func TestChatRateLimitAdvances(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", err: errors.New("429 rate limit exceeded")}
	fallback := &fakeProvider{name: "openai", resp: &ChatResponse{Content: "ok"}}
	client := NewClient(nil, primary, fallback)

	if _, err := client.Chat(context.Background(), &ChatRequest{}); err != nil {
		t.Fatalf("rate limit should fail over, got %v", err)
	}
}

func TestChatContextOverflowIsFatal(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", err: errors.New("prompt is too long: maximum context length exceeded")}
	fallback := &fakeProvider{name: "openai", resp: &ChatResponse{Content: "should not run"}}
	client := NewClient(nil, primary, fallback)

	_, err := client.Chat(context.Background(), &ChatRequest{})
	if !IsContextOverflow(err) {
		t.Fatalf("expected context overflow, got %v", err)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback should not be attempted on overflow, got %d calls", fallback.calls)
	}
}

func TestAllProvidersFailed(t *testing.T) {
	primary := &fakeProvider{name: "anthropic", err: errors.New("connection refused")}
	second := &fakeProvider{name: "openai", err: errors.New("500 internal server error")}
	client := NewClient(nil, primary, second)

	_, err := client.Chat(context.Background(), &ChatRequest{})
	var allFailed *AllProvidersFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if len(allFailed.Providers) != 2 || allFailed.Providers[0] != "anthropic" || allFailed.Providers[1] != "openai" {
		t.Errorf("attempt order not preserved: %v", allFailed.Providers)
	}
	if allFailed.Errors["anthropic"] == nil || allFailed.Errors["openai"] == nil {
		t.Errorf("per-provider errors missing: %v", allFailed.Errors)
	}
}

func TestChatCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewClient(nil, &fakeProvider{name: "anthropic", resp: &ChatResponse{}})

	if _, err := client.Chat(ctx, &ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHealthCheckAllProviders(t *testing.T) {
	client := NewClient(nil,
		&fakeProvider{name: "anthropic", healthy: true},
		&fakeProvider{name: "openai", healthy: false},
	)

	results := client.HealthCheck(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["anthropic"] != nil {
		t.Errorf("anthropic should be healthy: %v", results["anthropic"])
	}
	if results["openai"] == nil {
		t.Error("openai should be unhealthy")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"connection", errors.New("dial tcp 1.2.3.4:443: i/o timeout"), "llm_connection"},
		{"rate_limit", errors.New("HTTP 429 Too Many Requests"), "llm_rate_limit"},
		{"overflow", errors.New("this model's maximum context length is 8192 tokens"), "llm_context_overflow"},
		{"response", errors.New("invalid_request_error: model not found"), "llm_response"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			classified := classifyError("test", tc.err)
			coded, ok := classified.(interface{ Code() string })
			if !ok {
				t.Fatalf("classified error has no code: %T", classified)
			}
			if coded.Code() != tc.want {
				t.Errorf("expected code %s, got %s", tc.want, coded.Code())
			}
		})
	}
}

func TestProvidersOrder(t *testing.T) {
	client := NewClient(nil,
		&fakeProvider{name: "anthropic"},
		&fakeProvider{name: "openai"},
		&fakeProvider{name: "dashscope"},
	)
	got := client.Providers()
	want := []string{"anthropic", "openai", "dashscope"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("provider order %v, want %v", got, want)
		}
	}
	if client.Primary() != "anthropic" {
		t.Errorf("primary should be anthropic, got %s", client.Primary())
	}
}
