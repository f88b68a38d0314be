package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quillagent/quill/pkg/models"
)

// Client fronts a primary provider and an ordered list of fallbacks.
// A request is tried against each provider in order until one succeeds;
// context overflow aborts immediately since no provider can absorb an
// oversized prompt.
type Client struct {
	providers []Provider
	logger    *slog.Logger
}

// NewClient builds a failover client. The first provider is the
// primary; the rest are fallbacks in priority order.
func NewClient(logger *slog.Logger, primary Provider, fallbacks ...Provider) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	providers := make([]Provider, 0, 1+len(fallbacks))
	providers = append(providers, primary)
	providers = append(providers, fallbacks...)
	return &Client{providers: providers, logger: logger}
}

// Providers returns the provider names in failover order.
func (c *Client) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Primary returns the primary provider's name.
func (c *Client) Primary() string {
	return c.providers[0].Name()
}

// Chat runs a blocking completion with failover.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := c.withFailover(ctx, func(p Provider) error {
		var callErr error
		resp, callErr = p.Chat(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream runs a streaming completion with failover. Failover applies
// only to stream establishment; once chunks are flowing, mid-stream
// errors surface to the caller as error chunks.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error) {
	var chunks <-chan *models.StreamChunk
	err := c.withFailover(ctx, func(p Provider) error {
		var callErr error
		chunks, callErr = p.Stream(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// CountTokens delegates to the primary provider's estimator.
func (c *Client) CountTokens(messages []models.Message) int {
	return c.providers[0].CountTokens(messages)
}

// HealthCheck probes every provider concurrently and returns a map of
// provider name to probe error (nil for healthy).
func (c *Client) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(c.providers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range c.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			err := p.HealthCheck(ctx)
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return results
}

// withFailover tries op against each provider in order. Recoverable
// failures (connection, rate limit, bad response) advance to the next
// provider; context overflow and context cancellation abort.
func (c *Client) withFailover(ctx context.Context, op func(Provider) error) error {
	attempted := make([]string, 0, len(c.providers))
	failures := make(map[string]error, len(c.providers))

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempted = append(attempted, p.Name())
		err := op(p)
		if err == nil {
			return nil
		}

		classified := classifyError(p.Name(), err)
		if IsContextOverflow(classified) {
			return classified
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures[p.Name()] = classified
		c.logger.Warn("llm provider failed, trying next",
			"provider", p.Name(),
			"error", classified,
		)
	}

	return &AllProvidersFailedError{Providers: attempted, Errors: failures}
}
