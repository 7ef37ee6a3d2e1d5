// Package summarizeclient implements domain.Summarizer: short contextual
// prefixes for document chunks, breaker-wrapped and negative-cached, with
// an Anthropic HTTP transport and a deterministic mock for tests.
package summarizeclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/memkeep/memkeep/internal/breaker"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

type rawSummarizer interface {
	summarize(ctx context.Context, chunk, docContext string) (string, error)
}

// Client is the breaker-wrapped, negative-cached Summarizer.
type Client struct {
	raw     rawSummarizer
	breaker *breaker.Breaker[string]
	cache   *cache.TTLCache[string]
	timeout time.Duration
}

var _ domain.Summarizer = (*Client)(nil)

// New constructs a Client for provider ("anthropic" or "mock").
func New(provider, apiKey string, timeouts config.Timeouts, breakerParams config.BreakerParams, cacheSize int, cacheTTL time.Duration) (*Client, error) {
	var raw rawSummarizer
	switch provider {
	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("SUMMARIZER_API_KEY is required for the anthropic summarizer provider")
		}
		raw = &anthropicTransport{apiKey: apiKey, httpClient: &http.Client{}}
	case ProviderMock:
		raw = &mockTransport{}
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %s (valid options: anthropic, mock)", provider)
	}

	return &Client{
		raw:     raw,
		breaker: breaker.New[string]("summarizer", breakerParams),
		cache:   cache.New[string](cacheSize, cacheTTL),
		timeout: timeouts.SummarizerMs,
	}, nil
}

// GenerateContextPrefix returns a short contextual prefix for chunk within
// docContext. On breaker-open or any failure it returns "" rather than an
// error;
// that empty result is still cached so repeated calls for the same chunk
// don't re-pay the breaker-open cost.
func (c *Client) GenerateContextPrefix(ctx context.Context, chunk string, docContext string) (string, error) {
	key := cache.Keyer("summarize", chunk, docContext)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prefix, err := c.breaker.Execute(ctx, func(ctx context.Context) (string, error) {
		return c.raw.summarize(ctx, chunk, docContext)
	})
	if err != nil {
		c.cache.Set(key, "")
		return "", nil
	}

	c.cache.Set(key, prefix)
	return prefix, nil
}
