// Package embedclient implements domain.Embedder: a breaker-wrapped, cached
// dense-vector client selected by provider name, with an OpenAI HTTP
// transport and a deterministic mock for local development and tests.
package embedclient

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/breaker"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// rawEmbedder is the unwrapped transport, implemented by openaiTransport and
// mockTransport below.
type rawEmbedder interface {
	embed(ctx context.Context, text string) ([]float32, error)
	dimension() int
}

// Client is the breaker-wrapped, cached Embedder exposed to the rest of the
// module.
type Client struct {
	raw     rawEmbedder
	breaker *breaker.Breaker[[]float32]
	cache   *cache.TTLCache[[]float32]
	timeout time.Duration
}

var _ domain.Embedder = (*Client)(nil)

// New constructs a Client for provider ("openai" or "mock"). apiKey is
// required for every provider except mock.
func New(provider, apiKey string, timeouts config.Timeouts, breakerParams config.BreakerParams, cacheSize int, cacheTTL time.Duration) (*Client, error) {
	var raw rawEmbedder
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY is required for the openai embedding provider")
		}
		raw = &openaiTransport{apiKey: apiKey, httpClient: &http.Client{}}
	case ProviderMock:
		raw = newMockTransport(256)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock)", provider)
	}

	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Client{
		raw:     raw,
		breaker: breaker.New[[]float32]("embedder", breakerParams),
		cache:   cache.New[[]float32](cacheSize, cacheTTL),
		timeout: timeouts.EmbedMs,
	}, nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Embed returns a unit-normalized, dim-dimensional vector for text, serving
// from the LRU cache when present and enforcing the per-call deadline and
// breaker otherwise.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Keyer("embed", text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.breaker.Execute(ctx, func(ctx context.Context) ([]float32, error) {
		return c.raw.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	v = normalize(v)
	c.cache.Set(key, v)
	return v, nil
}

// EmbedBatch embeds each text independently, reusing the single-call cache
// and deadline per element.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, apperr.Internal("EmbedBatch", fmt.Sprintf("text %d", i), err)
		}
		out[i] = v
	}
	return out, nil
}

func (c *Client) Dimension() int {
	return c.raw.dimension()
}
