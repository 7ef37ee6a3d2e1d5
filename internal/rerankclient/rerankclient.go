// Package rerankclient implements domain.Reranker: a breaker-wrapped
// cross-encoder client selected by provider name, with an HTTP transport
// and a deterministic mock for tests.
package rerankclient

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/memkeep/memkeep/internal/breaker"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
)

const (
	ProviderCohere = "cohere"
	ProviderMock   = "mock"
)

type rawReranker interface {
	rerank(ctx context.Context, query string, passages []string, topK int) ([]rawScore, error)
}

type rawScore struct {
	Index int
	Score float64
}

// Client is the breaker-wrapped Reranker exposed to the pipeline.
type Client struct {
	raw      rawReranker
	breaker  *breaker.Breaker[[]domain.RerankScore]
	timeout  time.Duration
	maxChars int
	maxBatch int
}

var _ domain.Reranker = (*Client)(nil)

// New constructs a Client for provider ("cohere" or "mock").
func New(provider, apiKey string, timeouts config.Timeouts, caps config.Caps, breakerParams config.BreakerParams) (*Client, error) {
	var raw rawReranker
	switch provider {
	case ProviderCohere:
		if apiKey == "" {
			return nil, fmt.Errorf("RERANKER_API_KEY is required for the cohere reranker provider")
		}
		raw = &cohereTransport{apiKey: apiKey, httpClient: &http.Client{}}
	case ProviderMock:
		raw = &mockTransport{}
	default:
		return nil, fmt.Errorf("unknown reranker provider: %s (valid options: cohere, mock)", provider)
	}

	return &Client{
		raw:      raw,
		breaker:  breaker.New[[]domain.RerankScore]("reranker", breakerParams),
		timeout:  timeouts.RerankMs,
		maxChars: caps.RerankMaxChars,
		maxBatch: 1000,
	}, nil
}

// State exposes the underlying breaker state so the pipeline's stage 6 gate
// ("if the Reranker's breaker is closed") can check it without executing.
func (c *Client) State() breaker.State { return c.breaker.State() }

// Closed reports whether the reranker's breaker currently admits calls.
func (c *Client) Closed() bool { return c.breaker.Closed() }

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// Rerank scores each passage against query and returns the top k, descending
// by score. Each passage is truncated to the configured char cap; if the
// backend's max batch size would be exceeded the request is split and scores
// are merged.
func (c *Client) Rerank(ctx context.Context, query string, passages []domain.RerankPair, k int) ([]domain.RerankScore, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = truncate(p.Passage, c.maxChars)
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) ([]domain.RerankScore, error) {
		var all []rawScore
		for start := 0; start < len(texts); start += c.maxBatch {
			end := start + c.maxBatch
			if end > len(texts) {
				end = len(texts)
			}
			batch, err := c.raw.rerank(ctx, query, texts[start:end], k)
			if err != nil {
				return nil, err
			}
			for _, s := range batch {
				all = append(all, rawScore{Index: s.Index + start, Score: s.Score})
			}
		}

		out := make([]domain.RerankScore, len(all))
		for i, s := range all {
			out[i] = domain.RerankScore{MemoryID: passages[s.Index].MemoryID, Score: s.Score}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if k > 0 && len(out) > k {
			out = out[:k]
		}
		return out, nil
	})
}
