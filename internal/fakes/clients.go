package fakes

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
)

// Embedder is a deterministic, hash-free fake: each text maps to a vector via
// a simple character-sum fill, good enough to exercise cosine ranking in
// tests without depending on a real embedding provider.
type Embedder struct {
	Dim     int
	Err     error
	EmbedFn func(text string) []float32
}

var _ domain.Embedder = (*Embedder)(nil)

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.EmbedFn != nil {
		return e.EmbedFn(text), nil
	}
	v := make([]float32, e.Dim)
	for i, r := range text {
		v[i%e.Dim] += float32(r % 97)
	}
	return v, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) Dimension() int { return e.Dim }

// Reranker is a fake cross-encoder: it scores each passage by a caller
// supplied function, defaulting to a constant so tests can toggle it off.
type Reranker struct {
	Err     error
	ScoreFn func(query, passage string) float64
}

var _ domain.Reranker = (*Reranker)(nil)

func (r *Reranker) Rerank(ctx context.Context, query string, passages []domain.RerankPair, k int) ([]domain.RerankScore, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	scoreFn := r.ScoreFn
	if scoreFn == nil {
		scoreFn = func(query, passage string) float64 { return 1 }
	}
	out := make([]domain.RerankScore, 0, len(passages))
	for _, p := range passages {
		out = append(out, domain.RerankScore{MemoryID: p.MemoryID, Score: scoreFn(query, p.Passage)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Summarizer is a fake context-prefix generator.
type Summarizer struct {
	Err    error
	Prefix string
}

var _ domain.Summarizer = (*Summarizer)(nil)

func (s *Summarizer) GenerateContextPrefix(ctx context.Context, chunk string, docContext string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.Prefix != "" {
		return s.Prefix, nil
	}
	return "context: " + docContext, nil
}

// ErrFakeUnavailable is a generic failure used to simulate a dependency
// being down in tests.
var ErrFakeUnavailable = errors.New("fake dependency unavailable")

// NewMemoryItem is a small test helper building a minimal valid MemoryItem.
func NewMemoryItem(userID, text string, tier domain.Tier) *domain.MemoryItem {
	return &domain.MemoryItem{
		MemoryID: uuid.New(),
		UserID:   userID,
		Tier:     tier,
		Status:   domain.StatusActive,
		Text:     text,
		Quality:  domain.Quality{Importance: 0.5, Confidence: 0.5},
	}
}
