package rerankclient

import (
	"context"
	"strings"
)

// mockTransport scores each passage by crude term overlap with the query,
// enough to exercise the pipeline's rerank stage deterministically in tests.
type mockTransport struct{}

func (m *mockTransport) rerank(ctx context.Context, query string, passages []string, topK int) ([]rawScore, error) {
	terms := strings.Fields(strings.ToLower(query))
	out := make([]rawScore, len(passages))
	for i, p := range passages {
		lowered := strings.ToLower(p)
		var score float64
		for _, t := range terms {
			score += float64(strings.Count(lowered, t))
		}
		out[i] = rawScore{Index: i, Score: score}
	}
	return out, nil
}
