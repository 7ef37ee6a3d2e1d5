package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
	"github.com/memkeep/memkeep/internal/ghost"
	"github.com/memkeep/memkeep/internal/lexical"
	"github.com/stretchr/testify/require"
)

type testDeps struct {
	store  *fakes.RecordStore
	vector *fakes.VectorIndex
	lex    *lexical.Index
	embed  *fakes.Embedder
	rerank *fakes.Reranker
	ghosts *ghost.Registry
	pipe   *Pipeline
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	store := fakes.NewRecordStore()
	vector := fakes.NewVectorIndex(8)
	lex := lexical.New()
	embed := &fakes.Embedder{Dim: 8}
	rerank := &fakes.Reranker{}
	ghosts := ghost.New(store, 100, time.Hour)

	p := New(store, vector, lex, embed, rerank, ghosts,
		WithTimeouts(config.Timeouts{EmbedMs: time.Second, VectorQueryMs: time.Second, LexicalMs: time.Second, RerankMs: time.Second}),
	)
	return &testDeps{store: store, vector: vector, lex: lex, embed: embed, rerank: rerank, ghosts: ghosts, pipe: p}
}

func seedItem(t *testing.T, d *testDeps, userID, text string, tier domain.Tier, worked, failed, uses int) *domain.MemoryItem {
	t.Helper()
	ctx := context.Background()
	item := fakes.NewMemoryItem(userID, text, tier)
	item.Stats.WorkedCount = worked
	item.Stats.FailedCount = failed
	item.Stats.Uses = uses
	item.Stats.WilsonScore = wilsonForTest(worked, failed)
	item.Timestamps.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, d.store.Insert(ctx, item))

	vec, err := d.embed.Embed(ctx, text)
	require.NoError(t, err)
	require.NoError(t, d.vector.Upsert(ctx, item.MemoryID, vec, domain.VectorPayload{
		UserID: userID, Tier: tier, Status: domain.StatusActive,
	}))
	d.lex.IndexItem(ctx, *item)
	return item
}

// wilsonForTest avoids importing the wilson package's full math for a quick
// approximation sufficient to order candidates in these fixtures.
func wilsonForTest(worked, failed int) float64 {
	n := worked + failed
	if n == 0 {
		return 0.5
	}
	phat := float64(worked) / float64(n)
	return phat - 0.2 // crude conservative shrinkage, fine for ordering tests
}

func TestColdStartWithNoItems(t *testing.T) {
	d := newTestDeps(t)
	out, err := d.pipe.Run(context.Background(), Request{UserID: "u1", Query: "what should I do?", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, out.Results)
	require.Equal(t, domain.ConfidenceLow, out.Confidence)
	require.Contains(t, out.Debug.FallbacksUsed, "cold_start")
}

func TestProvenPatternRanksAboveFailingItem(t *testing.T) {
	d := newTestDeps(t)
	const query = "best way to iterate?"
	const text1 = "Use index-based loops"
	const text2 = "Use mutation inside map"
	// Deterministic vectors: i2's raw embedding similarity to the query is
	// HIGHER than i1's, so ranking [i1, i2] can only come from the
	// learned-weight blend, not from embedding similarity alone.
	d.embed.EmbedFn = func(text string) []float32 {
		switch text {
		case query:
			return []float32{1, 0, 0, 0, 0, 0, 0, 0}
		case text1:
			return []float32{0.5, 0.5, 0, 0, 0, 0, 0, 0}
		case text2:
			return []float32{0.9, 0.1, 0, 0, 0, 0, 0, 0}
		default:
			return []float32{0, 0, 0, 0, 0, 0, 0, 0}
		}
	}

	i1 := seedItem(t, d, "u1", text1, domain.TierPatterns, 5, 0, 5)
	i2 := seedItem(t, d, "u1", text2, domain.TierWorking, 0, 2, 2)

	out, err := d.pipe.Run(context.Background(), Request{UserID: "u1", Query: query, Limit: 10})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	require.Equal(t, i1.MemoryID, out.Results[0].MemoryID)
	require.Equal(t, i2.MemoryID, out.Results[1].MemoryID)
	// patterns-tier, high uses+wilson candidate should weight heavily learned.
	require.InDelta(t, 0.20, out.Results[0].ScoreSummary.EmbeddingWeight, 1e-9)
	require.InDelta(t, 0.80, out.Results[0].ScoreSummary.LearnedWeight, 1e-9)
}

func TestRerankerDownFallsBackAndDowngradesOneStep(t *testing.T) {
	d := newTestDeps(t)
	seedItem(t, d, "u1", "alpha beta gamma delta", domain.TierWorking, 5, 0, 5)
	seedItem(t, d, "u1", "alpha beta gamma epsilon", domain.TierWorking, 5, 0, 5)

	reranked, err := d.pipe.Run(context.Background(), Request{UserID: "u1", Query: "alpha beta gamma", Limit: 10})
	require.NoError(t, err)

	d.rerank.Err = fakes.ErrFakeUnavailable

	out, err := d.pipe.Run(context.Background(), Request{UserID: "u1", Query: "alpha beta gamma", Limit: 10})
	require.NoError(t, err)
	require.Contains(t, out.Debug.FallbacksUsed, "rerank_skipped")
	require.Equal(t, reranked.Confidence.Step(-1), out.Confidence)
}

func TestGhostedItemExcludedAndRestoreBringsItBack(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	i1 := seedItem(t, d, "u1", "ghost candidate text", domain.TierWorking, 3, 0, 3)
	seedItem(t, d, "u1", "ghost candidate other", domain.TierWorking, 3, 0, 3)

	require.NoError(t, d.ghosts.Ghost(ctx, "u1", i1.MemoryID, domain.TierWorking))
	out, err := d.pipe.Run(ctx, Request{UserID: "u1", Query: "ghost candidate", Limit: 10})
	require.NoError(t, err)
	for _, r := range out.Results {
		require.NotEqual(t, i1.MemoryID, r.MemoryID)
	}

	require.NoError(t, d.ghosts.Restore(ctx, "u1", i1.MemoryID))
	out2, err := d.pipe.Run(ctx, Request{UserID: "u1", Query: "ghost candidate", Limit: 10})
	require.NoError(t, err)
	var found bool
	for _, r := range out2.Results {
		if r.MemoryID == i1.MemoryID {
			found = true
		}
	}
	require.True(t, found)
}

func TestVectorSchemaMismatchFallsBackToLexicalOnly(t *testing.T) {
	d := newTestDeps(t)
	seedItem(t, d, "u1", "lexical only candidate words", domain.TierWorking, 2, 0, 2)
	d.embed.Err = fakes.ErrFakeUnavailable

	out, err := d.pipe.Run(context.Background(), Request{UserID: "u1", Query: "lexical only candidate", Limit: 10})
	require.NoError(t, err)
	require.Contains(t, out.Debug.FallbacksUsed, "no_vector")
	require.NotEmpty(t, out.Results)
}

func TestDynamicWeightsSumToOne(t *testing.T) {
	d := newTestDeps(t)
	seedItem(t, d, "u1", "sum to one candidate text", domain.TierDocuments, 0, 0, 0)
	seedItem(t, d, "u1", "sum to one other candidate", domain.TierMemoryBank, 0, 0, 0)

	out, err := d.pipe.Run(context.Background(), Request{UserID: "u1", Query: "sum to one candidate", Limit: 10})
	require.NoError(t, err)
	for _, r := range out.Results {
		total := r.ScoreSummary.EmbeddingWeight + r.ScoreSummary.LearnedWeight
		require.InDelta(t, 1.0, total, 1e-9)
	}
}

func TestRRFDynamicKBands(t *testing.T) {
	w := config.LoadWeights()
	require.Equal(t, w.RRFKShort, rrfK(1, false, w))
	require.Equal(t, w.RRFKShort, rrfK(5, false, w))
	require.Equal(t, w.RRFKDefault, rrfK(110, false, w))
	require.Equal(t, 30, rrfK(13, true, w))
}
