package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChecker(store domain.RecordStore, vec domain.VectorIndex, embed domain.Embedder) *Checker {
	cfg := config.ConsistencyConfig{SampleSize: 200}
	return New(store, vec, embed, cfg, zap.NewNop())
}

func TestSweepRepairsMissingVector(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	item := fakes.NewMemoryItem("u1", "check the migration order", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))

	c := newChecker(store, vec, embed)
	res, err := c.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Repaired)

	hits, err := vec.Search(ctx, domain.VectorSearchQuery{UserID: "u1", Vector: make([]float32, 8), Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, item.MemoryID, hits[0].MemoryID)
}

func TestSweepDeletesOrphanVector(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	orphan := fakes.NewMemoryItem("u1", "ghost text", domain.TierWorking)
	require.NoError(t, vec.Upsert(ctx, orphan.MemoryID, make([]float32, 8),
		domain.VectorPayload{UserID: "u1", Tier: domain.TierWorking, Status: domain.StatusActive}))

	known := fakes.NewMemoryItem("u1", "kept", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, known))

	c := newChecker(store, vec, embed)
	res, err := c.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)

	ids, _, err := vec.Scroll(ctx, "u1", 100, nil)
	require.NoError(t, err)
	for _, id := range ids {
		require.NotEqual(t, orphan.MemoryID, id)
	}
}

func TestSweepWithDryRunReportsWithoutRepairing(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	item := fakes.NewMemoryItem("u1", "missing from the vector index", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))

	c := newChecker(store, vec, embed)
	res, err := c.SweepWith(ctx, Options{UserID: "u1", DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.Repaired)

	ids, _, err := vec.Scroll(ctx, "u1", 100, nil)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestSweepIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}
	c := newChecker(store, vec, embed)

	c.running.Lock()
	res, err := c.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
	c.running.Unlock()
}

func TestStartStopIsClean(t *testing.T) {
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}
	cfg := config.ConsistencyConfig{SampleSize: 200, WarmUp: 0, SweepEvery: time.Hour}
	c := New(store, vec, embed, cfg, zap.NewNop())
	c.Start()
	c.Stop()
}
