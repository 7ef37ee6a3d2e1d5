package reindex

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newReindexer(store domain.RecordStore, vec domain.VectorIndex, embed domain.Embedder) *Reindexer {
	cfg := config.ReindexConfig{BatchSize: 10, Concurrency: 2}
	return New(store, vec, embed, cfg, zap.NewNop())
}

func waitForCompletion(t *testing.T, r *Reindexer, timeout time.Duration) Progress {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p := r.GetProgress()
		if !p.Running {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reindex job did not complete in time")
	return Progress{}
}

func TestRebuildReembedsAllActiveItems(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	for i := 0; i < 5; i++ {
		item := fakes.NewMemoryItem("u1", "some memory content", domain.TierWorking)
		require.NoError(t, store.Insert(ctx, item))
	}

	r := newReindexer(store, vec, embed)
	_, err := r.Rebuild(ctx, RebuildOptions{UserID: "u1"})
	require.NoError(t, err)

	p := waitForCompletion(t, r, 2*time.Second)
	require.Equal(t, 5, p.Processed)
	require.Equal(t, 0, p.Errors)

	ids, _, err := vec.Scroll(ctx, "u1", 100, nil)
	require.NoError(t, err)
	require.Len(t, ids, 5)
}

func TestRebuildRefusesConcurrentJob(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}
	r := newReindexer(store, vec, embed)

	r.mu.Lock()
	r.cur = &job{id: uuid.New(), progress: Progress{Running: true}}
	r.mu.Unlock()

	_, err := r.Rebuild(ctx, RebuildOptions{UserID: "u1"})
	require.Error(t, err)
}

func TestReindexDeferredOnlyProcessesFlaggedItems(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	flagged := fakes.NewMemoryItem("u1", "needs reindex", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, flagged))
	require.NoError(t, store.MarkForReindex(ctx, flagged.MemoryID, "content changed"))

	unflagged := fakes.NewMemoryItem("u1", "fine as-is", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, unflagged))

	r := newReindexer(store, vec, embed)
	stats, err := r.ReindexDeferred(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Scanned)
	require.Equal(t, 1, stats.Sanitized)

	cur, err := store.GetByID(ctx, flagged.MemoryID, "u1")
	require.NoError(t, err)
	require.False(t, cur.NeedsReindex)
}

func TestSanitizeCorruptedContentStripsAndBacksUp(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	corrupted := strings.Repeat("QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo", 4)
	item := fakes.NewMemoryItem("u1", "note: "+corrupted+" end of note", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))

	r := newReindexer(store, vec, embed)

	counted, err := r.CountCorruptedContent(ctx, SanitizeOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 1, counted.Corrupted)

	stats, err := r.SanitizeCorruptedContent(ctx, SanitizeOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sanitized)

	cur, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.True(t, cur.NeedsReindex)
	require.Equal(t, item.Text, cur.RawTextBackup)
	require.NotContains(t, cur.Text, "QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo")
}

func TestSanitizeDryRunDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	vec := fakes.NewVectorIndex(8)
	embed := &fakes.Embedder{Dim: 8}

	corrupted := strings.Repeat("QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo", 4)
	item := fakes.NewMemoryItem("u1", corrupted, domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))

	r := newReindexer(store, vec, embed)
	stats, err := r.SanitizeCorruptedContent(ctx, SanitizeOptions{UserID: "u1", DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Corrupted)
	require.Equal(t, 0, stats.Sanitized)

	cur, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, corrupted, cur.Text)
	require.False(t, cur.NeedsReindex)
}
