package facade

import (
	"context"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/assembler"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/consistency"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
	"github.com/memkeep/memkeep/internal/ghost"
	"github.com/memkeep/memkeep/internal/itemlock"
	"github.com/memkeep/memkeep/internal/lexical"
	"github.com/memkeep/memkeep/internal/outcome"
	"github.com/memkeep/memkeep/internal/pipeline"
	"github.com/memkeep/memkeep/internal/promote"
	"github.com/memkeep/memkeep/internal/reindex"
	"github.com/stretchr/testify/require"
)

// newTestFacade wires a Facade entirely from in-memory fakes, bypassing New
// (which requires a live *pgxpool.Pool). It lives in this package so it can
// reach Facade's unexported fields directly.
func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	rs := fakes.NewRecordStore()
	vi := fakes.NewVectorIndex(8)
	lex := lexical.New()
	embed := &fakes.Embedder{Dim: 8}
	ghosts := ghost.New(rs, 100, time.Hour)
	locks := itemlock.New()

	pipe := pipeline.New(rs, vi, lex, embed, nil, ghosts,
		pipeline.WithTimeouts(config.Timeouts{EmbedMs: time.Second, VectorQueryMs: time.Second, LexicalMs: time.Second, RerankMs: time.Second}),
	)
	rec := outcome.New(rs, lex, locks, config.LoadOutcomeDeltas(), time.Hour, nil)
	prom := promote.New(rs, locks, config.LoadPromotionConfig(), nil)
	check := consistency.New(rs, vi, embed, config.LoadConsistencyConfig(), nil)
	reidx := reindex.New(rs, vi, embed, config.LoadReindexConfig(), nil)

	return &Facade{
		store: rs, vector: vi, lexical: lex, embedder: embed, ghosts: ghosts, locks: locks,
		pipe: pipe, asm: assembler.New(), rec: rec, prom: prom, check: check, reidx: reidx,
		caps: config.LoadCaps(), coldStart: config.LoadColdStart(), recency: config.LoadRecency(),
	}
}

func TestFacadeStoreThenSearchFindsItem(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.Store(ctx, StoreInput{UserID: "u1", Tier: domain.TierWorking, Text: "remember the deploy checklist", Importance: 0.6, Confidence: 0.6})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	out, err := f.Search(ctx, "u1", "deploy checklist", nil, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	require.Equal(t, id, out.Results[0].MemoryID)
}

func TestFacadePrefetchContextRendersInjection(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Store(ctx, StoreInput{UserID: "u1", Tier: domain.TierPatterns, Text: "Use index-based loops", Importance: 0.8, Confidence: 0.8})
	require.NoError(t, err)

	res, err := f.PrefetchContext(ctx, "u1", "index-based loops", nil, false, 10)
	require.NoError(t, err)
	require.NotEmpty(t, res.InjectionText)
}

func TestFacadeGhostRoundTrip(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.Store(ctx, StoreInput{UserID: "u1", Tier: domain.TierWorking, Text: "ghost me", Importance: 0.5, Confidence: 0.5})
	require.NoError(t, err)

	require.NoError(t, f.GhostMemory(ctx, "u1", id, domain.TierWorking))
	ghosted, err := f.IsMemoryGhosted(ctx, "u1", id)
	require.NoError(t, err)
	require.True(t, ghosted)

	require.NoError(t, f.RestoreMemory(ctx, "u1", id))
	ghosted, err = f.IsMemoryGhosted(ctx, "u1", id)
	require.NoError(t, err)
	require.False(t, ghosted)
}

func TestFacadeExportImportBackupRoundTrip(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Store(ctx, StoreInput{UserID: "u1", Tier: domain.TierWorking, Text: "backup me", Importance: 0.5, Confidence: 0.5})
	require.NoError(t, err)

	exp, err := f.ExportBackup(ctx, ExportBackupInput{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, BackupVersion, exp.Payload.Version)

	imp, err := f.ImportBackup(ctx, ImportBackupInput{UserID: "u2", Payload: exp.Payload, MergeStrategy: MergeReplace})
	require.NoError(t, err)
	require.Equal(t, 1, imp.Inserted)

	stats, err := f.GetStats(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalItems)
}

func TestFacadeUpdateMemoryFlagsReindex(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.Store(ctx, StoreInput{UserID: "u1", Tier: domain.TierWorking, Text: "original text", Importance: 0.5, Confidence: 0.5})
	require.NoError(t, err)

	updated, err := f.UpdateMemory(ctx, "u1", id, "rewritten text", []string{"edited"})
	require.NoError(t, err)
	require.True(t, updated.NeedsReindex)
	require.Equal(t, "rewritten text", updated.Text)

	_, err = f.UpdateMemory(ctx, "u2", id, "x", nil)
	require.Error(t, err)
}

func TestFacadeImportBackupRejectsWrongVersion(t *testing.T) {
	f := newTestFacade(t)
	_, err := f.ImportBackup(context.Background(), ImportBackupInput{
		UserID:  "u1",
		Payload: BackupPayload{Version: "1.0", Meta: map[string]string{"format": backupFormat}},
	})
	require.Error(t, err)
}
