// Package facade is the single entry point that wires every component
// together (RecordStore, VectorIndex, LexicalIndex, Embedder, Reranker,
// Summarizer, GhostRegistry, Pipeline, Assembler, OutcomeRecorder, Promoter,
// ConsistencyChecker, Reindexer) and exposes the engine's external
// operations as plain Go methods an HTTP layer (or anything else) can call.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/assembler"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/consistency"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/embedclient"
	"github.com/memkeep/memkeep/internal/ghost"
	"github.com/memkeep/memkeep/internal/itemlock"
	"github.com/memkeep/memkeep/internal/lexical"
	"github.com/memkeep/memkeep/internal/outcome"
	"github.com/memkeep/memkeep/internal/pipeline"
	"github.com/memkeep/memkeep/internal/promote"
	"github.com/memkeep/memkeep/internal/reindex"
	"github.com/memkeep/memkeep/internal/rerankclient"
	"github.com/memkeep/memkeep/internal/store"
	"github.com/memkeep/memkeep/internal/summarizeclient"
	"go.uber.org/zap"
)

// Facade is the engine's single public surface. It owns every component and
// the lifecycle of the background workers (Promoter, ConsistencyChecker).
type Facade struct {
	store      domain.RecordStore
	vector     domain.VectorIndex
	lexical    domain.LexicalIndex
	embedder   domain.Embedder
	reranker   domain.Reranker
	summarizer domain.Summarizer
	ghosts     domain.GhostRegistry
	locks      *itemlock.Set

	pipe  *pipeline.Pipeline
	asm   *assembler.Assembler
	rec   *outcome.Recorder
	prom  *promote.Promoter
	check *consistency.Checker
	reidx *reindex.Reindexer

	caps      config.Caps
	coldStart config.ColdStart
	recency   config.Recency
	logger    *zap.Logger
}

// New wires every component from a live database pool.
// Embedder/Reranker/Summarizer providers are selected from config; a
// reranker or summarizer construction error is logged and that stage
// degrades to its documented fallback rather than failing startup.
func New(pool *pgxpool.Pool, logger *zap.Logger) (*Facade, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeouts := config.LoadTimeouts()
	caps := config.LoadCaps()
	weights := config.LoadWeights()

	recordStore := store.NewRecordStore(pool)

	embedder, err := embedclient.New(
		config.EmbeddingProvider(), config.EmbeddingAPIKey(),
		timeouts, config.LoadBreakerParams("embedder"), 4096, 10*time.Minute,
	)
	if err != nil {
		return nil, fmt.Errorf("facade: embedder: %w", err)
	}

	vectorIndex := store.NewVectorIndex(pool, embedder.Dimension())

	svv := config.LoadVectorSchemaValidation()
	if svv.Enabled && svv.ValidateOnStartup {
		if err := vectorIndex.EnsureSchema(context.Background(), embedder.Dimension(), "cosine"); err != nil {
			if svv.OnMismatch == string(domain.OnMismatchThrow) {
				return nil, fmt.Errorf("facade: vector schema: %w", err)
			}
			logger.Warn("vector schema mismatch at startup, disabling vector stage", zap.Error(err))
		}
	}

	lexicalIndex := lexical.New()

	reranker, err := rerankclient.New(
		config.RerankerProvider(), config.RerankerAPIKey(),
		timeouts, caps, config.LoadBreakerParams("reranker"),
	)
	if err != nil {
		logger.Warn("reranker initialization failed, CE rerank stage will be skipped", zap.Error(err))
		reranker = nil
	}

	summarizer, err := summarizeclient.New(
		config.SummarizerProvider(), config.SummarizerAPIKey(),
		timeouts, config.LoadBreakerParams("summarizer"), 1024, time.Hour,
	)
	if err != nil {
		logger.Warn("summarizer initialization failed, document context prefixes will be skipped", zap.Error(err))
		summarizer = nil
	}

	ghosts := ghost.New(recordStore, 10000, 24*time.Hour)
	locks := itemlock.New()

	pipe := pipeline.New(recordStore, vectorIndex, lexicalIndex, embedder, reranker, ghosts,
		pipeline.WithCaps(caps),
		pipeline.WithWeights(weights),
		pipeline.WithTimeouts(timeouts),
		pipeline.WithLogger(logger),
	)
	asm := assembler.New()
	rec := outcome.New(recordStore, lexicalIndex, locks, config.LoadOutcomeDeltas(), 90*24*time.Hour, logger)
	prom := promote.New(recordStore, locks, config.LoadPromotionConfig(), logger)
	check := consistency.New(recordStore, vectorIndex, embedder, config.LoadConsistencyConfig(), logger)
	reidx := reindex.New(recordStore, vectorIndex, embedder, config.LoadReindexConfig(), logger)

	f := &Facade{
		store: recordStore, vector: vectorIndex, lexical: lexicalIndex,
		embedder: embedder, reranker: asDomainReranker(reranker), summarizer: asDomainSummarizer(summarizer),
		ghosts: ghosts, locks: locks,
		pipe: pipe, asm: asm, rec: rec, prom: prom, check: check, reidx: reidx,
		caps: caps, coldStart: config.LoadColdStart(), recency: config.LoadRecency(),
		logger: logger,
	}
	return f, nil
}

// asDomainReranker tolerates a nil *rerankclient.Client without every caller
// needing a typed-nil check (a nil pointer behind a non-nil interface would
// otherwise compare non-nil).
func asDomainReranker(c *rerankclient.Client) domain.Reranker {
	if c == nil {
		return nil
	}
	return c
}

func asDomainSummarizer(c *summarizeclient.Client) domain.Summarizer {
	if c == nil {
		return nil
	}
	return c
}

// Start launches the background Promoter and ConsistencyChecker loops.
func (f *Facade) Start() {
	f.prom.Start()
	f.check.Start()
}

// Stop halts the background loops.
func (f *Facade) Stop() {
	f.prom.Stop()
	f.check.Stop()
}

// PrefetchResult is prefetchContext's return shape.
type PrefetchResult struct {
	InjectionText string
	Confidence    domain.Confidence
	Debug         domain.Debug
}

// PrefetchContext runs the retrieval pipeline for a conversation turn and
// renders the result through the assembler into an injection block.
func (f *Facade) PrefetchContext(ctx context.Context, userID, query string, recentMessages []string, hasDocuments bool, limit int) (PrefetchResult, error) {
	if userID == "" {
		return PrefetchResult{}, apperr.InvalidInput("Facade.prefetchContext", "user is required")
	}
	// The limit is passed through: for zero the pipeline's query
	// understanding stage picks the target from the query shape, and a
	// negative limit is rejected by the pipeline as invalid input.
	ctx, cancel := context.WithTimeout(ctx, config.LoadTimeouts().PrefetchMs)
	defer cancel()

	out, err := f.pipe.Run(ctx, pipeline.Request{
		UserID: userID, Query: query, RecentMessages: recentMessages,
		HasDocuments: hasDocuments, Limit: limit,
	})
	if err != nil {
		return PrefetchResult{}, err
	}

	recent, _ := f.store.RecentOutcomes(ctx, userID, 50)
	rendered := f.asm.Assemble(assembler.Request{
		Outcome: out, Query: query, RecentMessages: recentMessages, RecentOutcomes: recent,
	})

	text := rendered.InjectionText
	if text == "" && len(out.Results) == 0 && (f.coldStart.Header != "" || f.coldStart.Footer != "") {
		text = f.coldStart.Header + f.coldStart.Footer
	}
	return PrefetchResult{InjectionText: text, Confidence: rendered.Confidence, Debug: out.Debug}, nil
}

// SearchResult is search's return shape.
type SearchResult struct {
	Results []domain.RankedResult
	Debug   domain.Debug
}

// SortBy enumerates search's sort modes.
type SortBy string

const (
	SortByRelevance SortBy = "relevance"
	SortByRecency   SortBy = "recency"
	SortByScore     SortBy = "score"
)

// Search runs the retrieval pipeline for an explicit query and applies the
// requested sort order.
func (f *Facade) Search(ctx context.Context, userID, query string, tiers []domain.Tier, sortBy SortBy, limit int) (SearchResult, error) {
	if userID == "" {
		return SearchResult{}, apperr.InvalidInput("Facade.search", "user is required")
	}
	if limit > f.caps.SearchLimitMax {
		limit = f.caps.SearchLimitDefault
	}
	if sortBy == "" {
		sortBy = SortBy(f.recency.DefaultSortBy)
	}
	ctx, cancel := context.WithTimeout(ctx, config.LoadTimeouts().EndToEndSearch)
	defer cancel()

	out, err := f.pipe.Run(ctx, pipeline.Request{UserID: userID, Query: query, Tiers: tiers, Limit: limit})
	if err != nil {
		return SearchResult{}, err
	}

	results := out.Results
	switch sortBy {
	case SortByRecency:
		sortResultsByRecency(results)
	case SortByScore:
		sortResultsByScore(results)
	}
	return SearchResult{Results: results, Debug: out.Debug}, nil
}

func sortResultsByScore(r []domain.RankedResult) {
	sortSlice(r, func(i, j int) bool { return r[i].ScoreSummary.FinalScore > r[j].ScoreSummary.FinalScore })
}

func sortResultsByRecency(r []domain.RankedResult) {
	sortSlice(r, func(i, j int) bool { return r[i].ScoreSummary.AgeSeconds < r[j].ScoreSummary.AgeSeconds })
}

// sortSlice is a tiny indirection so the two sort helpers above read as
// intent, not an inlined sort.Slice each.
func sortSlice(r []domain.RankedResult, less func(i, j int) bool) {
	n := len(r)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

// StoreInput is store's argument set.
type StoreInput struct {
	UserID       string
	Tier         domain.Tier
	Text         string
	Tags         []string
	Importance   float64
	Confidence   float64
	AlwaysInject bool
	Source       domain.Source
}

// Store inserts a MemoryItem and indexes it for retrieval (vector +
// lexical), matching the pipeline's own seeding expectations.
func (f *Facade) Store(ctx context.Context, in StoreInput) (uuid.UUID, error) {
	if in.UserID == "" {
		return uuid.Nil, apperr.InvalidInput("Facade.store", "user is required")
	}
	if !domain.ValidTier(string(in.Tier)) {
		return uuid.Nil, apperr.InvalidInput("Facade.store", "invalid tier")
	}
	now := time.Now()
	item := &domain.MemoryItem{
		MemoryID:     uuid.New(),
		UserID:       in.UserID,
		Tier:         in.Tier,
		Status:       domain.StatusActive,
		Text:         in.Text,
		Tags:         in.Tags,
		Source:       in.Source,
		Quality:      domain.Quality{Importance: in.Importance, Confidence: in.Confidence},
		Timestamps:   domain.Timestamps{CreatedAt: now, UpdatedAt: now},
		AlwaysInject: in.AlwaysInject,
	}
	item.Entities = domain.TruncateEntities(extractEntitiesForStore(in.Text))

	if err := f.store.Insert(ctx, item); err != nil {
		return uuid.Nil, err
	}

	if vec, err := f.embedder.Embed(ctx, in.Text); err == nil {
		if err := f.vector.Upsert(ctx, item.MemoryID, vec, domain.VectorPayload{
			UserID: in.UserID, Tier: in.Tier, Status: domain.StatusActive, Tags: in.Tags, Entities: item.Entities,
		}); err == nil {
			_ = f.store.ClearReindex(ctx, item.MemoryID, cache.Keyer(in.Text), time.Now())
		}
	} else {
		_ = f.store.MarkForReindex(ctx, item.MemoryID, "embed_failed_at_store")
	}
	f.lexical.IndexItem(ctx, *item)

	return item.MemoryID, nil
}

// extractEntitiesForStore does a minimal capitalized-word pull, the same
// shape pipeline.extractEntities uses for query entities, kept local since
// store-time extraction runs once per item rather than per query.
func extractEntitiesForStore(text string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 1 {
			out = append(out, string(cur))
		}
		cur = cur[:0]
	}
	for _, r := range text {
		if r >= 'A' && r <= 'Z' || (len(cur) > 0 && r >= 'a' && r <= 'z') {
			cur = append(cur, r)
			continue
		}
		flush()
	}
	flush()
	return out
}

// RecordFeedback applies a coarse {-1,0,1} feedback score to one memory.
func (f *Facade) RecordFeedback(ctx context.Context, userID string, memoryID uuid.UUID, score int) (*domain.MemoryItem, error) {
	return f.rec.RecordFeedback(ctx, userID, memoryID, score)
}

// RecordOutcome applies an outcome to every related memory.
func (f *Facade) RecordOutcome(ctx context.Context, userID string, o domain.OutcomeType, related []uuid.UUID) ([]domain.MemoryItem, []error) {
	return f.rec.RecordOutcome(ctx, userID, o, related)
}

// RecordResponse captures a response takeaway as a history-tier memory.
func (f *Facade) RecordResponse(ctx context.Context, userID, keyTakeaway string, o *domain.OutcomeType, related []uuid.UUID) (*domain.MemoryItem, error) {
	return f.rec.RecordResponse(ctx, userID, keyTakeaway, o, related)
}

// GhostMemory hides a memory from retrieval without mutating its record.
func (f *Facade) GhostMemory(ctx context.Context, userID string, memoryID uuid.UUID, tier domain.Tier) error {
	return f.ghosts.Ghost(ctx, userID, memoryID, tier)
}

// RestoreMemory lifts a previous ghosting.
func (f *Facade) RestoreMemory(ctx context.Context, userID string, memoryID uuid.UUID) error {
	return f.ghosts.Restore(ctx, userID, memoryID)
}

// IsMemoryGhosted reports whether a memory is currently ghosted.
func (f *Facade) IsMemoryGhosted(ctx context.Context, userID string, memoryID uuid.UUID) (bool, error) {
	return f.ghosts.IsGhosted(ctx, userID, memoryID)
}

// GetGhostedMemories lists every ghosted memory id for a user.
func (f *Facade) GetGhostedMemories(ctx context.Context, userID string) ([]uuid.UUID, error) {
	return f.ghosts.GetGhosted(ctx, userID)
}

// PromoteNow runs one promotion cycle immediately, optionally scoped to a
// single user.
func (f *Facade) PromoteNow(ctx context.Context, userID string) (promote.Stats, error) {
	return f.prom.PromoteAll(ctx, userID)
}

// IncrementMessageCount bumps the per-user message counter, triggering a
// background promotion cycle every N messages.
func (f *Facade) IncrementMessageCount(ctx context.Context, userID string) (*promote.Stats, error) {
	return f.prom.IncrementMessageCount(ctx, userID)
}

// ReindexFromMongo starts a bulk re-embed of stored items into the vector
// index. The name is a holdover from an earlier two-database deployment;
// this engine has exactly one durable store, so it rebuilds from
// RecordStore.
func (f *Facade) ReindexFromMongo(ctx context.Context, opts reindex.RebuildOptions) (reindex.Progress, error) {
	return f.reidx.Rebuild(ctx, opts)
}

// GetReindexProgress reports the current or most recent reindex job.
func (f *Facade) GetReindexProgress() reindex.Progress {
	return f.reidx.GetProgress()
}

// PauseReindex cooperatively stops the active reindex job between batches.
func (f *Facade) PauseReindex() {
	f.reidx.Pause()
}

// ConsistencyCheck runs one record/vector reconciliation sweep, scoped by
// an optional user, dry-run flag, and sample-size override.
func (f *Facade) ConsistencyCheck(ctx context.Context, opts consistency.Options) (consistency.Result, error) {
	return f.check.SweepWith(ctx, opts)
}

// ReindexDeferred processes only items flagged needs_reindex, clearing the
// flag on success.
func (f *Facade) ReindexDeferred(ctx context.Context, userID string) (reindex.SanitizeStats, error) {
	return f.reidx.ReindexDeferred(ctx, userID)
}

// SanitizeCorruptedContent strips embedded base64/binary fragments from
// item text, preserving the original and flagging the item for reindex.
func (f *Facade) SanitizeCorruptedContent(ctx context.Context, opts reindex.SanitizeOptions) (reindex.SanitizeStats, error) {
	return f.reidx.SanitizeCorruptedContent(ctx, opts)
}

// CountCorruptedContent reports how many items carry corrupted text without
// mutating anything.
func (f *Facade) CountCorruptedContent(ctx context.Context, opts reindex.SanitizeOptions) (reindex.SanitizeStats, error) {
	return f.reidx.CountCorruptedContent(ctx, opts)
}

// GenerateContextPrefix returns a short contextual prefix for a document
// chunk, the hook an external document-ingestion pipeline calls before
// storing document-tier items. Degrades to an empty prefix when no
// summarizer is configured.
func (f *Facade) GenerateContextPrefix(ctx context.Context, chunk, docContext string) (string, error) {
	if f.summarizer == nil {
		return "", nil
	}
	return f.summarizer.GenerateContextPrefix(ctx, chunk, docContext)
}

// UpdateMemory rewrites an item's text/tags, flipping needs_reindex and
// refreshing the lexical index so the edit is searchable immediately while
// the vector side catches up on the next deferred reindex.
func (f *Facade) UpdateMemory(ctx context.Context, userID string, memoryID uuid.UUID, text string, tags []string) (*domain.MemoryItem, error) {
	if userID == "" {
		return nil, apperr.InvalidInput("Facade.update", "user is required")
	}
	if _, err := f.store.GetByID(ctx, memoryID, userID); err != nil {
		return nil, err
	}
	updated, err := f.store.UpdateContent(ctx, memoryID, text, tags, "")
	if err != nil {
		return nil, err
	}
	f.lexical.IndexItem(ctx, *updated)
	return updated, nil
}
