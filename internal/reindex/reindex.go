// Package reindex implements the reindexer: resumable, single-flight batch
// re-embedding of RecordStore content into VectorIndex, plus
// corrupted-content sanitization. Batches fan out with bounded concurrency
// via errgroup, and each item retries transient failures with exponential
// backoff.
package reindex

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RebuildOptions is the input to Rebuild.
type RebuildOptions struct {
	UserID               string
	Tier                 domain.Tier
	Since                *time.Time
	BatchSize            int
	Concurrency          int
	ResumeFromCheckpoint *uuid.UUID
}

// Progress is the Reindexer's current job snapshot, returned by GetProgress.
type Progress struct {
	JobID     uuid.UUID
	Running   bool
	Paused    bool
	Processed int
	Total     int
	Errors    int
	StartedAt time.Time
	UpdatedAt time.Time
}

// SanitizeOptions is the input to SanitizeCorruptedContent / CountCorruptedContent.
type SanitizeOptions struct {
	UserID string
	Tier   domain.Tier
	DryRun bool
}

// SanitizeStats is the result of a sanitize/count pass.
type SanitizeStats struct {
	Scanned   int
	Corrupted int
	Sanitized int
	Errors    int
}

type job struct {
	id       uuid.UUID
	paused   atomic.Bool
	canceled atomic.Bool
	progress Progress
}

// Reindexer runs re-embedding jobs against RecordStore/VectorIndex.
type Reindexer struct {
	store    domain.RecordStore
	vector   domain.VectorIndex
	embedder domain.Embedder
	cfg      config.ReindexConfig
	logger   *zap.Logger

	mu  sync.Mutex
	cur *job
}

func New(store domain.RecordStore, vector domain.VectorIndex, embedder domain.Embedder, cfg config.ReindexConfig, logger *zap.Logger) *Reindexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reindexer{store: store, vector: vector, embedder: embedder, cfg: cfg, logger: logger}
}

// Rebuild starts a reindex job in the background and returns its initial
// progress. Jobs are single-flight: a second call while one is active is
// refused with the active job's id.
func (r *Reindexer) Rebuild(ctx context.Context, opts RebuildOptions) (Progress, error) {
	r.mu.Lock()
	if r.cur != nil && r.cur.progress.Running {
		p := r.cur.progress
		r.mu.Unlock()
		return p, apperr.Conflict("Reindexer.Rebuild", fmt.Sprintf("job %s already running", p.JobID))
	}

	jobID := uuid.New()
	if opts.ResumeFromCheckpoint != nil {
		jobID = *opts.ResumeFromCheckpoint
	}
	j := &job{id: jobID, progress: Progress{JobID: jobID, Running: true, StartedAt: time.Now()}}
	r.cur = j
	r.mu.Unlock()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = r.cfg.BatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.cfg.Concurrency
	}

	go r.runRebuild(context.WithoutCancel(ctx), j, opts, batchSize, concurrency)

	return j.progress, nil
}

// Pause cooperatively stops the active job after its current batch; the
// flag is checked between batches, never mid-batch.
func (r *Reindexer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		r.cur.paused.Store(true)
	}
}

// GetProgress returns a snapshot of the current or most recent job.
func (r *Reindexer) GetProgress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return Progress{}
	}
	return r.cur.progress
}

func (r *Reindexer) runRebuild(ctx context.Context, j *job, opts RebuildOptions, batchSize, concurrency int) {
	defer func() {
		r.mu.Lock()
		j.progress.Running = false
		j.progress.UpdatedAt = time.Now()
		r.mu.Unlock()
	}()

	var cursor *uuid.UUID
	if cp, err := r.store.LoadCheckpoint(ctx, j.id); err == nil && cp != nil {
		cursor = cp.LastMemoryID
		r.setProgress(j, func(p *Progress) { p.Processed = cp.Processed })
	}

	for {
		if j.paused.Load() {
			r.setProgress(j, func(p *Progress) { p.Paused = true })
			return
		}

		// RecordQuery has no keyset pagination, so each pass re-reads the
		// deterministically-ordered prefix covering everything already done
		// plus one more batch, then afterCursor drops the done prefix.
		fetchLimit := batchSize
		if cursor != nil {
			fetchLimit = j.progress.Processed + batchSize
		}
		batch, err := r.store.Query(ctx, domain.RecordQuery{
			UserID: opts.UserID,
			Tiers:  tiersOf(opts.Tier),
			Status: []domain.Status{domain.StatusActive},
			Since:  opts.Since,
			Limit:  fetchLimit,
		})
		if err != nil {
			r.logger.Error("reindex: query batch failed", zap.Error(err))
			r.setProgress(j, func(p *Progress) { p.Errors++ })
			return
		}
		batch = afterCursor(batch, cursor)
		if len(batch) == 0 {
			return
		}
		if len(batch) > batchSize {
			batch = batch[:batchSize]
		}

		errCount := r.processBatch(ctx, batch, concurrency)

		last := batch[len(batch)-1].MemoryID
		cursor = &last
		processed := j.progress.Processed + len(batch)
		r.setProgress(j, func(p *Progress) {
			p.Processed = processed
			p.Errors += errCount
		})

		if err := r.store.SaveCheckpoint(ctx, &domain.ReindexCheckpoint{
			JobID: j.id, UserID: opts.UserID, Tier: opts.Tier,
			LastMemoryID: cursor, Processed: processed, UpdatedAt: time.Now(),
		}); err != nil {
			r.logger.Warn("reindex: checkpoint save failed", zap.Error(err))
		}

		if len(batch) < batchSize {
			return
		}
	}
}

func tiersOf(t domain.Tier) []domain.Tier {
	if t == "" {
		return nil
	}
	return []domain.Tier{t}
}

// afterCursor drops items up to and including cursor, since RecordQuery has
// no native keyset pagination; batches are ordered deterministically by the
// store (updated_at desc, then memory_id), so this is stable across calls.
func afterCursor(items []domain.MemoryItem, cursor *uuid.UUID) []domain.MemoryItem {
	if cursor == nil {
		return items
	}
	for i, it := range items {
		if it.MemoryID == *cursor {
			return items[i+1:]
		}
	}
	return items
}

func (r *Reindexer) processBatch(ctx context.Context, batch []domain.MemoryItem, concurrency int) int {
	var errCount int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range batch {
		item := batch[i]
		g.Go(func() error {
			if err := r.reembedWithRetry(gctx, item); err != nil {
				atomic.AddInt64(&errCount, 1)
				r.logger.Warn("reindex: item failed", zap.String("memory_id", item.MemoryID.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(errCount)
}

func (r *Reindexer) reembedWithRetry(ctx context.Context, item domain.MemoryItem) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		vec, err := r.embedder.Embed(ctx, item.Text)
		if err != nil {
			return err
		}
		payload := domain.VectorPayload{UserID: item.UserID, Tier: item.Tier, Status: item.Status, Tags: item.Tags, Entities: item.Entities}
		if err := r.vector.Upsert(ctx, item.MemoryID, vec, payload); err != nil {
			return err
		}
		return r.store.ClearReindex(ctx, item.MemoryID, cache.Keyer(item.Text), time.Now())
	}, b)
}

func (r *Reindexer) setProgress(j *job, mutate func(*Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&j.progress)
}

// ReindexDeferred processes only items with needs_reindex=true, clearing the
// flag on success, paging through ScrollNeedsReindex.
func (r *Reindexer) ReindexDeferred(ctx context.Context, userID string) (SanitizeStats, error) {
	var stats SanitizeStats
	var cursor *uuid.UUID
	for {
		batch, next, err := r.store.ScrollNeedsReindex(ctx, userID, r.cfg.BatchSize, cursor)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			return stats, nil
		}
		stats.Scanned += len(batch)
		errCount := r.processBatch(ctx, batch, r.cfg.Concurrency)
		stats.Errors += errCount
		stats.Sanitized += len(batch) - errCount
		if next == nil {
			return stats, nil
		}
		cursor = next
	}
}

// corruptedPattern matches long base64-like runs embedded in otherwise
// human-readable text.
var corruptedPattern = regexp.MustCompile(`[A-Za-z0-9+/]{80,}={0,2}`)

func hasCorruptedContent(text string) bool {
	if corruptedPattern.MatchString(text) {
		return true
	}
	for _, r := range text {
		if r == 0 || (r < 0x09 && r != '\n' && r != '\t') {
			return true
		}
	}
	return false
}

func sanitizeText(text string) string {
	cleaned := corruptedPattern.ReplaceAllString(text, "")
	cleaned = strings.Map(func(r rune) rune {
		if r == 0 || (r < 0x09 && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}

// CountCorruptedContent reports how many items under opts carry corrupted
// text, without mutating anything.
func (r *Reindexer) CountCorruptedContent(ctx context.Context, opts SanitizeOptions) (SanitizeStats, error) {
	return r.scanCorrupted(ctx, opts, true)
}

// SanitizeCorruptedContent strips corrupted fragments, preserving the
// original under RawTextBackup and marking the item needs_reindex. With
// DryRun set it behaves like CountCorruptedContent.
func (r *Reindexer) SanitizeCorruptedContent(ctx context.Context, opts SanitizeOptions) (SanitizeStats, error) {
	return r.scanCorrupted(ctx, opts, opts.DryRun)
}

func (r *Reindexer) scanCorrupted(ctx context.Context, opts SanitizeOptions, dryRun bool) (SanitizeStats, error) {
	var stats SanitizeStats
	items, err := r.store.Query(ctx, domain.RecordQuery{
		UserID: opts.UserID,
		Tiers:  tiersOf(opts.Tier),
		Status: []domain.Status{domain.StatusActive},
	})
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(items)

	for _, item := range items {
		if !hasCorruptedContent(item.Text) {
			continue
		}
		stats.Corrupted++
		if dryRun {
			continue
		}
		clean := sanitizeText(item.Text)
		if _, err := r.store.UpdateContent(ctx, item.MemoryID, clean, item.Tags, item.Text); err != nil {
			stats.Errors++
			r.logger.Warn("sanitize: update failed", zap.String("memory_id", item.MemoryID.String()), zap.Error(err))
			continue
		}
		stats.Sanitized++
	}
	return stats, nil
}
