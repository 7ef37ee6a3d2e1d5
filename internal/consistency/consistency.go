// Package consistency implements the consistency checker: a scheduled sweep
// that detects and repairs drift between RecordStore and VectorIndex in
// both directions.
package consistency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"go.uber.org/zap"
)

// Result is the outcome of one sweep.
type Result struct {
	Sampled    int
	Repaired   int
	Deleted    int
	Errors     int
	DurationMs int64
}

// Options scopes a single sweep: an optional user, a dry-run flag (report
// drift without repairing), and a per-user sample-size override.
type Options struct {
	UserID     string
	DryRun     bool
	SampleSize int
}

// Checker runs periodic Record<->Vector reconciliation sweeps.
type Checker struct {
	store    domain.RecordStore
	vector   domain.VectorIndex
	embedder domain.Embedder
	cfg      config.ConsistencyConfig
	logger   *zap.Logger

	running sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func New(store domain.RecordStore, vector domain.VectorIndex, embedder domain.Embedder, cfg config.ConsistencyConfig, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		store:    store,
		vector:   vector,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start waits cfg.WarmUp then runs a sweep every cfg.SweepEvery until Stop.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(c.cfg.WarmUp):
		case <-c.stopCh:
			return
		}
		ticker := time.NewTicker(c.cfg.SweepEvery)
		defer ticker.Stop()
		c.runSweep(context.Background())
		for {
			select {
			case <-ticker.C:
				c.runSweep(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Checker) runSweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	if _, err := c.Sweep(ctx); err != nil {
		c.logger.Error("consistency sweep failed", zap.Error(err))
	}
}

// Sweep runs one full reconciliation pass across every known user.
func (c *Checker) Sweep(ctx context.Context) (Result, error) {
	return c.SweepWith(ctx, Options{})
}

// SweepWith runs exactly one reconciliation pass scoped by opts; a call
// made while another sweep is in flight returns immediately.
func (c *Checker) SweepWith(ctx context.Context, opts Options) (Result, error) {
	if !c.running.TryLock() {
		return Result{}, nil
	}
	defer c.running.Unlock()

	start := time.Now()
	var res Result

	users := []string{opts.UserID}
	if opts.UserID == "" {
		all, err := c.store.ListDistinctUserIDs(ctx)
		if err != nil {
			return res, err
		}
		users = all
	}
	for _, u := range users {
		c.reconcileUser(ctx, u, &res, opts)
	}

	res.DurationMs = time.Since(start).Milliseconds()
	c.logger.Info("consistency sweep complete",
		zap.Int("sampled", res.Sampled),
		zap.Int("repaired", res.Repaired),
		zap.Int("deleted", res.Deleted),
		zap.Int("errors", res.Errors),
		zap.Int64("duration_ms", res.DurationMs))
	return res, nil
}

func (c *Checker) reconcileUser(ctx context.Context, userID string, res *Result, opts Options) {
	sampleSize := opts.SampleSize
	if sampleSize <= 0 {
		sampleSize = c.cfg.SampleSize
	}

	present, err := c.vectorIDSet(ctx, userID, sampleSize)
	if err != nil {
		res.Errors++
		c.logger.Warn("consistency: scroll vector index failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	items, err := c.store.Query(ctx, domain.RecordQuery{
		UserID: userID,
		Status: []domain.Status{domain.StatusActive},
		Limit:  sampleSize,
	})
	if err != nil {
		res.Errors++
		c.logger.Warn("consistency: query active items failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	res.Sampled += len(items)

	for _, item := range items {
		c.reconcileRecordSide(ctx, item, present, res, opts.DryRun)
	}

	for id := range present {
		if active := c.lookupActive(ctx, userID, id); !active {
			c.deleteOrphanVector(ctx, userID, id, res, opts.DryRun)
		}
	}
}

// vectorIDSet scrolls vector ids for userID in pages of 100 until at least
// sampleSize ids are collected or the index has no more; the last page is
// kept whole, so the set can hold up to 99 ids more than sampleSize.
func (c *Checker) vectorIDSet(ctx context.Context, userID string, sampleSize int) (map[uuid.UUID]bool, error) {
	set := make(map[uuid.UUID]bool)
	var cursor *uuid.UUID
	for len(set) < sampleSize {
		page, next, err := c.vector.Scroll(ctx, userID, 100, cursor)
		if err != nil {
			return nil, err
		}
		for _, id := range page {
			set[id] = true
		}
		if next == nil {
			break
		}
		cursor = next
	}
	return set, nil
}

func (c *Checker) reconcileRecordSide(ctx context.Context, item domain.MemoryItem, present map[uuid.UUID]bool, res *Result, dryRun bool) {
	wantHash := cache.Keyer(item.Text)
	_, exists := present[item.MemoryID]
	hashMismatch := exists && item.Embedding.VectorHash != "" && item.Embedding.VectorHash != wantHash
	if exists && !hashMismatch {
		return
	}

	action := "missing_vector"
	if hashMismatch {
		action = "hash_mismatch"
	}
	if dryRun {
		res.Repaired++
		c.logAction(ctx, action, item.MemoryID, "dry_run", false)
		return
	}

	vec, err := c.embedder.Embed(ctx, item.Text)
	if err != nil {
		res.Errors++
		c.logAction(ctx, "reembed_failed", item.MemoryID, err.Error(), false)
		return
	}
	payload := domain.VectorPayload{
		UserID: item.UserID, Tier: item.Tier, Status: item.Status,
		Tags: item.Tags, Entities: item.Entities,
	}
	if err := c.vector.Upsert(ctx, item.MemoryID, vec, payload); err != nil {
		res.Errors++
		c.logAction(ctx, "upsert_failed", item.MemoryID, err.Error(), false)
		return
	}

	res.Repaired++
	c.logAction(ctx, action, item.MemoryID, "", true)
}

func (c *Checker) lookupActive(ctx context.Context, userID string, id uuid.UUID) bool {
	item, err := c.store.GetByID(ctx, id, userID)
	if err != nil {
		return false
	}
	return item.Status == domain.StatusActive
}

func (c *Checker) deleteOrphanVector(ctx context.Context, userID string, id uuid.UUID, res *Result, dryRun bool) {
	if dryRun {
		res.Deleted++
		c.logAction(ctx, "orphan_vector", id, "dry_run", false)
		return
	}
	if err := c.vector.DeleteByID(ctx, id); err != nil {
		res.Errors++
		c.logAction(ctx, "orphan_delete_failed", id, err.Error(), false)
		return
	}
	res.Deleted++
	c.logAction(ctx, "orphan_vector_deleted", id, "", true)
}

func (c *Checker) logAction(ctx context.Context, kind string, memoryID uuid.UUID, details string, repaired bool) {
	entry := &domain.ConsistencyLog{
		ID:        uuid.New(),
		Type:      kind,
		MemoryID:  memoryID,
		Details:   details,
		Repaired:  repaired,
		CreatedAt: time.Now(),
	}
	if err := c.store.AppendConsistencyLog(ctx, entry); err != nil {
		c.logger.Warn("consistency: failed to append log entry", zap.Error(err))
	}
}
