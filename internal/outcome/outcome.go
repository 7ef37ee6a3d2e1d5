// Package outcome implements the outcome recorder: feedback, outcome, and
// response recording against memory items, with per-item atomic stat
// updates and Wilson recompute over the four-bucket
// worked/failed/partial/unknown counter model.
package outcome

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/itemlock"
	"github.com/memkeep/memkeep/internal/wilson"
	"go.uber.org/zap"
)

// Recorder is the RecordStore-backed OutcomeRecorder.
type Recorder struct {
	store      domain.RecordStore
	lexical    domain.LexicalIndex
	locks      *itemlock.Set
	deltas     config.OutcomeDeltas
	historyTTL time.Duration
	logger     *zap.Logger

	scoreCacheMu sync.Mutex
	scoreCache   map[uuid.UUID]float64
}

func New(store domain.RecordStore, lexical domain.LexicalIndex, locks *itemlock.Set, deltas config.OutcomeDeltas, historyTTL time.Duration, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:      store,
		lexical:    lexical,
		locks:      locks,
		deltas:     deltas,
		historyTTL: historyTTL,
		logger:     logger,
		scoreCache: make(map[uuid.UUID]float64),
	}
}

// RecordFeedback maps a coarse {-1,0,1} score to an outcome and applies it
// to memoryID.
func (r *Recorder) RecordFeedback(ctx context.Context, userID string, memoryID uuid.UUID, score int) (*domain.MemoryItem, error) {
	if score < -1 || score > 1 {
		return nil, apperr.InvalidInput("RecordFeedback", "score must be in {-1,0,1}")
	}
	return r.apply(ctx, userID, memoryID, domain.OutcomeFromScore(score), "")
}

// RecordOutcome applies outcome to every id in relatedMemoryIDs, surfacing
// per-item errors without aborting the whole request.
func (r *Recorder) RecordOutcome(ctx context.Context, userID string, outcome domain.OutcomeType, relatedMemoryIDs []uuid.UUID) ([]domain.MemoryItem, []error) {
	var updated []domain.MemoryItem
	var errs []error
	for _, id := range relatedMemoryIDs {
		item, err := r.apply(ctx, userID, id, outcome, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("memory %s: %w", id, err))
			continue
		}
		updated = append(updated, *item)
	}
	return updated, errs
}

// RecordResponse creates a history-tier item carrying keyTakeaway and, when
// outcome is supplied, records that outcome against the new item and every
// id in related.
func (r *Recorder) RecordResponse(ctx context.Context, userID, keyTakeaway string, outcome *domain.OutcomeType, related []uuid.UUID) (*domain.MemoryItem, error) {
	if userID == "" || keyTakeaway == "" {
		return nil, apperr.InvalidInput("RecordResponse", "userID and keyTakeaway are required")
	}
	now := time.Now()
	item := &domain.MemoryItem{
		MemoryID: uuid.New(),
		UserID:   userID,
		Tier:     domain.TierHistory,
		Status:   domain.StatusActive,
		Text:     keyTakeaway,
		Source:   domain.Source{Kind: domain.SourceAssistant},
		Quality:  domain.Quality{Importance: 0.5, Confidence: 0.5},
		Stats:    domain.Stats{WilsonScore: wilson.DefaultInitialScore},
		Timestamps: domain.Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if r.historyTTL > 0 {
		expires := now.Add(r.historyTTL)
		item.Timestamps.ExpiresAt = &expires
	}

	if err := r.store.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("RecordResponse insert: %w", err)
	}
	if r.lexical != nil {
		r.lexical.IndexItem(ctx, *item)
	}

	if outcome != nil {
		updated, err := r.apply(ctx, userID, item.MemoryID, *outcome, "")
		if err != nil {
			r.logger.Warn("RecordResponse: failed to apply outcome to new item", zap.Error(err))
		} else {
			item = updated
		}
		for _, id := range related {
			if _, err := r.apply(ctx, userID, id, *outcome, "related to response "+item.MemoryID.String()); err != nil {
				r.logger.Warn("RecordResponse: failed to apply outcome to related item",
					zap.String("memory_id", id.String()), zap.Error(err))
			}
		}
	}
	return item, nil
}

// apply serializes the read-modify-write against memoryID under the shared
// itemlock so a concurrent Promoter transition for the same item cannot race
// it.
func (r *Recorder) apply(ctx context.Context, userID string, memoryID uuid.UUID, o domain.OutcomeType, reason string) (*domain.MemoryItem, error) {
	unlock := r.locks.Lock(memoryID)
	defer unlock()

	if _, err := r.store.GetByID(ctx, memoryID, userID); err != nil {
		return nil, err
	}

	delta := domain.DeltaForOutcome(o)
	updated, err := r.store.UpdateStats(ctx, memoryID, delta)
	if err != nil {
		return nil, fmt.Errorf("apply outcome: %w", err)
	}

	event := &domain.OutcomeEvent{
		UserID:     userID,
		MemoryID:   memoryID,
		Outcome:    o,
		Reason:     reason,
		OccurredAt: time.Now(),
	}
	if err := r.store.InsertOutcomeEvent(ctx, event); err != nil {
		r.logger.Warn("failed to persist outcome event", zap.String("memory_id", memoryID.String()), zap.Error(err))
	}

	r.bumpScoreCache(memoryID, o)

	r.logger.Debug("outcome applied",
		zap.String("memory_id", memoryID.String()),
		zap.String("outcome", string(o)),
		zap.Float64("wilson_score", updated.Stats.WilsonScore),
		zap.Int("uses", updated.Stats.Uses))

	return updated, nil
}

func (r *Recorder) deltaFor(o domain.OutcomeType) float64 {
	switch o {
	case domain.OutcomeWorked:
		return r.deltas.Worked
	case domain.OutcomeFailed:
		return r.deltas.Failed
	case domain.OutcomePartial:
		return r.deltas.Partial
	default:
		return r.deltas.Unknown
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bumpScoreCache maintains the coarse rank-adjustment cache: a running,
// clamped sum of outcome deltas per memory_id, cheaper than a full Wilson
// recompute for callers that only need a directional nudge.
func (r *Recorder) bumpScoreCache(memoryID uuid.UUID, o domain.OutcomeType) {
	r.scoreCacheMu.Lock()
	defer r.scoreCacheMu.Unlock()
	next := clamp(r.scoreCache[memoryID]+r.deltaFor(o), r.deltas.Min, r.deltas.Max)
	r.scoreCache[memoryID] = next
}

// ScoreDelta returns the current coarse rank-adjustment value for memoryID.
func (r *Recorder) ScoreDelta(memoryID uuid.UUID) float64 {
	r.scoreCacheMu.Lock()
	defer r.scoreCacheMu.Unlock()
	return r.scoreCache[memoryID]
}
