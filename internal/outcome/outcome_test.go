package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
	"github.com/memkeep/memkeep/internal/itemlock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRecorder(store domain.RecordStore, lexical domain.LexicalIndex) *Recorder {
	return New(store, lexical, itemlock.New(), config.LoadOutcomeDeltas(), 30*24*time.Hour, zap.NewNop())
}

func TestRecordFeedbackMapsScoreToOutcome(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "some memory", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))

	r := newRecorder(store, nil)

	updated, err := r.RecordFeedback(ctx, "u1", item.MemoryID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Stats.Uses)
	require.Equal(t, 1, updated.Stats.WorkedCount)
	require.InDelta(t, 0.2065, updated.Stats.WilsonScore, 0.001) // Wilson(1,0): the lower bound is conservative at n=1

	updated, err = r.RecordFeedback(ctx, "u1", item.MemoryID, -1)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Stats.Uses)
	require.Equal(t, 1, updated.Stats.FailedCount)

	updated, err = r.RecordFeedback(ctx, "u1", item.MemoryID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Stats.PartialCount)
}

func TestRecordFeedbackRejectsOutOfRangeScore(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	r := newRecorder(store, nil)
	_, err := r.RecordFeedback(ctx, "u1", uuid.New(), 5)
	require.Error(t, err)
}

// TestInvariantUsesAndExactlyOneCounter: every outcome event increments
// uses by exactly 1 and exactly one of the four counters by exactly 1.
func TestInvariantUsesAndExactlyOneCounter(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "text", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))
	r := newRecorder(store, nil)

	before, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)

	after, err := r.RecordFeedback(ctx, "u1", item.MemoryID, 1)
	require.NoError(t, err)

	require.Equal(t, before.Stats.Uses+1, after.Stats.Uses)
	deltaWorked := after.Stats.WorkedCount - before.Stats.WorkedCount
	deltaFailed := after.Stats.FailedCount - before.Stats.FailedCount
	deltaPartial := after.Stats.PartialCount - before.Stats.PartialCount
	deltaUnknown := after.Stats.UnknownCount - before.Stats.UnknownCount
	require.Equal(t, 1, deltaWorked+deltaFailed+deltaPartial+deltaUnknown)
	require.Equal(t, 1, deltaWorked)
}

func TestRecordResponseCreatesHistoryItem(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	lex := fakes.NewLexicalIndex()
	r := newRecorder(store, lex)

	item, err := r.RecordResponse(ctx, "u1", "always check the migration order", nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.TierHistory, item.Tier)
	require.NotNil(t, item.Timestamps.ExpiresAt)

	hits, err := lex.Score(ctx, "u1", "migration order", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestRecordResponseWithOutcomeAppliesToRelated(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	related := fakes.NewMemoryItem("u1", "related memory", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, related))
	r := newRecorder(store, nil)

	worked := domain.OutcomeWorked
	item, err := r.RecordResponse(ctx, "u1", "takeaway", &worked, []uuid.UUID{related.MemoryID})
	require.NoError(t, err)
	require.Equal(t, 1, item.Stats.WorkedCount)

	relUpdated, err := store.GetByID(ctx, related.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, relUpdated.Stats.WorkedCount)
}

func TestRecordOutcomeContinuesPastPerItemErrors(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	good := fakes.NewMemoryItem("u1", "ok", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, good))
	r := newRecorder(store, nil)

	missing := uuid.New()
	updated, errs := r.RecordOutcome(ctx, "u1", domain.OutcomeWorked, []uuid.UUID{good.MemoryID, missing})
	require.Len(t, updated, 1)
	require.Len(t, errs, 1)
}

func TestScoreDeltaAccumulatesAndClamps(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "text", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))
	r := newRecorder(store, nil)

	for i := 0; i < 10; i++ {
		_, err := r.RecordFeedback(ctx, "u1", item.MemoryID, 1)
		require.NoError(t, err)
	}
	require.LessOrEqual(t, r.ScoreDelta(item.MemoryID), r.deltas.Max)
}
