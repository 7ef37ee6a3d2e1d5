package promote

import (
	"context"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
	"github.com/memkeep/memkeep/internal/itemlock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPromoter(store domain.RecordStore) *Promoter {
	return New(store, itemlock.New(), config.LoadPromotionConfig(), zap.NewNop())
}

// TestWorkingToHistoryIsConservative walks an item through worked outcomes
// one batch at a time: it is promoted only once wilson_score crosses 0.7
// with uses >= 2, which takes far more than a handful of successes.
func TestWorkingToHistoryIsConservative(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "text", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))
	p := newPromoter(store)

	applyWorked := func(n int) {
		for i := 0; i < n; i++ {
			_, err := store.UpdateStats(ctx, item.MemoryID, domain.StatsDelta{Worked: 1})
			require.NoError(t, err)
		}
	}

	applyWorked(3) // Wilson(3,0) ~= 0.439
	_, err := p.PromoteAll(ctx, "u1")
	require.NoError(t, err)
	cur, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.TierWorking, cur.Tier)

	applyWorked(6) // now 9 worked total -> Wilson(9,0) ~= 0.701, just above 0.7, uses=9 >= 2
	_, err = p.PromoteAll(ctx, "u1")
	require.NoError(t, err)
	cur, err = store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.TierHistory, cur.Tier)
	require.NotNil(t, cur.Timestamps.ExpiresAt)
}

func TestHistoryToPatterns(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "text", domain.TierHistory)
	require.NoError(t, store.Insert(ctx, item))
	p := newPromoter(store)

	// Wilson(n,0) = 1/(1+z²/n) first reaches the 0.9 threshold at n=35
	// (~0.901); Wilson(34,0) ~= 0.898.
	for i := 0; i < 35; i++ {
		_, err := store.UpdateStats(ctx, item.MemoryID, domain.StatsDelta{Worked: 1})
		require.NoError(t, err)
	}

	_, err := p.PromoteAll(ctx, "u1")
	require.NoError(t, err)
	cur, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.TierPatterns, cur.Tier)
	require.Nil(t, cur.Timestamps.ExpiresAt)
}

func TestGarbageArchive(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "text", domain.TierWorking)
	require.NoError(t, store.Insert(ctx, item))
	p := newPromoter(store)

	for i := 0; i < 5; i++ {
		_, err := store.UpdateStats(ctx, item.MemoryID, domain.StatsDelta{Failed: 1})
		require.NoError(t, err)
	}

	stats, err := p.PromoteAll(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Archived)
	cur, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusArchived, cur.Status)
}

func TestNeverTouchesExcludedTiers(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	item := fakes.NewMemoryItem("u1", "text", domain.TierMemoryBank)
	require.NoError(t, store.Insert(ctx, item))
	p := newPromoter(store)

	for i := 0; i < 5; i++ {
		_, err := store.UpdateStats(ctx, item.MemoryID, domain.StatsDelta{Failed: 1})
		require.NoError(t, err)
	}

	_, err := p.PromoteAll(ctx, "u1")
	require.NoError(t, err)
	cur, err := store.GetByID(ctx, item.MemoryID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, cur.Status)
	require.Equal(t, domain.TierMemoryBank, cur.Tier)
}

func TestIncrementMessageCountTriggersEveryN(t *testing.T) {
	ctx := context.Background()
	store := fakes.NewRecordStore()
	p := newPromoter(store)
	p.cfg.TriggerEveryN = 3

	s, err := p.IncrementMessageCount(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, s)
	s, err = p.IncrementMessageCount(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, s)
	s, err = p.IncrementMessageCount(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestStartStopIsClean(t *testing.T) {
	store := fakes.NewRecordStore()
	p := newPromoter(store)
	p.cfg.SchedulerInterval = time.Hour
	p.Start()
	p.Stop()
}
