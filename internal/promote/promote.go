// Package promote implements the promoter: a periodic and trigger-driven
// job that moves memory items across tiers per an ordered transition table
// and archives garbage/expired items.
package promote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/itemlock"
	"github.com/memkeep/memkeep/internal/wilson"
	"go.uber.org/zap"
)

// Stats is the per-cycle result of a promotion run.
type Stats struct {
	Promoted   int
	Archived   int
	Deleted    int
	Errors     int
	DurationMs int64
}

// Promoter moves items across tiers and archives garbage/expired items, on
// a schedule and on demand, coordinating with the outcome recorder via a
// shared itemlock.Set so neither races the other's write to the same item.
type Promoter struct {
	store  domain.RecordStore
	locks  *itemlock.Set
	cfg    config.PromotionConfig
	logger *zap.Logger

	messageCountMu sync.Mutex
	messageCount   map[string]int

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func New(store domain.RecordStore, locks *itemlock.Set, cfg config.PromotionConfig, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		store:        store,
		locks:        locks,
		cfg:          cfg,
		logger:       logger,
		messageCount: make(map[string]int),
		stopCh:       make(chan struct{}),
	}
}

// Start runs PromoteAll on cfg.SchedulerInterval until Stop is called.
func (p *Promoter) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.SchedulerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				if _, err := p.PromoteAll(ctx, ""); err != nil {
					p.logger.Error("scheduled promotion cycle failed", zap.Error(err))
				}
				cancel()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background scheduler and waits for the in-flight cycle, if
// any, to finish.
func (p *Promoter) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// IncrementMessageCount increments userID's message counter and triggers an
// immediate promotion cycle for that user every cfg.TriggerEveryN messages.
func (p *Promoter) IncrementMessageCount(ctx context.Context, userID string) (*Stats, error) {
	p.messageCountMu.Lock()
	p.messageCount[userID]++
	count := p.messageCount[userID]
	p.messageCountMu.Unlock()

	if p.cfg.TriggerEveryN <= 0 || count%p.cfg.TriggerEveryN != 0 {
		return nil, nil
	}
	stats, err := p.PromoteAll(ctx, userID)
	return &stats, err
}

// PromoteAll runs one promotion cycle. When userID is empty it runs across
// every user known to RecordStore; otherwise it is scoped to that user.
func (p *Promoter) PromoteAll(ctx context.Context, userID string) (Stats, error) {
	start := time.Now()
	var stats Stats

	users := []string{userID}
	if userID == "" {
		all, err := p.store.ListDistinctUserIDs(ctx)
		if err != nil {
			return stats, err
		}
		users = all
	}

	for _, u := range users {
		p.promoteUser(ctx, u, &stats)
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	p.logger.Info("promotion cycle complete",
		zap.Int("promoted", stats.Promoted),
		zap.Int("archived", stats.Archived),
		zap.Int("errors", stats.Errors),
		zap.Int64("duration_ms", stats.DurationMs))
	return stats, nil
}

// promoteUser applies the four transitions in order against every eligible
// active item for u, skipping an item already transitioned this cycle and
// never touching {documents, memory_bank, datagov_*} tiers.
func (p *Promoter) promoteUser(ctx context.Context, u string, stats *Stats) {
	handled := make(map[uuid.UUID]bool)

	items, err := p.store.Query(ctx, domain.RecordQuery{
		UserID: u,
		Tiers:  []domain.Tier{domain.TierWorking, domain.TierHistory},
		Status: []domain.Status{domain.StatusActive},
	})
	if err != nil {
		stats.Errors++
		p.logger.Warn("promote: query working/history failed", zap.String("user_id", u), zap.Error(err))
	}
	for i := range items {
		if p.transitionOne(ctx, &items[i], stats) {
			handled[items[i].MemoryID] = true
		}
	}

	garbage, err := p.store.Query(ctx, domain.RecordQuery{
		UserID: u,
		Status: []domain.Status{domain.StatusActive},
	})
	if err != nil {
		stats.Errors++
		p.logger.Warn("promote: query active failed", zap.String("user_id", u), zap.Error(err))
		return
	}
	for i := range garbage {
		if handled[garbage[i].MemoryID] {
			continue
		}
		p.garbageOrExpireOne(ctx, &garbage[i], stats)
	}
}

func neverTouched(t domain.Tier) bool {
	switch t {
	case domain.TierDocuments, domain.TierMemoryBank, domain.TierDatagovSchema, domain.TierDatagovExpansion:
		return true
	default:
		return false
	}
}

// transitionOne applies step 1 (working->history) or step 2 (history->patterns)
// to item, re-reading it under the per-item lock and re-checking the
// predicate before writing, so a concurrent OutcomeRecorder update can never
// be clobbered or race this transition.
func (p *Promoter) transitionOne(ctx context.Context, item *domain.MemoryItem, stats *Stats) bool {
	if neverTouched(item.Tier) {
		return false
	}
	unlock := p.locks.Lock(item.MemoryID)
	defer unlock()

	fresh, err := p.store.GetByID(ctx, item.MemoryID, item.UserID)
	if err != nil {
		stats.Errors++
		return false
	}
	age := time.Since(fresh.Timestamps.CreatedAt)

	switch fresh.Tier {
	case domain.TierWorking:
		policy := wilson.TierPolicy{MinScore: p.cfg.WorkingToHistoryWilsonMin, MinUses: p.cfg.WorkingToHistoryUsesMin}
		if !wilson.Eligible(fresh.Stats.WilsonScore, fresh.Stats.Uses, age, policy) {
			return false
		}
		expires := time.Now().Add(p.cfg.HistoryTTL)
		if err := p.store.BulkUpdateTier(ctx, []uuid.UUID{fresh.MemoryID}, domain.TierHistory, &expires); err != nil {
			stats.Errors++
			return false
		}
		stats.Promoted++
		return true
	case domain.TierHistory:
		policy := wilson.TierPolicy{MinScore: p.cfg.HistoryToPatternsWilsonMin, MinUses: p.cfg.HistoryToPatternsUsesMin}
		if !wilson.Eligible(fresh.Stats.WilsonScore, fresh.Stats.Uses, age, policy) {
			return false
		}
		if err := p.store.BulkUpdateTier(ctx, []uuid.UUID{fresh.MemoryID}, domain.TierPatterns, nil); err != nil {
			stats.Errors++
			return false
		}
		stats.Promoted++
		return true
	}
	return false
}

// garbageOrExpireOne applies step 3 (garbage archive) then step 4 (TTL
// expiry); an item archived by step 3 is not reconsidered for step 4.
func (p *Promoter) garbageOrExpireOne(ctx context.Context, item *domain.MemoryItem, stats *Stats) {
	if neverTouched(item.Tier) {
		return
	}
	unlock := p.locks.Lock(item.MemoryID)
	defer unlock()

	fresh, err := p.store.GetByID(ctx, item.MemoryID, item.UserID)
	if err != nil {
		stats.Errors++
		return
	}
	if fresh.Status != domain.StatusActive {
		return
	}

	if fresh.Stats.WilsonScore < p.cfg.GarbageWilsonMax && fresh.Stats.Uses >= p.cfg.GarbageUsesMin {
		if err := p.store.UpdateStatus(ctx, fresh.MemoryID, domain.StatusArchived, "garbage: low wilson score"); err != nil {
			stats.Errors++
			return
		}
		stats.Archived++
		return
	}

	if fresh.Timestamps.ExpiresAt != nil && fresh.Timestamps.ExpiresAt.Before(time.Now()) {
		if err := p.store.UpdateStatus(ctx, fresh.MemoryID, domain.StatusArchived, "ttl expired"); err != nil {
			stats.Errors++
			return
		}
		stats.Archived++
	}
}
