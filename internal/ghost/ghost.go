// Package ghost implements the ghost registry: a per-user soft-delete
// filter that suppresses items from retrieval without mutating their
// record. Ghosting is orthogonal to status.
package ghost

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/domain"
)

// userSet is a mutex-protected set of ghosted memory ids for one user, the
// cached value a per-user LRU entry holds with write-through on every
// mutation.
type userSet struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

func newUserSet(ids []uuid.UUID) *userSet {
	s := &userSet{ids: make(map[uuid.UUID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *userSet) add(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *userSet) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *userSet) has(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *userSet) all() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// DefaultCacheTTL bounds how long a per-user ghost set is trusted before a
// cold reload from RecordStore, so a write made by another process instance
// eventually becomes visible even without an explicit invalidation path.
const DefaultCacheTTL = 10 * time.Minute

// DefaultCacheSize is the number of distinct users whose ghost sets are held
// in memory at once.
const DefaultCacheSize = 10000

// Registry is the RecordStore-backed, LRU-cached GhostRegistry.
type Registry struct {
	store domain.RecordStore
	cache *cache.TTLCache[*userSet]
}

var _ domain.GhostRegistry = (*Registry)(nil)

// New constructs a Registry backed by store, with a write-through per-user
// cache bounded by size and ttl.
func New(store domain.RecordStore, size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{store: store, cache: cache.New[*userSet](size, ttl)}
}

func (r *Registry) load(ctx context.Context, userID string) (*userSet, error) {
	if s, ok := r.cache.Get(userID); ok {
		return s, nil
	}
	ids, err := r.store.ListGhosts(ctx, userID)
	if err != nil {
		return nil, err
	}
	s := newUserSet(ids)
	r.cache.Set(userID, s)
	return s, nil
}

// Ghost soft-deletes memoryID from retrieval for userID without mutating the
// item's record.
func (r *Registry) Ghost(ctx context.Context, userID string, memoryID uuid.UUID, tier domain.Tier) error {
	if err := r.store.InsertGhost(ctx, userID, memoryID, tier); err != nil {
		return err
	}
	s, err := r.load(ctx, userID)
	if err != nil {
		return err
	}
	s.add(memoryID)
	return nil
}

// Restore un-ghosts memoryID for userID. The underlying item record is
// unchanged.
func (r *Registry) Restore(ctx context.Context, userID string, memoryID uuid.UUID) error {
	if err := r.store.DeleteGhost(ctx, userID, memoryID); err != nil {
		return err
	}
	s, err := r.load(ctx, userID)
	if err != nil {
		return err
	}
	s.remove(memoryID)
	return nil
}

// IsGhosted reports whether memoryID is currently ghosted for userID.
func (r *Registry) IsGhosted(ctx context.Context, userID string, memoryID uuid.UUID) (bool, error) {
	s, err := r.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.has(memoryID), nil
}

// FilterGhosted returns the subset of ids that are NOT ghosted for userID,
// preserving input order.
func (r *Registry) FilterGhosted(ctx context.Context, userID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	s, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	visible := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !s.has(id) {
			visible = append(visible, id)
		}
	}
	return visible, nil
}

// ClearByTier removes all ghost entries for userID scoped to tier.
func (r *Registry) ClearByTier(ctx context.Context, userID string, tier domain.Tier) error {
	if err := r.store.ClearGhostsByTier(ctx, userID, tier); err != nil {
		return err
	}
	r.cache.Remove(userID)
	return nil
}

// GetGhosted returns every ghosted id for userID.
func (r *Registry) GetGhosted(ctx context.Context, userID string) ([]uuid.UUID, error) {
	s, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.all(), nil
}
