// Package fakes provides in-memory implementations of the domain store
// interfaces, used only by _test.go files across the module. They are
// centralized here because the RecordStore/VectorIndex interfaces are
// shared by many packages (pipeline, promote, outcome, consistency,
// reindex, facade).
package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/wilson"
)

// RecordStore is an in-memory domain.RecordStore.
type RecordStore struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*domain.MemoryItem
	outcomes    []domain.OutcomeEvent
	ghosts      map[string]map[uuid.UUID]domain.Tier
	profiles    map[string]*domain.Profile
	checkpoints map[uuid.UUID]*domain.ReindexCheckpoint
	kgNodes     map[uuid.UUID]*domain.KgNode
	kgEdges     []domain.KgEdge
	logs        []domain.ConsistencyLog
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		items:       make(map[uuid.UUID]*domain.MemoryItem),
		ghosts:      make(map[string]map[uuid.UUID]domain.Tier),
		profiles:    make(map[string]*domain.Profile),
		checkpoints: make(map[uuid.UUID]*domain.ReindexCheckpoint),
		kgNodes:     make(map[uuid.UUID]*domain.KgNode),
	}
}

var _ domain.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) Insert(ctx context.Context, item *domain.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.MemoryID == uuid.Nil {
		item.MemoryID = uuid.New()
	}
	if _, exists := s.items[item.MemoryID]; exists {
		return apperr.Conflict("RecordStore.Insert", "duplicate memory_id")
	}
	now := time.Now()
	if item.Timestamps.CreatedAt.IsZero() {
		item.Timestamps.CreatedAt = now
	}
	item.Timestamps.UpdatedAt = now
	cp := *item
	s.items[item.MemoryID] = &cp
	return nil
}

// Replace unconditionally overwrites the record at item.MemoryID, unlike
// Insert which rejects an existing id.
func (s *RecordStore) Replace(ctx context.Context, item *domain.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.MemoryID == uuid.Nil {
		item.MemoryID = uuid.New()
	}
	now := time.Now()
	if item.Timestamps.CreatedAt.IsZero() {
		item.Timestamps.CreatedAt = now
	}
	item.Timestamps.UpdatedAt = now
	cp := *item
	s.items[item.MemoryID] = &cp
	return nil
}

func (s *RecordStore) GetByID(ctx context.Context, id uuid.UUID, userID string) (*domain.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.UserID != userID {
		return nil, apperr.NotFound("RecordStore.GetByID", id.String())
	}
	cp := *item
	return &cp, nil
}

func (s *RecordStore) Query(ctx context.Context, q domain.RecordQuery) ([]domain.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tierSet := toTierSet(q.Tiers)
	statusSet := toStatusSet(q.Status)

	var out []domain.MemoryItem
	for _, item := range s.items {
		if item.UserID != q.UserID {
			continue
		}
		if len(tierSet) > 0 && !tierSet[item.Tier] {
			continue
		}
		if len(statusSet) > 0 && !statusSet[item.Status] {
			continue
		}
		if q.Since != nil && item.Timestamps.UpdatedAt.Before(*q.Since) {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(item.Tags, q.Tags) {
			continue
		}
		out = append(out, *item)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamps.UpdatedAt.Equal(out[j].Timestamps.UpdatedAt) {
			return out[i].Timestamps.UpdatedAt.After(out[j].Timestamps.UpdatedAt)
		}
		return out[i].MemoryID.String() < out[j].MemoryID.String()
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func toTierSet(tiers []domain.Tier) map[domain.Tier]bool {
	if len(tiers) == 0 {
		return nil
	}
	m := make(map[domain.Tier]bool, len(tiers))
	for _, t := range tiers {
		m[t] = true
	}
	return m
}

func toStatusSet(statuses []domain.Status) map[domain.Status]bool {
	if len(statuses) == 0 {
		return nil
	}
	m := make(map[domain.Status]bool, len(statuses))
	for _, st := range statuses {
		m[st] = true
	}
	return m
}

func hasAnyTag(itemTags, want []string) bool {
	set := make(map[string]bool, len(itemTags))
	for _, t := range itemTags {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

func (s *RecordStore) UpdateStats(ctx context.Context, id uuid.UUID, delta domain.StatsDelta) (*domain.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, apperr.NotFound("RecordStore.UpdateStats", id.String())
	}
	item.Stats.Uses++
	item.Stats.WorkedCount += delta.Worked
	item.Stats.FailedCount += delta.Failed
	item.Stats.PartialCount += delta.Partial
	item.Stats.UnknownCount += delta.Unknown
	now := time.Now()
	item.Stats.LastUsedAt = &now
	item.Stats.SuccessRate = item.Stats.ComputeSuccessRate()
	item.Stats.WilsonScore = wilson.Score(item.Stats.WorkedCount, item.Stats.FailedCount)
	item.Timestamps.UpdatedAt = now
	cp := *item
	return &cp, nil
}

func (s *RecordStore) UpdateContent(ctx context.Context, id uuid.UUID, text string, tags []string, rawTextBackup string) (*domain.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, apperr.NotFound("RecordStore.UpdateContent", id.String())
	}
	item.Text = text
	item.Tags = tags
	if rawTextBackup != "" {
		item.RawTextBackup = rawTextBackup
	}
	item.NeedsReindex = true
	item.Timestamps.UpdatedAt = time.Now()
	cp := *item
	return &cp, nil
}

func (s *RecordStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return apperr.NotFound("RecordStore.UpdateStatus", id.String())
	}
	item.Status = status
	now := time.Now()
	if status == domain.StatusArchived {
		item.Timestamps.ArchivedAt = &now
	} else {
		item.Timestamps.ArchivedAt = nil
	}
	item.Timestamps.UpdatedAt = now
	return nil
}

func (s *RecordStore) MarkForReindex(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return apperr.NotFound("RecordStore.MarkForReindex", id.String())
	}
	item.NeedsReindex = true
	item.NeedsReindexReason = reason
	return nil
}

func (s *RecordStore) ClearReindex(ctx context.Context, id uuid.UUID, vectorHash string, indexedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return apperr.NotFound("RecordStore.ClearReindex", id.String())
	}
	item.NeedsReindex = false
	item.NeedsReindexReason = ""
	item.Embedding.VectorHash = vectorHash
	item.Embedding.LastIndexedAt = &indexedAt
	return nil
}

func (s *RecordStore) BulkUpdateTier(ctx context.Context, ids []uuid.UUID, tier domain.Tier, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			item.Tier = tier
			item.Timestamps.ExpiresAt = expiresAt
			item.Timestamps.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *RecordStore) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status domain.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			item.Status = status
			item.Timestamps.UpdatedAt = now
			if status == domain.StatusArchived {
				item.Timestamps.ArchivedAt = &now
			}
		}
	}
	return nil
}

func (s *RecordStore) ScrollNeedsReindex(ctx context.Context, userID string, pageSize int, cursor *uuid.UUID) ([]domain.MemoryItem, *uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []domain.MemoryItem
	for _, item := range s.items {
		if item.UserID == userID && item.NeedsReindex {
			candidates = append(candidates, *item)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].MemoryID.String() < candidates[j].MemoryID.String() })

	start := 0
	if cursor != nil {
		for i, c := range candidates {
			if c.MemoryID == *cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(candidates) {
		return nil, nil, nil
	}
	end := start + pageSize
	if end > len(candidates) {
		end = len(candidates)
	}
	page := candidates[start:end]
	var next *uuid.UUID
	if end < len(candidates) {
		id := page[len(page)-1].MemoryID
		next = &id
	}
	return page, next, nil
}

func (s *RecordStore) UpsertKgNode(ctx context.Context, n *domain.KgNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	cp := *n
	s.kgNodes[n.ID] = &cp
	return nil
}

func (s *RecordStore) UpsertKgEdge(ctx context.Context, e *domain.KgEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.kgEdges = append(s.kgEdges, *e)
	return nil
}

func (s *RecordStore) GetKgNeighbors(ctx context.Context, userID string, nodeID uuid.UUID) ([]domain.KgEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.KgEdge
	for _, e := range s.kgEdges {
		if e.UserID == userID && (e.SourceID == nodeID || e.TargetID == nodeID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *RecordStore) InsertOutcomeEvent(ctx context.Context, e *domain.OutcomeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.outcomes = append(s.outcomes, *e)
	return nil
}

func (s *RecordStore) RecentOutcomes(ctx context.Context, userID string, limit int) ([]domain.OutcomeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutcomeEvent
	for i := len(s.outcomes) - 1; i >= 0; i-- {
		if s.outcomes[i].UserID == userID {
			out = append(out, s.outcomes[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *RecordStore) SaveCheckpoint(ctx context.Context, c *domain.ReindexCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.checkpoints[c.JobID] = &cp
	return nil
}

func (s *RecordStore) LoadCheckpoint(ctx context.Context, jobID uuid.UUID) (*domain.ReindexCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkpoints[jobID]
	if !ok {
		return nil, apperr.NotFound("RecordStore.LoadCheckpoint", jobID.String())
	}
	cp := *c
	return &cp, nil
}

func (s *RecordStore) AppendConsistencyLog(ctx context.Context, l *domain.ConsistencyLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	s.logs = append(s.logs, *l)
	return nil
}

func (s *RecordStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("RecordStore.GetProfile", userID)
	}
	cp := *p
	return &cp, nil
}

func (s *RecordStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
	return nil
}

func (s *RecordStore) InsertGhost(ctx context.Context, userID string, memoryID uuid.UUID, tier domain.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ghosts[userID] == nil {
		s.ghosts[userID] = make(map[uuid.UUID]domain.Tier)
	}
	s.ghosts[userID][memoryID] = tier
	return nil
}

func (s *RecordStore) DeleteGhost(ctx context.Context, userID string, memoryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ghosts[userID], memoryID)
	return nil
}

func (s *RecordStore) ListGhosts(ctx context.Context, userID string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id := range s.ghosts[userID] {
		out = append(out, id)
	}
	return out, nil
}

func (s *RecordStore) ClearGhostsByTier(ctx context.Context, userID string, tier domain.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.ghosts[userID] {
		if t == tier {
			delete(s.ghosts[userID], id)
		}
	}
	return nil
}

func (s *RecordStore) ListDistinctUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, item := range s.items {
		if !seen[item.UserID] {
			seen[item.UserID] = true
			out = append(out, item.UserID)
		}
	}
	return out, nil
}

// Items exposes a snapshot for test assertions.
func (s *RecordStore) Items() []domain.MemoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}
