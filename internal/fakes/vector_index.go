package fakes

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
)

// VectorIndex is an in-memory domain.VectorIndex using exact dot-product
// similarity instead of an ANN index — adequate for the small candidate sets
// exercised in tests.
type VectorIndex struct {
	mu       sync.Mutex
	dim      int
	vectors  map[uuid.UUID][]float32
	payloads map[uuid.UUID]domain.VectorPayload
	order    []uuid.UUID
}

func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{
		dim:      dim,
		vectors:  make(map[uuid.UUID][]float32),
		payloads: make(map[uuid.UUID]domain.VectorPayload),
	}
}

var _ domain.VectorIndex = (*VectorIndex)(nil)

func (v *VectorIndex) EnsureSchema(ctx context.Context, dim int, metric string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dim = dim
	return nil
}

func (v *VectorIndex) Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload domain.VectorPayload) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.vectors[id]; !exists {
		v.order = append(v.order, id)
	}
	v.vectors[id] = vector
	v.payloads[id] = payload
	return nil
}

func (v *VectorIndex) UpsertBatch(ctx context.Context, ids []uuid.UUID, vectors [][]float32, payloads []domain.VectorPayload) error {
	for i, id := range ids {
		if err := v.Upsert(ctx, id, vectors[i], payloads[i]); err != nil {
			return err
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func (v *VectorIndex) Search(ctx context.Context, q domain.VectorSearchQuery) ([]domain.VectorHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tierSet := toTierSet(q.Tiers)
	statusSet := toStatusSet(q.Status)
	var filter map[uuid.UUID]bool
	if len(q.FilterIDs) > 0 {
		filter = make(map[uuid.UUID]bool, len(q.FilterIDs))
		for _, id := range q.FilterIDs {
			filter[id] = true
		}
	}

	var hits []domain.VectorHit
	for _, id := range v.order {
		payload := v.payloads[id]
		if payload.UserID != q.UserID {
			continue
		}
		if len(tierSet) > 0 && !tierSet[payload.Tier] {
			continue
		}
		if len(statusSet) > 0 && !statusSet[payload.Status] {
			continue
		}
		if filter != nil && !filter[id] {
			continue
		}
		score := cosine(q.Vector, v.vectors[id])
		if score < q.MinScore {
			continue
		}
		hits = append(hits, domain.VectorHit{MemoryID: id, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (v *VectorIndex) FilterByEntities(ctx context.Context, userID string, entityWords []string, limit int) ([]uuid.UUID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	want := make(map[string]bool, len(entityWords))
	for _, w := range entityWords {
		want[strings.ToLower(w)] = true
	}

	var out []uuid.UUID
	for _, id := range v.order {
		payload := v.payloads[id]
		if payload.UserID != userID {
			continue
		}
		for _, e := range payload.Entities {
			if want[strings.ToLower(e)] {
				out = append(out, id)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v *VectorIndex) DeleteByFilter(ctx context.Context, userID string, tier *domain.Tier, status *domain.Status) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var remaining []uuid.UUID
	deleted := 0
	for _, id := range v.order {
		payload := v.payloads[id]
		match := payload.UserID == userID
		if tier != nil && payload.Tier != *tier {
			match = false
		}
		if status != nil && payload.Status != *status {
			match = false
		}
		if match {
			delete(v.vectors, id)
			delete(v.payloads, id)
			deleted++
			continue
		}
		remaining = append(remaining, id)
	}
	v.order = remaining
	return deleted, nil
}

func (v *VectorIndex) DeleteByID(ctx context.Context, id uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.vectors, id)
	delete(v.payloads, id)
	for i, existing := range v.order {
		if existing == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return nil
}

func (v *VectorIndex) Scroll(ctx context.Context, userID string, pageSize int, cursor *uuid.UUID) ([]uuid.UUID, *uuid.UUID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var candidates []uuid.UUID
	for _, id := range v.order {
		if v.payloads[id].UserID == userID {
			candidates = append(candidates, id)
		}
	}

	start := 0
	if cursor != nil {
		for i, c := range candidates {
			if c == *cursor {
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
		id := page[len(page)-1]
		next = &id
	}
	return page, next, nil
}

func (v *VectorIndex) Dimension() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dim
}
