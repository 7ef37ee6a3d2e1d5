package fakes

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
)

// LexicalIndex is a trivial in-memory term-overlap scorer for tests.
type LexicalIndex struct {
	mu    sync.Mutex
	items map[string]map[uuid.UUID]string // userID -> memoryID -> text
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{items: make(map[string]map[uuid.UUID]string)}
}

var _ domain.LexicalIndex = (*LexicalIndex)(nil)

func (l *LexicalIndex) IndexItem(ctx context.Context, item domain.MemoryItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.items[item.UserID] == nil {
		l.items[item.UserID] = make(map[uuid.UUID]string)
	}
	l.items[item.UserID][item.MemoryID] = item.Text
}

func (l *LexicalIndex) RemoveItem(ctx context.Context, userID string, memoryID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items[userID], memoryID)
}

func (l *LexicalIndex) InvalidateUser(ctx context.Context, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, userID)
}

func (l *LexicalIndex) Score(ctx context.Context, userID string, query string, limit int) ([]domain.LexicalHit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	var hits []domain.LexicalHit
	for id, text := range l.items[userID] {
		lowered := strings.ToLower(text)
		var score float64
		for _, t := range terms {
			score += float64(strings.Count(lowered, t))
		}
		if score > 0 {
			hits = append(hits, domain.LexicalHit{MemoryID: id, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].MemoryID.String() < hits[j].MemoryID.String()
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
