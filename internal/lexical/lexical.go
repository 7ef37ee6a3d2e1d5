// Package lexical implements the lexical index: an in-memory, per-user
// inverted index with a TF-IDF-style term score, invalidated on any write
// affecting the user.
package lexical

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
)

// postings is one user's inverted index: term -> memory_id -> term frequency.
type postings struct {
	mu       sync.RWMutex
	termDocs map[string]map[uuid.UUID]int
	docLen   map[uuid.UUID]int
	docCount int
}

func newPostings() *postings {
	return &postings{
		termDocs: make(map[string]map[uuid.UUID]int),
		docLen:   make(map[uuid.UUID]int),
	}
}

// Index is the process-wide, per-user LexicalIndex.
type Index struct {
	mu    sync.RWMutex
	users map[string]*postings
}

// New constructs an empty Index.
func New() *Index {
	return &Index{users: make(map[string]*postings)}
}

var _ domain.LexicalIndex = (*Index)(nil)

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (idx *Index) userPostings(userID string, create bool) *postings {
	idx.mu.RLock()
	p, ok := idx.users[userID]
	idx.mu.RUnlock()
	if ok || !create {
		return p
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if p, ok = idx.users[userID]; ok {
		return p
	}
	p = newPostings()
	idx.users[userID] = p
	return p
}

// IndexItem (re)inserts an item's tokenized text, removing any prior entry
// for the same memory_id first so re-indexing after an edit is idempotent.
func (idx *Index) IndexItem(ctx context.Context, item domain.MemoryItem) {
	p := idx.userPostings(item.UserID, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	removeLocked(p, item.MemoryID)

	terms := tokenize(item.Text)
	if item.Summary != "" {
		terms = append(terms, tokenize(item.Summary)...)
	}
	if len(terms) == 0 {
		return
	}
	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}
	for t, c := range counts {
		if p.termDocs[t] == nil {
			p.termDocs[t] = make(map[uuid.UUID]int)
		}
		p.termDocs[t][item.MemoryID] = c
	}
	p.docLen[item.MemoryID] = len(terms)
	p.docCount++
}

// RemoveItem deletes an item's postings from the per-user index.
func (idx *Index) RemoveItem(ctx context.Context, userID string, memoryID uuid.UUID) {
	p := idx.userPostings(userID, false)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	removeLocked(p, memoryID)
}

func removeLocked(p *postings, id uuid.UUID) {
	if _, existed := p.docLen[id]; !existed {
		return
	}
	for term, docs := range p.termDocs {
		if _, ok := docs[id]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(p.termDocs, term)
			}
		}
	}
	delete(p.docLen, id)
	p.docCount--
}

// InvalidateUser drops the whole per-user postings set, forcing the
// caller's next write path to rebuild it from RecordStore. Called on any
// store, update, or delete affecting that user.
func (idx *Index) InvalidateUser(ctx context.Context, userID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.users, userID)
}

// Score ranks active items for userID by a TF-IDF-like term overlap score
// against query, descending, limited to limit hits.
func (idx *Index) Score(ctx context.Context, userID string, query string, limit int) ([]domain.LexicalHit, error) {
	p := idx.userPostings(userID, false)
	if p == nil {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 || p.docCount == 0 {
		return nil, nil
	}

	scores := make(map[uuid.UUID]float64)
	for _, term := range terms {
		docs, ok := p.termDocs[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + float64(p.docCount)/float64(len(docs)))
		for id, tf := range docs {
			scores[id] += float64(tf) * idf
		}
	}

	hits := make([]domain.LexicalHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, domain.LexicalHit{MemoryID: id, Score: score})
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
