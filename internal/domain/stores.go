package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordQuery is the filter set for RecordStore.Query.
type RecordQuery struct {
	UserID string
	Tiers  []Tier
	Status []Status
	Tags   []string
	Since  *time.Time
	Limit  int
}

// RecordStore is the authoritative durable store of truth.
// Every write is durable before acknowledgement. Secondary indices MUST
// exist on (user_id, tier, status), (user_id, updated_at), and
// (user_id, needs_reindex) in a concrete implementation.
type RecordStore interface {
	Insert(ctx context.Context, item *MemoryItem) error
	// Replace unconditionally overwrites the record at item.MemoryID (insert
	// if absent, full overwrite if present) — the hard-delete-via-backup
	// upsert path importBackup's replace/merge strategies use.
	Replace(ctx context.Context, item *MemoryItem) error
	GetByID(ctx context.Context, id uuid.UUID, userID string) (*MemoryItem, error)
	Query(ctx context.Context, q RecordQuery) ([]MemoryItem, error)
	UpdateStats(ctx context.Context, id uuid.UUID, delta StatsDelta) (*MemoryItem, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason string) error
	// UpdateContent rewrites text/tags (Facade.UpdateMemory and the
	// reindexer's sanitize pass), always flipping needs_reindex=true.
	UpdateContent(ctx context.Context, id uuid.UUID, text string, tags []string, rawTextBackup string) (*MemoryItem, error)
	MarkForReindex(ctx context.Context, id uuid.UUID, reason string) error
	ClearReindex(ctx context.Context, id uuid.UUID, vectorHash string, indexedAt time.Time) error

	// Bulk operations for promotion, reindex, backup.
	BulkUpdateTier(ctx context.Context, ids []uuid.UUID, tier Tier, expiresAt *time.Time) error
	BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status Status, reason string) error
	ScrollNeedsReindex(ctx context.Context, userID string, pageSize int, cursor *uuid.UUID) ([]MemoryItem, *uuid.UUID, error)

	// Knowledge graph.
	UpsertKgNode(ctx context.Context, n *KgNode) error
	UpsertKgEdge(ctx context.Context, e *KgEdge) error
	GetKgNeighbors(ctx context.Context, userID string, nodeID uuid.UUID) ([]KgEdge, error)

	// Outcomes.
	InsertOutcomeEvent(ctx context.Context, e *OutcomeEvent) error
	RecentOutcomes(ctx context.Context, userID string, limit int) ([]OutcomeEvent, error)

	// Checkpoints.
	SaveCheckpoint(ctx context.Context, c *ReindexCheckpoint) error
	LoadCheckpoint(ctx context.Context, jobID uuid.UUID) (*ReindexCheckpoint, error)

	// Consistency log.
	AppendConsistencyLog(ctx context.Context, l *ConsistencyLog) error

	// Profile.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error

	// Ghost persistence backing GhostRegistry's write-through cache.
	InsertGhost(ctx context.Context, userID string, memoryID uuid.UUID, tier Tier) error
	DeleteGhost(ctx context.Context, userID string, memoryID uuid.UUID) error
	ListGhosts(ctx context.Context, userID string) ([]uuid.UUID, error)
	ClearGhostsByTier(ctx context.Context, userID string, tier Tier) error

	ListDistinctUserIDs(ctx context.Context) ([]string, error)
}

// VectorPayload is the set of filterable metadata stored alongside a vector.
type VectorPayload struct {
	UserID   string
	Tier     Tier
	Status   Status
	Tags     []string
	Entities []string
}

// VectorSearchQuery is the input to VectorIndex.Search.
type VectorSearchQuery struct {
	UserID    string
	Vector    []float32
	Limit     int
	Tiers     []Tier
	Status    []Status
	Tags      []string
	MinScore  float64
	FilterIDs []uuid.UUID
}

// VectorHit is one ranked result from a vector similarity search.
type VectorHit struct {
	MemoryID uuid.UUID
	Score    float64 // similarity, higher is better
}

// SchemaMismatchPolicy governs VectorIndex.EnsureSchema's behavior when the
// embedder's dimension doesn't match the collection's.
type SchemaMismatchPolicy string

const (
	OnMismatchDisableVectorStage SchemaMismatchPolicy = "disable_vector_stage"
	OnMismatchThrow              SchemaMismatchPolicy = "throw"
)

// VectorIndex is the approximate-nearest-neighbor search and payload
// filter.
type VectorIndex interface {
	EnsureSchema(ctx context.Context, dim int, metric string) error
	Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload VectorPayload) error
	UpsertBatch(ctx context.Context, ids []uuid.UUID, vectors [][]float32, payloads []VectorPayload) error
	Search(ctx context.Context, q VectorSearchQuery) ([]VectorHit, error)
	FilterByEntities(ctx context.Context, userID string, entityWords []string, limit int) ([]uuid.UUID, error)
	DeleteByFilter(ctx context.Context, userID string, tier *Tier, status *Status) (int, error)
	// DeleteByID removes a single point, used by ConsistencyChecker to prune
	// orphaned vectors whose RecordStore row is gone or non-active.
	DeleteByID(ctx context.Context, id uuid.UUID) error
	Scroll(ctx context.Context, userID string, pageSize int, cursor *uuid.UUID) ([]uuid.UUID, *uuid.UUID, error)
	Dimension() int
}

// LexicalHit is one ranked result from a lexical (term) search.
type LexicalHit struct {
	MemoryID uuid.UUID
	Score    float64
}

// LexicalIndex is a per-user term-based scorer over active items.
type LexicalIndex interface {
	Score(ctx context.Context, userID string, query string, limit int) ([]LexicalHit, error)
	InvalidateUser(ctx context.Context, userID string)
	// IndexItem (re)inserts or removes an item's text from the lexical index
	// so InvalidateUser's callers stay correct incrementally too.
	IndexItem(ctx context.Context, item MemoryItem)
	RemoveItem(ctx context.Context, userID string, memoryID uuid.UUID)
}

// Embedder produces fixed-dim dense vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// RerankPair is one (query, passage) candidate submitted to the Reranker.
type RerankPair struct {
	MemoryID uuid.UUID
	Passage  string
}

// Reranker produces a cross-encoder relevance score for (query, passage)
// pairs.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []RerankPair, k int) ([]RerankScore, error)
}

// RerankScore is one scored passage from the Reranker.
type RerankScore struct {
	MemoryID uuid.UUID
	Score    float64
}

// Summarizer generates short contextual prefixes for chunks.
type Summarizer interface {
	GenerateContextPrefix(ctx context.Context, chunk string, docContext string) (string, error)
}

// GhostRegistry is the per-user soft-delete filter.
type GhostRegistry interface {
	Ghost(ctx context.Context, userID string, memoryID uuid.UUID, tier Tier) error
	Restore(ctx context.Context, userID string, memoryID uuid.UUID) error
	IsGhosted(ctx context.Context, userID string, memoryID uuid.UUID) (bool, error)
	FilterGhosted(ctx context.Context, userID string, ids []uuid.UUID) ([]uuid.UUID, error)
	ClearByTier(ctx context.Context, userID string, tier Tier) error
	GetGhosted(ctx context.Context, userID string) ([]uuid.UUID, error)
}
