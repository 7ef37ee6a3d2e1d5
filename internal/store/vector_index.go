package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/pgvector/pgvector-go"
)

// VectorIndex is the pgvector-backed domain.VectorIndex: cosine similarity
// queries (1 - (embedding <=> $n)) over a dedicated table scoped by the
// user_id/tier/status/tags/entities payload filter set, kept separate from
// the record table since vector search is its own store.
type VectorIndex struct {
	db  *pgxpool.Pool
	dim int
}

func NewVectorIndex(db *pgxpool.Pool, dim int) *VectorIndex {
	return &VectorIndex{db: db, dim: dim}
}

var _ domain.VectorIndex = (*VectorIndex)(nil)

func (v *VectorIndex) EnsureSchema(ctx context.Context, dim int, metric string) error {
	v.dim = dim
	_, err := v.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("ensure vector extension: %w", err)
	}
	_, err = v.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memory_vectors (
			memory_id uuid PRIMARY KEY,
			user_id text NOT NULL,
			tier text NOT NULL,
			status text NOT NULL,
			tags text[] NOT NULL DEFAULT '{}',
			entities text[] NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, dim))
	if err != nil {
		return fmt.Errorf("ensure memory_vectors table: %w", err)
	}

	// A pre-existing table is not altered by CREATE TABLE IF NOT EXISTS, so
	// read the embedding column's declared dimension (pgvector stores it in
	// atttypmod) and surface a mismatch as the typed schema error policy
	// dispatches on.
	var existingDim int
	err = v.db.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = 'memory_vectors' AND a.attname = 'embedding'`).Scan(&existingDim)
	if err != nil {
		return fmt.Errorf("read memory_vectors embedding dimension: %w", err)
	}
	if existingDim > 0 && existingDim != dim {
		return apperr.SchemaMismatch("VectorIndex.EnsureSchema",
			fmt.Sprintf("collection dimension %d does not match embedder dimension %d", existingDim, dim), nil)
	}
	_, err = v.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS memory_vectors_user_idx ON memory_vectors (user_id)`)
	if err != nil {
		return fmt.Errorf("ensure memory_vectors user index: %w", err)
	}
	ops := vectorOpsForMetric(metric)
	_, err = v.db.Exec(ctx, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS memory_vectors_embedding_idx ON memory_vectors
		USING ivfflat (embedding %s) WITH (lists = 100)`, ops))
	if err != nil {
		return fmt.Errorf("ensure memory_vectors ivfflat index: %w", err)
	}
	return nil
}

func vectorOpsForMetric(metric string) string {
	switch metric {
	case "l2":
		return "vector_l2_ops"
	case "dot", "inner_product":
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

func (v *VectorIndex) Dimension() int { return v.dim }

func (v *VectorIndex) Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload domain.VectorPayload) error {
	if v.dim != 0 && len(vector) != v.dim {
		return fmt.Errorf("upsert vector: dimension mismatch, got %d want %d", len(vector), v.dim)
	}
	_, err := v.db.Exec(ctx, `
		INSERT INTO memory_vectors (memory_id, user_id, tier, status, tags, entities, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (memory_id) DO UPDATE SET
			user_id = EXCLUDED.user_id, tier = EXCLUDED.tier, status = EXCLUDED.status,
			tags = EXCLUDED.tags, entities = EXCLUDED.entities, embedding = EXCLUDED.embedding`,
		id, payload.UserID, string(payload.Tier), string(payload.Status), payload.Tags, payload.Entities, pgvector.NewVector(vector),
	)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

func (v *VectorIndex) UpsertBatch(ctx context.Context, ids []uuid.UUID, vectors [][]float32, payloads []domain.VectorPayload) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("upsert batch: mismatched slice lengths")
	}
	for i := range ids {
		if err := v.Upsert(ctx, ids[i], vectors[i], payloads[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, q domain.VectorSearchQuery) ([]domain.VectorHit, error) {
	if v.dim != 0 && len(q.Vector) != v.dim {
		return nil, fmt.Errorf("search vector: dimension mismatch, got %d want %d", len(q.Vector), v.dim)
	}

	var conditions []string
	var args []any

	args = append(args, pgvector.NewVector(q.Vector))
	conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
	args = append(args, q.UserID)

	if len(q.Tiers) > 0 {
		tiers := make([]string, len(q.Tiers))
		for i, t := range q.Tiers {
			tiers[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("tier = ANY($%d)", len(args)+1))
		args = append(args, tiers)
	}
	if len(q.Status) > 0 {
		statuses := make([]string, len(q.Status))
		for i, st := range q.Status {
			statuses[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, statuses)
	}
	if len(q.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("tags && $%d", len(args)+1))
		args = append(args, q.Tags)
	}
	if len(q.FilterIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("memory_id = ANY($%d)", len(args)+1))
		args = append(args, q.FilterIDs)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT memory_id, 1 - (embedding <=> $1) AS score
		FROM memory_vectors
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args),
	)

	rows, err := v.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var out []domain.VectorHit
	for rows.Next() {
		var hit domain.VectorHit
		if err := rows.Scan(&hit.MemoryID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		if q.MinScore > 0 && hit.Score < q.MinScore {
			continue
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (v *VectorIndex) FilterByEntities(ctx context.Context, userID string, entityWords []string, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := v.db.Query(ctx, `
		SELECT memory_id FROM memory_vectors
		WHERE user_id = $1 AND entities && $2
		LIMIT $3`, userID, entityWords, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("filter by entities: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (v *VectorIndex) DeleteByFilter(ctx context.Context, userID string, tier *domain.Tier, status *domain.Status) (int, error) {
	var conditions []string
	var args []any

	args = append(args, userID)
	conditions = append(conditions, "user_id = $1")
	if tier != nil {
		args = append(args, string(*tier))
		conditions = append(conditions, fmt.Sprintf("tier = $%d", len(args)))
	}
	if status != nil {
		args = append(args, string(*status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	tag, err := v.db.Exec(ctx, fmt.Sprintf(
		`DELETE FROM memory_vectors WHERE %s`, strings.Join(conditions, " AND "),
	), args...)
	if err != nil {
		return 0, fmt.Errorf("delete by filter: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (v *VectorIndex) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := v.db.Exec(ctx, `DELETE FROM memory_vectors WHERE memory_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete by id: %w", err)
	}
	return nil
}

func (v *VectorIndex) Scroll(ctx context.Context, userID string, pageSize int, cursor *uuid.UUID) ([]uuid.UUID, *uuid.UUID, error) {
	var cursorID uuid.UUID
	if cursor != nil {
		cursorID = *cursor
	}
	rows, err := v.db.Query(ctx, `
		SELECT memory_id FROM memory_vectors
		WHERE user_id = $1 AND memory_id > $2
		ORDER BY memory_id
		LIMIT $3`, userID, cursorID, pageSize,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("scroll vectors: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	var next *uuid.UUID
	if len(ids) == pageSize {
		last := ids[len(ids)-1]
		next = &last
	}
	return ids, next, nil
}
