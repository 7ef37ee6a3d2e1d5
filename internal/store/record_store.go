// Package store implements the record store and vector index against
// Postgres + pgvector: pgxpool with parameterized WHERE building, scoped by
// user_id/tier/status/tags/entities, split across two tables (items vs.
// vectors) since the vector index is its own interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/wilson"
)

// RecordStore is the Postgres-backed domain.RecordStore.
type RecordStore struct {
	db *pgxpool.Pool
}

func NewRecordStore(db *pgxpool.Pool) *RecordStore {
	return &RecordStore{db: db}
}

var _ domain.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) Insert(ctx context.Context, item *domain.MemoryItem) error {
	if item.MemoryID == uuid.Nil {
		item.MemoryID = uuid.New()
	}
	now := time.Now()
	if item.Timestamps.CreatedAt.IsZero() {
		item.Timestamps.CreatedAt = now
	}
	item.Timestamps.UpdatedAt = now

	var bookJSON []byte
	if item.Source.Book != nil {
		var err error
		bookJSON, err = json.Marshal(item.Source.Book)
		if err != nil {
			return fmt.Errorf("marshal source book: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_items (
			memory_id, user_id, org_id, tier, status, text, summary, tags, entities,
			source_kind, source_conversation_id, source_message_id, source_tool_id,
			source_document_id, source_book,
			importance, confidence, mentioned_count,
			uses, last_used_at, worked_count, failed_count, partial_count, unknown_count,
			success_rate, wilson_score,
			created_at, updated_at, archived_at, expires_at,
			embedding_model, embedding_dims, vector_hash, last_indexed_at,
			current_version, supersedes_memory_id,
			source_personality_id, source_personality_name,
			language, always_inject, needs_reindex, needs_reindex_reason, raw_text_backup
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23, $24,
			$25, $26,
			$27, $28, $29, $30,
			$31, $32, $33, $34,
			$35, $36,
			$37, $38,
			$39, $40, $41, $42, $43
		)`,
		item.MemoryID, item.UserID, item.OrgID, string(item.Tier), string(item.Status), item.Text, item.Summary, item.Tags, item.Entities,
		string(item.Source.Kind), nullUUID(item.Source.ConversationID), nullUUID(item.Source.MessageID), item.Source.ToolID,
		nullUUID(item.Source.DocumentID), bookJSON,
		item.Quality.Importance, item.Quality.Confidence, item.Quality.MentionedCount,
		item.Stats.Uses, item.Stats.LastUsedAt, item.Stats.WorkedCount, item.Stats.FailedCount, item.Stats.PartialCount, item.Stats.UnknownCount,
		item.Stats.SuccessRate, item.Stats.WilsonScore,
		item.Timestamps.CreatedAt, item.Timestamps.UpdatedAt, item.Timestamps.ArchivedAt, item.Timestamps.ExpiresAt,
		item.Embedding.Model, item.Embedding.Dims, item.Embedding.VectorHash, item.Embedding.LastIndexedAt,
		item.Versioning.CurrentVersion, item.Versioning.SupersedesMemoryID,
		personalityID(item.Personality), personalityName(item.Personality),
		string(item.Language), item.AlwaysInject, item.NeedsReindex, item.NeedsReindexReason, item.RawTextBackup,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("RecordStore.Insert", item.MemoryID.String())
		}
		return fmt.Errorf("insert memory item: %w", err)
	}
	return nil
}

// Replace is Insert's upsert counterpart: it overwrites every column of an
// existing row in place instead of rejecting on a duplicate memory_id, the
// path importBackup's replace/merge strategies and a "hard-delete only via
// backup replace" admin op use.
func (s *RecordStore) Replace(ctx context.Context, item *domain.MemoryItem) error {
	if item.MemoryID == uuid.Nil {
		item.MemoryID = uuid.New()
	}
	now := time.Now()
	if item.Timestamps.CreatedAt.IsZero() {
		item.Timestamps.CreatedAt = now
	}
	item.Timestamps.UpdatedAt = now

	var bookJSON []byte
	if item.Source.Book != nil {
		var err error
		bookJSON, err = json.Marshal(item.Source.Book)
		if err != nil {
			return fmt.Errorf("marshal source book: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_items (
			memory_id, user_id, org_id, tier, status, text, summary, tags, entities,
			source_kind, source_conversation_id, source_message_id, source_tool_id,
			source_document_id, source_book,
			importance, confidence, mentioned_count,
			uses, last_used_at, worked_count, failed_count, partial_count, unknown_count,
			success_rate, wilson_score,
			created_at, updated_at, archived_at, expires_at,
			embedding_model, embedding_dims, vector_hash, last_indexed_at,
			current_version, supersedes_memory_id,
			source_personality_id, source_personality_name,
			language, always_inject, needs_reindex, needs_reindex_reason, raw_text_backup
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23, $24,
			$25, $26,
			$27, $28, $29, $30,
			$31, $32, $33, $34,
			$35, $36,
			$37, $38,
			$39, $40, $41, $42, $43
		)
		ON CONFLICT (memory_id) DO UPDATE SET
			user_id = EXCLUDED.user_id, org_id = EXCLUDED.org_id,
			tier = EXCLUDED.tier, status = EXCLUDED.status,
			text = EXCLUDED.text, summary = EXCLUDED.summary,
			tags = EXCLUDED.tags, entities = EXCLUDED.entities,
			source_kind = EXCLUDED.source_kind,
			source_conversation_id = EXCLUDED.source_conversation_id,
			source_message_id = EXCLUDED.source_message_id,
			source_tool_id = EXCLUDED.source_tool_id,
			source_document_id = EXCLUDED.source_document_id,
			source_book = EXCLUDED.source_book,
			importance = EXCLUDED.importance, confidence = EXCLUDED.confidence,
			mentioned_count = EXCLUDED.mentioned_count,
			uses = EXCLUDED.uses, last_used_at = EXCLUDED.last_used_at,
			worked_count = EXCLUDED.worked_count, failed_count = EXCLUDED.failed_count,
			partial_count = EXCLUDED.partial_count, unknown_count = EXCLUDED.unknown_count,
			success_rate = EXCLUDED.success_rate, wilson_score = EXCLUDED.wilson_score,
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at, expires_at = EXCLUDED.expires_at,
			embedding_model = EXCLUDED.embedding_model, embedding_dims = EXCLUDED.embedding_dims,
			vector_hash = EXCLUDED.vector_hash, last_indexed_at = EXCLUDED.last_indexed_at,
			current_version = EXCLUDED.current_version,
			supersedes_memory_id = EXCLUDED.supersedes_memory_id,
			source_personality_id = EXCLUDED.source_personality_id,
			source_personality_name = EXCLUDED.source_personality_name,
			language = EXCLUDED.language, always_inject = EXCLUDED.always_inject,
			needs_reindex = EXCLUDED.needs_reindex,
			needs_reindex_reason = EXCLUDED.needs_reindex_reason,
			raw_text_backup = EXCLUDED.raw_text_backup`,
		item.MemoryID, item.UserID, item.OrgID, string(item.Tier), string(item.Status), item.Text, item.Summary, item.Tags, item.Entities,
		string(item.Source.Kind), nullUUID(item.Source.ConversationID), nullUUID(item.Source.MessageID), item.Source.ToolID,
		nullUUID(item.Source.DocumentID), bookJSON,
		item.Quality.Importance, item.Quality.Confidence, item.Quality.MentionedCount,
		item.Stats.Uses, item.Stats.LastUsedAt, item.Stats.WorkedCount, item.Stats.FailedCount, item.Stats.PartialCount, item.Stats.UnknownCount,
		item.Stats.SuccessRate, item.Stats.WilsonScore,
		item.Timestamps.CreatedAt, item.Timestamps.UpdatedAt, item.Timestamps.ArchivedAt, item.Timestamps.ExpiresAt,
		item.Embedding.Model, item.Embedding.Dims, item.Embedding.VectorHash, item.Embedding.LastIndexedAt,
		item.Versioning.CurrentVersion, item.Versioning.SupersedesMemoryID,
		personalityID(item.Personality), personalityName(item.Personality),
		string(item.Language), item.AlwaysInject, item.NeedsReindex, item.NeedsReindexReason, item.RawTextBackup,
	)
	if err != nil {
		return fmt.Errorf("replace memory item: %w", err)
	}
	return nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func personalityID(p *domain.Personality) *uuid.UUID {
	if p == nil {
		return nil
	}
	return p.SourcePersonalityID
}

func personalityName(p *domain.Personality) string {
	if p == nil {
		return ""
	}
	return p.SourcePersonalityName
}

const itemColumns = `memory_id, user_id, org_id, tier, status, text, summary, tags, entities,
	source_kind, source_conversation_id, source_message_id, source_tool_id,
	source_document_id, source_book,
	importance, confidence, mentioned_count,
	uses, last_used_at, worked_count, failed_count, partial_count, unknown_count,
	success_rate, wilson_score,
	created_at, updated_at, archived_at, expires_at,
	embedding_model, embedding_dims, vector_hash, last_indexed_at,
	current_version, supersedes_memory_id,
	source_personality_id, source_personality_name,
	language, always_inject, needs_reindex, needs_reindex_reason, raw_text_backup`

func scanItem(row pgx.Row) (*domain.MemoryItem, error) {
	var item domain.MemoryItem
	var tier, status, sourceKind, language string
	var convID, msgID, docID, personalityID, supersedes *uuid.UUID
	var personalityName string
	var bookJSON []byte

	err := row.Scan(
		&item.MemoryID, &item.UserID, &item.OrgID, &tier, &status, &item.Text, &item.Summary, &item.Tags, &item.Entities,
		&sourceKind, &convID, &msgID, &item.Source.ToolID,
		&docID, &bookJSON,
		&item.Quality.Importance, &item.Quality.Confidence, &item.Quality.MentionedCount,
		&item.Stats.Uses, &item.Stats.LastUsedAt, &item.Stats.WorkedCount, &item.Stats.FailedCount, &item.Stats.PartialCount, &item.Stats.UnknownCount,
		&item.Stats.SuccessRate, &item.Stats.WilsonScore,
		&item.Timestamps.CreatedAt, &item.Timestamps.UpdatedAt, &item.Timestamps.ArchivedAt, &item.Timestamps.ExpiresAt,
		&item.Embedding.Model, &item.Embedding.Dims, &item.Embedding.VectorHash, &item.Embedding.LastIndexedAt,
		&item.Versioning.CurrentVersion, &supersedes,
		&personalityID, &personalityName,
		&language, &item.AlwaysInject, &item.NeedsReindex, &item.NeedsReindexReason, &item.RawTextBackup,
	)
	if err != nil {
		return nil, err
	}

	item.Tier = domain.Tier(tier)
	item.Status = domain.Status(status)
	item.Language = domain.Language(language)
	item.Source.Kind = domain.SourceKind(sourceKind)
	if len(bookJSON) > 0 {
		var book domain.BookMetadata
		if err := json.Unmarshal(bookJSON, &book); err != nil {
			return nil, fmt.Errorf("unmarshal source book: %w", err)
		}
		item.Source.Book = &book
	}
	if convID != nil {
		item.Source.ConversationID = *convID
	}
	if msgID != nil {
		item.Source.MessageID = *msgID
	}
	if docID != nil {
		item.Source.DocumentID = *docID
	}
	item.Versioning.SupersedesMemoryID = supersedes
	if personalityID != nil || personalityName != "" {
		item.Personality = &domain.Personality{SourcePersonalityID: personalityID, SourcePersonalityName: personalityName}
	}
	return &item, nil
}

func (s *RecordStore) GetByID(ctx context.Context, id uuid.UUID, userID string) (*domain.MemoryItem, error) {
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM memory_items WHERE memory_id = $1 AND user_id = $2`, id, userID)
	item, err := scanItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("RecordStore.GetByID", id.String())
		}
		return nil, fmt.Errorf("get memory item: %w", err)
	}
	return item, nil
}

func (s *RecordStore) Query(ctx context.Context, q domain.RecordQuery) ([]domain.MemoryItem, error) {
	var conditions []string
	var args []any

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
	if q.Since != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", len(args)+1))
		args = append(args, *q.Since)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM memory_items WHERE %s ORDER BY updated_at DESC, memory_id LIMIT $%d`,
		itemColumns, strings.Join(conditions, " AND "), len(args),
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory items: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// UpdateStats atomically increments the outcome counters and recomputes
// success_rate/wilson_score from the post-increment counts within a single
// transaction, so the stored wilson_score always equals the value
// recomputed from the current counts.
func (s *RecordStore) UpdateStats(ctx context.Context, id uuid.UUID, delta domain.StatsDelta) (*domain.MemoryItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("update stats begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var worked, failed int
	err = tx.QueryRow(ctx, `
		UPDATE memory_items SET
			uses = uses + 1,
			worked_count = worked_count + $2,
			failed_count = failed_count + $3,
			partial_count = partial_count + $4,
			unknown_count = unknown_count + $5,
			last_used_at = NOW(),
			updated_at = NOW()
		WHERE memory_id = $1
		RETURNING worked_count, failed_count`,
		id, delta.Worked, delta.Failed, delta.Partial, delta.Unknown,
	).Scan(&worked, &failed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("RecordStore.UpdateStats", id.String())
		}
		return nil, fmt.Errorf("update stats counters: %w", err)
	}

	successRate := (domain.Stats{WorkedCount: worked, FailedCount: failed}).ComputeSuccessRate()
	wilsonScore := wilson.Score(worked, failed)

	row := tx.QueryRow(ctx, `
		UPDATE memory_items SET success_rate = $2, wilson_score = $3
		WHERE memory_id = $1
		RETURNING `+itemColumns,
		id, successRate, wilsonScore,
	)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("update stats recompute: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update stats commit: %w", err)
	}
	return item, nil
}

func (s *RecordStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status, reason string) error {
	var archivedAtExpr string
	if status == domain.StatusArchived {
		archivedAtExpr = "NOW()"
	} else {
		archivedAtExpr = "NULL"
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE memory_items SET status = $1, archived_at = %s, updated_at = NOW() WHERE memory_id = $2`, archivedAtExpr,
	), string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("RecordStore.UpdateStatus", id.String())
	}
	return nil
}

func (s *RecordStore) UpdateContent(ctx context.Context, id uuid.UUID, text string, tags []string, rawTextBackup string) (*domain.MemoryItem, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE memory_items SET
			text = $2, tags = $3, raw_text_backup = COALESCE(NULLIF($4, ''), raw_text_backup),
			needs_reindex = true, updated_at = NOW()
		WHERE memory_id = $1
		RETURNING `+itemColumns,
		id, text, tags, rawTextBackup,
	)
	item, err := scanItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("RecordStore.UpdateContent", id.String())
		}
		return nil, fmt.Errorf("update content: %w", err)
	}
	return item, nil
}

func (s *RecordStore) MarkForReindex(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_items SET needs_reindex = true, needs_reindex_reason = $1 WHERE memory_id = $2`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("mark for reindex: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("RecordStore.MarkForReindex", id.String())
	}
	return nil
}

func (s *RecordStore) ClearReindex(ctx context.Context, id uuid.UUID, vectorHash string, indexedAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_items SET needs_reindex = false, needs_reindex_reason = '', vector_hash = $1, last_indexed_at = $2 WHERE memory_id = $3`,
		vectorHash, indexedAt, id,
	)
	if err != nil {
		return fmt.Errorf("clear reindex: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("RecordStore.ClearReindex", id.String())
	}
	return nil
}

func (s *RecordStore) BulkUpdateTier(ctx context.Context, ids []uuid.UUID, tier domain.Tier, expiresAt *time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE memory_items SET tier = $1, expires_at = $2, updated_at = NOW() WHERE memory_id = ANY($3)`,
		string(tier), expiresAt, ids,
	)
	if err != nil {
		return fmt.Errorf("bulk update tier: %w", err)
	}
	return nil
}

func (s *RecordStore) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, status domain.Status, reason string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE memory_items SET status = $1, updated_at = NOW() WHERE memory_id = ANY($2)`,
		string(status), ids,
	)
	if err != nil {
		return fmt.Errorf("bulk update status: %w", err)
	}
	return nil
}

func (s *RecordStore) ScrollNeedsReindex(ctx context.Context, userID string, pageSize int, cursor *uuid.UUID) ([]domain.MemoryItem, *uuid.UUID, error) {
	var cursorID uuid.UUID
	if cursor != nil {
		cursorID = *cursor
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+` FROM memory_items
		WHERE user_id = $1 AND needs_reindex = true AND memory_id > $2
		ORDER BY memory_id
		LIMIT $3`,
		userID, cursorID, pageSize,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("scroll needs reindex: %w", err)
	}
	defer rows.Close()

	var out []domain.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan memory item: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(out) == 0 {
		return nil, nil, nil
	}
	var next *uuid.UUID
	if len(out) == pageSize {
		id := out[len(out)-1].MemoryID
		next = &id
	}
	return out, next, nil
}

func (s *RecordStore) UpsertKgNode(ctx context.Context, n *domain.KgNode) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal kg node metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO kg_nodes (id, user_id, label, kind, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, kind = EXCLUDED.kind, metadata = EXCLUDED.metadata`,
		n.ID, n.UserID, n.Label, n.Kind, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert kg node: %w", err)
	}
	return nil
}

func (s *RecordStore) UpsertKgEdge(ctx context.Context, e *domain.KgEdge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO kg_edges (id, user_id, source_id, target_id, relation_type, strength, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET relation_type = EXCLUDED.relation_type, strength = EXCLUDED.strength`,
		e.ID, e.UserID, e.SourceID, e.TargetID, e.RelationType, e.Strength,
	)
	if err != nil {
		return fmt.Errorf("upsert kg edge: %w", err)
	}
	return nil
}

func (s *RecordStore) GetKgNeighbors(ctx context.Context, userID string, nodeID uuid.UUID) ([]domain.KgEdge, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, source_id, target_id, relation_type, strength, created_at
		FROM kg_edges WHERE user_id = $1 AND (source_id = $2 OR target_id = $2)`,
		userID, nodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("get kg neighbors: %w", err)
	}
	defer rows.Close()

	var out []domain.KgEdge
	for rows.Next() {
		var e domain.KgEdge
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceID, &e.TargetID, &e.RelationType, &e.Strength, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *RecordStore) InsertOutcomeEvent(ctx context.Context, e *domain.OutcomeEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO outcome_events (id, user_id, memory_id, outcome, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.MemoryID, string(e.Outcome), e.Reason, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome event: %w", err)
	}
	return nil
}

func (s *RecordStore) RecentOutcomes(ctx context.Context, userID string, limit int) ([]domain.OutcomeEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, memory_id, outcome, reason, occurred_at
		FROM outcome_events WHERE user_id = $1 ORDER BY occurred_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.OutcomeEvent
	for rows.Next() {
		var e domain.OutcomeEvent
		var outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.MemoryID, &outcome, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Outcome = domain.OutcomeType(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *RecordStore) SaveCheckpoint(ctx context.Context, c *domain.ReindexCheckpoint) error {
	c.UpdatedAt = time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO reindex_checkpoints (job_id, user_id, tier, last_memory_id, processed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			last_memory_id = EXCLUDED.last_memory_id, processed = EXCLUDED.processed, updated_at = EXCLUDED.updated_at`,
		c.JobID, c.UserID, string(c.Tier), c.LastMemoryID, c.Processed, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *RecordStore) LoadCheckpoint(ctx context.Context, jobID uuid.UUID) (*domain.ReindexCheckpoint, error) {
	var c domain.ReindexCheckpoint
	var tier string
	err := s.db.QueryRow(ctx, `
		SELECT job_id, user_id, tier, last_memory_id, processed, updated_at
		FROM reindex_checkpoints WHERE job_id = $1`, jobID,
	).Scan(&c.JobID, &c.UserID, &tier, &c.LastMemoryID, &c.Processed, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("RecordStore.LoadCheckpoint", jobID.String())
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	c.Tier = domain.Tier(tier)
	return &c, nil
}

func (s *RecordStore) AppendConsistencyLog(ctx context.Context, l *domain.ConsistencyLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO consistency_log (id, type, memory_id, details, repaired, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.Type, l.MemoryID, l.Details, l.Repaired, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append consistency log: %w", err)
	}
	return nil
}

func (s *RecordStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.db.QueryRow(ctx, `
		SELECT user_id, goals, "values", data, updated_at FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.Goals, &p.Values, &p.Data, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("RecordStore.GetProfile", userID)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *RecordStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	p.UpdatedAt = time.Now()
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (user_id, goals, "values", data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			goals = EXCLUDED.goals, "values" = EXCLUDED."values", data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Goals, p.Values, p.Data, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *RecordStore) InsertGhost(ctx context.Context, userID string, memoryID uuid.UUID, tier domain.Tier) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ghosts (user_id, memory_id, tier, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, memory_id) DO UPDATE SET tier = EXCLUDED.tier`,
		userID, memoryID, string(tier),
	)
	if err != nil {
		return fmt.Errorf("insert ghost: %w", err)
	}
	return nil
}

func (s *RecordStore) DeleteGhost(ctx context.Context, userID string, memoryID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ghosts WHERE user_id = $1 AND memory_id = $2`, userID, memoryID)
	if err != nil {
		return fmt.Errorf("delete ghost: %w", err)
	}
	return nil
}

func (s *RecordStore) ListGhosts(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT memory_id FROM ghosts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ghosts: %w", err)
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

func (s *RecordStore) ClearGhostsByTier(ctx context.Context, userID string, tier domain.Tier) error {
	_, err := s.db.Exec(ctx, `DELETE FROM ghosts WHERE user_id = $1 AND tier = $2`, userID, string(tier))
	if err != nil {
		return fmt.Errorf("clear ghosts by tier: %w", err)
	}
	return nil
}

func (s *RecordStore) ListDistinctUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT user_id FROM memory_items`)
	if err != nil {
		return nil, fmt.Errorf("list distinct user ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
