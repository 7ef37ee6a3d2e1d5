package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the coarse lifecycle bucket of a memory item. It determines TTL,
// retrieval weighting, and promotion eligibility.
type Tier string

const (
	TierWorking          Tier = "working"
	TierHistory          Tier = "history"
	TierPatterns         Tier = "patterns"
	TierDocuments        Tier = "documents"
	TierMemoryBank       Tier = "memory_bank"
	TierDatagovSchema    Tier = "datagov_schema"
	TierDatagovExpansion Tier = "datagov_expansion"
)

func ValidTier(t string) bool {
	switch Tier(t) {
	case TierWorking, TierHistory, TierPatterns, TierDocuments, TierMemoryBank, TierDatagovSchema, TierDatagovExpansion:
		return true
	}
	return false
}

// TTLEligible reports whether t is one of the tiers that carry a
// tier-specific expiry.
func TTLEligible(t Tier) bool {
	switch t {
	case TierWorking, TierHistory, TierPatterns:
		return true
	}
	return false
}

// OutcomeScored reports whether a tier participates in outcome-based scoring.
// documents and datagov_* tiers always weight toward embedding similarity.
func OutcomeScored(t Tier) bool {
	switch t {
	case TierDocuments, TierDatagovSchema, TierDatagovExpansion:
		return false
	}
	return true
}

// Status is the item's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// Language is the detected/declared language of an item's text.
type Language string

const (
	LanguageHebrew  Language = "he"
	LanguageEnglish Language = "en"
	LanguageMixed   Language = "mixed"
	LanguageNone    Language = "none"
)

// SourceKind tags who/what produced an item.
type SourceKind string

const (
	SourceUser      SourceKind = "user"
	SourceAssistant SourceKind = "assistant"
	SourceTool      SourceKind = "tool"
	SourceDocument  SourceKind = "document"
	SourceSystem    SourceKind = "system"
)

// BookMetadata is populated only for document-tier items.
type BookMetadata struct {
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	Hash       string `json:"hash,omitempty"`
}

// Source is a tagged variant describing an item's provenance.
type Source struct {
	Kind           SourceKind    `json:"kind"`
	ConversationID uuid.UUID     `json:"conversation_id,omitempty"`
	MessageID      uuid.UUID     `json:"message_id,omitempty"`
	ToolID         string        `json:"tool_id,omitempty"`
	DocumentID     uuid.UUID     `json:"document_id,omitempty"`
	Book           *BookMetadata `json:"book,omitempty"`
}

// Quality holds the curated/derived quality signals of an item.
type Quality struct {
	Importance     float64 `json:"importance"`
	Confidence     float64 `json:"confidence"`
	MentionedCount int     `json:"mentioned_count"`
}

// QualityScore is the derived importance*confidence product.
func (q Quality) QualityScore() float64 {
	return q.Importance * q.Confidence
}

// Stats holds outcome counters and derived reputation.
type Stats struct {
	Uses         int        `json:"uses"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	WorkedCount  int        `json:"worked_count"`
	FailedCount  int        `json:"failed_count"`
	PartialCount int        `json:"partial_count"`
	UnknownCount int        `json:"unknown_count"`
	SuccessRate  float64    `json:"success_rate"`
	WilsonScore  float64    `json:"wilson_score"`
}

// ComputeSuccessRate computes worked/(worked+failed), partial excluded
func (s Stats) ComputeSuccessRate() float64 {
	denom := s.WorkedCount + s.FailedCount
	if denom == 0 {
		return 0
	}
	return float64(s.WorkedCount) / float64(denom)
}

// Timestamps groups the item's lifecycle timestamps.
type Timestamps struct {
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// EmbeddingMeta tracks the item's current vector and whether it is stale.
type EmbeddingMeta struct {
	Model         string     `json:"model,omitempty"`
	Dims          int        `json:"dims,omitempty"`
	VectorHash    string     `json:"vector_hash,omitempty"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}

// Versioning tracks supersession chains across updates.
type Versioning struct {
	CurrentVersion     int        `json:"current_version"`
	SupersedesMemoryID *uuid.UUID `json:"supersedes_memory_id,omitempty"`
}

// Personality records the originating persona, when items are scoped to one.
type Personality struct {
	SourcePersonalityID   *uuid.UUID `json:"source_personality_id,omitempty"`
	SourcePersonalityName string     `json:"source_personality_name,omitempty"`
}

// MemoryItem is the unit of storage:
type MemoryItem struct {
	MemoryID uuid.UUID `json:"memory_id"`
	UserID   string    `json:"user_id"`
	OrgID    string    `json:"org_id,omitempty"`

	Tier   Tier   `json:"tier"`
	Status Status `json:"status"`

	Text    string   `json:"text"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	// RawTextBackup preserves the pre-sanitization text when
	// SanitizeCorruptedContent strips embedded base64/binary fragments.
	RawTextBackup string `json:"raw_text_backup,omitempty"`
	// Entities is capped at MaxEntities normalized tokens.
	Entities []string `json:"entities,omitempty"`

	Source Source `json:"source"`

	Quality Quality `json:"quality"`
	Stats   Stats   `json:"stats"`

	Timestamps Timestamps    `json:"timestamps"`
	Embedding  EmbeddingMeta `json:"embedding"`
	Versioning Versioning    `json:"versioning"`

	Personality *Personality `json:"personality,omitempty"`

	Language     Language `json:"language"`
	AlwaysInject bool     `json:"always_inject"`

	NeedsReindex       bool   `json:"needs_reindex"`
	NeedsReindexReason string `json:"needs_reindex_reason,omitempty"`
}

// MaxEntities is the cap places on normalized entity tokens.
const MaxEntities = 32

// Visible reports whether the item is eligible for retrieval absent ghosting:
// status=active. Ghosting is applied by the caller.
func (m *MemoryItem) Visible() bool {
	return m.Status == StatusActive
}

// TruncateEntities enforces the MaxEntities cap, keeping the first N.
func TruncateEntities(entities []string) []string {
	if len(entities) <= MaxEntities {
		return entities
	}
	out := make([]string, MaxEntities)
	copy(out, entities[:MaxEntities])
	return out
}
