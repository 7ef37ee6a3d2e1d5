package domain

import (
	"time"

	"github.com/google/uuid"
)

// KgNode is a knowledge-graph node scoped to a user.
type KgNode struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Label     string         `json:"label"`
	Kind      string         `json:"kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// KgEdge links two nodes (or a node and a memory item) with a typed relation.
type KgEdge struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	SourceID     uuid.UUID `json:"source_id"`
	TargetID     uuid.UUID `json:"target_id"`
	RelationType string    `json:"relation_type"`
	Strength     float64   `json:"strength"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReindexCheckpoint records resumable progress through a reindex run.
type ReindexCheckpoint struct {
	JobID        uuid.UUID  `json:"job_id"`
	UserID       string     `json:"user_id,omitempty"`
	Tier         Tier       `json:"tier,omitempty"`
	LastMemoryID *uuid.UUID `json:"last_memory_id,omitempty"`
	Processed    int        `json:"processed"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ConsistencyLog is one entry emitted by a ConsistencyChecker sweep action.
type ConsistencyLog struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	MemoryID  uuid.UUID `json:"memory_id"`
	Details   string    `json:"details,omitempty"`
	Repaired  bool      `json:"repaired"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the per-user arbitrary data store: goals, values, free-form data.
type Profile struct {
	UserID    string         `json:"user_id"`
	Goals     []string       `json:"goals,omitempty"`
	Values    []string       `json:"values,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}
