package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeType is the coarse result of using a memory item in a response.
type OutcomeType string

const (
	OutcomeWorked  OutcomeType = "worked"
	OutcomeFailed  OutcomeType = "failed"
	OutcomePartial OutcomeType = "partial"
	OutcomeUnknown OutcomeType = "unknown"
)

func ValidOutcome(o string) bool {
	switch OutcomeType(o) {
	case OutcomeWorked, OutcomeFailed, OutcomePartial, OutcomeUnknown:
		return true
	}
	return false
}

// OutcomeFromScore maps a coarse feedback score in {-1, 0, 1} to an
// outcome.
func OutcomeFromScore(score int) OutcomeType {
	switch {
	case score > 0:
		return OutcomeWorked
	case score < 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// OutcomeEvent is a single recorded outcome against a memory item.
type OutcomeEvent struct {
	ID         uuid.UUID   `json:"id"`
	UserID     string      `json:"user_id"`
	MemoryID   uuid.UUID   `json:"memory_id"`
	Outcome    OutcomeType `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// ActionOutcome records the result of taking an action tied to the
// action-knowledge-graph.
type ActionOutcome struct {
	ID          uuid.UUID   `json:"id"`
	UserID      string      `json:"user_id"`
	ActionID    uuid.UUID   `json:"action_id"`
	MemoryIDs   []uuid.UUID `json:"memory_ids,omitempty"`
	Outcome     OutcomeType `json:"outcome"`
	Description string      `json:"description,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// StatsDelta is the per-item counter mutation applied by an outcome event.
type StatsDelta struct {
	Worked  int
	Failed  int
	Partial int
	Unknown int
}

// DeltaForOutcome returns the single-counter delta for one outcome event:
// uses increments by 1 and exactly one of the four counters increments by 1.
func DeltaForOutcome(o OutcomeType) StatsDelta {
	switch o {
	case OutcomeWorked:
		return StatsDelta{Worked: 1}
	case OutcomeFailed:
		return StatsDelta{Failed: 1}
	case OutcomePartial:
		return StatsDelta{Partial: 1}
	default:
		return StatsDelta{Unknown: 1}
	}
}

// PersonalityMemoryMapping links an item back to the persona that produced
// it, for cross-persona auditing.
type PersonalityMemoryMapping struct {
	ID              uuid.UUID `json:"id"`
	MemoryID        uuid.UUID `json:"memory_id"`
	PersonalityID   uuid.UUID `json:"personality_id"`
	PersonalityName string    `json:"personality_name"`
	CreatedAt       time.Time `json:"created_at"`
}
