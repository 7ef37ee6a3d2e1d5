package domain

import "github.com/google/uuid"

// Confidence is the coarse signal attached to a retrieval's injected
// context.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Step returns c shifted n steps toward high (n>0) or low (n<0), clamped at
// both ends stage 11's "upgrade/downgrade one step".
func (c Confidence) Step(n int) Confidence {
	order := []Confidence{ConfidenceLow, ConfidenceMedium, ConfidenceHigh}
	idx := 1
	for i, v := range order {
		if v == c {
			idx = i
		}
	}
	idx += n
	if idx < 0 {
		idx = 0
	}
	if idx > len(order)-1 {
		idx = len(order) - 1
	}
	return order[idx]
}

// ScoreSummary is the full breakdown of how a candidate's final score was
// derived, surfaced verbatim on `search` results.
type ScoreSummary struct {
	FinalScore          float64        `json:"final_score"`
	EmbeddingSimilarity float64        `json:"embedding_similarity,omitempty"`
	LearnedScore        float64        `json:"learned_score,omitempty"`
	DenseSimilarity     float64        `json:"dense_similarity,omitempty"`
	TextSimilarity      float64        `json:"text_similarity,omitempty"`
	RRFScore            float64        `json:"rrf_score,omitempty"`
	CEScore             float64        `json:"ce_score,omitempty"`
	QualityScore        float64        `json:"quality_score,omitempty"`
	EntityBoost         float64        `json:"entity_boost,omitempty"`
	EmbeddingWeight     float64        `json:"embedding_weight,omitempty"`
	LearnedWeight       float64        `json:"learned_weight,omitempty"`
	Ranks               map[string]int `json:"ranks,omitempty"`
	Uses                int            `json:"uses"`
	WilsonScore         float64        `json:"wilson_score"`
	LastOutcome         OutcomeType    `json:"last_outcome,omitempty"`
	AgeSeconds          float64        `json:"age_seconds"`
}

// RankedResult is one item in a retrieval's final ordering.
type RankedResult struct {
	Position     int          `json:"position"`
	MemoryID     uuid.UUID    `json:"memory_id"`
	Tier         Tier         `json:"tier"`
	Item         MemoryItem   `json:"-"`
	ScoreSummary ScoreSummary `json:"score_summary"`
}

// Debug carries the per-stage timing and fallback trail threaded through the
// pipeline.
type Debug struct {
	StageTimingsMs map[string]int64 `json:"stage_timings_ms"`
	FallbacksUsed  []string         `json:"fallbacks_used"`
	Errors         []string         `json:"errors,omitempty"`
	Confidence     Confidence       `json:"confidence"`
}

// RetrieveOutcome is the RetrievalPipeline's internal result (
// steps 1-11), handed off to ContextAssembler (step 12) or rendered directly
// by Facade.search.
type RetrieveOutcome struct {
	Results    []RankedResult
	Confidence Confidence
	Debug      Debug
	Language   Language
}
