package assembler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/stretchr/testify/require"
)

func rankedResult(pos int, tier domain.Tier, text string, wilson float64) domain.RankedResult {
	return domain.RankedResult{
		Position: pos,
		MemoryID: uuid.New(),
		Tier:     tier,
		Item:     domain.MemoryItem{Text: text, Tier: tier},
		ScoreSummary: domain.ScoreSummary{
			FinalScore:  1.0 / float64(pos+1),
			WilsonScore: wilson,
		},
	}
}

func TestAssembleColdStartProducesEmptyInjection(t *testing.T) {
	a := New()
	out := a.Assemble(Request{
		Outcome: domain.RetrieveOutcome{Confidence: domain.ConfidenceLow, Language: domain.LanguageEnglish},
	})
	require.Empty(t, out.InjectionText)
	require.Empty(t, out.Citations)
}

func TestAssemblePastExperienceAndFailures(t *testing.T) {
	pattern := rankedResult(0, domain.TierPatterns, "Use index-based loops", 1.0)
	failing := rankedResult(1, domain.TierWorking, "Use mutation inside map", 0.1)

	a := New()
	out := a.Assemble(Request{
		Outcome: domain.RetrieveOutcome{
			Results:    []domain.RankedResult{pattern, failing},
			Confidence: domain.ConfidenceHigh,
			Language:   domain.LanguageEnglish,
		},
		RecentOutcomes: []domain.OutcomeEvent{
			{MemoryID: failing.MemoryID, Outcome: domain.OutcomeFailed, Reason: "mutated map while ranging"},
		},
	})

	require.Contains(t, out.InjectionText, "Past Experience:")
	require.Contains(t, out.InjectionText, `"Use index-based loops" has 100% success rate`)
	require.Contains(t, out.InjectionText, "Past Failures to Avoid:")
	require.Contains(t, out.InjectionText, `"Use mutation inside map" failed due to: mutated map while ranging`)
	require.Len(t, out.Citations, 2)
}

func TestAssemblePatternRecognitionNote(t *testing.T) {
	r1 := rankedResult(0, domain.TierWorking, "debugging the retry loop", 0.6)
	r1.Item.Tags = []string{"retry"}
	r2 := rankedResult(1, domain.TierWorking, "another retry issue", 0.6)
	r2.Item.Tags = []string{"retry"}

	a := New()
	out := a.Assemble(Request{
		Outcome: domain.RetrieveOutcome{
			Results:    []domain.RankedResult{r1, r2},
			Confidence: domain.ConfidenceMedium,
			Language:   domain.LanguageEnglish,
		},
	})
	require.Contains(t, out.InjectionText, "Pattern Recognition:")
	require.Contains(t, out.InjectionText, "retry")
}

func TestAssembleTierRecommendationAndTopicContinuity(t *testing.T) {
	r1 := rankedResult(0, domain.TierPatterns, "retry backoff pattern", 0.9)
	r1.Item.Entities = []string{"backoff"}

	a := New()
	out := a.Assemble(Request{
		Query: "what is the best backoff strategy?",
		Outcome: domain.RetrieveOutcome{
			Results:    []domain.RankedResult{r1},
			Confidence: domain.ConfidenceMedium,
			Language:   domain.LanguageEnglish,
		},
		RecentMessages: []string{"we were discussing backoff earlier"},
	})
	require.Contains(t, out.InjectionText, "For 'backoff', check patterns")
	require.Contains(t, out.InjectionText, "Continuing from recent topics:")
	require.Contains(t, out.InjectionText, "backoff")
}

func TestAssembleHebrewConfidenceHeader(t *testing.T) {
	a := New()
	out := a.Assemble(Request{
		Outcome: domain.RetrieveOutcome{
			Results:    []domain.RankedResult{rankedResult(0, domain.TierWorking, "test", 0.5)},
			Confidence: domain.ConfidenceHigh,
			Language:   domain.LanguageHebrew,
		},
	})
	require.Contains(t, out.InjectionText, "ביטחון גבוה")
}
