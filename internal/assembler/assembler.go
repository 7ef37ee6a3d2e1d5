// Package assembler renders the retrieval pipeline's ranked results plus
// recent outcomes into the final injected text block and confidence banner.
// It never fabricates content; it renders from retrieved items plus
// deterministic templates, requesting labeled strings by key and language
// from an injected Provider.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
)

const (
	maxPastExperience = 3
	maxPastFailures   = 3
)

// Citation is one item's provenance, surfaced alongside the rendered text so
// callers can attribute injected content back to specific memories.
type Citation struct {
	MemoryID uuid.UUID   `json:"memory_id"`
	Tier     domain.Tier `json:"tier"`
	Position int         `json:"position"`
}

// Request bundles everything Assemble needs. RecentOutcomes and
// RecentMessages are both optional context the caller already holds; the
// assembler only reads from them, never queries a store itself.
type Request struct {
	Outcome        domain.RetrieveOutcome
	Query          string
	RecentMessages []string
	RecentOutcomes []domain.OutcomeEvent
}

// Result is the rendered output handed to the caller for injection.
type Result struct {
	InjectionText string
	Confidence    domain.Confidence
	Citations     []Citation
}

// Assembler renders RetrieveOutcome into the final deterministic text block.
type Assembler struct {
	strings Provider
}

// Option configures an Assembler at construction.
type Option func(*Assembler)

// WithProvider overrides the default EN/HE string table, e.g. for tests or
// additional locales.
func WithProvider(p Provider) Option {
	return func(a *Assembler) { a.strings = p }
}

func New(opts ...Option) *Assembler {
	a := &Assembler{strings: DefaultProvider}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble renders the deterministic output structure: confidence header,
// past experience, past failures, pattern recognition note, tier
// recommendations, topic continuity, closing directive.
func (a *Assembler) Assemble(req Request) Result {
	lang := req.Outcome.Language
	if lang == "" {
		lang = domain.LanguageEnglish
	}

	var b strings.Builder
	citations := make([]Citation, 0, len(req.Outcome.Results))
	for _, r := range req.Outcome.Results {
		citations = append(citations, Citation{MemoryID: r.MemoryID, Tier: r.Tier, Position: r.Position})
	}

	if len(req.Outcome.Results) == 0 {
		return Result{InjectionText: "", Confidence: req.Outcome.Confidence, Citations: citations}
	}

	b.WriteString(a.confidenceHeader(req.Outcome.Confidence, lang))

	if s := a.pastExperience(req.Outcome.Results, lang); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}
	if s := a.pastFailures(req.Outcome.Results, req.RecentOutcomes, lang); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}
	if s := a.patternNote(req.Outcome.Results, lang); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}
	if s := a.tierRecommendations(req.Query, req.Outcome.Results, lang); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}
	if s := a.topicContinuity(req.Query, req.RecentMessages, lang); s != "" {
		b.WriteString("\n\n")
		b.WriteString(s)
	}

	b.WriteString("\n\n")
	b.WriteString(a.strings.Label(KeyClosingDirective, lang))

	return Result{InjectionText: b.String(), Confidence: req.Outcome.Confidence, Citations: citations}
}

func (a *Assembler) confidenceHeader(c domain.Confidence, lang domain.Language) string {
	switch c {
	case domain.ConfidenceHigh:
		return a.strings.Label(KeyConfidenceHigh, lang)
	case domain.ConfidenceMedium:
		return a.strings.Label(KeyConfidenceMedium, lang)
	default:
		return a.strings.Label(KeyConfidenceLow, lang)
	}
}

// pastExperience lists up to maxPastExperience patterns-tier results with the
// highest Wilson score
func (a *Assembler) pastExperience(results []domain.RankedResult, lang domain.Language) string {
	var picks []domain.RankedResult
	for _, r := range results {
		if r.Tier == domain.TierPatterns {
			picks = append(picks, r)
		}
	}
	if len(picks) == 0 {
		return ""
	}
	sort.SliceStable(picks, func(i, j int) bool {
		return picks[i].ScoreSummary.WilsonScore > picks[j].ScoreSummary.WilsonScore
	})
	if len(picks) > maxPastExperience {
		picks = picks[:maxPastExperience]
	}

	var b strings.Builder
	b.WriteString(a.strings.Label(KeyPastExperience, lang))
	for _, r := range picks {
		pct := int(r.ScoreSummary.WilsonScore*100 + 0.5)
		fmt.Fprintf(&b, "\n- %q has %d%% success rate", r.Item.Text, pct)
	}
	return b.String()
}

// pastFailures lists up to maxPastFailures most recent failed outcomes whose
// item text is available from the ranked results. Failures
// against memories outside the current result set are skipped: the
// assembler only renders text it can attribute to a known item.
func (a *Assembler) pastFailures(results []domain.RankedResult, outcomes []domain.OutcomeEvent, lang domain.Language) string {
	textByID := make(map[uuid.UUID]string, len(results))
	for _, r := range results {
		textByID[r.MemoryID] = r.Item.Text
	}

	var failed []domain.OutcomeEvent
	for _, e := range outcomes {
		if e.Outcome != domain.OutcomeFailed {
			continue
		}
		if _, ok := textByID[e.MemoryID]; !ok {
			continue
		}
		failed = append(failed, e)
	}
	if len(failed) == 0 {
		return ""
	}
	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].OccurredAt.After(failed[j].OccurredAt)
	})
	if len(failed) > maxPastFailures {
		failed = failed[:maxPastFailures]
	}

	var b strings.Builder
	b.WriteString(a.strings.Label(KeyPastFailures, lang))
	for _, e := range failed {
		reason := e.Reason
		if reason == "" {
			reason = "unknown reason"
		}
		fmt.Fprintf(&b, "\n- %q failed due to: %s", textByID[e.MemoryID], reason)
	}
	return b.String()
}

// patternNote emits a short note when two or more working-tier results share
// a tag or entity
func (a *Assembler) patternNote(results []domain.RankedResult, lang domain.Language) string {
	counts := make(map[string]int)
	for _, r := range results {
		if r.Tier != domain.TierWorking {
			continue
		}
		seen := make(map[string]bool)
		for _, topic := range append(append([]string{}, r.Item.Tags...), r.Item.Entities...) {
			topic = strings.ToLower(topic)
			if topic == "" || seen[topic] {
				continue
			}
			seen[topic] = true
			counts[topic]++
		}
	}
	var shared string
	for topic, n := range counts {
		if n >= 2 && (shared == "" || topic < shared) {
			shared = topic
		}
	}
	if shared == "" {
		return ""
	}
	return fmt.Sprintf("%s recurring topic %q across recent working memory", a.strings.Label(KeyPatternNote, lang), shared)
}

// tierRecommendations emits one line per query concept for which the result
// set's best-performing tier is identifiable
func (a *Assembler) tierRecommendations(query string, results []domain.RankedResult, lang domain.Language) string {
	concepts := queryConcepts(query)
	if len(concepts) == 0 {
		return ""
	}

	type tierStat struct {
		sum float64
		n   int
	}
	byTier := make(map[domain.Tier]*tierStat)
	for _, r := range results {
		ts := byTier[r.Tier]
		if ts == nil {
			ts = &tierStat{}
			byTier[r.Tier] = ts
		}
		ts.sum += r.ScoreSummary.WilsonScore
		ts.n++
	}

	var lines []string
	tmpl := a.strings.Label(KeyTierRecLine, lang)
	for _, concept := range concepts {
		matched := false
		for _, r := range results {
			if containsFold(r.Item.Entities, concept) || containsFold(r.Item.Tags, concept) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		var bestTier domain.Tier
		var bestAvg float64
		for tier, ts := range byTier {
			if ts.n == 0 {
				continue
			}
			avg := ts.sum / float64(ts.n)
			if bestTier == "" || avg > bestAvg {
				bestTier, bestAvg = tier, avg
			}
		}
		if bestTier == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf(tmpl, concept, bestTier, int(bestAvg*100+0.5)))
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// topicContinuity notes overlap between recent conversation topics and the
// current query's concepts
func (a *Assembler) topicContinuity(query string, recentMessages []string, lang domain.Language) string {
	concepts := queryConcepts(query)
	if len(concepts) == 0 || len(recentMessages) == 0 {
		return ""
	}
	recentTokens := make(map[string]bool)
	for _, msg := range recentMessages {
		for _, tok := range tokenize(msg) {
			recentTokens[tok] = true
		}
	}
	var overlap []string
	for _, c := range concepts {
		if recentTokens[c] {
			overlap = append(overlap, c)
		}
	}
	if len(overlap) == 0 {
		return ""
	}
	return fmt.Sprintf("%s %s", a.strings.Label(KeyTopicContinuity, lang), strings.Join(overlap, ", "))
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "to": true, "do": true,
	"how": true, "what": true, "should": true, "for": true, "of": true,
	"in": true, "on": true, "and": true, "or": true, "i": true, "my": true,
	"best": true, "way": true, "with": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && !(r >= 0x0590 && r <= 0x05FF)
	})
	return fields
}

// queryConcepts extracts the content words from a query: lowercased tokens,
// length > 3, stopwords dropped.
func queryConcepts(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokenize(query) {
		if len(tok) <= 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
