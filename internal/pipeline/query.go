package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/memkeep/memkeep/internal/domain"
)

// detectLanguage classifies the query as Hebrew iff its Hebrew-char count
// exceeds its Latin-char count.
func detectLanguage(text string) domain.Language {
	var hebrew, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case hebrew == 0 && latin == 0:
		return domain.LanguageNone
	case hebrew > latin:
		return domain.LanguageHebrew
	default:
		return domain.LanguageEnglish
	}
}

var quotedRe = regexp.MustCompile(`"[^"]+"|'[^']+'`)

// identityPatterns are EN/HE fixed phrases that name the user asking about
// themselves.
var identityPatterns = []string{
	"who am i", "what's my name", "what is my name", "who is my", "my name is what",
	"מי אני", "מה השם שלי", "איך קוראים לי",
}

// demonstrativeWords mark a query that only makes sense against the
// immediately preceding turn.
var demonstrativeWords = []string{"this", "that", "these", "those", "it", "זה", "זאת", "אלה"}

// isSpecificQuery reports whether q is an identity lookup, a quoted
// substring search, or a short demonstrative reference.
func isSpecificQuery(q string) bool {
	lower := strings.ToLower(strings.TrimSpace(q))
	if quotedRe.MatchString(q) {
		return true
	}
	for _, p := range identityPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	if len(lower) <= 20 {
		for _, w := range demonstrativeWords {
			if wordMatch(lower, w) {
				return true
			}
		}
	}
	return false
}

func wordMatch(haystack, word string) bool {
	for _, tok := range strings.Fields(haystack) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if tok == word {
			return true
		}
	}
	return false
}

var (
	listKeywords  = []string{"show all", "list all", "list ", "show me everything"}
	howToKeywords = []string{"how do i", "how to", "how can i"}
	identityWords = []string{"who am i", "what's my name", "what is my name", "who is"}
)

// chooseLimit implements stage 1's heuristic keyword → limit
// table. It is the only place query-shape policy decides a result count.
func chooseLimit(q string, defaultLimit int) int {
	lower := strings.ToLower(q)
	for _, kw := range listKeywords {
		if strings.Contains(lower, kw) {
			return 20
		}
	}
	for _, kw := range identityWords {
		if strings.Contains(lower, kw) {
			return 5
		}
	}
	for _, kw := range howToKeywords {
		if strings.Contains(lower, kw) {
			return 12
		}
	}
	return defaultLimit
}

var capitalizedWordRe = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]{2,}\b`)

// extractEntities pulls low-cardinality candidate entity tokens out of a
// query: quoted substrings verbatim, plus capitalized words other than the
// sentence's first token. It is a best-effort filter, not a full NER
// pipeline; a miss only means the entity pre-filter is skipped.
func extractEntities(q string) []string {
	var out []string
	for _, m := range quotedRe.FindAllString(q, -1) {
		out = append(out, strings.Trim(m, `"'`))
	}
	words := strings.Fields(q)
	for i, w := range words {
		if i == 0 {
			continue
		}
		if capitalizedWordRe.MatchString(strings.Trim(w, ".,!?;:")) {
			out = append(out, strings.Trim(w, ".,!?;:"))
		}
	}
	return domain.TruncateEntities(out)
}
