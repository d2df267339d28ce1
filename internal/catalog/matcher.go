package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultSimilarityThreshold = 0.8
	defaultMaxRunes            = 128
)

// MatcherConfig tunes the fuzzy slug matcher.
type MatcherConfig struct {
	Threshold float64
	MaxRunes  int
}

// Matcher scores candidate identifiers against a query with a bounded edit distance.
type Matcher struct {
	threshold float64
	maxRunes  int
}

// Match is the best candidate found by Matcher.Match.
type Match struct {
	Candidate string
	Score     float64
}

// NewMatcher constructs a Matcher, filling unset fields with defaults.
func NewMatcher(cfg MatcherConfig) *Matcher {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultSimilarityThreshold
	}
	maxRunes := cfg.MaxRunes
	if maxRunes <= 0 {
		maxRunes = defaultMaxRunes
	}
	return &Matcher{threshold: threshold, maxRunes: maxRunes}
}

// Match returns the candidate equal to query after folding, or else the most similar
// candidate whose score reaches the threshold.
func (m *Matcher) Match(query string, candidates []string) (Match, bool) {
	folded := m.fold(query)
	if folded == "" {
		return Match{}, false
	}

	best := Match{}
	for _, candidate := range candidates {
		foldedCandidate := m.fold(candidate)
		if foldedCandidate == "" {
			continue
		}
		if foldedCandidate == folded {
			return Match{Candidate: candidate, Score: 1}, true
		}
		score := similarity(folded, foldedCandidate)
		if score > best.Score {
			best = Match{Candidate: candidate, Score: score}
		}
	}
	if best.Candidate == "" || best.Score < m.threshold {
		return Match{}, false
	}
	return best, true
}

// Fold lowercases, strips diacritics and collapses separators into single dashes.
func Fold(value string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		value,
	)
	if err != nil {
		stripped = value
	}
	var builder strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingDash = false
			builder.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return builder.String()
}

func (m *Matcher) fold(value string) string {
	folded := []rune(Fold(value))
	if len(folded) > m.maxRunes {
		folded = folded[:m.maxRunes]
	}
	return string(folded)
}

func similarity(a, b string) float64 {
	left, right := []rune(a), []rune(b)
	longest := len(left)
	if len(right) > longest {
		longest = len(right)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(left, right))/float64(longest)
}

func levenshtein(a, b []rune) int {
	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := range previous {
		previous[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[j] = min(previous[j]+1, current[j-1]+1, previous[j-1]+cost)
		}
		previous, current = current, previous
	}
	return previous[len(b)]
}
