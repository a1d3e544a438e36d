package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/xrash/smetrics"
)

const (
	jaroWinklerBoost  = 0.7
	jaroWinklerPrefix = 4

	minContainedLength = 6
)

func normalizeName(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-' || r == ',':
			space = true
		}
	}
	return b.String()
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func jaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return smetrics.JaroWinkler(a, b, jaroWinklerBoost, jaroWinklerPrefix)
}

// NameSimilarity scores how alike an extracted name is to a registered
// patient's first and last name, from 0 to 1. The score is the best of the
// name as written, its tokens sorted, and first and last swapped, so OCR
// layouts like "DOE JANE" still match.
func NameSimilarity(extracted Name, firstName, lastName string) float64 {
	if extracted.IsZero() {
		return 0
	}

	want := normalizeName(firstName + " " + lastName)
	ordered := normalizeName(extracted.First + " " + extracted.Last)
	swapped := normalizeName(extracted.Last + " " + extracted.First)

	best := jaroWinkler(ordered, want)
	if s := jaroWinkler(sortedTokens(ordered), sortedTokens(want)); s > best {
		best = s
	}
	if s := jaroWinkler(swapped, want); s > best {
		best = s
	}

	return best
}

// FacilitySimilarity compares a provider's name with a facility name found
// in a document. Containment counts as a full match.
func FacilitySimilarity(providerName, facility string) float64 {
	a, b := normalizeName(providerName), normalizeName(facility)
	if a == "" || b == "" {
		return 0
	}
	if len(a) >= minContainedLength && len(b) >= minContainedLength && (strings.Contains(b, a) || strings.Contains(a, b)) {
		return 1
	}
	return jaroWinkler(sortedTokens(a), sortedTokens(b))
}
