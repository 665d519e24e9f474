package learning

import "strings"

// NormalizeWord lower-cases and trims w. Dictionary entries and confusion pair
// members are always stored in this form.
func NormalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

// CanonicalPair returns the two words normalised and in ascending lexical
// order. Every write and lookup of a [ConfusionPair] goes through it so that
// (there, their) and (their, there) address the same row.
func CanonicalPair(a, b string) (string, string) {
	a, b = NormalizeWord(a), NormalizeWord(b)
	if b < a {
		return b, a
	}
	return a, b
}

// PatternKey returns the case-insensitive uniqueness key of a pattern.
func PatternKey(misspelling, correction string) (string, string) {
	return strings.ToLower(strings.TrimSpace(misspelling)), strings.ToLower(strings.TrimSpace(correction))
}
