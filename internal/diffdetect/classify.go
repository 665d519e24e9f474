package diffdetect

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/wordwise/pkg/learning"
)

// mirrored holds the letter pairs readers with dyslexia commonly flip.
var mirrored = map[rune]rune{
	'b': 'd', 'd': 'b',
	'p': 'q', 'q': 'p',
	'n': 'u', 'u': 'n',
	'm': 'w', 'w': 'm',
}

// baseConfidence is the confidence of an exact-fit classification before the
// edit ratio is taken into account.
var baseConfidence = map[learning.ErrorType]float64{
	learning.ErrorTypeHomophone:     0.9,
	learning.ErrorTypeTransposition: 0.85,
	learning.ErrorTypeReversal:      0.85,
	learning.ErrorTypeOmission:      0.8,
	learning.ErrorTypePhonetic:      0.7,
	learning.ErrorTypeOther:         0.6,
}

// Classify guesses the error type of a misspelling given its correction.
// Checks run in order: homophone, transposition, reversal, omission,
// phonetic, other.
func Classify(original, corrected string) learning.ErrorType {
	o, c := strings.ToLower(original), strings.ToLower(corrected)
	switch {
	case learning.IsConfusable(o, c):
		return learning.ErrorTypeHomophone
	case isAnagram(o, c):
		return learning.ErrorTypeTransposition
	case isReversal(o, c):
		return learning.ErrorTypeReversal
	case isOmission(o, c):
		return learning.ErrorTypeOmission
	case soundsAlike(o, c):
		return learning.ErrorTypePhonetic
	default:
		return learning.ErrorTypeOther
	}
}

// isAnagram reports whether a and b are distinct permutations of the same
// letters.
func isAnagram(a, b string) bool {
	if a == b {
		return false
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) {
		return false
	}
	slices.Sort(ra)
	slices.Sort(rb)
	return slices.Equal(ra, rb)
}

// isReversal reports whether a and b differ only at positions holding a
// mirrored letter pair.
func isReversal(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) {
		return false
	}
	diffs := 0
	for i := range ra {
		if ra[i] == rb[i] {
			continue
		}
		if m, ok := mirrored[ra[i]]; !ok || m != rb[i] {
			return false
		}
		diffs++
	}
	return diffs > 0
}

// isOmission reports whether the misspelling drops one or two letters of the
// correction, keeping the rest in order.
func isOmission(original, corrected string) bool {
	ro, rc := []rune(original), []rune(corrected)
	missing := len(rc) - len(ro)
	if missing < 1 || missing > 2 {
		return false
	}
	i := 0
	for _, r := range rc {
		if i < len(ro) && ro[i] == r {
			i++
		}
	}
	return i == len(ro)
}

// soundsAlike reports whether the Double Metaphone codes of a and b overlap.
func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

// confidence scales the type's base confidence down as the edit grows.
func confidence(t learning.ErrorType, ratio float64) float64 {
	base, ok := baseConfidence[t]
	if !ok {
		base = baseConfidence[learning.ErrorTypeOther]
	}
	c := base * (1 - ratio/2)
	c = max(0, min(1, c))
	return float64(int(c*100+0.5)) / 100
}
