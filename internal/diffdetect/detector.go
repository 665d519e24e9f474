// Package diffdetect infers self-corrections by comparing two consecutive
// captures of the same document.
//
// The detector works in three stages:
//
//  1. Alignment: both texts are split on whitespace and aligned with a
//     word-level longest common subsequence. Tokens outside the common
//     subsequence form hunks of replaced text.
//
//  2. Gating: hunks that insert or delete text only, that grow or shrink by
//     more than the token-delta bound, or that span more than a few tokens are
//     treated as ordinary editing and ignored. Inside a surviving hunk each old
//     token is paired with a new one and the pair is kept only when its
//     case-insensitive Damerau-Levenshtein distance stays within the edit-ratio
//     bound. Known homophones bypass the ratio bound.
//
//  3. Classification: each pair gets a best-effort error type and a
//     confidence derived from the type and the edit ratio.
//
// Words in the user's personal dictionary are never reported as errors.
package diffdetect

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const (
	defaultMaxEditRatio  = 0.4
	defaultMaxTokenDelta = 2
	defaultMaxHunkTokens = 3
	defaultMinTokenLen   = 2
	defaultContextWords  = 3

	// maxAlignCells bounds the LCS table. Edits whose unmatched middle exceeds
	// it are skipped rather than aligned.
	maxAlignCells = 4_000_000
)

// Correction is one detected self-correction.
type Correction struct {
	// Original is the token as it appeared in the previous capture, without
	// surrounding punctuation.
	Original string `json:"original"`

	// Corrected is the replacing token in the current capture.
	Corrected string `json:"corrected"`

	ErrorType  learning.ErrorType `json:"error_type"`
	Confidence float64            `json:"confidence"`

	// Position is the token index of Corrected in the current capture.
	Position int `json:"position"`

	// Context holds a few surrounding words of the current capture.
	Context string `json:"context,omitempty"`

	// EditRatio is the edit distance divided by the longer token's length.
	EditRatio float64 `json:"edit_ratio"`
}

// Dictionary reports whether a word is in a user's personal dictionary.
// [learning.DictionaryStore] satisfies it.
type Dictionary interface {
	HasWord(ctx context.Context, userID, word string) (bool, error)
}

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithMaxEditRatio sets the largest accepted edit distance relative to the
// longer token. Default: 0.4.
func WithMaxEditRatio(r float64) Option {
	return func(d *Detector) {
		d.maxEditRatio = r
	}
}

// WithMaxTokenDelta sets how many tokens a hunk may grow or shrink by.
// Default: 2.
func WithMaxTokenDelta(n int) Option {
	return func(d *Detector) {
		d.maxTokenDelta = n
	}
}

// WithMaxHunkTokens sets the largest hunk, on either side, still considered
// a localized correction. Default: 3.
func WithMaxHunkTokens(n int) Option {
	return func(d *Detector) {
		d.maxHunkTokens = n
	}
}

// WithMinTokenLength sets the shortest word, in letters, that is compared.
// Default: 2.
func WithMinTokenLength(n int) Option {
	return func(d *Detector) {
		d.minTokenLen = n
	}
}

// WithDictionary enables filtering of words found in the user's dictionary.
func WithDictionary(dict Dictionary) Option {
	return func(d *Detector) {
		d.dict = dict
	}
}

// Detector finds self-corrections between two text captures. It is read-only
// after construction and safe for concurrent use.
type Detector struct {
	maxEditRatio  float64
	maxTokenDelta int
	maxHunkTokens int
	minTokenLen   int
	dict          Dictionary
}

// New returns a [Detector] configured with the supplied options.
func New(opts ...Option) *Detector {
	d := &Detector{
		maxEditRatio:  defaultMaxEditRatio,
		maxTokenDelta: defaultMaxTokenDelta,
		maxHunkTokens: defaultMaxHunkTokens,
		minTokenLen:   defaultMinTokenLen,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect returns the corrections that turned prev into cur, in document
// order. It returns nothing when either capture is missing or cur is not
// newer than prev. The only error source is the dictionary lookup.
func (d *Detector) Detect(ctx context.Context, userID string, prev, cur *learning.TextSnapshot) ([]Correction, error) {
	if prev == nil || cur == nil || !cur.Timestamp.After(prev.Timestamp) {
		return nil, nil
	}
	candidates := d.Candidates(prev.Text, cur.Text)
	if d.dict == nil || len(candidates) == 0 {
		return candidates, nil
	}

	out := candidates[:0]
	for _, c := range candidates {
		known, err := d.dict.HasWord(ctx, userID, c.Original)
		if err != nil {
			return nil, fmt.Errorf("diffdetect: dictionary lookup: %w", err)
		}
		if !known {
			out = append(out, c)
		}
	}
	return out, nil
}

// Candidates runs alignment, gating and classification on two texts without
// timestamp checks or dictionary filtering.
func (d *Detector) Candidates(prevText, curText string) []Correction {
	oldTokens := strings.Fields(prevText)
	newTokens := strings.Fields(curText)

	var out []Correction
	for _, h := range align(oldTokens, newTokens) {
		if !d.localized(h) {
			continue
		}
		if c, ok := spacingFix(h, oldTokens, newTokens); ok {
			c.Context = contextAround(newTokens, c.Position, defaultContextWords)
			out = append(out, c)
			continue
		}
		for _, p := range d.pair(h, oldTokens, newTokens) {
			if c, ok := d.judge(oldTokens[p.old], newTokens[p.new]); ok {
				c.Position = p.new
				c.Context = contextAround(newTokens, p.new, defaultContextWords)
				out = append(out, c)
			}
		}
	}
	return out
}

// localized reports whether a hunk looks like a respelling rather than a
// rewrite.
func (d *Detector) localized(h hunk) bool {
	oldLen, newLen := h.oldEnd-h.oldStart, h.newEnd-h.newStart
	if oldLen == 0 || newLen == 0 {
		return false
	}
	if oldLen > d.maxHunkTokens || newLen > d.maxHunkTokens {
		return false
	}
	delta := oldLen - newLen
	if delta < 0 {
		delta = -delta
	}
	return delta <= d.maxTokenDelta
}

type tokenPair struct{ old, new int }

// pair matches the tokens of a hunk. Equal-length hunks pair positionally;
// otherwise each token of the shorter side takes the most similar remaining
// token of the longer side, keeping document order.
func (d *Detector) pair(h hunk, oldTokens, newTokens []string) []tokenPair {
	oldLen, newLen := h.oldEnd-h.oldStart, h.newEnd-h.newStart
	pairs := make([]tokenPair, 0, min(oldLen, newLen))
	if oldLen == newLen {
		for i := 0; i < oldLen; i++ {
			pairs = append(pairs, tokenPair{h.oldStart + i, h.newStart + i})
		}
		return pairs
	}

	short, long := h.oldStart, h.newStart
	shortEnd, longEnd := h.oldEnd, h.newEnd
	shortTokens, longTokens := oldTokens, newTokens
	swapped := false
	if oldLen > newLen {
		short, long = h.newStart, h.oldStart
		shortEnd, longEnd = h.newEnd, h.oldEnd
		shortTokens, longTokens = newTokens, oldTokens
		swapped = true
	}

	next := long
	for i := short; i < shortEnd; i++ {
		remaining := shortEnd - i - 1
		best, bestDist := -1, math.MaxFloat64
		for j := next; j < longEnd-remaining; j++ {
			if r := editRatio(core(shortTokens[i]), core(longTokens[j])); r < bestDist {
				best, bestDist = j, r
			}
		}
		if best < 0 {
			break
		}
		next = best + 1
		if swapped {
			pairs = append(pairs, tokenPair{best, i})
		} else {
			pairs = append(pairs, tokenPair{i, best})
		}
	}
	return pairs
}

// judge decides whether a token pair is a spelling correction and classifies
// it.
func (d *Detector) judge(oldTok, newTok string) (Correction, bool) {
	o, n := core(oldTok), core(newTok)
	if !hasLetter(o) || !hasLetter(n) {
		return Correction{}, false
	}
	lo, ln := strings.ToLower(o), strings.ToLower(n)
	if lo == ln {
		return Correction{}, false
	}
	homophone := learning.IsConfusable(lo, ln)
	if !homophone && (runeLen(lo) < d.minTokenLen || runeLen(ln) < d.minTokenLen) {
		return Correction{}, false
	}

	ratio := editRatio(lo, ln)
	if !homophone && ratio > d.maxEditRatio {
		return Correction{}, false
	}

	typ := Classify(o, n)
	return Correction{
		Original:   o,
		Corrected:  n,
		ErrorType:  typ,
		Confidence: confidence(typ, ratio),
		EditRatio:  math.Round(ratio*1000) / 1000,
	}, true
}

// spacingFix detects words split or joined by whitespace, such as
// "alot" → "a lot". Joining words is recorded as an omission.
func spacingFix(h hunk, oldTokens, newTokens []string) (Correction, bool) {
	oldLen, newLen := h.oldEnd-h.oldStart, h.newEnd-h.newStart
	if oldLen == newLen {
		return Correction{}, false
	}
	oldWords := make([]string, 0, oldLen)
	for _, t := range oldTokens[h.oldStart:h.oldEnd] {
		oldWords = append(oldWords, core(t))
	}
	newWords := make([]string, 0, newLen)
	for _, t := range newTokens[h.newStart:h.newEnd] {
		newWords = append(newWords, core(t))
	}
	joinedOld := strings.ToLower(strings.Join(oldWords, ""))
	if joinedOld == "" || joinedOld != strings.ToLower(strings.Join(newWords, "")) {
		return Correction{}, false
	}

	typ := learning.ErrorTypeOther
	if oldLen < newLen {
		typ = learning.ErrorTypeOmission
	}
	return Correction{
		Original:   strings.Join(oldWords, " "),
		Corrected:  strings.Join(newWords, " "),
		ErrorType:  typ,
		Confidence: confidence(typ, 0) - 0.05,
		Position:   h.newStart,
	}, true
}

// core strips leading and trailing punctuation and symbols.
func core(tok string) string {
	return strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func runeLen(s string) int {
	return len([]rune(s))
}

// editRatio is the case-insensitive Damerau-Levenshtein distance divided by
// the longer string's length.
func editRatio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	longest := max(runeLen(a), runeLen(b))
	if longest == 0 {
		return 0
	}
	return float64(matchr.DamerauLevenshtein(a, b)) / float64(longest)
}

func contextAround(tokens []string, pos, width int) string {
	lo := max(0, pos-width)
	hi := min(len(tokens), pos+width+1)
	return strings.Join(tokens[lo:hi], " ")
}
