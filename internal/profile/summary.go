package profile

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
)

// FullProfile is the complete error profile of one user.
type FullProfile struct {
	UserID             string                         `json:"user_id"`
	TopErrors          []learning.TopError            `json:"top_errors"`
	ErrorTypeBreakdown map[learning.ErrorType]float64 `json:"error_type_breakdown"`
	ConfusionPairs     []learning.ConfusionPair       `json:"confusion_pairs"`
	PersonalDictionary []string                       `json:"personal_dictionary"`
	PatternsMastered   int                            `json:"patterns_mastered"`
	TotalPatterns      int                            `json:"total_patterns"`
	OverallScore       int                            `json:"overall_score"`
}

// GetTopErrors returns the user's most frequent patterns, most recent first on
// ties. A limit <= 0 uses the configured default.
func (a *Aggregator) GetTopErrors(ctx context.Context, userID string, limit int) ([]learning.TopError, error) {
	if limit <= 0 {
		limit = a.topErrors
	}
	pats, err := a.store.TopPatterns(ctx, userID, limit)
	if err != nil {
		return nil, a.fail(ctx, "top_patterns", userID, err)
	}
	return topErrors(pats, limit), nil
}

// GetErrorTypeBreakdown returns the share of pattern frequency per error type
// in percent. Every known type is present; the values sum to 100 (within
// rounding) when the user has at least one pattern.
func (a *Aggregator) GetErrorTypeBreakdown(ctx context.Context, userID string) (map[learning.ErrorType]float64, error) {
	pats, err := a.store.ListPatterns(ctx, userID)
	if err != nil {
		return nil, a.fail(ctx, "list_patterns", userID, err)
	}
	return Breakdown(pats), nil
}

// GetFullProfile gathers patterns, confusion pairs and the dictionary
// concurrently and derives the summary fields from them.
func (a *Aggregator) GetFullProfile(ctx context.Context, userID string) (_ *FullProfile, err error) {
	ctx, span := observe.StartSpan(ctx, "profile.GetFullProfile")
	defer func() { observe.EndSpan(span, err) }()

	var (
		pats  []learning.ErrorPattern
		pairs []learning.ConfusionPair
		words []learning.DictionaryEntry
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		p, err := a.store.ListPatterns(egCtx, userID)
		if err != nil {
			return fmt.Errorf("list patterns: %w", err)
		}
		pats = p
		return nil
	})

	eg.Go(func() error {
		p, err := a.store.ListConfusionPairs(egCtx, userID, a.topErrors)
		if err != nil {
			return fmt.Errorf("list confusion pairs: %w", err)
		}
		pairs = p
		return nil
	})

	eg.Go(func() error {
		w, err := a.store.ListWords(egCtx, userID)
		if err != nil {
			return fmt.Errorf("list dictionary: %w", err)
		}
		words = w
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, a.fail(ctx, "full_profile", userID, err)
	}

	mastered := a.masteredCount(pats)
	if pairs == nil {
		pairs = []learning.ConfusionPair{}
	}
	return &FullProfile{
		UserID:             userID,
		TopErrors:          topErrors(pats, a.topErrors),
		ErrorTypeBreakdown: Breakdown(pats),
		ConfusionPairs:     pairs,
		PersonalDictionary: dictionaryWords(words, 0),
		PatternsMastered:   mastered,
		TotalPatterns:      len(pats),
		OverallScore:       a.overallScore(pats, mastered),
	}, nil
}

// Breakdown computes the percentage of total frequency per error type,
// rounded to one decimal. Every known type is present.
func Breakdown(pats []learning.ErrorPattern) map[learning.ErrorType]float64 {
	out := make(map[learning.ErrorType]float64, len(learning.AllErrorTypes()))
	counts := make(map[learning.ErrorType]int)
	total := 0
	for _, p := range pats {
		counts[p.ErrorType] += p.Frequency
		total += p.Frequency
	}
	for _, t := range learning.AllErrorTypes() {
		out[t] = 0
		if total > 0 {
			out[t] = round1(float64(counts[t]) / float64(total) * 100)
		}
	}
	return out
}

// masteredCount counts improving patterns that have not recurred within the
// recent window.
func (a *Aggregator) masteredCount(pats []learning.ErrorPattern) int {
	cutoff := a.recentCutoff()
	n := 0
	for _, p := range pats {
		if p.Improving && p.LastSeen.Before(cutoff) {
			n++
		}
	}
	return n
}

// overallScore rates the profile from 0 to 100. Patterns that stayed away for
// the recent window raise the score, mastered patterns raise it further.
// Without patterns the score is [NeutralScore].
func (a *Aggregator) overallScore(pats []learning.ErrorPattern, mastered int) int {
	if len(pats) == 0 {
		return NeutralScore
	}
	cutoff := a.recentCutoff()
	dormant := 0
	for _, p := range pats {
		if p.LastSeen.Before(cutoff) {
			dormant++
		}
	}
	n := float64(len(pats))
	score := 25 + 50*float64(dormant)/n + 25*float64(mastered)/n
	return int(math.Round(math.Min(100, math.Max(0, score))))
}

func topErrors(pats []learning.ErrorPattern, limit int) []learning.TopError {
	if limit > 0 && len(pats) > limit {
		pats = pats[:limit]
	}
	out := make([]learning.TopError, 0, len(pats))
	for _, p := range pats {
		out = append(out, learning.TopError{
			Original:  p.Misspelling,
			Corrected: p.Correction,
			Frequency: p.Frequency,
		})
	}
	return out
}

func dictionaryWords(entries []learning.DictionaryEntry, limit int) []string {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Word)
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func (a *Aggregator) recentCutoff() time.Time {
	return a.now().Add(-a.recentWindow)
}
