package analytics

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
)

// MarshalJSON renders the breakdown as {"week_start": ..., "<type>": n, ...}.
func (b WeeklyBreakdown) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(b.Counts)+1)
	for t, n := range b.Counts {
		m[string(t)] = n
	}
	m["week_start"] = b.WeekStart
	return json.Marshal(m)
}

// UpsertWeeklySnapshot recomputes the progress snapshot of the week that
// contains weekStart from the live event log and overwrites the stored row.
// Calling it repeatedly is safe; counts are never accumulated across calls.
func (s *Service) UpsertWeeklySnapshot(ctx context.Context, userID string, weekStart time.Time) (_ *learning.ProgressSnapshot, err error) {
	ctx, span := observe.StartSpan(ctx, "analytics.UpsertWeeklySnapshot")
	defer func() { observe.EndSpan(span, err) }()

	if userID == "" {
		return nil, learning.Validationf("user id is required")
	}
	from := learning.WeekStart(weekStart)
	to := from.AddDate(0, 0, 7)

	events, err := s.events(ctx, "weekly_snapshot", userID, from, to)
	if err != nil {
		return nil, err
	}
	words, err := s.store.WordsWritten(ctx, userID, from, to)
	if err != nil {
		return nil, wrap("weekly_snapshot", userID, err)
	}
	pats, err := s.store.ListPatterns(ctx, userID)
	if err != nil {
		return nil, wrap("weekly_snapshot", userID, err)
	}

	breakdown := make(map[learning.ErrorType]float64, len(learning.AllErrorTypes()))
	counts := zeroCounts()
	for _, e := range events {
		counts[e.ErrorType]++
	}
	for _, t := range learning.AllErrorTypes() {
		breakdown[t] = 0
		if len(events) > 0 {
			breakdown[t] = round1(float64(counts[t]) / float64(len(events)) * 100)
		}
	}

	mastered, fresh := 0, 0
	for _, p := range pats {
		if p.Improving && p.LastSeen.Before(from) {
			mastered++
		}
		if !p.FirstSeen.Before(from) && p.FirstSeen.Before(to) {
			fresh++
		}
	}

	snap, err := s.store.UpsertSnapshot(ctx, learning.ProgressSnapshot{
		UserID:              userID,
		WeekStart:           from,
		TotalWordsWritten:   words,
		TotalCorrections:    len(events),
		AccuracyScore:       accuracy(words, len(events)),
		ErrorTypeBreakdown:  breakdown,
		TopErrors:           rankErrors(events, s.topErrors),
		PatternsMastered:    mastered,
		NewPatternsDetected: fresh,
		UpdatedAt:           s.now().UTC(),
	})
	if err != nil {
		return nil, wrap("weekly_snapshot", userID, err)
	}
	s.metrics.RecordSnapshotRecompute(ctx)
	return snap, nil
}

// accuracy is the share of written words that needed no correction, in
// percent. A week without recorded words scores 0.
func accuracy(words, corrections int) float64 {
	if words <= 0 {
		return 0
	}
	return round1(math.Max(0, float64(words-corrections)) / float64(words) * 100)
}
