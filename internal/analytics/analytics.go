// Package analytics derives progress and trend signals from the error-event
// log: weekly error series, per-type breakdowns, mastered words, writing
// streaks, improvement trends and the recomputed weekly progress snapshot.
//
// All queries are read-only with respect to patterns and confusion pairs. A
// user without events is a valid state: every query then returns an empty or
// zero-valued result instead of an error.
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
)

const (
	// DefaultWeeks is the window used when a query is given no positive week
	// count.
	DefaultWeeks = 12

	// MaxWeeks bounds every window.
	MaxWeeks = 104

	// DefaultMasteryThreshold is how often a self-corrected word must recur
	// within the window to count as mastered.
	DefaultMasteryThreshold = 3

	// TrendThreshold is the change in percent at which a type's trend stops
	// being stable.
	TrendThreshold = 20.0

	week = 7 * 24 * time.Hour
)

// Trend labels of [TypeImprovement].
const (
	TrendImproving      = "improving"
	TrendStable         = "stable"
	TrendNeedsAttention = "needs_attention"
)

// Service answers progress analytics queries. It is safe for concurrent use.
type Service struct {
	store            learning.Store
	metrics          *observe.Metrics
	now              func() time.Time
	masteryThreshold int
	topErrors        int
}

// Option is a functional option for [New].
type Option func(*Service)

// WithClock overrides the time source that anchors every window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMasteryThreshold sets how often a self-corrected word must recur to be
// reported by [Service.GetMasteredWords].
func WithMasteryThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.masteryThreshold = n
		}
	}
}

// WithSnapshotTopErrors sets how many top errors a weekly snapshot keeps.
func WithSnapshotTopErrors(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topErrors = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a [Service] reading from store.
func New(store learning.Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		now:              time.Now,
		masteryThreshold: DefaultMasteryThreshold,
		topErrors:        5,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ─── Result types ────────────────────────────────────────────────────────────

// WeeklyCount is the number of errors logged in one week.
type WeeklyCount struct {
	WeekStart   time.Time `json:"week_start"`
	TotalErrors int       `json:"total_errors"`
}

// WeeklyBreakdown counts one week's errors per type. It marshals flat, with
// one key per error type next to week_start.
type WeeklyBreakdown struct {
	WeekStart time.Time
	Counts    map[learning.ErrorType]int
}

// MasteredWord is a word the user has repeatedly corrected on their own.
type MasteredWord struct {
	Word           string `json:"word"`
	TimesCorrected int    `json:"times_corrected"`
}

// Streak describes consecutive days with at least one logged event.
type Streak struct {
	CurrentStreak int        `json:"current_streak"`
	LongestStreak int        `json:"longest_streak"`
	LastActivity  *time.Time `json:"last_activity"`
}

// TotalStats are all-time counters of a user.
type TotalStats struct {
	TotalWords       int `json:"total_words"`
	TotalCorrections int `json:"total_corrections"`
	// TotalSessions approximates sessions by distinct active days.
	TotalSessions int `json:"total_sessions"`
}

// TypeImprovement is the trend of one error type across a window.
type TypeImprovement struct {
	ErrorType     learning.ErrorType `json:"error_type"`
	ChangePercent float64            `json:"change_percent"`
	Trend         string             `json:"trend"`
	SparklineData []int              `json:"sparkline_data"`
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// GetErrorFrequencyByWeek returns the error count of each of the trailing
// weeks, oldest first. Weeks without events are included with zero so the
// series stays contiguous. Only a user who never logged an event gets an
// empty series.
func (s *Service) GetErrorFrequencyByWeek(ctx context.Context, userID string, weeks int) ([]WeeklyCount, error) {
	w := s.window(weeks)
	events, err := s.events(ctx, "frequency_by_week", userID, w.since, time.Time{})
	if err != nil {
		return nil, err
	}
	out := []WeeklyCount{}
	if empty, err := s.noHistory(ctx, "frequency_by_week", userID, events); err != nil || empty {
		return out, err
	}
	counts := make([]int, w.weeks)
	for _, e := range events {
		if i := w.index(e.CreatedAt); i >= 0 {
			counts[i]++
		}
	}
	for i, n := range counts {
		out = append(out, WeeklyCount{WeekStart: w.start(i), TotalErrors: n})
	}
	return out, nil
}

// GetErrorBreakdownByType returns per-week counts for every error type, oldest
// week first. Only a user who never logged an event gets an empty series.
func (s *Service) GetErrorBreakdownByType(ctx context.Context, userID string, weeks int) ([]WeeklyBreakdown, error) {
	w := s.window(weeks)
	events, err := s.events(ctx, "breakdown_by_type", userID, w.since, time.Time{})
	if err != nil {
		return nil, err
	}
	out := []WeeklyBreakdown{}
	if empty, err := s.noHistory(ctx, "breakdown_by_type", userID, events); err != nil || empty {
		return out, err
	}
	for i := range w.weeks {
		out = append(out, WeeklyBreakdown{WeekStart: w.start(i), Counts: zeroCounts()})
	}
	for _, e := range events {
		if i := w.index(e.CreatedAt); i >= 0 {
			out[i].Counts[e.ErrorType]++
		}
	}
	return out, nil
}

// GetTopErrors returns the most frequent (original, corrected) pairs logged in
// the trailing weeks. Pairs are matched case-insensitively and reported with
// the casing of their first occurrence; ties go to the most recent.
func (s *Service) GetTopErrors(ctx context.Context, userID string, limit, weeks int) ([]learning.TopError, error) {
	w := s.window(weeks)
	events, err := s.events(ctx, "top_errors", userID, w.since, time.Time{})
	if err != nil {
		return nil, err
	}
	return rankErrors(events, limit), nil
}

// GetMasteredWords returns words the user corrected on their own at least the
// mastery threshold times within the trailing weeks, most corrected first.
func (s *Service) GetMasteredWords(ctx context.Context, userID string, weeks int) ([]MasteredWord, error) {
	w := s.window(weeks)
	events, err := s.events(ctx, "mastered_words", userID, w.since, time.Time{})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, e := range events {
		if e.Source != learning.SourceSelfCorrected {
			continue
		}
		if word := learning.NormalizeWord(e.CorrectedText); word != "" {
			counts[word]++
		}
	}
	out := []MasteredWord{}
	for word, n := range counts {
		if n >= s.masteryThreshold {
			out = append(out, MasteredWord{Word: word, TimesCorrected: n})
		}
	}
	slices.SortFunc(out, func(a, b MasteredWord) int {
		if c := cmp.Compare(b.TimesCorrected, a.TimesCorrected); c != 0 {
			return c
		}
		return strings.Compare(a.Word, b.Word)
	})
	return out, nil
}

// GetWritingStreak walks the distinct event days backwards from today. The
// current streak survives while today has no event yet; a full calendar day
// without activity breaks it.
func (s *Service) GetWritingStreak(ctx context.Context, userID string) (Streak, error) {
	days, err := s.store.EventDays(ctx, userID)
	if err != nil {
		return Streak{}, wrap("writing_streak", userID, err)
	}
	return streakFrom(days, learning.Day(s.now())), nil
}

func streakFrom(days []time.Time, today time.Time) Streak {
	if len(days) == 0 {
		return Streak{}
	}
	last := days[0]
	st := Streak{LastActivity: &last}

	run := 1
	st.LongestStreak = 1
	for i := 1; i < len(days); i++ {
		if days[i-1].Sub(days[i]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		st.LongestStreak = max(st.LongestStreak, run)
	}

	if today.Sub(last) <= 24*time.Hour {
		st.CurrentStreak = 1
		for i := 1; i < len(days) && days[i-1].Sub(days[i]) == 24*time.Hour; i++ {
			st.CurrentStreak++
		}
	}
	return st
}

// GetTotalStats returns all-time word, correction and session counts.
func (s *Service) GetTotalStats(ctx context.Context, userID string) (TotalStats, error) {
	words, err := s.store.WordsWritten(ctx, userID, time.Time{}, time.Time{})
	if err != nil {
		return TotalStats{}, wrap("total_stats", userID, err)
	}
	n, err := s.store.CountEvents(ctx, userID)
	if err != nil {
		return TotalStats{}, wrap("total_stats", userID, err)
	}
	days, err := s.store.EventDays(ctx, userID)
	if err != nil {
		return TotalStats{}, wrap("total_stats", userID, err)
	}
	return TotalStats{TotalWords: words, TotalCorrections: n, TotalSessions: len(days)}, nil
}

// GetImprovementByErrorType compares the older and newer half of the trailing
// weeks per error type. With an odd week count the middle week belongs to the
// newer half. Only types with at least one event in the window are reported.
func (s *Service) GetImprovementByErrorType(ctx context.Context, userID string, weeks int) ([]TypeImprovement, error) {
	w := s.window(weeks)
	events, err := s.events(ctx, "improvement", userID, w.since, time.Time{})
	if err != nil {
		return nil, err
	}
	spark := make(map[learning.ErrorType][]int)
	for _, e := range events {
		i := w.index(e.CreatedAt)
		if i < 0 {
			continue
		}
		if spark[e.ErrorType] == nil {
			spark[e.ErrorType] = make([]int, w.weeks)
		}
		spark[e.ErrorType][i]++
	}

	half := w.weeks / 2
	out := []TypeImprovement{}
	for _, t := range learning.AllErrorTypes() {
		series, ok := spark[t]
		if !ok {
			continue
		}
		older, newer := sum(series[:half]), sum(series[half:])
		change := round1(float64(newer-older) / float64(max(older, 1)) * 100)
		out = append(out, TypeImprovement{
			ErrorType:     t,
			ChangePercent: change,
			Trend:         trendFor(change),
			SparklineData: series,
		})
	}
	return out, nil
}

func trendFor(change float64) string {
	switch {
	case change <= -TrendThreshold:
		return TrendImproving
	case change >= TrendThreshold:
		return TrendNeedsAttention
	default:
		return TrendStable
	}
}

// ImprovingTypes returns the error types whose trend is improving.
func ImprovingTypes(imps []TypeImprovement) []learning.ErrorType {
	var out []learning.ErrorType
	for _, imp := range imps {
		if imp.Trend == TrendImproving {
			out = append(out, imp.ErrorType)
		}
	}
	return out
}

// ─── Window helpers ──────────────────────────────────────────────────────────

// window is a run of whole weeks ending with the current one.
type window struct {
	since time.Time
	weeks int
}

func (s *Service) window(weeks int) window {
	if weeks <= 0 {
		weeks = DefaultWeeks
	}
	weeks = min(weeks, MaxWeeks)
	current := learning.WeekStart(s.now())
	return window{since: current.AddDate(0, 0, -7*(weeks-1)), weeks: weeks}
}

func (w window) start(i int) time.Time {
	return w.since.AddDate(0, 0, 7*i)
}

// index returns the week slot of t, or -1 outside the window.
func (w window) index(t time.Time) int {
	if t.Before(w.since) {
		return -1
	}
	i := int(learning.WeekStart(t).Sub(w.since) / week)
	if i >= w.weeks {
		return -1
	}
	return i
}

func (s *Service) events(ctx context.Context, op, userID string, since, until time.Time) ([]learning.ErrorEvent, error) {
	events, err := s.store.ListEvents(ctx, userID, since, until)
	if err != nil {
		return nil, wrap(op, userID, err)
	}
	return events, nil
}

// noHistory reports whether the user has no events at all. The store is only
// asked when the windowed events are empty.
func (s *Service) noHistory(ctx context.Context, op, userID string, windowed []learning.ErrorEvent) (bool, error) {
	if len(windowed) > 0 {
		return false, nil
	}
	n, err := s.store.CountEvents(ctx, userID)
	if err != nil {
		return false, wrap(op, userID, err)
	}
	return n == 0, nil
}

// rankErrors groups events case-insensitively and orders them by frequency,
// then most recent occurrence.
func rankErrors(events []learning.ErrorEvent, limit int) []learning.TopError {
	type agg struct {
		top  learning.TopError
		last time.Time
	}
	byKey := make(map[[2]string]*agg)
	for _, e := range events {
		o, c := learning.PatternKey(e.OriginalText, e.CorrectedText)
		k := [2]string{o, c}
		a, ok := byKey[k]
		if !ok {
			a = &agg{top: learning.TopError{Original: e.OriginalText, Corrected: e.CorrectedText}}
			byKey[k] = a
		}
		a.top.Frequency++
		if e.CreatedAt.After(a.last) {
			a.last = e.CreatedAt
		}
	}
	all := make([]*agg, 0, len(byKey))
	for _, a := range byKey {
		all = append(all, a)
	}
	slices.SortFunc(all, func(a, b *agg) int {
		if c := cmp.Compare(b.top.Frequency, a.top.Frequency); c != 0 {
			return c
		}
		if c := b.last.Compare(a.last); c != 0 {
			return c
		}
		return strings.Compare(a.top.Original, b.top.Original)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]learning.TopError, 0, len(all))
	for _, a := range all {
		out = append(out, a.top)
	}
	return out
}

func zeroCounts() map[learning.ErrorType]int {
	m := make(map[learning.ErrorType]int, len(learning.AllErrorTypes()))
	for _, t := range learning.AllErrorTypes() {
		m[t] = 0
	}
	return m
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func wrap(op, userID string, err error) error {
	return fmt.Errorf("analytics: %s (user %s): %w", op, userID, err)
}
