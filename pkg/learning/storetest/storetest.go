// Package storetest is a behavioural test suite shared by every
// [learning.Store] implementation.
//
// Usage from an implementation's _test.go file:
//
//	func TestStore(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) learning.Store { return newTestStore(t) })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/wordwise/pkg/learning"
)

// Factory returns a fresh, empty store for one sub-test.
type Factory func(t *testing.T) learning.Store

// base is a fixed Wednesday used as "now" throughout the suite.
var base = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s learning.Store)
	}{
		{"PatternFrequency", testPatternFrequency},
		{"PatternOrdering", testPatternOrdering},
		{"PatternUpdate", testPatternUpdate},
		{"PatternImproving", testPatternImproving},
		{"PatternConcurrentUpsert", testPatternConcurrentUpsert},
		{"ConfusionSymmetry", testConfusionSymmetry},
		{"LogCorrection", testLogCorrection},
		{"Dictionary", testDictionary},
		{"Events", testEvents},
		{"Snapshots", testSnapshots},
		{"Activity", testActivity},
		{"EraseUser", testEraseUser},
		{"PurgeBefore", testPurgeBefore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func occurrence(user, miss, corr string, typ learning.ErrorType, at time.Time) learning.PatternOccurrence {
	return learning.PatternOccurrence{
		UserID:       user,
		Misspelling:  miss,
		Correction:   corr,
		ErrorType:    typ,
		LanguageCode: "en",
		SeenAt:       at,
	}
}

func event(user, id, orig, corr string, typ learning.ErrorType, src learning.Source, at time.Time) learning.ErrorEvent {
	return learning.ErrorEvent{
		ID:            id,
		UserID:        user,
		OriginalText:  orig,
		CorrectedText: corr,
		ErrorType:     typ,
		Confidence:    0.8,
		Source:        src,
		CreatedAt:     at,
	}
}

func testPatternFrequency(t *testing.T, s learning.Store) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		miss := "Teh"
		if i > 0 {
			miss = "teh"
		}
		_, err := s.UpsertPattern(ctx, occurrence("u1", miss, "the", learning.ErrorTypeTransposition, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	p, err := s.GetPattern(ctx, "u1", "TEH", "The")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.Frequency)
	assert.Equal(t, "Teh", p.Misspelling, "casing of the first occurrence is kept")
	assert.Equal(t, learning.ErrorTypeTransposition, p.ErrorType)
	assert.True(t, base.Equal(p.FirstSeen), "first_seen = %v", p.FirstSeen)
	assert.True(t, base.Add(2*time.Hour).Equal(p.LastSeen), "last_seen = %v", p.LastSeen)

	_, err = s.UpsertPattern(ctx, occurrence("u1", "teh", "ten", learning.ErrorTypeOther, base))
	require.NoError(t, err)

	all, err := s.ListPatterns(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	missing, err := s.GetPattern(ctx, "u1", "nope", "nah")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := s.ListPatterns(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testPatternOrdering(t *testing.T, s learning.Store) {
	ctx := context.Background()

	up := func(miss, corr string, at time.Time) {
		t.Helper()
		_, err := s.UpsertPattern(ctx, occurrence("u1", miss, corr, learning.ErrorTypeOther, at))
		require.NoError(t, err)
	}
	up("becuase", "because", base)
	up("becuase", "because", base)
	up("freind", "friend", base.Add(-time.Hour))
	up("wierd", "weird", base.Add(time.Hour))

	top, err := s.TopPatterns(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "becuase", top[0].Misspelling)
	assert.Equal(t, "wierd", top[1].Misspelling, "ties are broken by most recent last_seen")

	all, err := s.TopPatterns(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testPatternUpdate(t *testing.T, s learning.Store) {
	ctx := context.Background()

	p, err := s.UpsertPattern(ctx, occurrence("u1", "hte", "the", learning.ErrorTypeOther, base))
	require.NoError(t, err)

	typ := learning.ErrorTypeTransposition
	improving := true
	updated, err := s.UpdatePattern(ctx, "u1", p.ID, learning.PatternPatch{ErrorType: &typ, Improving: &improving})
	require.NoError(t, err)
	assert.Equal(t, learning.ErrorTypeTransposition, updated.ErrorType)
	assert.True(t, updated.Improving)
	assert.Equal(t, 1, updated.Frequency)

	_, err = s.UpdatePattern(ctx, "someone-else", p.ID, learning.PatternPatch{Improving: &improving})
	assert.ErrorIs(t, err, learning.ErrNotFound)

	bad := learning.ErrorType("typo")
	_, err = s.UpdatePattern(ctx, "u1", p.ID, learning.PatternPatch{ErrorType: &bad})
	assert.ErrorIs(t, err, learning.ErrValidation)
}

func testPatternImproving(t *testing.T, s learning.Store) {
	ctx := context.Background()

	_, err := s.UpsertPattern(ctx, occurrence("u1", "bog", "dog", learning.ErrorTypeReversal, base))
	require.NoError(t, err)
	_, err = s.UpsertPattern(ctx, occurrence("u1", "hte", "the", learning.ErrorTypeTransposition, base))
	require.NoError(t, err)

	changed, err := s.SetImprovingTypes(ctx, "u1", []learning.ErrorType{learning.ErrorTypeReversal})
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)

	p, err := s.GetPattern(ctx, "u1", "bog", "dog")
	require.NoError(t, err)
	assert.True(t, p.Improving)

	changed, err = s.SetImprovingTypes(ctx, "u1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)

	p, err = s.GetPattern(ctx, "u1", "bog", "dog")
	require.NoError(t, err)
	assert.False(t, p.Improving)
}

func testPatternConcurrentUpsert(t *testing.T, s learning.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertPattern(ctx, occurrence("u1", "recieve", "receive", learning.ErrorTypeTransposition, base))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := s.GetPattern(ctx, "u1", "recieve", "receive")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, n, p.Frequency)
}

func testConfusionSymmetry(t *testing.T, s learning.Store) {
	ctx := context.Background()

	_, err := s.UpsertConfusionPair(ctx, "u1", "there", "their", base)
	require.NoError(t, err)
	p, err := s.UpsertConfusionPair(ctx, "u1", "Their", "there", base.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 2, p.ConfusionCount)
	assert.Equal(t, "their", p.WordA)
	assert.Equal(t, "there", p.WordB)
	assert.True(t, base.Add(time.Minute).Equal(p.LastConfusedAt))

	got, err := s.GetConfusionPair(ctx, "u1", "there", "their")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.UpsertConfusionPair(ctx, "u1", "to", "too", base)
	require.NoError(t, err)

	pairs, err := s.ListConfusionPairs(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "their", pairs[0].WordA)

	limited, err := s.ListConfusionPairs(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.UpsertConfusionPair(ctx, "u1", "same", "Same", base)
	assert.ErrorIs(t, err, learning.ErrValidation)

	none, err := s.GetConfusionPair(ctx, "u1", "a", "b")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testLogCorrection(t *testing.T, s learning.Store) {
	ctx := context.Background()
	correction := func(id, orig, corr string, pair bool) learning.Correction {
		c := learning.Correction{
			Event:   event("u1", id, orig, corr, learning.ErrorTypeHomophone, learning.SourcePassive, base),
			Pattern: occurrence("u1", orig, corr, learning.ErrorTypeHomophone, base),
		}
		if pair {
			c.Pair = &[2]string{orig, corr}
		}
		return c
	}

	res, err := s.LogCorrection(ctx, correction("e1", "their", "there", true))
	require.NoError(t, err)
	require.NotNil(t, res.Pattern)
	require.NotNil(t, res.Pair)
	assert.Equal(t, 1, res.Pattern.Frequency)
	assert.Equal(t, 1, res.Pair.ConfusionCount)

	res, err = s.LogCorrection(ctx, correction("e2", "teh", "the", false))
	require.NoError(t, err)
	assert.Nil(t, res.Pair)

	// A duplicate event id fails the unit.
	_, err = s.LogCorrection(ctx, correction("e1", "their", "there", true))
	assert.ErrorIs(t, err, learning.ErrDuplicate)

	// The pair fails after the event and pattern writes; neither survives.
	_, err = s.LogCorrection(ctx, correction("e3", "teh", "Teh", true))
	assert.ErrorIs(t, err, learning.ErrValidation)

	n, err := s.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := s.GetPattern(ctx, "u1", "their", "there")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Frequency)

	none, err := s.GetPattern(ctx, "u1", "teh", "Teh")
	require.NoError(t, err)
	assert.Nil(t, none)

	pair, err := s.GetConfusionPair(ctx, "u1", "there", "their")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, 1, pair.ConfusionCount)
}

func testDictionary(t *testing.T, s learning.Store) {
	ctx := context.Background()

	first, err := s.AddWord(ctx, "u1", "PyTest", learning.DictionaryManual, base)
	require.NoError(t, err)
	second, err := s.AddWord(ctx, "u1", " pytest ", learning.DictionaryAuto, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "pytest", second.Word)
	assert.Equal(t, learning.DictionaryManual, second.Source, "existing entry is returned unchanged")

	words, err := s.ListWords(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, words, 1)

	ok, err := s.HasWord(ctx, "u1", "PYTEST")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasWord(ctx, "u2", "pytest")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := s.RemoveWord(ctx, "u1", "Pytest")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveWord(ctx, "u1", "pytest")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.AddWord(ctx, "u1", "   ", learning.DictionaryManual, base)
	assert.ErrorIs(t, err, learning.ErrValidation)
}

func testEvents(t *testing.T, s learning.Store) {
	ctx := context.Background()

	evs := []learning.ErrorEvent{
		event("u1", "e3", "teh", "the", learning.ErrorTypeTransposition, learning.SourcePassive, base),
		event("u1", "e1", "bog", "dog", learning.ErrorTypeReversal, learning.SourceSelfCorrected, base.Add(-48*time.Hour)),
		event("u1", "e2", "hte", "the", learning.ErrorTypeTransposition, learning.SourceQuickModel, base.Add(-47*time.Hour)),
		event("u2", "e4", "wierd", "weird", learning.ErrorTypeOther, learning.SourceDeepModel, base.Add(-30*24*time.Hour)),
	}
	evs[0].Context = "I saw teh cat"
	for _, e := range evs {
		require.NoError(t, s.AppendEvent(ctx, e))
	}

	all, err := s.ListEvents(ctx, "u1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e1", all[0].ID)
	assert.Equal(t, "e3", all[2].ID)
	assert.Equal(t, "I saw teh cat", all[2].Context)
	assert.Equal(t, learning.SourcePassive, all[2].Source)
	assert.InDelta(t, 0.8, all[2].Confidence, 1e-9)
	assert.True(t, base.Equal(all[2].CreatedAt))

	window, err := s.ListEvents(ctx, "u1", base.Add(-47*time.Hour), base)
	require.NoError(t, err)
	require.Len(t, window, 1, "since is inclusive and until exclusive")
	assert.Equal(t, "e2", window[0].ID)

	n, err := s.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	days, err := s.EventDays(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.True(t, learning.Day(base).Equal(days[0]), "days[0] = %v", days[0])
	assert.True(t, learning.Day(base.Add(-48*time.Hour)).Equal(days[1]), "days[1] = %v", days[1])

	users, err := s.ActiveUsers(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	users, err = s.ActiveUsers(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	empty, err := s.ListEvents(ctx, "nobody", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	noDays, err := s.EventDays(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, noDays)
}

func testSnapshots(t *testing.T, s learning.Store) {
	ctx := context.Background()
	week := learning.WeekStart(base)

	snap := learning.ProgressSnapshot{
		UserID:             "u1",
		WeekStart:          week,
		TotalWordsWritten:  120,
		TotalCorrections:   6,
		AccuracyScore:      95,
		ErrorTypeBreakdown: map[learning.ErrorType]float64{learning.ErrorTypeReversal: 50, learning.ErrorTypeOther: 50},
		TopErrors:          []learning.TopError{{Original: "bog", Corrected: "dog", Frequency: 3}},
		PatternsMastered:   1,
		UpdatedAt:          base,
	}
	first, err := s.UpsertSnapshot(ctx, snap)
	require.NoError(t, err)

	snap.TotalCorrections = 7
	snap.TopErrors = append(snap.TopErrors, learning.TopError{Original: "teh", Corrected: "the", Frequency: 1})
	second, err := s.UpsertSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same week overwrites the same row")

	got, err := s.GetSnapshot(ctx, "u1", week.Add(36*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.TotalCorrections)
	assert.Equal(t, 120, got.TotalWordsWritten)
	assert.InDelta(t, 95.0, got.AccuracyScore, 1e-9)
	assert.InDelta(t, 50.0, got.ErrorTypeBreakdown[learning.ErrorTypeReversal], 1e-9)
	assert.Len(t, got.TopErrors, 2)
	assert.True(t, week.Equal(got.WeekStart))

	prev := snap
	prev.WeekStart = week.AddDate(0, 0, -7)
	_, err = s.UpsertSnapshot(ctx, prev)
	require.NoError(t, err)

	list, err := s.ListSnapshots(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].WeekStart.Before(list[1].WeekStart))

	recent, err := s.ListSnapshots(ctx, "u1", week)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	none, err := s.GetSnapshot(ctx, "u2", week)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testActivity(t *testing.T, s learning.Store) {
	ctx := context.Background()

	require.NoError(t, s.AddWordsWritten(ctx, "u1", base, 100))
	require.NoError(t, s.AddWordsWritten(ctx, "u1", base.Add(time.Hour), 25))
	require.NoError(t, s.AddWordsWritten(ctx, "u1", base.AddDate(0, 0, -10), 40))
	require.NoError(t, s.AddWordsWritten(ctx, "u1", base, 0))

	total, err := s.WordsWritten(ctx, "u1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 165, total)

	week, err := s.WordsWritten(ctx, "u1", learning.WeekStart(base), learning.WeekStart(base).AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, 125, week)

	none, err := s.WordsWritten(ctx, "u2", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, none)
}

func testEraseUser(t *testing.T, s learning.Store) {
	ctx := context.Background()

	_, err := s.UpsertPattern(ctx, occurrence("u1", "teh", "the", learning.ErrorTypeTransposition, base))
	require.NoError(t, err)
	_, err = s.UpsertConfusionPair(ctx, "u1", "there", "their", base)
	require.NoError(t, err)
	_, err = s.AddWord(ctx, "u1", "wordwise", learning.DictionaryManual, base)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, event("u1", "e1", "teh", "the", learning.ErrorTypeTransposition, learning.SourcePassive, base)))
	_, err = s.UpsertSnapshot(ctx, learning.ProgressSnapshot{UserID: "u1", WeekStart: base, UpdatedAt: base})
	require.NoError(t, err)
	require.NoError(t, s.AddWordsWritten(ctx, "u1", base, 10))
	require.NoError(t, s.AppendEvent(ctx, event("u2", "e2", "teh", "the", learning.ErrorTypeTransposition, learning.SourcePassive, base)))

	existed, err := s.EraseUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, existed)

	patterns, err := s.ListPatterns(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, patterns)
	pairs, err := s.ListConfusionPairs(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, pairs)
	words, err := s.ListWords(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, words)
	n, err := s.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	snaps, err := s.ListSnapshots(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, snaps)
	written, err := s.WordsWritten(ctx, "u1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, written)

	n, err = s.CountEvents(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "other users are untouched")

	existed, err = s.EraseUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func testPurgeBefore(t *testing.T, s learning.Store) {
	ctx := context.Background()
	old := base.AddDate(0, 0, -60)
	cutoff := base.AddDate(0, 0, -30)

	_, err := s.UpsertPattern(ctx, occurrence("u1", "old", "olde", learning.ErrorTypeOther, old))
	require.NoError(t, err)
	_, err = s.UpsertPattern(ctx, occurrence("u1", "teh", "the", learning.ErrorTypeTransposition, base))
	require.NoError(t, err)
	_, err = s.UpsertConfusionPair(ctx, "u1", "to", "too", old)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendEvent(ctx, event("u1", fmt.Sprintf("old-%d", i), "old", "olde", learning.ErrorTypeOther, learning.SourcePassive, old)))
	}
	require.NoError(t, s.AppendEvent(ctx, event("u1", "new", "teh", "the", learning.ErrorTypeTransposition, learning.SourcePassive, base)))
	_, err = s.UpsertSnapshot(ctx, learning.ProgressSnapshot{UserID: "u1", WeekStart: old, UpdatedAt: old})
	require.NoError(t, err)
	require.NoError(t, s.AddWordsWritten(ctx, "u1", old, 50))

	res, err := s.PurgeBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Events)
	assert.EqualValues(t, 1, res.Patterns)
	assert.EqualValues(t, 1, res.ConfusionPairs)
	assert.EqualValues(t, 1, res.Snapshots)
	assert.EqualValues(t, 1, res.Activity)

	n, err := s.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	patterns, err := s.ListPatterns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "teh", patterns[0].Misspelling)

	require.NoError(t, s.Ping(ctx))
}
