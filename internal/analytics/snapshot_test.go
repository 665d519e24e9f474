package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/wordwise/pkg/learning"
)

func TestUpsertWeeklySnapshot_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	weekOf := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.store.AddWordsWritten(ctx, "u1", day(time.March, 10), 40))
	f.events(1, day(time.March, 10), "teh", "the", learning.ErrorTypeTransposition)
	f.events(1, day(time.March, 11), "bog", "dog", learning.ErrorTypeReversal)
	f.events(4, day(time.March, 17), "wnet", "went", learning.ErrorTypeTransposition)

	first, err := f.svc.UpsertWeeklySnapshot(ctx, "u1", day(time.March, 12))
	require.NoError(t, err)
	second, err := f.svc.UpsertWeeklySnapshot(ctx, "u1", weekOf)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, weekOf, second.WeekStart)
	assert.Equal(t, 2, second.TotalCorrections)
	assert.Equal(t, 40, second.TotalWordsWritten)
	assert.Equal(t, 95.0, second.AccuracyScore)
	assert.Equal(t, 50.0, second.ErrorTypeBreakdown[learning.ErrorTypeTransposition])
	assert.Len(t, second.ErrorTypeBreakdown, len(learning.AllErrorTypes()))
	assert.Len(t, second.TopErrors, 2)
	assert.Equal(t, now, second.UpdatedAt)

	snaps, err := f.store.ListSnapshots(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	f.events(1, day(time.March, 13), "teh", "the", learning.ErrorTypeTransposition)
	third, err := f.svc.UpsertWeeklySnapshot(ctx, "u1", weekOf)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 3, third.TotalCorrections)

	snaps, err = f.store.ListSnapshots(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestUpsertWeeklySnapshot_EmptyWeek(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.UpsertWeeklySnapshot(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalCorrections)
	assert.Zero(t, snap.AccuracyScore)
	assert.Empty(t, snap.TopErrors)
	for _, v := range snap.ErrorTypeBreakdown {
		assert.Zero(t, v)
	}

	_, err = f.svc.UpsertWeeklySnapshot(context.Background(), "", now)
	assert.ErrorIs(t, err, learning.ErrValidation)
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.0, accuracy(0, 3))
	assert.Equal(t, 100.0, accuracy(10, 0))
	assert.Equal(t, 66.7, accuracy(3, 1))
	assert.Equal(t, 0.0, accuracy(2, 5))
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.events(2, day(time.March, 17), "teh", "the", learning.ErrorTypeTransposition)
	f.events(1, day(time.March, 18), "bog", "dog", learning.ErrorTypeReversal)

	r, err := f.svc.Report(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeeks, r.Weeks)
	assert.Len(t, r.Frequency, DefaultWeeks)
	assert.Len(t, r.Breakdown, DefaultWeeks)
	assert.Equal(t, "teh", r.TopErrors[0].Original)
	assert.Equal(t, 2, r.Streak.CurrentStreak)
	assert.Equal(t, 3, r.Totals.TotalCorrections)
	assert.Len(t, r.Improvement, 2)
	assert.Empty(t, r.MasteredWords)
}
