package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/learning/memstore"
	"github.com/MrWong99/wordwise/pkg/learning/mock"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

func newTestAggregator(t *testing.T, store learning.Store, opts ...Option) (*Aggregator, *testClock) {
	t.Helper()
	clock := &testClock{now: t0}
	opts = append([]Option{WithClock(clock.Now), WithMetrics(newTestMetrics(t))}, opts...)
	return New(store, opts...), clock
}

func entry(orig, corr string, typ learning.ErrorType) Entry {
	return Entry{
		UserID:     "u1",
		Original:   orig,
		Corrected:  corr,
		ErrorType:  typ,
		Confidence: 0.9,
		Source:     learning.SourceQuickModel,
	}
}

// ─── LogError ────────────────────────────────────────────────────────────────

func TestLogError_FrequencyMonotonic(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store)

	for range 3 {
		_, err := agg.LogError(ctx, entry("teh", "the", learning.ErrorTypeTransposition))
		require.NoError(t, err)
	}
	_, err := agg.LogError(ctx, entry("teh", "ten", learning.ErrorTypeOther))
	require.NoError(t, err)

	p, err := store.GetPattern(ctx, "u1", "teh", "the")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.Frequency)

	pats, err := store.ListPatterns(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, pats, 2)

	n, err := store.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestLogError_EventFields(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store, WithIDGenerator(func() string { return "ev-1" }))

	got, err := agg.LogError(ctx, Entry{
		UserID:     " u1 ",
		Original:   " recieve ",
		Corrected:  "receive",
		ErrorType:  "TRANSPOSITION",
		Context:    "I will recieve it",
		Confidence: 0.75,
		Source:     learning.SourceDeepModel,
	})
	require.NoError(t, err)

	assert.Equal(t, "ev-1", got.Event.ID)
	assert.Equal(t, "u1", got.Event.UserID)
	assert.Equal(t, "recieve", got.Event.OriginalText)
	assert.Equal(t, learning.ErrorTypeTransposition, got.Event.ErrorType)
	assert.Equal(t, t0, got.Event.CreatedAt)
	assert.Equal(t, "en", got.Pattern.LanguageCode)
	assert.Nil(t, got.Pair)
}

func TestLogError_HomophoneRecordsConfusionPair(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store)

	_, err := agg.LogError(ctx, entry("there", "their", learning.ErrorTypeHomophone))
	require.NoError(t, err)
	got, err := agg.LogError(ctx, entry("their", "there", learning.ErrorTypeHomophone))
	require.NoError(t, err)

	require.NotNil(t, got.Pair)
	assert.Equal(t, 2, got.Pair.ConfusionCount)
	assert.Equal(t, "their", got.Pair.WordA)
	assert.Equal(t, "there", got.Pair.WordB)

	pairs, err := store.ListConfusionPairs(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestLogError_KnownConfusableOfAnyType(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, memstore.New())

	got, err := agg.LogError(ctx, entry("then", "than", learning.ErrorTypeGrammar))
	require.NoError(t, err)
	require.NotNil(t, got.Pair)
	assert.Equal(t, "than", got.Pair.WordA)
}

func TestLogError_PhoneticDictionaryWordIsConfusion(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store)

	got, err := agg.LogError(ctx, entry("frend", "friend", learning.ErrorTypePhonetic))
	require.NoError(t, err)
	assert.Nil(t, got.Pair, "a plain misspelling is not a confusion")

	_, err = agg.AddToDictionary(ctx, "u1", "frend", learning.DictionaryManual)
	require.NoError(t, err)
	got, err = agg.LogError(ctx, entry("frend", "friend", learning.ErrorTypePhonetic))
	require.NoError(t, err)
	assert.NotNil(t, got.Pair)
}

func TestLogError_Validation(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{name: "empty original", entry: entry("  ", "the", learning.ErrorTypeOther)},
		{name: "empty corrected", entry: entry("teh", "", learning.ErrorTypeOther)},
		{name: "identical", entry: entry("the", "the", learning.ErrorTypeOther)},
		{name: "unknown type", entry: entry("teh", "the", "typo")},
		{name: "missing user", entry: Entry{Original: "teh", Corrected: "the", Source: learning.SourcePassive}},
		{name: "unknown source", entry: Entry{UserID: "u1", Original: "teh", Corrected: "the", Source: "keyboard"}},
		{name: "confidence above one", entry: Entry{UserID: "u1", Original: "teh", Corrected: "the", Source: learning.SourcePassive, Confidence: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.New()
			agg, _ := newTestAggregator(t, store)

			_, err := agg.LogError(context.Background(), tt.entry)
			require.ErrorIs(t, err, learning.ErrValidation)
			assert.Empty(t, store.Calls(), "no store call before validation passes")
		})
	}
}

func TestLogError_DefaultsEmptyTypeToOther(t *testing.T) {
	agg, _ := newTestAggregator(t, memstore.New())
	got, err := agg.LogError(context.Background(), entry("wnet", "went", ""))
	require.NoError(t, err)
	assert.Equal(t, learning.ErrorTypeOther, got.Pattern.ErrorType)
}

// dupOnceStore fails the first LogCorrection with ErrDuplicate, as a lost
// first-insert race on the pattern would.
type dupOnceStore struct {
	learning.Store
	mu    sync.Mutex
	fired bool
}

func (s *dupOnceStore) LogCorrection(ctx context.Context, c learning.Correction) (*learning.CorrectionResult, error) {
	s.mu.Lock()
	fire := !s.fired
	s.fired = true
	s.mu.Unlock()
	if fire {
		return nil, learning.NewStoreError("upsert pattern", c.Pattern.UserID, learning.ErrDuplicate, errors.New("unique violation"))
	}
	return s.Store.LogCorrection(ctx, c)
}

func TestLogError_RetriesDuplicateOnce(t *testing.T) {
	ctx := context.Background()
	store := &dupOnceStore{Store: memstore.New()}
	agg, _ := newTestAggregator(t, store)

	got, err := agg.LogError(ctx, entry("teh", "the", learning.ErrorTypeTransposition))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Pattern.Frequency)

	n, err := store.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogError_PersistentDuplicateSurfaces(t *testing.T) {
	store := mock.New()
	store.SetErr("UpsertPattern", learning.ErrDuplicate)
	agg, _ := newTestAggregator(t, store)

	_, err := agg.LogError(context.Background(), entry("teh", "the", learning.ErrorTypeTransposition))
	require.ErrorIs(t, err, learning.ErrDuplicate)
	assert.Equal(t, 2, store.CallCount("LogCorrection"))
}

func TestLogError_StoreUnavailable(t *testing.T) {
	store := mock.New()
	store.SetErr("AppendEvent", learning.NewStoreError("append event", "u1", nil, errors.New("connection refused")))
	agg, _ := newTestAggregator(t, store)

	_, err := agg.LogError(context.Background(), entry("teh", "the", learning.ErrorTypeTransposition))
	require.ErrorIs(t, err, learning.ErrUnavailable)
	assert.Contains(t, err.Error(), "log_correction")
	assert.Equal(t, 1, store.CallCount("LogCorrection"))
}

func TestLogError_FailedWriteLeavesNoEvent(t *testing.T) {
	tests := []struct {
		name   string
		method string
		entry  Entry
	}{
		{"pattern upsert", "UpsertPattern", entry("teh", "the", learning.ErrorTypeTransposition)},
		{"confusion pair upsert", "UpsertConfusionPair", entry("their", "there", learning.ErrorTypeHomophone)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := mock.New()
			agg, _ := newTestAggregator(t, store)

			store.SetErr(tc.method, learning.ErrUnavailable)
			res := agg.LogBatch(ctx, []Entry{tc.entry})
			require.Equal(t, 1, res.Failed)
			assert.ErrorIs(t, res.Results[0].Err, learning.ErrUnavailable)
			store.SetErr(tc.method, nil)

			n, err := store.CountEvents(ctx, "u1")
			require.NoError(t, err)
			assert.Zero(t, n)
			p, err := store.GetPattern(ctx, "u1", tc.entry.Original, tc.entry.Corrected)
			require.NoError(t, err)
			assert.Nil(t, p)

			// A retry of the failed item counts it exactly once.
			_, err = agg.LogError(ctx, tc.entry)
			require.NoError(t, err)
			n, err = store.CountEvents(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			p, err = store.GetPattern(ctx, "u1", tc.entry.Original, tc.entry.Corrected)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, 1, p.Frequency)
		})
	}
}

func TestLogError_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.LogError(ctx, entry("teh", "the", learning.ErrorTypeTransposition))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := store.GetPattern(ctx, "u1", "teh", "the")
	require.NoError(t, err)
	assert.Equal(t, n, p.Frequency)
}

// ─── LogBatch ────────────────────────────────────────────────────────────────

func TestLogBatch_FailuresDoNotAbort(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store)

	res := agg.LogBatch(ctx, []Entry{
		entry("teh", "the", learning.ErrorTypeTransposition),
		entry("", "the", learning.ErrorTypeTransposition),
		entry("bog", "dog", learning.ErrorTypeReversal),
	})

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].OK)
	assert.False(t, res.Results[1].OK)
	assert.Equal(t, 1, res.Results[1].Index)
	assert.ErrorIs(t, res.Results[1].Err, learning.ErrValidation)
	assert.NotEmpty(t, res.Results[1].Reason)
	assert.True(t, res.Results[2].OK)

	n, err := store.CountEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLogBatch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg, _ := newTestAggregator(t, memstore.New())

	res := agg.LogBatch(ctx, []Entry{
		entry("teh", "the", learning.ErrorTypeTransposition),
		entry("bog", "dog", learning.ErrorTypeReversal),
	})
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.ErrorIs(t, res.Results[0].Err, context.Canceled)
}

// ─── Dictionary ──────────────────────────────────────────────────────────────

func TestDictionary_IdempotentAndCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	agg, _ := newTestAggregator(t, store)

	_, err := agg.AddToDictionary(ctx, "u1", "PyTest", "")
	require.NoError(t, err)
	e, err := agg.AddToDictionary(ctx, "u1", " pytest ", learning.DictionaryAuto)
	require.NoError(t, err)
	assert.Equal(t, "pytest", e.Word)
	assert.Equal(t, learning.DictionaryManual, e.Source)

	words, err := store.ListWords(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, words, 1)

	ok, err := agg.CheckDictionary(ctx, "u1", "PYTEST")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := agg.RemoveFromDictionary(ctx, "u1", "pytest")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = agg.RemoveFromDictionary(ctx, "u1", "pytest")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDictionary_Validation(t *testing.T) {
	agg, _ := newTestAggregator(t, memstore.New())
	ctx := context.Background()

	_, err := agg.AddToDictionary(ctx, "u1", "   ", "")
	assert.ErrorIs(t, err, learning.ErrValidation)
	_, err = agg.AddToDictionary(ctx, "", "word", "")
	assert.ErrorIs(t, err, learning.ErrValidation)
	_, err = agg.AddToDictionary(ctx, "u1", "word", "imported")
	assert.ErrorIs(t, err, learning.ErrValidation)

	ok, err := agg.CheckDictionary(ctx, "u1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ─── Summaries ───────────────────────────────────────────────────────────────

func logN(t *testing.T, agg *Aggregator, n int, e Entry) {
	t.Helper()
	for range n {
		_, err := agg.LogError(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestGetErrorTypeBreakdown(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, memstore.New())

	empty, err := agg.GetErrorTypeBreakdown(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, empty, len(learning.AllErrorTypes()))
	for _, v := range empty {
		assert.Zero(t, v)
	}

	logN(t, agg, 3, entry("teh", "the", learning.ErrorTypeTransposition))
	logN(t, agg, 1, entry("bog", "dog", learning.ErrorTypeReversal))

	got, err := agg.GetErrorTypeBreakdown(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got, len(learning.AllErrorTypes()))
	assert.Equal(t, 75.0, got[learning.ErrorTypeTransposition])
	assert.Equal(t, 25.0, got[learning.ErrorTypeReversal])
	assert.Zero(t, got[learning.ErrorTypeHomophone])
}

func TestBreakdown_SumsToHundred(t *testing.T) {
	pats := []learning.ErrorPattern{
		{ErrorType: learning.ErrorTypeTransposition, Frequency: 1},
		{ErrorType: learning.ErrorTypeReversal, Frequency: 1},
		{ErrorType: learning.ErrorTypePhonetic, Frequency: 1},
	}
	sum := 0.0
	for _, v := range Breakdown(pats) {
		sum += v
	}
	assert.InDelta(t, 100.0, sum, 0.5)
}

func TestGetTopErrors_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	agg, clock := newTestAggregator(t, memstore.New())

	logN(t, agg, 2, entry("teh", "the", learning.ErrorTypeTransposition))
	clock.Set(t0.Add(time.Hour))
	logN(t, agg, 2, entry("bog", "dog", learning.ErrorTypeReversal))
	logN(t, agg, 1, entry("wnet", "went", learning.ErrorTypeTransposition))

	got, err := agg.GetTopErrors(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []learning.TopError{
		{Original: "bog", Corrected: "dog", Frequency: 2},
		{Original: "teh", Corrected: "the", Frequency: 2},
	}, got)

	none, err := agg.GetTopErrors(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetFullProfile_EmptyUser(t *testing.T) {
	agg, _ := newTestAggregator(t, memstore.New())

	p, err := agg.GetFullProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, NeutralScore, p.OverallScore)
	assert.Zero(t, p.TotalPatterns)
	assert.Zero(t, p.PatternsMastered)
	assert.NotNil(t, p.TopErrors)
	assert.NotNil(t, p.ConfusionPairs)
	assert.NotNil(t, p.PersonalDictionary)
	assert.Len(t, p.ErrorTypeBreakdown, len(learning.AllErrorTypes()))
}

func TestGetFullProfile_MasteryAndScore(t *testing.T) {
	ctx := context.Background()
	agg, clock := newTestAggregator(t, memstore.New(), WithRecentWindow(7*24*time.Hour))

	logN(t, agg, 2, entry("teh", "the", learning.ErrorTypeTransposition))
	logN(t, agg, 1, entry("bog", "dog", learning.ErrorTypeReversal))
	_, err := agg.AddToDictionary(ctx, "u1", "Kubernetes", "")
	require.NoError(t, err)

	n, err := agg.RefreshImprovement(ctx, "u1", []learning.ErrorType{learning.ErrorTypeTransposition})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := agg.GetFullProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, p.PatternsMastered, "seen within the recent window")
	assert.Equal(t, 25, p.OverallScore)

	clock.Set(t0.Add(8 * 24 * time.Hour))
	p, err = agg.GetFullProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.PatternsMastered)
	assert.Equal(t, 2, p.TotalPatterns)
	// Both dormant, one of two mastered: 25 + 50 + 12.5.
	assert.Equal(t, 88, p.OverallScore)
	assert.Equal(t, []string{"kubernetes"}, p.PersonalDictionary)
	assert.Equal(t, "teh", p.TopErrors[0].Original)
}

func TestGetFullProfile_StoreFailure(t *testing.T) {
	store := mock.New()
	store.SetErr("ListWords", fmt.Errorf("boom: %w", learning.ErrUnavailable))
	agg, _ := newTestAggregator(t, store)

	_, err := agg.GetFullProfile(context.Background(), "u1")
	require.ErrorIs(t, err, learning.ErrUnavailable)
	assert.Contains(t, err.Error(), "list dictionary")
}

// ─── Pattern maintenance ─────────────────────────────────────────────────────

func TestUpdatePattern(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, memstore.New())

	got, err := agg.LogError(ctx, entry("teh", "the", learning.ErrorTypeOther))
	require.NoError(t, err)

	_, err = agg.UpdatePattern(ctx, "u1", got.Pattern.ID, learning.PatternPatch{})
	assert.ErrorIs(t, err, learning.ErrValidation)

	patch, err := learning.DecodePatternPatch([]byte(`{"error_type":"transposition","improving":true}`))
	require.NoError(t, err)
	updated, err := agg.UpdatePattern(ctx, "u1", got.Pattern.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, learning.ErrorTypeTransposition, updated.ErrorType)
	assert.True(t, updated.Improving)

	_, err = agg.UpdatePattern(ctx, "u2", got.Pattern.ID, patch)
	assert.ErrorIs(t, err, learning.ErrNotFound)
}
