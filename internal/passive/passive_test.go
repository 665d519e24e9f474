package passive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wordwise/internal/diffdetect"
	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/internal/profile"
	"github.com/MrWong99/wordwise/internal/resilience"
	"github.com/MrWong99/wordwise/internal/textsnap"
	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/learning/memstore"
	"github.com/MrWong99/wordwise/pkg/learning/mock"
	"github.com/MrWong99/wordwise/pkg/provider/llm"
	llmmock "github.com/MrWong99/wordwise/pkg/provider/llm/mock"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

type fixture struct {
	store   learning.Store
	agg     *profile.Aggregator
	learner *Learner
}

func newFixture(t *testing.T, store learning.Store, opts ...Option) *fixture {
	t.Helper()
	met := newTestMetrics(t)
	agg := profile.New(store, profile.WithClock(func() time.Time { return t0 }), profile.WithMetrics(met))
	det := diffdetect.New(diffdetect.WithDictionary(agg))
	snaps := textsnap.New(textsnap.WithClock(func() time.Time { return t0 }))
	opts = append([]Option{WithMetrics(met), WithClock(func() time.Time { return t0 })}, opts...)
	return &fixture{
		store:   store,
		agg:     agg,
		learner: New(snaps, det, agg, store, opts...),
	}
}

func (f *fixture) submit(t *testing.T, text string, at time.Time) *Outcome {
	t.Helper()
	out, err := f.learner.SubmitSnapshot(context.Background(), Submission{UserID: "u1", DocumentID: "doc", Text: text, Timestamp: at})
	require.NoError(t, err)
	return out
}

func TestSubmitSnapshot_FirstCapture(t *testing.T) {
	f := newFixture(t, memstore.New())

	out := f.submit(t, "Teh cat sat", t0)
	assert.True(t, out.FirstCapture)
	assert.Zero(t, out.Detected)
	assert.Zero(t, out.Logged)
	assert.NotNil(t, out.Corrections)

	n, err := f.store.CountEvents(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitSnapshot_LogsSelfCorrection(t *testing.T) {
	f := newFixture(t, memstore.New())
	ctx := context.Background()

	f.submit(t, "Teh quick brown fox", t0)
	out := f.submit(t, "The quick brown fox", t0.Add(time.Minute))

	assert.False(t, out.FirstCapture)
	assert.Equal(t, 1, out.Detected)
	assert.Equal(t, 1, out.Logged)
	require.Len(t, out.Corrections, 1)
	assert.Equal(t, "Teh", out.Corrections[0].Original)

	events, err := f.store.ListEvents(ctx, "u1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, learning.SourceSelfCorrected, events[0].Source)
	assert.Equal(t, learning.ErrorTypeTransposition, events[0].ErrorType)

	pat, err := f.store.GetPattern(ctx, "u1", "teh", "the")
	require.NoError(t, err)
	assert.Equal(t, 1, pat.Frequency)
}

func TestSubmitSnapshot_DictionaryWordIgnored(t *testing.T) {
	f := newFixture(t, memstore.New())
	_, err := f.agg.AddToDictionary(context.Background(), "u1", "Teh", learning.DictionaryManual)
	require.NoError(t, err)

	f.submit(t, "Teh quick brown fox", t0)
	out := f.submit(t, "The quick brown fox", t0.Add(time.Minute))
	assert.Zero(t, out.Detected)
	assert.Zero(t, out.Logged)
}

func TestSubmitSnapshot_DocumentsAreIndependent(t *testing.T) {
	f := newFixture(t, memstore.New())
	ctx := context.Background()

	_, err := f.learner.SubmitSnapshot(ctx, Submission{UserID: "u1", DocumentID: "a", Text: "Teh fox", Timestamp: t0})
	require.NoError(t, err)
	out, err := f.learner.SubmitSnapshot(ctx, Submission{UserID: "u1", DocumentID: "b", Text: "The fox", Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, out.FirstCapture)
	assert.Zero(t, out.Detected)
}

func TestSubmitSnapshot_OutOfOrderIgnored(t *testing.T) {
	f := newFixture(t, memstore.New())

	f.submit(t, "The quick brown fox", t0.Add(time.Minute))
	out := f.submit(t, "Teh quick brown fox", t0)
	assert.False(t, out.FirstCapture)
	assert.Zero(t, out.Detected)
}

func TestSubmitSnapshot_WordsWritten(t *testing.T) {
	store := memstore.New()
	f := newFixture(t, store)
	ctx := context.Background()

	// 3 on first capture, +2, shrink, stale, +2.
	f.submit(t, "one two three", t0)
	f.submit(t, "one two three four five", t0.Add(time.Minute))
	f.submit(t, "one two", t0.Add(2*time.Minute))
	f.submit(t, "one two three four", t0.Add(-time.Minute))
	f.submit(t, "one two three four", t0.Add(3*time.Minute))

	got, err := store.WordsWritten(ctx, "u1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestSubmitSnapshot_DefaultsTimestamp(t *testing.T) {
	f := newFixture(t, memstore.New())
	out, err := f.learner.SubmitSnapshot(context.Background(), Submission{UserID: "u1", Text: "hello there"})
	require.NoError(t, err)
	assert.True(t, out.FirstCapture)

	got, err := f.store.WordsWritten(context.Background(), "u1", learning.Day(t0), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestSubmitSnapshot_Validation(t *testing.T) {
	f := newFixture(t, memstore.New())
	_, err := f.learner.SubmitSnapshot(context.Background(), Submission{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, learning.ErrValidation)
}

func TestSubmitSnapshot_ActivityFailure(t *testing.T) {
	store := mock.Wrap(memstore.New())
	store.SetErr("AddWordsWritten", learning.ErrUnavailable)
	f := newFixture(t, store)

	_, err := f.learner.SubmitSnapshot(context.Background(), Submission{UserID: "u1", Text: "a b", Timestamp: t0})
	require.Error(t, err)
	assert.ErrorIs(t, err, learning.ErrUnavailable)
}

func TestSubmitSnapshot_LoggingFailureIsBestEffort(t *testing.T) {
	store := mock.Wrap(memstore.New())
	f := newFixture(t, store)

	f.submit(t, "Teh quick brown fox", t0)
	store.SetErr("AppendEvent", learning.ErrUnavailable)
	out := f.submit(t, "The quick brown fox", t0.Add(time.Minute))

	assert.Equal(t, 1, out.Detected)
	assert.Zero(t, out.Logged)
	assert.Empty(t, out.Corrections)
}

func TestSubmitSnapshot_WithValidator(t *testing.T) {
	const prev = "Teh cat saw a house today"
	const cur = "The cat saw a horse today"

	tests := []struct {
		name         string
		provider     *llmmock.Provider
		wantLogged   int
		wantDegraded bool
		wantSource   learning.Source
		wantType     learning.ErrorType
	}{
		{
			name: "confirmed by model",
			provider: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
				Content: `{"results":[{"index":0,"is_correction":true,"error_type":"transposition","confidence":0.95},{"index":1,"is_correction":false,"confidence":0.8}]}`,
			}},
			wantLogged: 1,
			wantSource: learning.SourceSelfCorrected,
			wantType:   learning.ErrorTypeTransposition,
		},
		{
			name:         "breaker open degrades to heuristic confidence",
			provider:     &llmmock.Provider{CompleteErr: &resilience.OpenError{Name: "llm:openai"}},
			wantLogged:   1,
			wantDegraded: true,
			wantSource:   learning.SourcePassive,
			wantType:     learning.ErrorTypeTransposition,
		},
		{
			name: "invalid reply degrades",
			provider: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
				Content: `{"verdict":"yes"}`,
			}},
			wantLogged:   1,
			wantDegraded: true,
			wantSource:   learning.SourcePassive,
			wantType:     learning.ErrorTypeTransposition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			v, err := NewValidator(tt.provider, nil, WithValidatorMetrics(newTestMetrics(t)))
			require.NoError(t, err)
			f := newFixture(t, store, WithValidator(v))

			f.submit(t, prev, t0)
			out := f.submit(t, cur, t0.Add(time.Minute))

			assert.Equal(t, 2, out.Detected)
			assert.Equal(t, tt.wantLogged, out.Logged)
			assert.Equal(t, tt.wantDegraded, out.Degraded)

			events, err := store.ListEvents(context.Background(), "u1", time.Time{}, time.Time{})
			require.NoError(t, err)
			require.Len(t, events, tt.wantLogged)
			assert.Equal(t, "Teh", events[0].OriginalText)
			assert.Equal(t, tt.wantSource, events[0].Source)
			assert.Equal(t, tt.wantType, events[0].ErrorType)
			assert.Len(t, tt.provider.CompleteCalls, 1)
		})
	}
}

func TestSubmitSnapshot_ValidatorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &llmmock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		return nil, ctx.Err()
	}}
	v, err := NewValidator(p, nil, WithValidatorMetrics(newTestMetrics(t)))
	require.NoError(t, err)
	f := newFixture(t, memstore.New(), WithValidator(v))

	f.submit(t, "Teh quick brown fox", t0)
	_, err = f.learner.SubmitSnapshot(ctx, Submission{UserID: "u1", DocumentID: "doc", Text: "The quick brown fox", Timestamp: t0.Add(time.Minute)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewWords(t *testing.T) {
	prev := learning.NewTextSnapshot("a b c", t0)
	tests := []struct {
		name    string
		cur     learning.TextSnapshot
		hadPrev bool
		want    int
	}{
		{"first capture", learning.NewTextSnapshot("a b", t0), false, 2},
		{"growth", learning.NewTextSnapshot("a b c d", t0.Add(time.Second)), true, 1},
		{"shrink", learning.NewTextSnapshot("a", t0.Add(time.Second)), true, 0},
		{"stale", learning.NewTextSnapshot("a b c d e", t0), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newWords(prev, tt.cur, tt.hadPrev))
		})
	}
}
