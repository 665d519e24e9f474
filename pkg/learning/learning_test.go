package learning

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("There", " their ")
	assert.Equal(t, "their", a)
	assert.Equal(t, "there", b)

	a2, b2 := CanonicalPair("their", "there")
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
}

func TestPatternKey(t *testing.T) {
	m, c := PatternKey(" Teh", "The ")
	assert.Equal(t, "teh", m)
	assert.Equal(t, "the", c)
}

func TestIsConfusable(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"there", "their", true},
		{"Their", "THEY'RE", true},
		{"your", "you're", true},
		{"there", "there", false},
		{"there", "where", false},
		{"cat", "hat", false},
		{"", "to", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfusable(tt.a, tt.b))
		})
	}
}

func TestParseErrorType(t *testing.T) {
	got, err := ParseErrorType("Self_Correction")
	require.NoError(t, err)
	assert.Equal(t, ErrorTypeSelfCorrection, got)

	_, err = ParseErrorType("typo")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAllErrorTypes_IsCopy(t *testing.T) {
	types := AllErrorTypes()
	require.Len(t, types, 8)
	types[0] = "mutated"
	assert.Equal(t, ErrorTypeReversal, AllErrorTypes()[0])
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"monday", time.Date(2026, 10, 12, 9, 30, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
		{"sunday", time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
		{"non-utc", time.Date(2026, 10, 19, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(WeekStart(tt.in)), "WeekStart(%v) = %v, want %v", tt.in, WeekStart(tt.in), tt.want)
		})
	}
}

func TestNewTextSnapshot(t *testing.T) {
	s := NewTextSnapshot("  the quick\nbrown  fox ", time.Unix(0, 0))
	assert.Equal(t, 4, s.WordCount)
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("patterns.upsert", "u1", ErrUnavailable, cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "u1")

	assert.NoError(t, NewStoreError("op", "u1", ErrUnavailable, nil))

	defaulted := NewStoreError("op", "", nil, cause)
	assert.ErrorIs(t, defaulted, ErrUnavailable)
}

func TestDecodePatternPatch(t *testing.T) {
	p, err := DecodePatternPatch([]byte(`{"error_type":"Transposition","improving":true}`))
	require.NoError(t, err)
	require.NotNil(t, p.ErrorType)
	assert.Equal(t, ErrorTypeTransposition, *p.ErrorType)
	require.NotNil(t, p.Improving)
	assert.True(t, *p.Improving)
	assert.Nil(t, p.LanguageCode)

	pat := ErrorPattern{ErrorType: ErrorTypeOther, LanguageCode: "en"}
	p.Apply(&pat)
	assert.Equal(t, ErrorTypeTransposition, pat.ErrorType)
	assert.True(t, pat.Improving)
	assert.Equal(t, "en", pat.LanguageCode)
}

func TestDecodePatternPatch_RejectsUnknownFields(t *testing.T) {
	_, err := DecodePatternPatch([]byte(`{"frequency": 99}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = DecodePatternPatch([]byte(`{"error_type":"typo"}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = DecodePatternPatch([]byte(`{"language_code":"   "}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPatternPatch_IsEmpty(t *testing.T) {
	assert.True(t, PatternPatch{}.IsEmpty())
	b := false
	assert.False(t, PatternPatch{Improving: &b}.IsEmpty())
}

func TestPurgeResult_Total(t *testing.T) {
	r := PurgeResult{Events: 3, Patterns: 2, ConfusionPairs: 1, Snapshots: 4, Activity: 5}
	assert.EqualValues(t, 15, r.Total())
}
