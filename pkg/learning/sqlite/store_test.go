package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/learning/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) learning.Store { return newTestStore(t) })
}

func TestOpen_FileDatabaseSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wordwise.db")

	s, err := Open(ctx, "file:"+path)
	require.NoError(t, err)
	_, err = s.AddWord(ctx, "u1", "wordwise", learning.DictionaryManual, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "file:"+path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ok, err := s.HasWord(ctx, "u1", "WordWise")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppendEvent_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := learning.ErrorEvent{
		ID: "e1", UserID: "u1", OriginalText: "teh", CorrectedText: "the",
		ErrorType: learning.ErrorTypeTransposition, Confidence: 0.9,
		Source: learning.SourcePassive, CreatedAt: time.Now(),
	}
	require.NoError(t, s.AppendEvent(ctx, e))

	err := s.AppendEvent(ctx, e)
	assert.ErrorIs(t, err, learning.ErrDuplicate)

	var se *learning.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "sqlite: events.append", se.Op)
}

func TestAppendEvent_ConfidenceOutOfRange(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendEvent(context.Background(), learning.ErrorEvent{
		ID: "e1", UserID: "u1", OriginalText: "teh", CorrectedText: "the",
		ErrorType: learning.ErrorTypeOther, Confidence: 1.5,
		Source: learning.SourcePassive, CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, learning.ErrValidation)
}

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{":memory:", ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"file:a.db", "file:a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"},
		{"file:a.db?mode=ro", "file:a.db?mode=ro&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, withPragmas(tt.dsn))
	}
}

func TestTimeEncodingIsSortable(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("CET", 3600))
	late := early.Add(time.Nanosecond)

	assert.Less(t, formatTime(early), formatTime(late))
	got, err := parseTime(formatTime(early))
	require.NoError(t, err)
	assert.True(t, early.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
	assert.Nil(t, nullableTime(time.Time{}))
	assert.Equal(t, -1, limitArg(0))
	assert.Equal(t, 3, limitArg(3))
}
