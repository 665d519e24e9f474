package learning

import (
	"context"
	"time"
)

// PatternStore persists [ErrorPattern] rows.
//
// UpsertPattern must be atomic with respect to concurrent callers for the same
// (user, misspelling, correction) key: N concurrent occurrences yield a
// frequency increase of exactly N.
type PatternStore interface {
	// UpsertPattern creates the pattern on first occurrence or increments its
	// frequency and refreshes last_seen. The error type and language code of an
	// existing row are left untouched.
	UpsertPattern(ctx context.Context, occ PatternOccurrence) (*ErrorPattern, error)

	// GetPattern returns the pattern for the case-insensitive key, or (nil, nil)
	// when it does not exist.
	GetPattern(ctx context.Context, userID, misspelling, correction string) (*ErrorPattern, error)

	// ListPatterns returns all patterns of a user ordered by frequency
	// descending, then last_seen descending.
	ListPatterns(ctx context.Context, userID string) ([]ErrorPattern, error)

	// TopPatterns returns at most limit patterns in ListPatterns order. A
	// limit <= 0 returns all patterns.
	TopPatterns(ctx context.Context, userID string, limit int) ([]ErrorPattern, error)

	// UpdatePattern applies patch to the pattern with the given id. Returns
	// [ErrNotFound] when the pattern does not belong to the user.
	UpdatePattern(ctx context.Context, userID string, id int64, patch PatternPatch) (*ErrorPattern, error)

	// SetImprovingTypes sets improving=true on every pattern of the user whose
	// error type is in types, and false on all others. It returns the number of
	// rows whose flag changed.
	SetImprovingTypes(ctx context.Context, userID string, types []ErrorType) (int64, error)
}

// ConfusionStore persists [ConfusionPair] rows. Implementations canonicalise
// both words with [CanonicalPair] on every write and lookup.
type ConfusionStore interface {
	UpsertConfusionPair(ctx context.Context, userID, a, b string, at time.Time) (*ConfusionPair, error)
	GetConfusionPair(ctx context.Context, userID, a, b string) (*ConfusionPair, error)

	// ListConfusionPairs returns pairs ordered by count descending, then most
	// recent. A limit <= 0 returns all pairs.
	ListConfusionPairs(ctx context.Context, userID string, limit int) ([]ConfusionPair, error)
}

// DictionaryStore persists the personal whitelist. Words are normalised with
// [NormalizeWord].
type DictionaryStore interface {
	// AddWord inserts the word or returns the existing entry unchanged.
	AddWord(ctx context.Context, userID, word string, source DictionarySource, at time.Time) (*DictionaryEntry, error)
	HasWord(ctx context.Context, userID, word string) (bool, error)

	// RemoveWord deletes the word and reports whether it existed.
	RemoveWord(ctx context.Context, userID, word string) (bool, error)

	// ListWords returns the dictionary ordered alphabetically.
	ListWords(ctx context.Context, userID string) ([]DictionaryEntry, error)
}

// EventLog is the append-only [ErrorEvent] history.
type EventLog interface {
	// AppendEvent stores e. The caller assigns ID and CreatedAt.
	AppendEvent(ctx context.Context, e ErrorEvent) error

	// ListEvents returns events with since <= created_at < until in
	// chronological order. A zero until is unbounded.
	ListEvents(ctx context.Context, userID string, since, until time.Time) ([]ErrorEvent, error)

	CountEvents(ctx context.Context, userID string) (int, error)

	// EventDays returns the distinct UTC calendar days with at least one event,
	// most recent first.
	EventDays(ctx context.Context, userID string) ([]time.Time, error)

	// ActiveUsers returns the ids of users with at least one event at or after
	// since, sorted.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// SnapshotStore persists weekly [ProgressSnapshot] rows, unique per
// (user, week_start).
type SnapshotStore interface {
	// UpsertSnapshot inserts or overwrites the snapshot for its week.
	UpsertSnapshot(ctx context.Context, s ProgressSnapshot) (*ProgressSnapshot, error)

	// GetSnapshot returns (nil, nil) when no snapshot exists for the week.
	GetSnapshot(ctx context.Context, userID string, weekStart time.Time) (*ProgressSnapshot, error)

	// ListSnapshots returns snapshots with week_start >= since, oldest first.
	ListSnapshots(ctx context.Context, userID string, since time.Time) ([]ProgressSnapshot, error)
}

// ActivityStore accumulates words written per user and UTC day.
type ActivityStore interface {
	AddWordsWritten(ctx context.Context, userID string, day time.Time, words int) error

	// WordsWritten sums words for days in [since, until). A zero until is
	// unbounded.
	WordsWritten(ctx context.Context, userID string, since, until time.Time) (int, error)
}

// Store is the complete persistence surface used by the services.
type Store interface {
	PatternStore
	ConfusionStore
	DictionaryStore
	EventLog
	SnapshotStore
	ActivityStore

	// LogCorrection appends the event and upserts its pattern and optional
	// confusion pair as one unit. When it returns an error none of the three
	// writes is visible.
	LogCorrection(ctx context.Context, c Correction) (*CorrectionResult, error)

	// EraseUser deletes the user and, by cascade, every per-user row. It
	// reports whether the user existed.
	EraseUser(ctx context.Context, userID string) (bool, error)

	// PurgeBefore removes rows older than cutoff from every per-user table.
	PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
