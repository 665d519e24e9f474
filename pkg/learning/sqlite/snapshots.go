package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const snapshotColumns = `id, user_id, week_start, total_words_written, total_corrections,
	accuracy_score, error_type_breakdown, top_errors, patterns_mastered,
	new_patterns_detected, updated_at`

type snapshotRow struct {
	ID                  int64   `db:"id"`
	UserID              string  `db:"user_id"`
	WeekStart           string  `db:"week_start"`
	TotalWordsWritten   int     `db:"total_words_written"`
	TotalCorrections    int     `db:"total_corrections"`
	AccuracyScore       float64 `db:"accuracy_score"`
	ErrorTypeBreakdown  string  `db:"error_type_breakdown"`
	TopErrors           string  `db:"top_errors"`
	PatternsMastered    int     `db:"patterns_mastered"`
	NewPatternsDetected int     `db:"new_patterns_detected"`
	UpdatedAt           string  `db:"updated_at"`
}

func (r snapshotRow) toSnapshot() (learning.ProgressSnapshot, error) {
	week, err := parseDay(r.WeekStart)
	if err != nil {
		return learning.ProgressSnapshot{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return learning.ProgressSnapshot{}, err
	}
	snap := learning.ProgressSnapshot{
		ID:                  r.ID,
		UserID:              r.UserID,
		WeekStart:           week,
		TotalWordsWritten:   r.TotalWordsWritten,
		TotalCorrections:    r.TotalCorrections,
		AccuracyScore:       r.AccuracyScore,
		PatternsMastered:    r.PatternsMastered,
		NewPatternsDetected: r.NewPatternsDetected,
		UpdatedAt:           updated,
	}
	if err := json.Unmarshal([]byte(r.ErrorTypeBreakdown), &snap.ErrorTypeBreakdown); err != nil {
		return learning.ProgressSnapshot{}, fmt.Errorf("unmarshal error_type_breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(r.TopErrors), &snap.TopErrors); err != nil {
		return learning.ProgressSnapshot{}, fmt.Errorf("unmarshal top_errors: %w", err)
	}
	return snap, nil
}

// UpsertSnapshot implements [learning.SnapshotStore].
func (s *Store) UpsertSnapshot(ctx context.Context, snap learning.ProgressSnapshot) (*learning.ProgressSnapshot, error) {
	if err := ensureUser(ctx, s.db, snap.UserID); err != nil {
		return nil, err
	}
	breakdown := snap.ErrorTypeBreakdown
	if breakdown == nil {
		breakdown = map[learning.ErrorType]float64{}
	}
	top := snap.TopErrors
	if top == nil {
		top = []learning.TopError{}
	}
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal error_type_breakdown: %w", err)
	}
	topJSON, err := json.Marshal(top)
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal top_errors: %w", err)
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO progress_snapshots (
			user_id, week_start, total_words_written, total_corrections, accuracy_score,
			error_type_breakdown, top_errors, patterns_mastered, new_patterns_detected, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, week_start) DO UPDATE SET
			total_words_written   = excluded.total_words_written,
			total_corrections     = excluded.total_corrections,
			accuracy_score        = excluded.accuracy_score,
			error_type_breakdown  = excluded.error_type_breakdown,
			top_errors            = excluded.top_errors,
			patterns_mastered     = excluded.patterns_mastered,
			new_patterns_detected = excluded.new_patterns_detected,
			updated_at            = excluded.updated_at
		RETURNING ` + snapshotColumns

	var row snapshotRow
	err = s.db.GetContext(ctx, &row, query,
		snap.UserID, formatDay(learning.WeekStart(snap.WeekStart)), snap.TotalWordsWritten,
		snap.TotalCorrections, snap.AccuracyScore, string(breakdownJSON), string(topJSON),
		snap.PatternsMastered, snap.NewPatternsDetected, formatTime(updatedAt),
	)
	if err != nil {
		return nil, wrap("snapshots.upsert", snap.UserID, err)
	}
	out, err := row.toSnapshot()
	if err != nil {
		return nil, wrap("snapshots.upsert", snap.UserID, err)
	}
	return &out, nil
}

// GetSnapshot implements [learning.SnapshotStore].
func (s *Store) GetSnapshot(ctx context.Context, userID string, weekStart time.Time) (*learning.ProgressSnapshot, error) {
	const query = `SELECT ` + snapshotColumns + `
		FROM progress_snapshots
		WHERE user_id = ? AND week_start = ?`

	var row snapshotRow
	if err := s.db.GetContext(ctx, &row, query, userID, formatDay(learning.WeekStart(weekStart))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("snapshots.get", userID, err)
	}
	out, err := row.toSnapshot()
	if err != nil {
		return nil, wrap("snapshots.get", userID, err)
	}
	return &out, nil
}

// ListSnapshots implements [learning.SnapshotStore].
func (s *Store) ListSnapshots(ctx context.Context, userID string, since time.Time) ([]learning.ProgressSnapshot, error) {
	const query = `SELECT ` + snapshotColumns + `
		FROM progress_snapshots
		WHERE user_id = ? AND week_start >= ?
		ORDER BY week_start ASC`

	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, formatDay(since)); err != nil {
		return nil, wrap("snapshots.list", userID, err)
	}
	out := make([]learning.ProgressSnapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.toSnapshot()
		if err != nil {
			return nil, wrap("snapshots.list", userID, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writing activity
// ─────────────────────────────────────────────────────────────────────────────

// AddWordsWritten implements [learning.ActivityStore].
func (s *Store) AddWordsWritten(ctx context.Context, userID string, day time.Time, words int) error {
	if words <= 0 {
		return nil
	}
	if err := ensureUser(ctx, s.db, userID); err != nil {
		return err
	}
	const query = `
		INSERT INTO writing_activity (user_id, day, words)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, day) DO UPDATE
		SET words = writing_activity.words + excluded.words`

	if _, err := s.db.ExecContext(ctx, query, userID, formatDay(day), words); err != nil {
		return wrap("activity.add", userID, err)
	}
	return nil
}

// WordsWritten implements [learning.ActivityStore].
func (s *Store) WordsWritten(ctx context.Context, userID string, since, until time.Time) (int, error) {
	const query = `
		SELECT COALESCE(SUM(words), 0)
		FROM writing_activity
		WHERE user_id = ?
		  AND day >= ?
		  AND (? IS NULL OR day < ?)`

	end := nullableDay(until)
	var total int
	if err := s.db.GetContext(ctx, &total, query, userID, formatDay(since), end, end); err != nil {
		return 0, wrap("activity.sum", userID, err)
	}
	return total, nil
}
