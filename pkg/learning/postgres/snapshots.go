package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const snapshotColumns = `id, user_id, week_start, total_words_written, total_corrections,
	accuracy_score, error_type_breakdown, top_errors, patterns_mastered,
	new_patterns_detected, updated_at`

// UpsertSnapshot implements [learning.SnapshotStore].
func (s *Store) UpsertSnapshot(ctx context.Context, snap learning.ProgressSnapshot) (*learning.ProgressSnapshot, error) {
	if err := ensureUser(ctx, s.db, snap.UserID); err != nil {
		return nil, err
	}
	breakdownJSON, err := json.Marshal(emptyBreakdown(snap.ErrorTypeBreakdown))
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal error_type_breakdown: %w", err)
	}
	topJSON, err := json.Marshal(emptyTopErrors(snap.TopErrors))
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal top_errors: %w", err)
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO progress_snapshots (
			user_id, week_start, total_words_written, total_corrections, accuracy_score,
			error_type_breakdown, top_errors, patterns_mastered, new_patterns_detected, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, week_start) DO UPDATE SET
			total_words_written   = EXCLUDED.total_words_written,
			total_corrections     = EXCLUDED.total_corrections,
			accuracy_score        = EXCLUDED.accuracy_score,
			error_type_breakdown  = EXCLUDED.error_type_breakdown,
			top_errors            = EXCLUDED.top_errors,
			patterns_mastered     = EXCLUDED.patterns_mastered,
			new_patterns_detected = EXCLUDED.new_patterns_detected,
			updated_at            = EXCLUDED.updated_at
		RETURNING ` + snapshotColumns

	out, err := scanSnapshot(s.db.QueryRow(ctx, query,
		snap.UserID, learning.WeekStart(snap.WeekStart), snap.TotalWordsWritten, snap.TotalCorrections,
		snap.AccuracyScore, breakdownJSON, topJSON, snap.PatternsMastered, snap.NewPatternsDetected,
		updatedAt.UTC(),
	))
	if err != nil {
		return nil, wrap("snapshots.upsert", snap.UserID, err)
	}
	return out, nil
}

// GetSnapshot implements [learning.SnapshotStore].
func (s *Store) GetSnapshot(ctx context.Context, userID string, weekStart time.Time) (*learning.ProgressSnapshot, error) {
	const query = `SELECT ` + snapshotColumns + `
		FROM progress_snapshots
		WHERE user_id = $1 AND week_start = $2`

	out, err := scanSnapshot(s.db.QueryRow(ctx, query, userID, learning.WeekStart(weekStart)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("snapshots.get", userID, err)
	}
	return out, nil
}

// ListSnapshots implements [learning.SnapshotStore].
func (s *Store) ListSnapshots(ctx context.Context, userID string, since time.Time) ([]learning.ProgressSnapshot, error) {
	const query = `SELECT ` + snapshotColumns + `
		FROM progress_snapshots
		WHERE user_id = $1 AND week_start >= $2::date
		ORDER BY week_start ASC`

	rows, err := s.db.Query(ctx, query, userID, learning.Day(since))
	if err != nil {
		return nil, wrap("snapshots.list", userID, err)
	}
	defer rows.Close()

	out := []learning.ProgressSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, wrap("snapshots.list", userID, err)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("snapshots.list", userID, err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (*learning.ProgressSnapshot, error) {
	var (
		snap                   learning.ProgressSnapshot
		breakdownJSON, topJSON []byte
	)
	if err := row.Scan(
		&snap.ID, &snap.UserID, &snap.WeekStart, &snap.TotalWordsWritten, &snap.TotalCorrections,
		&snap.AccuracyScore, &breakdownJSON, &topJSON, &snap.PatternsMastered,
		&snap.NewPatternsDetected, &snap.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(breakdownJSON, &snap.ErrorTypeBreakdown); err != nil {
		return nil, fmt.Errorf("unmarshal error_type_breakdown: %w", err)
	}
	if err := json.Unmarshal(topJSON, &snap.TopErrors); err != nil {
		return nil, fmt.Errorf("unmarshal top_errors: %w", err)
	}
	snap.WeekStart = learning.Day(snap.WeekStart)
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return &snap, nil
}

// emptyBreakdown returns m if non-nil, otherwise an empty map, so that JSON
// marshalling produces "{}" instead of "null".
func emptyBreakdown(m map[learning.ErrorType]float64) map[learning.ErrorType]float64 {
	if m == nil {
		return map[learning.ErrorType]float64{}
	}
	return m
}

// emptyTopErrors returns s if non-nil, otherwise an empty slice.
func emptyTopErrors(s []learning.TopError) []learning.TopError {
	if s == nil {
		return []learning.TopError{}
	}
	return s
}
