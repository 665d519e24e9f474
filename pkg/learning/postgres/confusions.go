package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const pairColumns = `id, user_id, word_a, word_b, confusion_count, last_confused_at`

// UpsertConfusionPair implements [learning.ConfusionStore].
func (s *Store) UpsertConfusionPair(ctx context.Context, userID, a, b string, at time.Time) (*learning.ConfusionPair, error) {
	return upsertConfusionPair(ctx, s.db, userID, a, b, at)
}

func upsertConfusionPair(ctx context.Context, db DB, userID, a, b string, at time.Time) (*learning.ConfusionPair, error) {
	wa, wb := learning.CanonicalPair(a, b)
	if wa == "" || wb == "" || wa == wb {
		return nil, learning.Validationf("confusion pair needs two distinct words, got %q and %q", a, b)
	}
	if err := ensureUser(ctx, db, userID); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO confusion_pairs (user_id, word_a, word_b, last_confused_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, word_a, word_b) DO UPDATE
		SET confusion_count  = confusion_pairs.confusion_count + 1,
		    last_confused_at = GREATEST(confusion_pairs.last_confused_at, EXCLUDED.last_confused_at)
		RETURNING ` + pairColumns

	p, err := scanPair(db.QueryRow(ctx, query, userID, wa, wb, at.UTC()))
	if err != nil {
		return nil, wrap("confusions.upsert", userID, err)
	}
	return p, nil
}

// GetConfusionPair implements [learning.ConfusionStore].
func (s *Store) GetConfusionPair(ctx context.Context, userID, a, b string) (*learning.ConfusionPair, error) {
	wa, wb := learning.CanonicalPair(a, b)
	const query = `SELECT ` + pairColumns + `
		FROM confusion_pairs
		WHERE user_id = $1 AND word_a = $2 AND word_b = $3`

	p, err := scanPair(s.db.QueryRow(ctx, query, userID, wa, wb))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("confusions.get", userID, err)
	}
	return p, nil
}

// ListConfusionPairs implements [learning.ConfusionStore].
func (s *Store) ListConfusionPairs(ctx context.Context, userID string, limit int) ([]learning.ConfusionPair, error) {
	const query = `SELECT ` + pairColumns + `
		FROM confusion_pairs
		WHERE user_id = $1
		ORDER BY confusion_count DESC, last_confused_at DESC, id ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, nullableLimit(limit))
	if err != nil {
		return nil, wrap("confusions.list", userID, err)
	}
	defer rows.Close()

	out := []learning.ConfusionPair{}
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, wrap("confusions.list", userID, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("confusions.list", userID, err)
	}
	return out, nil
}

func scanPair(row pgx.Row) (*learning.ConfusionPair, error) {
	var p learning.ConfusionPair
	if err := row.Scan(&p.ID, &p.UserID, &p.WordA, &p.WordB, &p.ConfusionCount, &p.LastConfusedAt); err != nil {
		return nil, err
	}
	p.LastConfusedAt = p.LastConfusedAt.UTC()
	return &p, nil
}
