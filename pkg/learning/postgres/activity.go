package postgres

import (
	"context"
	"time"

	"github.com/MrWong99/wordwise/pkg/learning"
)

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
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, day) DO UPDATE
		SET words = writing_activity.words + EXCLUDED.words`

	if _, err := s.db.Exec(ctx, query, userID, learning.Day(day), words); err != nil {
		return wrap("activity.add", userID, err)
	}
	return nil
}

// WordsWritten implements [learning.ActivityStore].
func (s *Store) WordsWritten(ctx context.Context, userID string, since, until time.Time) (int, error) {
	const query = `
		SELECT COALESCE(SUM(words), 0)
		FROM writing_activity
		WHERE user_id = $1
		  AND day >= $2::date
		  AND ($3::date IS NULL OR day < $3::date)`

	var total int64
	if err := s.db.QueryRow(ctx, query, userID, since.UTC(), nullableTime(until)).Scan(&total); err != nil {
		return 0, wrap("activity.sum", userID, err)
	}
	return int(total), nil
}
