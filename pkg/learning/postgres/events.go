package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const eventColumns = `id, user_id, original_text, corrected_text, error_type, context,
	confidence, source, created_at`

// AppendEvent implements [learning.EventLog].
func (s *Store) AppendEvent(ctx context.Context, e learning.ErrorEvent) error {
	return appendEvent(ctx, s.db, e)
}

func appendEvent(ctx context.Context, db DB, e learning.ErrorEvent) error {
	if err := ensureUser(ctx, db, e.UserID); err != nil {
		return err
	}
	const query = `
		INSERT INTO error_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.Exec(ctx, query,
		e.ID, e.UserID, e.OriginalText, e.CorrectedText, string(e.ErrorType),
		nullableString(e.Context), e.Confidence, string(e.Source), e.CreatedAt.UTC(),
	)
	if err != nil {
		return wrap("events.append", e.UserID, err)
	}
	return nil
}

// ListEvents implements [learning.EventLog].
func (s *Store) ListEvents(ctx context.Context, userID string, since, until time.Time) ([]learning.ErrorEvent, error) {
	const query = `SELECT ` + eventColumns + `
		FROM error_events
		WHERE user_id = $1
		  AND created_at >= $2
		  AND ($3::timestamptz IS NULL OR created_at < $3::timestamptz)
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query, userID, since.UTC(), nullableTime(until))
	if err != nil {
		return nil, wrap("events.list", userID, err)
	}
	defer rows.Close()

	out := []learning.ErrorEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrap("events.list", userID, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("events.list", userID, err)
	}
	return out, nil
}

// CountEvents implements [learning.EventLog].
func (s *Store) CountEvents(ctx context.Context, userID string) (int, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM error_events WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, wrap("events.count", userID, err)
	}
	return int(n), nil
}

// EventDays implements [learning.EventLog].
func (s *Store) EventDays(ctx context.Context, userID string) ([]time.Time, error) {
	const query = `
		SELECT DISTINCT (created_at AT TIME ZONE 'UTC')::date AS day
		FROM error_events
		WHERE user_id = $1
		ORDER BY day DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, wrap("events.days", userID, err)
	}
	defer rows.Close()

	out := []time.Time{}
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, wrap("events.days", userID, err)
		}
		out = append(out, learning.Day(d))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("events.days", userID, err)
	}
	return out, nil
}

// ActiveUsers implements [learning.EventLog].
func (s *Store) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT user_id FROM error_events WHERE created_at >= $1 ORDER BY user_id`,
		since.UTC())
	if err != nil {
		return nil, wrap("events.active_users", "", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("events.active_users", "", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("events.active_users", "", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*learning.ErrorEvent, error) {
	var (
		e                 learning.ErrorEvent
		errorType, source string
		ctxText           *string
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.OriginalText, &e.CorrectedText, &errorType, &ctxText,
		&e.Confidence, &source, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.ErrorType = learning.ErrorType(errorType)
	e.Source = learning.Source(source)
	if ctxText != nil {
		e.Context = *ctxText
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
