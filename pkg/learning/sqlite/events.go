package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const eventColumns = `id, user_id, original_text, corrected_text, error_type, context,
	confidence, source, created_at`

type eventRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	OriginalText  string         `db:"original_text"`
	CorrectedText string         `db:"corrected_text"`
	ErrorType     string         `db:"error_type"`
	Context       sql.NullString `db:"context"`
	Confidence    float64        `db:"confidence"`
	Source        string         `db:"source"`
	CreatedAt     string         `db:"created_at"`
}

func (r eventRow) toEvent() (learning.ErrorEvent, error) {
	at, err := parseTime(r.CreatedAt)
	if err != nil {
		return learning.ErrorEvent{}, err
	}
	return learning.ErrorEvent{
		ID:            r.ID,
		UserID:        r.UserID,
		OriginalText:  r.OriginalText,
		CorrectedText: r.CorrectedText,
		ErrorType:     learning.ErrorType(r.ErrorType),
		Context:       r.Context.String,
		Confidence:    r.Confidence,
		Source:        learning.Source(r.Source),
		CreatedAt:     at,
	}, nil
}

// AppendEvent implements [learning.EventLog].
func (s *Store) AppendEvent(ctx context.Context, e learning.ErrorEvent) error {
	return appendEvent(ctx, s.db, e)
}

func appendEvent(ctx context.Context, q sqlx.ExecerContext, e learning.ErrorEvent) error {
	if err := ensureUser(ctx, q, e.UserID); err != nil {
		return err
	}
	const query = `
		INSERT INTO error_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		e.ID, e.UserID, e.OriginalText, e.CorrectedText, string(e.ErrorType),
		sql.NullString{String: e.Context, Valid: e.Context != ""}, e.Confidence, string(e.Source),
		formatTime(e.CreatedAt),
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
		WHERE user_id = ?
		  AND created_at >= ?
		  AND (? IS NULL OR created_at < ?)
		ORDER BY created_at ASC, id ASC`

	end := nullableTime(until)
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, formatTime(since), end, end); err != nil {
		return nil, wrap("events.list", userID, err)
	}
	out := make([]learning.ErrorEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			return nil, wrap("events.list", userID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// CountEvents implements [learning.EventLog].
func (s *Store) CountEvents(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM error_events WHERE user_id = ?`, userID); err != nil {
		return 0, wrap("events.count", userID, err)
	}
	return n, nil
}

// EventDays implements [learning.EventLog].
func (s *Store) EventDays(ctx context.Context, userID string) ([]time.Time, error) {
	const query = `
		SELECT DISTINCT substr(created_at, 1, 10) AS day
		FROM error_events
		WHERE user_id = ?
		ORDER BY day DESC`

	var raw []string
	if err := s.db.SelectContext(ctx, &raw, query, userID); err != nil {
		return nil, wrap("events.days", userID, err)
	}
	out := make([]time.Time, 0, len(raw))
	for _, r := range raw {
		d, err := parseDay(r)
		if err != nil {
			return nil, wrap("events.days", userID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ActiveUsers implements [learning.EventLog].
func (s *Store) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	out := []string{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT DISTINCT user_id FROM error_events WHERE created_at >= ? ORDER BY user_id`,
		formatTime(since))
	if err != nil {
		return nil, wrap("events.active_users", "", err)
	}
	return out, nil
}
