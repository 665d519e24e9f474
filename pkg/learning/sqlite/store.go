package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const (
	timeLayout = "2006-01-02 15:04:05.000000000"
	dayLayout  = "2006-01-02"
)

// Compile-time interface check.
var _ learning.Store = (*Store)(nil)

// Store is a [learning.Store] backed by a single SQLite database. Writes are
// serialised through one connection.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at dsn, applies connection pragmas and
// runs [Migrate]. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One connection keeps in-memory databases alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

// withPragmas appends the connection pragmas to dsn.
func withPragmas(dsn string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if !strings.Contains(dsn, ":memory:") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements [learning.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrap("ping", "", err)
	}
	return nil
}

func ensureUser(ctx context.Context, q sqlx.ExecerContext, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return learning.Validationf("user id must not be empty")
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		userID, formatTime(time.Now()))
	if err != nil {
		return wrap("users.ensure", userID, err)
	}
	return nil
}

// EraseUser implements [learning.Store].
func (s *Store) EraseUser(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return false, wrap("users.erase", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("users.erase", userID, err)
	}
	return n > 0, nil
}

// PurgeBefore implements [learning.Store].
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (learning.PurgeResult, error) {
	var res learning.PurgeResult
	ts, day := formatTime(cutoff), formatDay(cutoff)
	steps := []struct {
		op    string
		query string
		arg   string
		dst   *int64
	}{
		{"events.purge", `DELETE FROM error_events WHERE created_at < ?`, ts, &res.Events},
		{"patterns.purge", `DELETE FROM error_patterns WHERE last_seen < ?`, ts, &res.Patterns},
		{"confusions.purge", `DELETE FROM confusion_pairs WHERE last_confused_at < ?`, ts, &res.ConfusionPairs},
		{"snapshots.purge", `DELETE FROM progress_snapshots WHERE week_start < ?`, day, &res.Snapshots},
		{"activity.purge", `DELETE FROM writing_activity WHERE day < ?`, day, &res.Activity},
	}
	for _, step := range steps {
		r, err := s.db.ExecContext(ctx, step.query, step.arg)
		if err != nil {
			return res, wrap(step.op, "", err)
		}
		if *step.dst, err = r.RowsAffected(); err != nil {
			return res, wrap(step.op, "", err)
		}
	}
	if n := res.Total(); n > 0 {
		slog.Info("sqlite store: purged rows", "cutoff", cutoff, "rows", n)
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Error classification
// ─────────────────────────────────────────────────────────────────────────────

func wrap(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	return learning.NewStoreError("sqlite: "+op, userID, kindOf(err), err)
}

// kindOf maps a driver error onto the learning error taxonomy.
func kindOf(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return learning.ErrNotFound
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch code := se.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return learning.ErrDuplicate
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(se.Error(), "UNIQUE constraint failed") {
				return learning.ErrDuplicate
			}
			return learning.ErrValidation
		}
	}
	return learning.ErrUnavailable
}

// ─────────────────────────────────────────────────────────────────────────────
// Time encoding
// ─────────────────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatDay(t time.Time) string { return t.UTC().Format(dayLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func parseDay(s string) (time.Time, error) { return time.Parse(dayLayout, s) }

// nullableTime returns nil for the zero time so that "? IS NULL" treats the
// bound as open.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableDay(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatDay(t)
}

// limitArg converts a non-positive limit into SQLite's "no limit".
func limitArg(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
