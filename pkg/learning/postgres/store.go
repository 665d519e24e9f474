package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wordwise/pkg/learning"
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ learning.Store = (*Store)(nil)

// Store is a [learning.Store] backed by PostgreSQL. All operations are safe
// for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New wraps an existing connection or pool. The caller is responsible for
// running [Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open creates a connection pool for dsn, pings the server and runs
// [Migrate].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", learning.NewStoreError("ping", "", learning.ErrUnavailable, err))
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{db: pool, pool: pool}, nil
}

// Close releases the connection pool if the store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping implements [learning.Store].
func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return wrap("ping", "", err)
		}
		return nil
	}
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return wrap("ping", "", err)
	}
	return nil
}

// ensureUser registers userID so that foreign keys on per-user tables hold.
func ensureUser(ctx context.Context, db DB, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return learning.Validationf("user id must not be empty")
	}
	const q = `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := db.Exec(ctx, q, userID); err != nil {
		return wrap("users.ensure", userID, err)
	}
	return nil
}

// EraseUser implements [learning.Store].
func (s *Store) EraseUser(ctx context.Context, userID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return false, wrap("users.erase", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeBefore implements [learning.Store].
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (learning.PurgeResult, error) {
	var res learning.PurgeResult
	steps := []struct {
		op    string
		query string
		dst   *int64
	}{
		{"events.purge", `DELETE FROM error_events WHERE created_at < $1`, &res.Events},
		{"patterns.purge", `DELETE FROM error_patterns WHERE last_seen < $1`, &res.Patterns},
		{"confusions.purge", `DELETE FROM confusion_pairs WHERE last_confused_at < $1`, &res.ConfusionPairs},
		{"snapshots.purge", `DELETE FROM progress_snapshots WHERE week_start < $1::date`, &res.Snapshots},
		{"activity.purge", `DELETE FROM writing_activity WHERE day < $1::date`, &res.Activity},
	}
	for _, step := range steps {
		tag, err := s.db.Exec(ctx, step.query, cutoff.UTC())
		if err != nil {
			return res, wrap(step.op, "", err)
		}
		*step.dst = tag.RowsAffected()
	}
	if n := res.Total(); n > 0 {
		slog.Info("postgres store: purged rows", "cutoff", cutoff, "rows", n)
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Error classification
// ─────────────────────────────────────────────────────────────────────────────

// wrap converts a driver error into a [learning.StoreError].
func wrap(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	return learning.NewStoreError("postgres: "+op, userID, kindOf(err), err)
}

// kindOf maps a pgx error onto the learning error taxonomy.
func kindOf(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return learning.ErrNotFound
	}
	if isDuplicateKeyError(err) {
		return learning.ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			// Data exceptions and integrity violations other than 23505.
			return learning.ErrValidation
		default:
			return learning.ErrUnavailable
		}
	}
	return learning.ErrUnavailable
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// nullableTime returns nil for the zero time so that SQL treats the bound as
// open.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// nullableString returns nil for the empty string.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullableLimit returns nil for non-positive limits; LIMIT NULL means no limit.
func nullableLimit(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
