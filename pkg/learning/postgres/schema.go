// Package postgres provides a PostgreSQL-backed implementation of
// [learning.Store].
//
// Every per-user table references users(id) with ON DELETE CASCADE, so
// [Store.EraseUser] removes all of a user's data with a single DELETE. Pattern,
// confusion-pair, dictionary and activity writes are single-statement
// INSERT ... ON CONFLICT upserts; counters are incremented inside the
// statement and never read-modify-written from Go.
//
// Usage:
//
//	store, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	p, _ := store.UpsertPattern(ctx, learning.PatternOccurrence{…})
package postgres

import (
	"context"
	"fmt"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT        PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const ddlPatterns = `
CREATE TABLE IF NOT EXISTS error_patterns (
    id              BIGSERIAL   PRIMARY KEY,
    user_id         TEXT        NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    misspelling     TEXT        NOT NULL,
    correction      TEXT        NOT NULL,
    misspelling_key TEXT        NOT NULL,
    correction_key  TEXT        NOT NULL,
    error_type      TEXT        NOT NULL,
    frequency       INTEGER     NOT NULL DEFAULT 1 CHECK (frequency >= 1),
    improving       BOOLEAN     NOT NULL DEFAULT FALSE,
    language_code   TEXT        NOT NULL DEFAULT 'en',
    first_seen      TIMESTAMPTZ NOT NULL,
    last_seen       TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, misspelling_key, correction_key)
);

CREATE INDEX IF NOT EXISTS idx_error_patterns_user_freq
    ON error_patterns (user_id, frequency DESC, last_seen DESC);

CREATE INDEX IF NOT EXISTS idx_error_patterns_last_seen
    ON error_patterns (last_seen);`

const ddlConfusionPairs = `
CREATE TABLE IF NOT EXISTS confusion_pairs (
    id               BIGSERIAL   PRIMARY KEY,
    user_id          TEXT        NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    word_a           TEXT        NOT NULL,
    word_b           TEXT        NOT NULL,
    confusion_count  INTEGER     NOT NULL DEFAULT 1 CHECK (confusion_count >= 1),
    last_confused_at TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, word_a, word_b),
    CHECK (word_a < word_b COLLATE "C")
);`

const ddlDictionary = `
CREATE TABLE IF NOT EXISTS dictionary_entries (
    id       BIGSERIAL   PRIMARY KEY,
    user_id  TEXT        NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    word     TEXT        NOT NULL,
    source   TEXT        NOT NULL DEFAULT 'manual',
    added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, word)
);`

const ddlEvents = `
CREATE TABLE IF NOT EXISTS error_events (
    id             TEXT             PRIMARY KEY,
    user_id        TEXT             NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    original_text  TEXT             NOT NULL,
    corrected_text TEXT             NOT NULL,
    error_type     TEXT             NOT NULL,
    context        TEXT,
    confidence     DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    source         TEXT             NOT NULL,
    created_at     TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_error_events_user_created
    ON error_events (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_error_events_created
    ON error_events (created_at);`

const ddlSnapshots = `
CREATE TABLE IF NOT EXISTS progress_snapshots (
    id                    BIGSERIAL        PRIMARY KEY,
    user_id               TEXT             NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    week_start            DATE             NOT NULL,
    total_words_written   INTEGER          NOT NULL DEFAULT 0,
    total_corrections     INTEGER          NOT NULL DEFAULT 0,
    accuracy_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    error_type_breakdown  JSONB            NOT NULL DEFAULT '{}',
    top_errors            JSONB            NOT NULL DEFAULT '[]',
    patterns_mastered     INTEGER          NOT NULL DEFAULT 0,
    new_patterns_detected INTEGER          NOT NULL DEFAULT 0,
    updated_at            TIMESTAMPTZ      NOT NULL DEFAULT now(),
    UNIQUE (user_id, week_start)
);`

const ddlActivity = `
CREATE TABLE IF NOT EXISTS writing_activity (
    user_id TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    day     DATE    NOT NULL,
    words   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, day)
);`

// Migrate creates all tables and indexes if they do not already exist. It is
// idempotent and safe to run on every start-up.
func Migrate(ctx context.Context, db DB) error {
	statements := []string{
		ddlUsers,
		ddlPatterns,
		ddlConfusionPairs,
		ddlDictionary,
		ddlEvents,
		ddlSnapshots,
		ddlActivity,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
