package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const patternColumns = `id, user_id, misspelling, correction, error_type, frequency,
	improving, language_code, first_seen, last_seen`

// UpsertPattern implements [learning.PatternStore].
func (s *Store) UpsertPattern(ctx context.Context, occ learning.PatternOccurrence) (*learning.ErrorPattern, error) {
	return upsertPattern(ctx, s.db, occ)
}

func upsertPattern(ctx context.Context, db DB, occ learning.PatternOccurrence) (*learning.ErrorPattern, error) {
	if err := ensureUser(ctx, db, occ.UserID); err != nil {
		return nil, err
	}
	mkey, ckey := learning.PatternKey(occ.Misspelling, occ.Correction)
	lang := occ.LanguageCode
	if lang == "" {
		lang = "en"
	}

	const query = `
		INSERT INTO error_patterns (
			user_id, misspelling, correction, misspelling_key, correction_key,
			error_type, language_code, first_seen, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id, misspelling_key, correction_key) DO UPDATE
		SET frequency = error_patterns.frequency + 1,
		    last_seen = GREATEST(error_patterns.last_seen, EXCLUDED.last_seen)
		RETURNING ` + patternColumns

	p, err := scanPattern(db.QueryRow(ctx, query,
		occ.UserID, strings.TrimSpace(occ.Misspelling), strings.TrimSpace(occ.Correction), mkey, ckey,
		string(occ.ErrorType), lang, occ.SeenAt.UTC(),
	))
	if err != nil {
		return nil, wrap("patterns.upsert", occ.UserID, err)
	}
	return p, nil
}

// GetPattern implements [learning.PatternStore].
func (s *Store) GetPattern(ctx context.Context, userID, misspelling, correction string) (*learning.ErrorPattern, error) {
	mkey, ckey := learning.PatternKey(misspelling, correction)
	const query = `SELECT ` + patternColumns + `
		FROM error_patterns
		WHERE user_id = $1 AND misspelling_key = $2 AND correction_key = $3`

	p, err := scanPattern(s.db.QueryRow(ctx, query, userID, mkey, ckey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("patterns.get", userID, err)
	}
	return p, nil
}

// ListPatterns implements [learning.PatternStore].
func (s *Store) ListPatterns(ctx context.Context, userID string) ([]learning.ErrorPattern, error) {
	return s.TopPatterns(ctx, userID, 0)
}

// TopPatterns implements [learning.PatternStore].
func (s *Store) TopPatterns(ctx context.Context, userID string, limit int) ([]learning.ErrorPattern, error) {
	const query = `SELECT ` + patternColumns + `
		FROM error_patterns
		WHERE user_id = $1
		ORDER BY frequency DESC, last_seen DESC, id ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, nullableLimit(limit))
	if err != nil {
		return nil, wrap("patterns.list", userID, err)
	}
	defer rows.Close()

	out := []learning.ErrorPattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, wrap("patterns.list", userID, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("patterns.list", userID, err)
	}
	return out, nil
}

// UpdatePattern implements [learning.PatternStore].
func (s *Store) UpdatePattern(ctx context.Context, userID string, id int64, patch learning.PatternPatch) (*learning.ErrorPattern, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var errorType *string
	if patch.ErrorType != nil {
		v := string(*patch.ErrorType)
		errorType = &v
	}
	var lang *string
	if patch.LanguageCode != nil {
		v := strings.TrimSpace(*patch.LanguageCode)
		lang = &v
	}

	const query = `
		UPDATE error_patterns SET
			error_type    = COALESCE($3::text, error_type),
			improving     = COALESCE($4::boolean, improving),
			language_code = COALESCE($5::text, language_code)
		WHERE user_id = $1 AND id = $2
		RETURNING ` + patternColumns

	p, err := scanPattern(s.db.QueryRow(ctx, query, userID, id, errorType, patch.Improving, lang))
	if err != nil {
		return nil, wrap("patterns.update", userID, err)
	}
	return p, nil
}

// SetImprovingTypes implements [learning.PatternStore].
func (s *Store) SetImprovingTypes(ctx context.Context, userID string, types []learning.ErrorType) (int64, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	const query = `
		UPDATE error_patterns
		SET improving = (error_type = ANY($2::text[]))
		WHERE user_id = $1 AND improving IS DISTINCT FROM (error_type = ANY($2::text[]))`

	tag, err := s.db.Exec(ctx, query, userID, names)
	if err != nil {
		return 0, wrap("patterns.set_improving", userID, err)
	}
	return tag.RowsAffected(), nil
}

// scanPattern reads one row in patternColumns order.
func scanPattern(row pgx.Row) (*learning.ErrorPattern, error) {
	var (
		p         learning.ErrorPattern
		errorType string
	)
	if err := row.Scan(
		&p.ID, &p.UserID, &p.Misspelling, &p.Correction, &errorType, &p.Frequency,
		&p.Improving, &p.LanguageCode, &p.FirstSeen, &p.LastSeen,
	); err != nil {
		return nil, err
	}
	p.ErrorType = learning.ErrorType(errorType)
	p.FirstSeen = p.FirstSeen.UTC()
	p.LastSeen = p.LastSeen.UTC()
	return &p, nil
}
