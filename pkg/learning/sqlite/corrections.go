package sqlite

import (
	"context"

	"github.com/MrWong99/wordwise/pkg/learning"
)

// LogCorrection implements [learning.Store] inside one transaction.
func (s *Store) LogCorrection(ctx context.Context, c learning.Correction) (_ *learning.CorrectionResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrap("corrections.begin", c.Event.UserID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := appendEvent(ctx, tx, c.Event); err != nil {
		return nil, err
	}
	out := &learning.CorrectionResult{}
	if out.Pattern, err = upsertPattern(ctx, tx, c.Pattern); err != nil {
		return nil, err
	}
	if c.Pair != nil {
		if out.Pair, err = upsertConfusionPair(ctx, tx, c.Pattern.UserID, c.Pair[0], c.Pair[1], c.Pattern.SeenAt); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("corrections.commit", c.Event.UserID, err)
	}
	return out, nil
}
