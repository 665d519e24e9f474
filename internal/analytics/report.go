package analytics

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
)

// Report bundles every dashboard query for one user and window.
type Report struct {
	UserID        string              `json:"user_id"`
	Weeks         int                 `json:"weeks"`
	Frequency     []WeeklyCount       `json:"frequency"`
	Breakdown     []WeeklyBreakdown   `json:"breakdown"`
	TopErrors     []learning.TopError `json:"top_errors"`
	MasteredWords []MasteredWord      `json:"mastered_words"`
	Streak        Streak              `json:"streak"`
	Totals        TotalStats          `json:"totals"`
	Improvement   []TypeImprovement   `json:"improvement"`
}

// Report runs all queries concurrently. The first failing query cancels the
// others and its error is returned.
func (s *Service) Report(ctx context.Context, userID string, weeks int) (_ *Report, err error) {
	ctx, span := observe.StartSpan(ctx, "analytics.Report")
	defer func() { observe.EndSpan(span, err) }()

	w := s.window(weeks)
	r := &Report{UserID: userID, Weeks: w.weeks}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() (err error) {
		r.Frequency, err = s.GetErrorFrequencyByWeek(egCtx, userID, w.weeks)
		return err
	})
	eg.Go(func() (err error) {
		r.Breakdown, err = s.GetErrorBreakdownByType(egCtx, userID, w.weeks)
		return err
	})
	eg.Go(func() (err error) {
		r.TopErrors, err = s.GetTopErrors(egCtx, userID, s.topErrors, w.weeks)
		return err
	})
	eg.Go(func() (err error) {
		r.MasteredWords, err = s.GetMasteredWords(egCtx, userID, w.weeks)
		return err
	})
	eg.Go(func() (err error) {
		r.Streak, err = s.GetWritingStreak(egCtx, userID)
		return err
	})
	eg.Go(func() (err error) {
		r.Totals, err = s.GetTotalStats(egCtx, userID)
		return err
	})
	eg.Go(func() (err error) {
		r.Improvement, err = s.GetImprovementByErrorType(egCtx, userID, w.weeks)
		return err
	})

	if err := eg.Wait(); err != nil {
		observe.Logger(ctx).Error("report query failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("analytics: report: %w", err)
	}
	return r, nil
}
