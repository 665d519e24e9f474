// Package scheduler runs the periodic maintenance jobs: weekly snapshot
// recompute, improvement feedback, retention cleanup and the purge of expired
// text captures.
//
// Every job is also exposed as a method so the CLI can run it once on demand
// and tests can drive it without a clock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordwise/internal/analytics"
	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/internal/profile"
	"github.com/MrWong99/wordwise/internal/textsnap"
	"github.com/MrWong99/wordwise/pkg/learning"
)

// Job names, used in logs and the job-run metric.
const (
	JobSnapshots   = "weekly_snapshots"
	JobImprovement = "improvement_feedback"
	JobRetention   = "retention"
	JobTextPurge   = "text_snapshot_purge"
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultSnapshotCron     = "15 2 * * *"
	DefaultRetentionCron    = "45 3 * * *"
	DefaultPurgeInterval    = 10 * time.Minute
	DefaultActiveWindow     = 14 * 24 * time.Hour
	DefaultImprovementWeeks = 4
	DefaultConcurrency      = 4
)

// Config controls job timing and scope.
type Config struct {
	// SnapshotCron schedules the snapshot and improvement jobs (UTC).
	SnapshotCron string

	// RetentionCron schedules the retention job (UTC).
	RetentionCron string

	// PurgeInterval is how often expired text captures are dropped.
	PurgeInterval time.Duration

	// ActiveWindow selects the users whose snapshots are recomputed: those
	// with at least one event inside the window.
	ActiveWindow time.Duration

	// ImprovementWeeks is the trend window fed into improvement feedback.
	ImprovementWeeks int

	// RetentionMaxAge deletes rows older than this. Zero disables retention.
	RetentionMaxAge time.Duration

	// Concurrency bounds how many users are processed at once.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.SnapshotCron == "" {
		c.SnapshotCron = DefaultSnapshotCron
	}
	if c.RetentionCron == "" {
		c.RetentionCron = DefaultRetentionCron
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = DefaultPurgeInterval
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = DefaultActiveWindow
	}
	if c.ImprovementWeeks <= 0 {
		c.ImprovementWeeks = DefaultImprovementWeeks
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithClock overrides the time source used to pick weeks and cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns the gocron scheduler and the services its jobs call.
type Scheduler struct {
	cfg       Config
	store     learning.Store
	analytics *analytics.Service
	profiles  *profile.Aggregator
	snaps     *textsnap.Store
	metrics   *observe.Metrics
	now       func() time.Time

	cron *gocron.Scheduler

	// base is the parent context of scheduled runs; cancel aborts them on Stop.
	base   context.Context
	cancel context.CancelFunc
}

// New returns a stopped [Scheduler]. snaps may be nil, in which case the
// text purge job is not scheduled.
func New(store learning.Store, an *analytics.Service, profiles *profile.Aggregator, snaps *textsnap.Store, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		store:     store,
		analytics: an,
		profiles:  profiles,
		snaps:     snaps,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start registers every job and starts the scheduler in the background.
// Jobs of the same kind never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()

	if _, err := cron.Cron(s.cfg.SnapshotCron).Tag(JobSnapshots).Do(s.nightly); err != nil {
		s.cancel()
		return fmt.Errorf("scheduler: schedule %s: %w", JobSnapshots, err)
	}
	if s.cfg.RetentionMaxAge > 0 {
		if _, err := cron.Cron(s.cfg.RetentionCron).Tag(JobRetention).Do(s.retention); err != nil {
			s.cancel()
			return fmt.Errorf("scheduler: schedule %s: %w", JobRetention, err)
		}
	}
	if s.snaps != nil {
		if _, err := cron.Every(s.cfg.PurgeInterval).Tag(JobTextPurge).Do(s.textPurge); err != nil {
			s.cancel()
			return fmt.Errorf("scheduler: schedule %s: %w", JobTextPurge, err)
		}
	}

	s.cron = cron
	cron.StartAsync()
	observe.Logger(ctx).Info("scheduler started",
		"snapshot_cron", s.cfg.SnapshotCron,
		"retention_enabled", s.cfg.RetentionMaxAge > 0,
		"jobs", len(cron.Jobs()),
	)
	return nil
}

// Stop cancels running jobs and stops the scheduler. It is safe to call on a
// scheduler that was never started.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		s.cron.Stop()
	}
}

// ─── Scheduled entry points ──────────────────────────────────────────────────

// nightly recomputes snapshots first so improvement feedback reads the same
// state the dashboard will show.
func (s *Scheduler) nightly() {
	_ = s.run(s.base, JobSnapshots, func(ctx context.Context) error {
		_, err := s.RecomputeSnapshots(ctx)
		return err
	})
	_ = s.run(s.base, JobImprovement, func(ctx context.Context) error {
		_, err := s.RefreshImprovement(ctx)
		return err
	})
}

func (s *Scheduler) retention() {
	_ = s.run(s.base, JobRetention, func(ctx context.Context) error {
		_, err := s.PurgeExpired(ctx)
		return err
	})
}

func (s *Scheduler) textPurge() {
	_ = s.run(s.base, JobTextPurge, func(ctx context.Context) error {
		s.PurgeTextSnapshots(ctx)
		return nil
	})
}

// run wraps one job execution in a span, a log line and the job-run metric.
func (s *Scheduler) run(ctx context.Context, job string, fn func(context.Context) error) (err error) {
	ctx, span := observe.StartSpan(ctx, "scheduler."+job)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	err = fn(ctx)
	elapsed := time.Since(start)

	status := "ok"
	log := observe.Logger(ctx)
	if err != nil {
		status = "error"
		log.Error("scheduler job failed", "job", job, "duration", elapsed, "error", err)
	} else {
		log.Info("scheduler job finished", "job", job, "duration", elapsed)
	}
	s.metrics.RecordJobRun(ctx, job, status, elapsed.Seconds())
	return err
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

// RecomputeSnapshots upserts the current and the previous week's snapshot of
// every user active within the configured window. It returns the number of
// users processed without error. A failing user does not stop the others;
// all failures are returned joined.
func (s *Scheduler) RecomputeSnapshots(ctx context.Context) (int, error) {
	now := s.now().UTC()
	users, err := s.store.ActiveUsers(ctx, now.Add(-s.cfg.ActiveWindow))
	if err != nil {
		return 0, fmt.Errorf("scheduler: active users: %w", err)
	}
	current := learning.WeekStart(now)
	previous := current.AddDate(0, 0, -7)

	return s.forEachUser(ctx, users, func(ctx context.Context, userID string) error {
		for _, week := range []time.Time{previous, current} {
			if _, err := s.analytics.UpsertWeeklySnapshot(ctx, userID, week); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecomputeUser upserts the snapshots of the last weeks weeks of one user,
// oldest first.
func (s *Scheduler) RecomputeUser(ctx context.Context, userID string, weeks int) ([]learning.ProgressSnapshot, error) {
	if weeks <= 0 {
		weeks = 1
	}
	current := learning.WeekStart(s.now())
	out := make([]learning.ProgressSnapshot, 0, weeks)
	for i := weeks - 1; i >= 0; i-- {
		snap, err := s.analytics.UpsertWeeklySnapshot(ctx, userID, current.AddDate(0, 0, -7*i))
		if err != nil {
			return out, fmt.Errorf("scheduler: recompute %s: %w", userID, err)
		}
		out = append(out, *snap)
	}
	return out, nil
}

// RefreshImprovement recomputes the improving flag on the patterns of every
// active user from their error-type trends. It returns the number of users
// processed without error.
func (s *Scheduler) RefreshImprovement(ctx context.Context) (int, error) {
	users, err := s.store.ActiveUsers(ctx, s.now().UTC().Add(-s.cfg.ActiveWindow))
	if err != nil {
		return 0, fmt.Errorf("scheduler: active users: %w", err)
	}
	return s.forEachUser(ctx, users, func(ctx context.Context, userID string) error {
		imps, err := s.analytics.GetImprovementByErrorType(ctx, userID, s.cfg.ImprovementWeeks)
		if err != nil {
			return err
		}
		_, err = s.profiles.RefreshImprovement(ctx, userID, analytics.ImprovingTypes(imps))
		return err
	})
}

// PurgeExpired deletes rows older than the retention age. It is a no-op when
// retention is disabled.
func (s *Scheduler) PurgeExpired(ctx context.Context) (learning.PurgeResult, error) {
	if s.cfg.RetentionMaxAge <= 0 {
		return learning.PurgeResult{}, nil
	}
	cutoff := s.now().UTC().Add(-s.cfg.RetentionMaxAge)
	res, err := s.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("scheduler: purge before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	observe.Logger(ctx).Info("retention purge complete", "cutoff", cutoff, "rows", res.Total())
	return res, nil
}

// PurgeTextSnapshots drops expired text captures and returns how many were
// removed.
func (s *Scheduler) PurgeTextSnapshots(ctx context.Context) int {
	if s.snaps == nil {
		return 0
	}
	n := s.snaps.Purge()
	if n > 0 {
		observe.Logger(ctx).Debug("expired text snapshots purged", "count", n)
	}
	return n
}

// forEachUser runs fn for every user with bounded concurrency. Failures are
// logged per user and returned joined; they never cancel the other users.
func (s *Scheduler) forEachUser(ctx context.Context, users []string, fn func(context.Context, string) error) (int, error) {
	var (
		mu   sync.Mutex
		ok   int
		errs []error
	)
	log := observe.Logger(ctx)

	var eg errgroup.Group
	eg.SetLimit(s.cfg.Concurrency)
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			err := fn(ctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("scheduler: user failed", "user_id", userID, "error", err)
				errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
				return nil
			}
			ok++
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return ok, errors.Join(errs...)
}
