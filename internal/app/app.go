// Package app wires the wordwise subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the store and builds the
// learning services, Run starts the scheduler and the ops HTTP server and
// blocks, and Shutdown tears everything down in order.
//
// For testing, inject a store via [WithStore] and a metrics sink via
// [WithMetrics]. When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/wordwise/internal/analytics"
	"github.com/MrWong99/wordwise/internal/config"
	"github.com/MrWong99/wordwise/internal/diffdetect"
	"github.com/MrWong99/wordwise/internal/health"
	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/internal/passive"
	"github.com/MrWong99/wordwise/internal/profile"
	"github.com/MrWong99/wordwise/internal/resilience"
	"github.com/MrWong99/wordwise/internal/scheduler"
	"github.com/MrWong99/wordwise/internal/textsnap"
	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/learning/memstore"
	"github.com/MrWong99/wordwise/pkg/learning/postgres"
	"github.com/MrWong99/wordwise/pkg/learning/sqlite"
	"github.com/MrWong99/wordwise/pkg/provider/llm"
)

// NamedLLM is a language-model backend together with the provider name its
// breaker is keyed by.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the language-model backends. A zero value means validation
// runs without a model. Populated by main.go via the config registry.
type Providers struct {
	LLM       NamedLLM
	Fallbacks []NamedLLM
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers Providers

	metrics  *observe.Metrics
	level    *slog.LevelVar
	now      func() time.Time
	store    learning.Store
	breakers *resilience.Registry
	llm      llm.Provider

	snaps     *textsnap.Store
	profiles  *profile.Aggregator
	analytics *analytics.Service
	learner   *passive.Learner
	sched     *scheduler.Scheduler

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a learning store instead of opening one from config. The
// caller keeps ownership and closes it.
func WithStore(s learning.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.OnConfigChange] adjust the level of the running
// logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithClock overrides the time source of every service.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if a.store == nil {
		store, closeStore, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app: init store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, closeStore)
	}

	// ── 2. Breakers + model failover ─────────────────────────────────────
	a.breakers = NewBreakers(cfg.Breakers, a.metrics)
	if p := providers.LLM; p.Provider != nil {
		fb := resilience.NewLLMFallback(p.Provider, p.Name, a.breakers)
		for _, f := range providers.Fallbacks {
			fb.AddFallback(f.Name, f.Provider)
		}
		a.llm = fb
	}

	// ── 3. Learning services ─────────────────────────────────────────────
	a.snaps = textsnap.New(
		textsnap.WithTTL(cfg.Snapshots.TTL),
		textsnap.WithMaxEntries(cfg.Snapshots.MaxEntries),
		textsnap.WithClock(a.now),
	)
	a.profiles = profile.New(a.store,
		profile.WithMetrics(a.metrics),
		profile.WithClock(a.now),
		profile.WithTopErrors(cfg.Profile.TopErrors),
		profile.WithRecentWindow(cfg.Profile.RecentWindow),
		profile.WithContextCaps(profile.ContextCaps{
			TopErrors:       cfg.Profile.LLMContext.TopErrors,
			ConfusionPairs:  cfg.Profile.LLMContext.ConfusionPairs,
			DictionaryWords: cfg.Profile.LLMContext.DictionaryWords,
		}),
	)
	a.analytics = analytics.New(a.store,
		analytics.WithMetrics(a.metrics),
		analytics.WithClock(a.now),
		analytics.WithMasteryThreshold(cfg.Analytics.MasteryThreshold),
	)

	// ── 4. Passive learner ───────────────────────────────────────────────
	if err := a.initLearner(); err != nil {
		return nil, fmt.Errorf("app: init learner: %w", err)
	}

	// ── 5. Scheduler ─────────────────────────────────────────────────────
	a.sched = scheduler.New(a.store, a.analytics, a.profiles, a.snaps, scheduler.Config{
		SnapshotCron:     cfg.Scheduler.SnapshotCron,
		RetentionCron:    cfg.Scheduler.RetentionCron,
		PurgeInterval:    cfg.Scheduler.PurgeInterval,
		ActiveWindow:     cfg.Analytics.ActiveWindow,
		ImprovementWeeks: cfg.Analytics.ImprovementWeeks,
		RetentionMaxAge:  cfg.Retention.MaxAge,
	}, scheduler.WithClock(a.now), scheduler.WithMetrics(a.metrics))

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// OpenStore connects the configured backend and runs its migrations. The
// returned func closes it.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (learning.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverMemory, "":
		slog.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewBreakers builds the breaker registry from config. Transitions and
// rejections are recorded in m.
func NewBreakers(cfg config.BreakersConfig, m *observe.Metrics) *resilience.Registry {
	defaults := resilience.BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		},
		OnReject: func(name string) {
			m.RecordBreakerRejection(context.Background(), name)
		},
	}
	opts := make([]resilience.RegistryOption, 0, len(cfg.Overrides))
	for name, o := range cfg.Overrides {
		opts = append(opts, resilience.WithOverride(name, resilience.BreakerConfig{
			FailureThreshold: o.FailureThreshold,
			Cooldown:         o.Cooldown,
		}))
	}
	return resilience.NewRegistry(defaults, opts...)
}

// initLearner builds the detector and, when enabled, the model validator.
func (a *App) initLearner() error {
	det := a.cfg.Detector
	detector := diffdetect.New(
		diffdetect.WithMaxEditRatio(det.MaxEditRatio),
		diffdetect.WithMaxTokenDelta(det.MaxTokenDelta),
		diffdetect.WithMaxHunkTokens(det.MaxHunkTokens),
		diffdetect.WithMinTokenLength(det.MinTokenLength),
		diffdetect.WithDictionary(a.profiles),
	)

	opts := []passive.Option{passive.WithMetrics(a.metrics), passive.WithClock(a.now)}
	if a.cfg.Validation.Enabled {
		if a.llm == nil {
			return errors.New("validation is enabled but no llm provider was created")
		}
		v, err := passive.NewValidator(a.llm, a.profiles,
			passive.WithTemperature(a.cfg.Validation.Temperature),
			passive.WithMinConfidence(a.cfg.Validation.MinConfidence),
			passive.WithTimeout(a.cfg.Validation.Timeout),
			passive.WithValidatorMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		opts = append(opts, passive.WithValidator(v))
		slog.Info("model validation enabled", "primary", a.providers.LLM.Name, "fallbacks", len(a.providers.Fallbacks))
	}
	a.learner = passive.New(a.snaps, detector, a.profiles, a.store, opts...)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the learning store.
func (a *App) Store() learning.Store { return a.store }

// Profiles returns the error-profile aggregator.
func (a *App) Profiles() *profile.Aggregator { return a.profiles }

// Analytics returns the progress analytics service.
func (a *App) Analytics() *analytics.Service { return a.analytics }

// Learner returns the passive learner that handles snapshot submissions.
func (a *App) Learner() *passive.Learner { return a.learner }

// Scheduler returns the job scheduler. Its jobs can be run once without
// starting it.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Breakers returns the breaker registry.
func (a *App) Breakers() *resilience.Registry { return a.breakers }

// EraseUser deletes every stored row of userID and drops their ephemeral text
// captures. It reports whether the user existed in the store and how many
// captures were dropped.
func (a *App) EraseUser(ctx context.Context, userID string) (bool, int, error) {
	if userID == "" {
		return false, 0, learning.Validationf("user id is required")
	}
	dropped := a.snaps.DropUser(userID)
	ok, err := a.store.EraseUser(ctx, userID)
	if err != nil {
		return false, dropped, fmt.Errorf("app: erase user: %w", err)
	}
	observe.Logger(ctx).Info("user erased", "user_id", userID, "found", ok, "text_snapshots", dropped)
	return ok, dropped, nil
}

// OnConfigChange applies a reloaded config. Only the log level takes effect
// at runtime; other changed sections are logged. It satisfies
// [config.ChangeFunc].
func (a *App) OnConfigChange(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed, restart to apply", "sections", d.RestartRequired)
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the ops HTTP handler: health probes, breaker endpoints and
// Prometheus metrics, all behind the observe middleware.
func (a *App) Handler() http.Handler {
	h := health.New([]health.Checker{
		health.StoreCheck(a.store),
		health.BreakerCheck(a.breakers, resilience.LLMBreakerPrefix),
	}, health.WithBreakers(a.breakers))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the scheduler (if enabled) and the ops server and blocks until
// ctx is cancelled or the server fails. On cancellation Run returns
// ctx.Err().
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Scheduler.Enabled {
		if err := a.sched.Start(ctx); err != nil {
			return fmt.Errorf("app: start scheduler: %w", err)
		}
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(ln) }()

	slog.Info("app running",
		"listen_addr", ln.Addr().String(),
		"store", a.cfg.Store.Driver,
		"scheduler", a.cfg.Scheduler.Enabled,
		"validation", a.cfg.Validation.Enabled,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: ops server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the ops server, then the scheduler, then runs the closers in
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("ops server shutdown error", "err", err)
			}
		}
		a.sched.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
