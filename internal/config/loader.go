package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment references
// in provider credentials, applies defaults and validates the result. An
// empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: an in-memory
// store, no model validation and the scheduler enabled.
func Default() *Config {
	cfg := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":9090")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, 10*time.Second)

	setDefault(&cfg.Store.Driver, DriverMemory)

	setDefault(&cfg.Breakers.FailureThreshold, 3)
	setDefault(&cfg.Breakers.Cooldown, 60*time.Second)

	setDefault(&cfg.Detector.MaxEditRatio, 0.4)
	setDefault(&cfg.Detector.MaxTokenDelta, 2)
	setDefault(&cfg.Detector.MaxHunkTokens, 3)
	setDefault(&cfg.Detector.MinTokenLength, 2)

	setDefault(&cfg.Snapshots.TTL, 24*time.Hour)
	setDefault(&cfg.Snapshots.MaxEntries, 50)

	setDefault(&cfg.Profile.TopErrors, 10)
	setDefault(&cfg.Profile.RecentWindow, 7*24*time.Hour)
	setDefault(&cfg.Profile.LLMContext.TopErrors, 10)
	setDefault(&cfg.Profile.LLMContext.ConfusionPairs, 5)
	setDefault(&cfg.Profile.LLMContext.DictionaryWords, 50)

	setDefault(&cfg.Analytics.MasteryThreshold, 3)
	setDefault(&cfg.Analytics.ImprovementWeeks, 4)
	setDefault(&cfg.Analytics.ActiveWindow, 14*24*time.Hour)

	setDefault(&cfg.Scheduler.SnapshotCron, "15 2 * * *")
	setDefault(&cfg.Scheduler.RetentionCron, "45 3 * * *")
	setDefault(&cfg.Scheduler.PurgeInterval, 10*time.Minute)

	setDefault(&cfg.Validation.MinConfidence, 0.6)
	setDefault(&cfg.Validation.Timeout, 10*time.Second)
	setDefault(&cfg.Validation.Temperature, 0.1)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// expandEnv resolves "${VAR}" references in provider credentials and
// endpoints, and in the store DSN.
func expandEnv(cfg *Config) {
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.LLM)
	for i := range cfg.Providers.LLMFallbacks {
		expand(&cfg.Providers.LLMFallbacks[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Store
	switch {
	case !cfg.Store.Driver.IsValid():
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: postgres, sqlite, memory", cfg.Store.Driver))
	case cfg.Store.Driver != DriverMemory && strings.TrimSpace(cfg.Store.DSN) == "":
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	// Breakers
	errs = append(errs, validateBreaker("breakers", cfg.Breakers.BreakerSettings)...)
	for name, o := range cfg.Breakers.Overrides {
		errs = append(errs, validateBreaker(fmt.Sprintf("breakers.overrides[%q]", name), o)...)
	}

	// Detector
	if r := cfg.Detector.MaxEditRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("detector.max_edit_ratio %.2f is out of range (0, 1]", r))
	}
	if cfg.Detector.MaxTokenDelta < 0 {
		errs = append(errs, fmt.Errorf("detector.max_token_delta must not be negative"))
	}
	if cfg.Detector.MaxHunkTokens < 1 {
		errs = append(errs, fmt.Errorf("detector.max_hunk_tokens must be at least 1"))
	}
	if cfg.Detector.MinTokenLength < 1 {
		errs = append(errs, fmt.Errorf("detector.min_token_length must be at least 1"))
	}

	// Snapshots, profile, analytics
	if cfg.Snapshots.TTL < 0 || cfg.Snapshots.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("snapshots.ttl and snapshots.max_entries must not be negative"))
	}
	if cfg.Profile.TopErrors < 0 || cfg.Profile.RecentWindow < 0 {
		errs = append(errs, fmt.Errorf("profile.top_errors and profile.recent_window must not be negative"))
	}
	if cfg.Analytics.ImprovementWeeks == 1 || cfg.Analytics.ImprovementWeeks < 0 {
		errs = append(errs, fmt.Errorf("analytics.improvement_weeks %d must be at least 2", cfg.Analytics.ImprovementWeeks))
	}
	if cfg.Analytics.MasteryThreshold < 0 || cfg.Analytics.ActiveWindow < 0 {
		errs = append(errs, fmt.Errorf("analytics.mastery_threshold and analytics.active_window must not be negative"))
	}
	if cfg.Retention.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("retention.max_age must not be negative"))
	}

	// Scheduler
	if cfg.Scheduler.Enabled {
		errs = append(errs, validateCron("scheduler.snapshot_cron", cfg.Scheduler.SnapshotCron)...)
		if cfg.Retention.MaxAge > 0 {
			errs = append(errs, validateCron("scheduler.retention_cron", cfg.Scheduler.RetentionCron)...)
		}
	}

	// Validation ↔ providers
	if c := cfg.Validation.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("validation.min_confidence %.2f is out of range [0, 1]", c))
	}
	if t := cfg.Validation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("validation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Validation.Enabled && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("validation.enabled requires providers.llm to be configured"))
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.llm_fallbacks requires providers.llm to be configured"))
	}

	// Unknown provider names only warn.
	validateProviderName(cfg.Providers.LLM.Name)
	seen := map[string]int{}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if fb.Name == cfg.Providers.LLM.Name {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates providers.llm", prefix, fb.Name))
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.llm_fallbacks[%d]", prefix, fb.Name, prev))
		}
		seen[fb.Name] = i
		validateProviderName(fb.Name)
	}

	return errors.Join(errs...)
}

func validateBreaker(prefix string, b BreakerSettings) []error {
	var errs []error
	if b.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("%s.failure_threshold must not be negative", prefix))
	}
	if b.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("%s.cooldown must not be negative", prefix))
	}
	return errs
}

func validateCron(field, expr string) []error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return []error{fmt.Errorf("%s %q is invalid: %w", field, expr, err)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", "llm",
		"name", name,
		"known", ValidProviderNames,
	)
}
