// Package profile implements the per-user error-profile aggregator: it turns
// explicit and passively detected corrections into frequency-counted
// misspelling patterns and confusion pairs, maintains the personal dictionary,
// and summarises the result for dashboards and LLM prompts.
//
// An [Aggregator] holds no per-user state. Every operation reads and writes
// through a [learning.Store], so one instance serves all users concurrently.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
)

const (
	// DefaultTopErrors is the number of patterns returned by summaries when
	// no explicit limit is given.
	DefaultTopErrors = 10

	// DefaultRecentWindow is how long a pattern must stay unseen before an
	// improving pattern counts as mastered.
	DefaultRecentWindow = 7 * 24 * time.Hour

	// NeutralScore is the overall score of a user without any patterns.
	NeutralScore = 50

	maxSpanRunes    = 256
	maxContextRunes = 500
	maxWordRunes    = 100
)

// Aggregator is the error-profile service. It is safe for concurrent use.
type Aggregator struct {
	store        learning.Store
	metrics      *observe.Metrics
	now          func() time.Time
	newID        func() string
	topErrors    int
	recentWindow time.Duration
	caps         ContextCaps
}

// Option is a functional option for [New].
type Option func(*Aggregator)

// WithTopErrors sets the default number of top errors in summaries.
func WithTopErrors(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.topErrors = n
		}
	}
}

// WithRecentWindow sets the window within which a recurring pattern is not
// considered mastered.
func WithRecentWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.recentWindow = d
		}
	}
}

// WithContextCaps bounds the lists included by [Aggregator.BuildLLMContext].
// Zero fields keep their defaults.
func WithContextCaps(c ContextCaps) Option {
	return func(a *Aggregator) { a.caps = c.withDefaults() }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides the time source used for event and pattern timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIDGenerator overrides how event ids are minted. Defaults to random
// UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

// New creates an [Aggregator] on top of store.
func New(store learning.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:        store,
		now:          time.Now,
		newID:        uuid.NewString,
		topErrors:    DefaultTopErrors,
		recentWindow: DefaultRecentWindow,
		caps:         ContextCaps{}.withDefaults(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// ─── Logging errors ──────────────────────────────────────────────────────────

// Entry is one observed correction.
type Entry struct {
	UserID     string             `json:"user_id"`
	Original   string             `json:"original"`
	Corrected  string             `json:"corrected"`
	ErrorType  learning.ErrorType `json:"error_type"`
	Context    string             `json:"context,omitempty"`
	Confidence float64            `json:"confidence"`
	Source     learning.Source    `json:"source"`
	// LanguageCode is stored on a pattern when it is first created.
	// Defaults to "en".
	LanguageCode string `json:"language_code,omitempty"`
}

// Logged is the outcome of a successful [Aggregator.LogError].
type Logged struct {
	Event   learning.ErrorEvent     `json:"event"`
	Pattern *learning.ErrorPattern  `json:"pattern"`
	Pair    *learning.ConfusionPair `json:"confusion_pair,omitempty"`
}

// normalize trims e and applies defaults, or returns a validation error.
func (e Entry) normalize() (Entry, error) {
	e.UserID = strings.TrimSpace(e.UserID)
	e.Original = strings.TrimSpace(e.Original)
	e.Corrected = strings.TrimSpace(e.Corrected)
	e.LanguageCode = strings.TrimSpace(e.LanguageCode)

	var errs []error
	if e.UserID == "" {
		errs = append(errs, learning.Validationf("user id is required"))
	}
	if e.Original == "" {
		errs = append(errs, learning.Validationf("original text is required"))
	}
	if e.Corrected == "" {
		errs = append(errs, learning.Validationf("corrected text is required"))
	}
	if e.Original != "" && e.Original == e.Corrected {
		errs = append(errs, learning.Validationf("original and corrected text are identical"))
	}
	if utf8.RuneCountInString(e.Original) > maxSpanRunes || utf8.RuneCountInString(e.Corrected) > maxSpanRunes {
		errs = append(errs, learning.Validationf("span longer than %d characters", maxSpanRunes))
	}
	if e.ErrorType == "" {
		e.ErrorType = learning.ErrorTypeOther
	} else if t, err := learning.ParseErrorType(string(e.ErrorType)); err != nil {
		errs = append(errs, err)
	} else {
		e.ErrorType = t
	}
	if !e.Source.IsValid() {
		errs = append(errs, learning.Validationf("unknown source %q", e.Source))
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		errs = append(errs, learning.Validationf("confidence %v outside [0, 1]", e.Confidence))
	}
	if e.LanguageCode == "" {
		e.LanguageCode = "en"
	}
	if len(errs) > 0 {
		return Entry{}, errors.Join(errs...)
	}
	e.Context = truncateRunes(strings.TrimSpace(e.Context), maxContextRunes)
	return e, nil
}

// LogError appends the correction to the event log, upserts its pattern and,
// for homophones and known confusables, the user's confusion pair. The three
// writes commit together: on error none of them is stored, so a caller may
// retry without double counting.
//
// Malformed input is rejected with [learning.ErrValidation] before anything is
// written. A lost first-insert race ([learning.ErrDuplicate]) is retried once.
func (a *Aggregator) LogError(ctx context.Context, e Entry) (_ *Logged, err error) {
	ctx, span := observe.StartSpan(ctx, "profile.LogError")
	defer func() { observe.EndSpan(span, err) }()

	e, err = e.normalize()
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()

	ev := learning.ErrorEvent{
		ID:            a.newID(),
		UserID:        e.UserID,
		OriginalText:  e.Original,
		CorrectedText: e.Corrected,
		ErrorType:     e.ErrorType,
		Context:       e.Context,
		Confidence:    e.Confidence,
		Source:        e.Source,
		CreatedAt:     now,
	}
	c := learning.Correction{
		Event: ev,
		Pattern: learning.PatternOccurrence{
			UserID:       e.UserID,
			Misspelling:  e.Original,
			Correction:   e.Corrected,
			ErrorType:    e.ErrorType,
			LanguageCode: e.LanguageCode,
			SeenAt:       now,
		},
	}
	if a.isConfusion(ctx, e) {
		c.Pair = &[2]string{e.Original, e.Corrected}
	}

	// The unit rolls back as a whole, so a lost pattern race is safe to retry.
	res, err := retryOnDuplicate(func() (*learning.CorrectionResult, error) {
		return a.store.LogCorrection(ctx, c)
	})
	if err != nil {
		return nil, a.fail(ctx, "log_correction", e.UserID, err)
	}
	out := &Logged{Event: ev, Pattern: res.Pattern, Pair: res.Pair}

	a.metrics.RecordErrorLogged(ctx, string(e.ErrorType), string(e.Source))
	return out, nil
}

// isConfusion reports whether a correction substitutes one real word for
// another rather than fixing a misspelling. Beyond homophones and the known
// confusables, a phonetic error counts when the original is a word from the
// user's own dictionary that sounds like the correction.
func (a *Aggregator) isConfusion(ctx context.Context, e Entry) bool {
	if e.ErrorType == learning.ErrorTypeHomophone || learning.IsConfusable(e.Original, e.Corrected) {
		return true
	}
	if e.ErrorType != learning.ErrorTypePhonetic {
		return false
	}
	orig, corr := learning.NormalizeWord(e.Original), learning.NormalizeWord(e.Corrected)
	if strings.ContainsAny(orig, " \t") || strings.ContainsAny(corr, " \t") {
		return false
	}
	po, _ := matchr.DoubleMetaphone(orig)
	pc, _ := matchr.DoubleMetaphone(corr)
	if po == "" || po != pc {
		return false
	}
	known, err := a.store.HasWord(ctx, e.UserID, orig)
	if err != nil {
		observe.Logger(ctx).Warn("dictionary lookup failed, not recording confusion",
			"user_id", e.UserID, "error", err)
		return false
	}
	return known
}

// ─── Batch logging ───────────────────────────────────────────────────────────

// Result is the outcome of one batch entry.
type Result struct {
	Index  int    `json:"index"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// BatchResult summarises [Aggregator.LogBatch].
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// LogBatch logs every entry independently. A failing entry is recorded in its
// [Result] and does not stop the others. Once ctx is done the remaining
// entries fail with the context error.
func (a *Aggregator) LogBatch(ctx context.Context, entries []Entry) BatchResult {
	res := BatchResult{Results: make([]Result, 0, len(entries))}
	for i, e := range entries {
		var err error
		if err = ctx.Err(); err == nil {
			_, err = a.LogError(ctx, e)
		}
		if err != nil {
			res.Failed++
			res.Results = append(res.Results, Result{Index: i, Reason: err.Error(), Err: err})
			a.metrics.RecordBatchItemFailure(ctx)
			continue
		}
		res.Succeeded++
		res.Results = append(res.Results, Result{Index: i, OK: true})
	}
	if res.Failed > 0 {
		observe.Logger(ctx).Warn("batch logged with failures",
			"succeeded", res.Succeeded, "failed", res.Failed)
	}
	return res
}

// ─── Personal dictionary ─────────────────────────────────────────────────────

// AddToDictionary whitelists word for the user. Adding an existing word is a
// no-op that returns the stored entry. An empty source means manual.
func (a *Aggregator) AddToDictionary(ctx context.Context, userID, word string, source learning.DictionarySource) (*learning.DictionaryEntry, error) {
	word = learning.NormalizeWord(word)
	if err := validateWord(userID, word); err != nil {
		return nil, err
	}
	if source == "" {
		source = learning.DictionaryManual
	}
	if !source.IsValid() {
		return nil, learning.Validationf("unknown dictionary source %q", source)
	}
	entry, err := retryOnDuplicate(func() (*learning.DictionaryEntry, error) {
		return a.store.AddWord(ctx, userID, word, source, a.now().UTC())
	})
	if err != nil {
		return nil, a.fail(ctx, "add_word", userID, err)
	}
	return entry, nil
}

// CheckDictionary reports whether word is in the user's dictionary. Matching
// is case-insensitive.
func (a *Aggregator) CheckDictionary(ctx context.Context, userID, word string) (bool, error) {
	word = learning.NormalizeWord(word)
	if word == "" {
		return false, nil
	}
	ok, err := a.store.HasWord(ctx, userID, word)
	if err != nil {
		return false, a.fail(ctx, "has_word", userID, err)
	}
	return ok, nil
}

// RemoveFromDictionary deletes word and reports whether it was present.
func (a *Aggregator) RemoveFromDictionary(ctx context.Context, userID, word string) (bool, error) {
	word = learning.NormalizeWord(word)
	if word == "" {
		return false, nil
	}
	ok, err := a.store.RemoveWord(ctx, userID, word)
	if err != nil {
		return false, a.fail(ctx, "remove_word", userID, err)
	}
	return ok, nil
}

// HasWord implements the dictionary lookup used by the diff detector.
func (a *Aggregator) HasWord(ctx context.Context, userID, word string) (bool, error) {
	return a.CheckDictionary(ctx, userID, word)
}

func validateWord(userID, word string) error {
	if strings.TrimSpace(userID) == "" {
		return learning.Validationf("user id is required")
	}
	if word == "" {
		return learning.Validationf("word is required")
	}
	if utf8.RuneCountInString(word) > maxWordRunes {
		return learning.Validationf("word longer than %d characters", maxWordRunes)
	}
	return nil
}

// ─── Pattern maintenance ─────────────────────────────────────────────────────

// UpdatePattern applies an explicit patch to one of the user's patterns.
func (a *Aggregator) UpdatePattern(ctx context.Context, userID string, id int64, patch learning.PatternPatch) (*learning.ErrorPattern, error) {
	if patch.IsEmpty() {
		return nil, learning.Validationf("pattern patch is empty")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	pat, err := a.store.UpdatePattern(ctx, userID, id, patch)
	if err != nil {
		return nil, a.fail(ctx, "update_pattern", userID, err)
	}
	return pat, nil
}

// RefreshImprovement marks the user's patterns of the given error types as
// improving and clears the flag on all others. It returns how many patterns
// changed.
func (a *Aggregator) RefreshImprovement(ctx context.Context, userID string, improving []learning.ErrorType) (int64, error) {
	n, err := a.store.SetImprovingTypes(ctx, userID, improving)
	if err != nil {
		return 0, a.fail(ctx, "set_improving_types", userID, err)
	}
	if n > 0 {
		observe.Logger(ctx).Debug("improvement flags refreshed",
			"user_id", userID, "changed", n, "improving_types", improving)
	}
	return n, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// fail logs a store failure with its operation and user, then returns it
// wrapped. Validation errors pass through unchanged and missing rows are not
// logged.
func (a *Aggregator) fail(ctx context.Context, op, userID string, err error) error {
	if errors.Is(err, learning.ErrValidation) {
		return err
	}
	if errors.Is(err, learning.ErrNotFound) {
		return fmt.Errorf("profile: %s: %w", op, err)
	}
	observe.Logger(ctx).Error("profile store operation failed",
		"op", op, "user_id", userID, "error", err)
	return fmt.Errorf("profile: %s: %w", op, err)
}

func retryOnDuplicate[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	if errors.Is(err, learning.ErrDuplicate) {
		return fn()
	}
	return v, err
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
