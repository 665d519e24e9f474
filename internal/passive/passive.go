// Package passive implements the "submit a snapshot" inbound call. A
// submission is paired with the previous capture of the same document, the
// diff detector extracts self-corrections, an optional language-model
// validator confirms them, and the survivors are logged to the user's error
// profile.
package passive

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/wordwise/internal/diffdetect"
	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/internal/profile"
	"github.com/MrWong99/wordwise/internal/textsnap"
	"github.com/MrWong99/wordwise/pkg/learning"
)

// Submission is one text capture sent by a client.
type Submission struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
	Text       string `json:"text"`
	// Timestamp defaults to the time of submission.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Outcome reports what a submission produced.
type Outcome struct {
	// Detected is the number of corrections the diff detector found.
	Detected int `json:"detected"`
	// Logged is the number of corrections written to the error profile.
	Logged int `json:"logged"`
	// FirstCapture is set when no earlier capture of the document existed.
	FirstCapture bool `json:"first_capture"`
	// Degraded is set when validation fell back to heuristic confidence.
	Degraded bool `json:"degraded"`

	Corrections []diffdetect.Correction `json:"corrections"`
}

// Option is a functional option for [New].
type Option func(*Learner)

// WithValidator enables language-model confirmation of detections.
func WithValidator(v *Validator) Option {
	return func(l *Learner) { l.validator = v }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Learner) { l.metrics = m }
}

// WithClock overrides the time source used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.now = now }
}

// Learner turns text captures into logged corrections. It is safe for
// concurrent use.
type Learner struct {
	snaps     *textsnap.Store
	detector  *diffdetect.Detector
	profiles  *profile.Aggregator
	activity  learning.ActivityStore
	validator *Validator
	metrics   *observe.Metrics
	now       func() time.Time
}

// New returns a [Learner]. activity receives the number of newly written
// words per submission.
func New(snaps *textsnap.Store, detector *diffdetect.Detector, profiles *profile.Aggregator, activity learning.ActivityStore, opts ...Option) *Learner {
	l := &Learner{
		snaps:    snaps,
		detector: detector,
		profiles: profiles,
		activity: activity,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// SubmitSnapshot stores s as the latest capture of its document and logs the
// corrections made since the previous capture.
//
// Logging is best effort: entries that fail to persist are reported by the
// aggregator's batch result and do not fail the submission. Errors are
// returned for invalid input, a failed activity write, a failed dictionary
// lookup, or a done context.
func (l *Learner) SubmitSnapshot(ctx context.Context, s Submission) (_ *Outcome, err error) {
	ctx, span := observe.StartSpan(ctx, "passive.SubmitSnapshot")
	defer func() { observe.EndSpan(span, err) }()

	if s.UserID == "" {
		return nil, learning.Validationf("user id is required")
	}
	ts := s.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	cur := learning.NewTextSnapshot(s.Text, ts.UTC())
	prev, ok := l.snaps.Swap(s.UserID, s.DocumentID, cur)

	out := &Outcome{FirstCapture: !ok, Corrections: []diffdetect.Correction{}}

	if words := newWords(prev, cur, ok); words > 0 {
		if err := l.activity.AddWordsWritten(ctx, s.UserID, learning.Day(cur.Timestamp), words); err != nil {
			return nil, fmt.Errorf("passive: record activity: %w", err)
		}
	}
	if !ok {
		return out, nil
	}

	start := time.Now()
	found, err := l.detector.Detect(ctx, s.UserID, &prev, &cur)
	l.metrics.DetectorDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("passive: detect: %w", err)
	}
	for _, c := range found {
		l.metrics.RecordCorrectionDetected(ctx, string(c.ErrorType))
	}
	out.Detected = len(found)
	if len(found) == 0 {
		return out, nil
	}

	entries, accepted, degraded, err := l.entries(ctx, s.UserID, found)
	if err != nil {
		return nil, err
	}
	out.Degraded = degraded

	res := l.profiles.LogBatch(ctx, entries)
	out.Logged = res.Succeeded
	for i, r := range res.Results {
		if r.OK {
			out.Corrections = append(out.Corrections, accepted[i])
		}
	}

	observe.Logger(ctx).Debug("snapshot processed",
		"user_id", s.UserID,
		"document_id", s.DocumentID,
		"detected", out.Detected,
		"logged", out.Logged,
		"degraded", out.Degraded,
	)
	return out, nil
}

// entries converts detections into profile entries, consulting the validator
// when one is configured. accepted holds the matching corrections with the
// final type and confidence.
//
// Detections confirmed by the model, or taken unvalidated when no validator
// is configured, are logged as self-corrections. Degraded acceptances are
// logged as passive observations so they never count towards mastery.
func (l *Learner) entries(ctx context.Context, userID string, found []diffdetect.Correction) (entries []profile.Entry, accepted []diffdetect.Correction, degraded bool, err error) {
	if l.validator == nil {
		for _, c := range found {
			entries = append(entries, entryOf(userID, c, learning.SourceSelfCorrected))
		}
		return entries, found, false, nil
	}

	v, err := l.validator.Validate(ctx, userID, found)
	if err != nil {
		return nil, nil, false, fmt.Errorf("passive: validate: %w", err)
	}
	src := learning.SourceSelfCorrected
	if v.Degraded {
		src = learning.SourcePassive
	}
	for _, a := range v.Accepted {
		c := a.Correction
		c.ErrorType, c.Confidence = a.ErrorType, a.Confidence
		entries = append(entries, entryOf(userID, c, src))
		accepted = append(accepted, c)
	}
	return entries, accepted, v.Degraded, nil
}

func entryOf(userID string, c diffdetect.Correction, src learning.Source) profile.Entry {
	return profile.Entry{
		UserID:     userID,
		Original:   c.Original,
		Corrected:  c.Corrected,
		ErrorType:  c.ErrorType,
		Context:    c.Context,
		Confidence: c.Confidence,
		Source:     src,
	}
}

// newWords is the growth in word count since the previous capture, or the
// full count on a first capture. Stale captures contribute nothing.
func newWords(prev, cur learning.TextSnapshot, hadPrev bool) int {
	if !hadPrev {
		return cur.WordCount
	}
	if !cur.Timestamp.After(prev.Timestamp) {
		return 0
	}
	return max(0, cur.WordCount-prev.WordCount)
}
