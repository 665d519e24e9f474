// Package learning defines the per-user learning model of Wordwise: misspelling
// patterns, confusion pairs, the personal dictionary, the raw error-event log
// and weekly progress snapshots.
//
// The package holds no behaviour beyond normalisation helpers. Persistence is
// delegated to the [Store] interface, implemented by the postgres, sqlite and
// memstore sub-packages.
package learning

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType is the heuristic category of a spelling or grammar error.
type ErrorType string

const (
	ErrorTypeReversal       ErrorType = "reversal"
	ErrorTypeTransposition  ErrorType = "transposition"
	ErrorTypePhonetic       ErrorType = "phonetic"
	ErrorTypeOmission       ErrorType = "omission"
	ErrorTypeHomophone      ErrorType = "homophone"
	ErrorTypeGrammar        ErrorType = "grammar"
	ErrorTypeSelfCorrection ErrorType = "self-correction"
	ErrorTypeOther          ErrorType = "other"
)

var allErrorTypes = []ErrorType{
	ErrorTypeReversal,
	ErrorTypeTransposition,
	ErrorTypePhonetic,
	ErrorTypeOmission,
	ErrorTypeHomophone,
	ErrorTypeGrammar,
	ErrorTypeSelfCorrection,
	ErrorTypeOther,
}

// AllErrorTypes returns every known [ErrorType] in a stable order. The returned
// slice is a copy and may be modified by the caller.
func AllErrorTypes() []ErrorType {
	out := make([]ErrorType, len(allErrorTypes))
	copy(out, allErrorTypes)
	return out
}

// IsValid reports whether t is one of the known error types.
func (t ErrorType) IsValid() bool {
	for _, v := range allErrorTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseErrorType converts s into an [ErrorType]. Matching is case-insensitive
// and accepts underscores in place of hyphens ("self_correction").
func ParseErrorType(s string) (ErrorType, error) {
	t := ErrorType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown error type %q", ErrValidation, s)
	}
	return t, nil
}

// Source identifies which part of the product observed an error.
type Source string

const (
	SourcePassive       Source = "passive"
	SourceQuickModel    Source = "quick_model"
	SourceDeepModel     Source = "deep_model"
	SourceSelfCorrected Source = "self_corrected"
)

// IsValid reports whether s is a known event source.
func (s Source) IsValid() bool {
	switch s {
	case SourcePassive, SourceQuickModel, SourceDeepModel, SourceSelfCorrected:
		return true
	}
	return false
}

// DictionarySource records how a word entered the personal dictionary.
type DictionarySource string

const (
	DictionaryManual DictionarySource = "manual"
	DictionaryAuto   DictionarySource = "auto"
)

// IsValid reports whether s is a known dictionary source.
func (s DictionarySource) IsValid() bool {
	return s == DictionaryManual || s == DictionaryAuto
}

// ErrorPattern is one (user, misspelling, correction) mapping. Misspelling and
// Correction keep the casing of their first occurrence; uniqueness is
// case-insensitive.
type ErrorPattern struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Misspelling  string    `json:"misspelling"`
	Correction   string    `json:"correction"`
	ErrorType    ErrorType `json:"error_type"`
	Frequency    int       `json:"frequency"`
	Improving    bool      `json:"improving"`
	LanguageCode string    `json:"language_code"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// PatternOccurrence is one observation of a pattern, applied to the store with
// an atomic upsert.
type PatternOccurrence struct {
	UserID       string
	Misspelling  string
	Correction   string
	ErrorType    ErrorType
	LanguageCode string
	SeenAt       time.Time
}

// Correction is one logged correction: its event, the pattern occurrence it
// feeds and, when two real words were swapped, the confusion pair.
type Correction struct {
	Event   ErrorEvent
	Pattern PatternOccurrence

	// Pair is nil unless the correction is a word confusion.
	Pair *[2]string
}

// CorrectionResult holds the rows written for a [Correction]. Pair is nil
// when no pair was given.
type CorrectionResult struct {
	Pattern *ErrorPattern
	Pair    *ConfusionPair
}

// ConfusionPair counts how often a user substitutes two words for each other.
// WordA and WordB are lower-cased and sorted; see [CanonicalPair].
type ConfusionPair struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	WordA          string    `json:"word_a"`
	WordB          string    `json:"word_b"`
	ConfusionCount int       `json:"confusion_count"`
	LastConfusedAt time.Time `json:"last_confused_at"`
}

// DictionaryEntry is a word the user never wants flagged.
type DictionaryEntry struct {
	ID      int64            `json:"id"`
	UserID  string           `json:"user_id"`
	Word    string           `json:"word"`
	Source  DictionarySource `json:"source"`
	AddedAt time.Time        `json:"added_at"`
}

// ErrorEvent is one row of the append-only error log. It is the source of
// truth for all time-series analytics.
type ErrorEvent struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	OriginalText  string    `json:"original_text"`
	CorrectedText string    `json:"corrected_text"`
	ErrorType     ErrorType `json:"error_type"`
	Context       string    `json:"context,omitempty"`
	Confidence    float64   `json:"confidence"`
	Source        Source    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// TopError is one entry of a frequency-ordered error list.
type TopError struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Frequency int    `json:"frequency"`
}

// ProgressSnapshot is the recomputed summary of one ISO week for one user.
// WeekStart is always a Monday at 00:00 UTC.
type ProgressSnapshot struct {
	ID                  int64                 `json:"id"`
	UserID              string                `json:"user_id"`
	WeekStart           time.Time             `json:"week_start"`
	TotalWordsWritten   int                   `json:"total_words_written"`
	TotalCorrections    int                   `json:"total_corrections"`
	AccuracyScore       float64               `json:"accuracy_score"`
	ErrorTypeBreakdown  map[ErrorType]float64 `json:"error_type_breakdown"`
	TopErrors           []TopError            `json:"top_errors"`
	PatternsMastered    int                   `json:"patterns_mastered"`
	NewPatternsDetected int                   `json:"new_patterns_detected"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// TextSnapshot is an ephemeral capture of a document's text. It is never
// written to the relational store.
type TextSnapshot struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	WordCount int       `json:"word_count"`
}

// NewTextSnapshot builds a [TextSnapshot] and counts its whitespace-separated
// words.
func NewTextSnapshot(text string, ts time.Time) TextSnapshot {
	return TextSnapshot{Text: text, Timestamp: ts, WordCount: len(strings.Fields(text))}
}

// PurgeResult reports how many rows a retention cleanup removed per table.
type PurgeResult struct {
	Events         int64 `json:"events"`
	Patterns       int64 `json:"patterns"`
	ConfusionPairs int64 `json:"confusion_pairs"`
	Snapshots      int64 `json:"snapshots"`
	Activity       int64 `json:"activity"`
}

// Total returns the number of rows removed across all tables.
func (r PurgeResult) Total() int64 {
	return r.Events + r.Patterns + r.ConfusionPairs + r.Snapshots + r.Activity
}

// WeekStart returns the Monday 00:00 UTC that starts the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
