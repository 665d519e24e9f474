package profile

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/pkg/learning"
)

// Writing level labels of [LLMContext].
const (
	LevelNewUser     = "new_user"
	LevelDeveloping  = "developing"
	LevelProgressing = "progressing"
	LevelConfident   = "confident"
)

// ContextCaps bounds the lists in an [LLMContext].
type ContextCaps struct {
	TopErrors       int `yaml:"top_errors"`
	ConfusionPairs  int `yaml:"confusion_pairs"`
	DictionaryWords int `yaml:"dictionary_words"`
}

func (c ContextCaps) withDefaults() ContextCaps {
	if c.TopErrors <= 0 {
		c.TopErrors = 10
	}
	if c.ConfusionPairs <= 0 {
		c.ConfusionPairs = 5
	}
	if c.DictionaryWords <= 0 {
		c.DictionaryWords = 50
	}
	return c
}

// ConfusionHint is a confusion pair reduced to what a prompt needs.
type ConfusionHint struct {
	WordA string `json:"word_a"`
	WordB string `json:"word_b"`
	Count int    `json:"count"`
}

// LLMContext is the compact personalisation payload injected into prompts.
// Lists are never nil.
type LLMContext struct {
	UserID             string                         `json:"user_id"`
	WritingLevel       string                         `json:"writing_level"`
	OverallScore       int                            `json:"overall_score"`
	TopErrors          []learning.TopError            `json:"top_errors"`
	ConfusionPairs     []ConfusionHint                `json:"confusion_pairs"`
	ErrorTypeBreakdown map[learning.ErrorType]float64 `json:"error_type_breakdown"`
	DictionaryWords    []string                       `json:"dictionary_words"`
}

// newUserContext is returned for users without any logged event.
func newUserContext(userID string) *LLMContext {
	return &LLMContext{
		UserID:             userID,
		WritingLevel:       LevelNewUser,
		OverallScore:       NeutralScore,
		TopErrors:          []learning.TopError{},
		ConfusionPairs:     []ConfusionHint{},
		ErrorTypeBreakdown: Breakdown(nil),
		DictionaryWords:    []string{},
	}
}

// BuildLLMContext assembles the size-bounded personalisation summary for
// userID. A user without events gets deterministic defaults with writing
// level "new_user".
func (a *Aggregator) BuildLLMContext(ctx context.Context, userID string) (_ *LLMContext, err error) {
	ctx, span := observe.StartSpan(ctx, "profile.BuildLLMContext")
	defer func() { observe.EndSpan(span, err) }()

	var (
		events int
		pats   []learning.ErrorPattern
		pairs  []learning.ConfusionPair
		words  []learning.DictionaryEntry
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		n, err := a.store.CountEvents(egCtx, userID)
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		events = n
		return nil
	})

	eg.Go(func() error {
		p, err := a.store.ListPatterns(egCtx, userID)
		if err != nil {
			return fmt.Errorf("list patterns: %w", err)
		}
		pats = p
		return nil
	})

	eg.Go(func() error {
		p, err := a.store.ListConfusionPairs(egCtx, userID, a.caps.ConfusionPairs)
		if err != nil {
			return fmt.Errorf("list confusion pairs: %w", err)
		}
		pairs = p
		return nil
	})

	eg.Go(func() error {
		w, err := a.store.ListWords(egCtx, userID)
		if err != nil {
			return fmt.Errorf("list dictionary: %w", err)
		}
		words = w
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, a.fail(ctx, "llm_context", userID, err)
	}

	if events == 0 && len(pats) == 0 {
		out := newUserContext(userID)
		out.DictionaryWords = dictionaryWords(words, a.caps.DictionaryWords)
		return out, nil
	}

	score := a.overallScore(pats, a.masteredCount(pats))
	hints := make([]ConfusionHint, 0, len(pairs))
	for _, p := range pairs {
		hints = append(hints, ConfusionHint{WordA: p.WordA, WordB: p.WordB, Count: p.ConfusionCount})
	}
	return &LLMContext{
		UserID:             userID,
		WritingLevel:       writingLevel(score),
		OverallScore:       score,
		TopErrors:          topErrors(pats, a.caps.TopErrors),
		ConfusionPairs:     hints,
		ErrorTypeBreakdown: Breakdown(pats),
		DictionaryWords:    dictionaryWords(words, a.caps.DictionaryWords),
	}, nil
}

func writingLevel(score int) string {
	switch {
	case score < 40:
		return LevelDeveloping
	case score < 70:
		return LevelProgressing
	default:
		return LevelConfident
	}
}

// Prompt renders c as a prompt section. Empty lists are omitted. A nil
// context renders as the empty string.
func (c *LLMContext) Prompt() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder

	fmt.Fprintf(&sb, "Writer profile: level %s, score %d/100.", c.WritingLevel, c.OverallScore)

	// ── Frequent errors ───────────────────────────────────────────────────────
	if len(c.TopErrors) > 0 {
		sb.WriteString("\n\n## Frequent Errors\n")
		for _, e := range c.TopErrors {
			fmt.Fprintf(&sb, "- %q -> %q (%dx)\n", e.Original, e.Corrected, e.Frequency)
		}
	}

	// ── Confusions ────────────────────────────────────────────────────────────
	if len(c.ConfusionPairs) > 0 {
		sb.WriteString("\n## Often Confused\n")
		for _, p := range c.ConfusionPairs {
			fmt.Fprintf(&sb, "- %s / %s (%dx)\n", p.WordA, p.WordB, p.Count)
		}
	}

	// ── Error categories ──────────────────────────────────────────────────────
	var cats []string
	for _, t := range learning.AllErrorTypes() {
		if pct := c.ErrorTypeBreakdown[t]; pct > 0 {
			cats = append(cats, fmt.Sprintf("%s %.1f%%", t, pct))
		}
	}
	if len(cats) > 0 {
		sb.WriteString("\n## Error Categories\n")
		sb.WriteString(strings.Join(cats, ", "))
		sb.WriteString("\n")
	}

	// ── Dictionary ────────────────────────────────────────────────────────────
	if len(c.DictionaryWords) > 0 {
		sb.WriteString("\n## Never Flag\n")
		sb.WriteString(strings.Join(c.DictionaryWords, ", "))
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}
