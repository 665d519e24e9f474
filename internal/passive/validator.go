package passive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/MrWong99/wordwise/internal/diffdetect"
	"github.com/MrWong99/wordwise/internal/observe"
	"github.com/MrWong99/wordwise/internal/profile"
	"github.com/MrWong99/wordwise/internal/resilience"
	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/provider/llm"
)

const (
	defaultTemperature   = 0.1
	defaultMinConfidence = 0.6
	defaultTimeout       = 10 * time.Second
)

// Validator outcome labels, recorded per candidate or per call.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
	OutcomeDegraded  = "degraded"
	OutcomeInvalid   = "invalid_reply"
)

const systemPrompt = `You review candidate spelling corrections detected while a person with dyslexia edited their own text.

For every numbered candidate decide whether the writer fixed a genuine spelling or word-choice mistake (is_correction true) or made an ordinary edit such as rephrasing or changing their mind (is_correction false).

Rules:
- Judge each candidate independently using its surrounding context.
- When you confirm a candidate, classify it with one of: reversal, transposition, phonetic, omission, homophone, grammar, other.
- Be conservative: if unsure, answer false.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"results": [{"index": <candidate number>, "is_correction": <true|false>, "error_type": "<type>", "confidence": <0.0-1.0>}]}`

// replySchema is the JSON schema every model reply must satisfy.
const replySchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "is_correction", "confidence"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "is_correction": {"type": "boolean"},
          "error_type": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

// ContextBuilder supplies the personalisation summary sent with every
// validation request. [*profile.Aggregator] implements it.
type ContextBuilder interface {
	BuildLLMContext(ctx context.Context, userID string) (*profile.LLMContext, error)
}

// Accepted is a candidate the validator let through.
type Accepted struct {
	Correction diffdetect.Correction
	ErrorType  learning.ErrorType
	Confidence float64
}

// Verdict is the validator's decision on a batch of candidates.
type Verdict struct {
	Accepted []Accepted
	// Degraded is set when the model could not be asked or answered with an
	// invalid reply; Accepted then holds the candidates whose heuristic
	// confidence meets the minimum.
	Degraded bool
	Reason   string
}

// reply mirrors replySchema.
type reply struct {
	Results []struct {
		Index        int     `json:"index"`
		IsCorrection bool    `json:"is_correction"`
		ErrorType    string  `json:"error_type"`
		Confidence   float64 `json:"confidence"`
	} `json:"results"`
}

// ValidatorOption is a functional option for [NewValidator].
type ValidatorOption func(*Validator)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(t float64) ValidatorOption {
	return func(v *Validator) { v.temperature = t }
}

// WithMinConfidence sets the heuristic confidence a candidate needs to be
// accepted in degraded mode. Default: 0.6.
func WithMinConfidence(c float64) ValidatorOption {
	return func(v *Validator) { v.minConfidence = c }
}

// WithTimeout bounds one validation round trip. Default: 10s.
func WithTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithValidatorMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithValidatorMetrics(m *observe.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// Validator asks a language model to confirm passive detections. It is safe
// for concurrent use.
//
// The provider is typically a [resilience.LLMFallback], so an unhealthy
// backend is skipped by its breaker and a fully unavailable model degrades
// to the heuristic confidence instead of failing the submission.
type Validator struct {
	llm           llm.Provider
	profiles      ContextBuilder
	schema        *jsonschema.Schema
	temperature   float64
	minConfidence float64
	timeout       time.Duration
	metrics       *observe.Metrics
}

// NewValidator compiles the reply schema and returns a [Validator]. profiles
// may be nil, in which case no personalisation is sent.
func NewValidator(provider llm.Provider, profiles ContextBuilder, opts ...ValidatorOption) (*Validator, error) {
	schema, err := compileSchema("wordwise://validator-reply.json", replySchema)
	if err != nil {
		return nil, fmt.Errorf("passive: validator: %w", err)
	}
	v := &Validator{
		llm:           provider,
		profiles:      profiles,
		schema:        schema,
		temperature:   defaultTemperature,
		minConfidence: defaultMinConfidence,
		timeout:       defaultTimeout,
	}
	for _, o := range opts {
		o(v)
	}
	if v.metrics == nil {
		v.metrics = observe.DefaultMetrics()
	}
	return v, nil
}

func compileSchema(url, def string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(def), &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// Validate asks the model about cands. It only returns an error when ctx
// itself is done; every other failure yields a degraded [Verdict].
func (v *Validator) Validate(ctx context.Context, userID string, cands []diffdetect.Correction) (Verdict, error) {
	if len(cands) == 0 {
		return Verdict{}, nil
	}
	log := observe.Logger(ctx)

	var profilePrompt string
	if v.profiles != nil {
		pc, err := v.profiles.BuildLLMContext(ctx, userID)
		if err != nil {
			log.Warn("validator: profile context unavailable, continuing without", "user_id", userID, "error", err)
		} else {
			profilePrompt = pc.Prompt()
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	resp, err := v.llm.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(profilePrompt),
		Temperature:  v.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildUserMessage(cands)},
		},
	})
	v.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, ctxErr
		}
		log.Warn("validator: model unavailable, using heuristic confidence",
			"user_id", userID, "candidates", len(cands), "error", err)
		return v.degraded(ctx, cands, reasonFor(err)), nil
	}

	var r *reply
	if resp == nil {
		err = errors.New("empty response")
	} else {
		r, err = v.parse(resp.Content)
	}
	if err != nil {
		log.Warn("validator: invalid reply, using heuristic confidence", "user_id", userID, "error", err)
		v.metrics.RecordValidatorOutcome(ctx, OutcomeInvalid)
		return v.degraded(ctx, cands, "invalid reply"), nil
	}
	return v.decide(ctx, cands, r), nil
}

// parse strips optional code fences and validates the reply against the
// schema before decoding it.
func (v *Validator) parse(content string) (*reply, error) {
	cleaned := stripMarkdown(content)
	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	var r reply
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &r, nil
}

func (v *Validator) decide(ctx context.Context, cands []diffdetect.Correction, r *reply) Verdict {
	seen := make(map[int]bool, len(cands))
	var out Verdict
	for _, res := range r.Results {
		if res.Index < 0 || res.Index >= len(cands) || seen[res.Index] {
			continue
		}
		seen[res.Index] = true
		if !res.IsCorrection {
			v.metrics.RecordValidatorOutcome(ctx, OutcomeRejected)
			continue
		}
		c := cands[res.Index]
		typ := c.ErrorType
		if t, err := learning.ParseErrorType(res.ErrorType); err == nil {
			typ = t
		}
		out.Accepted = append(out.Accepted, Accepted{Correction: c, ErrorType: typ, Confidence: res.Confidence})
		v.metrics.RecordValidatorOutcome(ctx, OutcomeConfirmed)
	}
	for i := range cands {
		if !seen[i] {
			v.metrics.RecordValidatorOutcome(ctx, OutcomeRejected)
		}
	}
	return out
}

func (v *Validator) degraded(ctx context.Context, cands []diffdetect.Correction, reason string) Verdict {
	v.metrics.RecordValidatorOutcome(ctx, OutcomeDegraded)
	out := Verdict{Degraded: true, Reason: reason}
	for _, c := range cands {
		if c.Confidence >= v.minConfidence {
			out.Accepted = append(out.Accepted, Accepted{Correction: c, ErrorType: c.ErrorType, Confidence: c.Confidence})
		}
	}
	return out
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "model in cooldown"
	case errors.Is(err, resilience.ErrAllFailed):
		return "all model backends failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "model timed out"
	default:
		return "model call failed"
	}
}

func buildSystemPrompt(profilePrompt string) string {
	if profilePrompt == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\n" + profilePrompt
}

func buildUserMessage(cands []diffdetect.Correction) string {
	var sb strings.Builder
	sb.WriteString("Candidates:\n")
	for i, c := range cands {
		fmt.Fprintf(&sb, "%d. %q -> %q (guess: %s; context: %q)\n", i, c.Original, c.Corrected, c.ErrorType, c.Context)
	}
	return sb.String()
}

// stripMarkdown removes optional markdown code fences that some models wrap
// around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
