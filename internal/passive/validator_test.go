package passive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/wordwise/internal/diffdetect"
	"github.com/MrWong99/wordwise/internal/profile"
	"github.com/MrWong99/wordwise/internal/resilience"
	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/provider/llm"
	llmmock "github.com/MrWong99/wordwise/pkg/provider/llm/mock"
)

var candidates = []diffdetect.Correction{
	{Original: "Teh", Corrected: "The", ErrorType: learning.ErrorTypeTransposition, Confidence: 0.71, Context: "The cat"},
	{Original: "house", Corrected: "horse", ErrorType: learning.ErrorTypeOther, Confidence: 0.54, Context: "a horse today"},
}

type stubProfiles struct {
	pc  *profile.LLMContext
	err error
}

func (s stubProfiles) BuildLLMContext(context.Context, string) (*profile.LLMContext, error) {
	return s.pc, s.err
}

func newValidator(t *testing.T, p llm.Provider, profiles ContextBuilder, opts ...ValidatorOption) *Validator {
	t.Helper()
	opts = append([]ValidatorOption{WithValidatorMetrics(newTestMetrics(t))}, opts...)
	v, err := NewValidator(p, profiles, opts...)
	require.NoError(t, err)
	return v
}

func replyWith(content string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestValidate_Confirmed(t *testing.T) {
	p := replyWith("```json\n" + `{"results":[{"index":1,"is_correction":true,"error_type":"phonetic","confidence":0.9},{"index":0,"is_correction":true,"error_type":"bogus","confidence":0.8}]}` + "\n```")
	v := newValidator(t, p, nil)

	got, err := v.Validate(context.Background(), "u1", candidates)
	require.NoError(t, err)
	assert.False(t, got.Degraded)
	require.Len(t, got.Accepted, 2)

	assert.Equal(t, "house", got.Accepted[0].Correction.Original)
	assert.Equal(t, learning.ErrorTypePhonetic, got.Accepted[0].ErrorType)
	assert.InDelta(t, 0.9, got.Accepted[0].Confidence, 1e-9)

	// Unknown model type keeps the heuristic guess.
	assert.Equal(t, learning.ErrorTypeTransposition, got.Accepted[1].ErrorType)
}

func TestValidate_IgnoresBadIndexes(t *testing.T) {
	p := replyWith(`{"results":[{"index":7,"is_correction":true,"confidence":0.9},{"index":0,"is_correction":true,"confidence":0.9},{"index":0,"is_correction":true,"confidence":0.1}]}`)
	v := newValidator(t, p, nil)

	got, err := v.Validate(context.Background(), "u1", candidates)
	require.NoError(t, err)
	require.Len(t, got.Accepted, 1)
	assert.InDelta(t, 0.9, got.Accepted[0].Confidence, 1e-9)
}

func TestValidate_Degraded(t *testing.T) {
	tests := []struct {
		name       string
		provider   *llmmock.Provider
		wantReason string
	}{
		{"breaker open", &llmmock.Provider{CompleteErr: &resilience.OpenError{Name: "llm:openai"}}, "model in cooldown"},
		{"all failed", &llmmock.Provider{CompleteErr: fmt.Errorf("%w: %w", resilience.ErrAllFailed, errors.New("boom"))}, "all model backends failed"},
		{"other error", &llmmock.Provider{CompleteErr: errors.New("boom")}, "model call failed"},
		{"not json", replyWith("sure, looks right"), "invalid reply"},
		{"schema mismatch", replyWith(`{"results":[{"index":"0","is_correction":true,"confidence":0.9}]}`), "invalid reply"},
		{"confidence out of range", replyWith(`{"results":[{"index":0,"is_correction":true,"confidence":3}]}`), "invalid reply"},
		{"nil response", &llmmock.Provider{}, "invalid reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t, tt.provider, nil)

			got, err := v.Validate(context.Background(), "u1", candidates)
			require.NoError(t, err)
			assert.True(t, got.Degraded)
			assert.Equal(t, tt.wantReason, got.Reason)
			require.Len(t, got.Accepted, 1)
			assert.Equal(t, "Teh", got.Accepted[0].Correction.Original)
		})
	}
}

func TestValidate_Timeout(t *testing.T) {
	p := &llmmock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	v := newValidator(t, p, nil, WithTimeout(10*time.Millisecond))

	got, err := v.Validate(context.Background(), "u1", candidates)
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, "model timed out", got.Reason)
}

func TestValidate_MinConfidence(t *testing.T) {
	v := newValidator(t, &llmmock.Provider{CompleteErr: errors.New("down")}, nil, WithMinConfidence(0.5))

	got, err := v.Validate(context.Background(), "u1", candidates)
	require.NoError(t, err)
	assert.Len(t, got.Accepted, 2)
}

func TestValidate_NoCandidates(t *testing.T) {
	p := replyWith(`{"results":[]}`)
	v := newValidator(t, p, nil)

	got, err := v.Validate(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, got.Accepted)
	assert.Empty(t, p.CompleteCalls)
}

func TestValidate_Request(t *testing.T) {
	p := replyWith(`{"results":[]}`)
	pc := &profile.LLMContext{
		UserID:       "u1",
		WritingLevel: profile.LevelDeveloping,
		OverallScore: 30,
		TopErrors:    []learning.TopError{{Original: "teh", Corrected: "the", Frequency: 4}},
	}
	v := newValidator(t, p, stubProfiles{pc: pc}, WithTemperature(0.3))

	_, err := v.Validate(context.Background(), "u1", candidates)
	require.NoError(t, err)
	require.Len(t, p.CompleteCalls, 1)

	req := p.CompleteCalls[0].Req
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Contains(t, req.SystemPrompt, "Respond with ONLY a JSON object")
	assert.Contains(t, req.SystemPrompt, pc.Prompt())
	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, `0. "Teh" -> "The"`)
	assert.Contains(t, req.Messages[0].Content, `1. "house" -> "horse"`)
}

func TestValidate_ProfileFailureIsNotFatal(t *testing.T) {
	p := replyWith(`{"results":[{"index":0,"is_correction":true,"confidence":0.9}]}`)
	v := newValidator(t, p, stubProfiles{err: learning.ErrUnavailable})

	got, err := v.Validate(context.Background(), "u1", candidates)
	require.NoError(t, err)
	assert.Len(t, got.Accepted, 1)
	assert.Equal(t, systemPrompt, p.CompleteCalls[0].Req.SystemPrompt)
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripMarkdown(tt.in))
	}
}
