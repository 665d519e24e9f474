// Package anthropic provides an LLM provider backed by the Anthropic Messages
// API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MrWong99/wordwise/pkg/provider/llm"
)

// defaultMaxTokens is used when a request does not set MaxTokens; the
// Messages API requires an explicit limit.
const defaultMaxTokens = 1024

// models maps friendly names to Anthropic model IDs.
var models = map[string]string{
	"claude-sonnet": "claude-sonnet-4-20250514",
	"claude-haiku":  "claude-haiku-4-5-20251001",
}

// ErrRateLimited is returned when the API answers with HTTP 429.
var ErrRateLimited = errors.New("anthropic: rate limited")

// Compile-time interface check.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the Anthropic SDK.
type Provider struct {
	client *anthropic.Client
	model  string
}

// Option is a functional option for Provider.
type Option func(*[]option.RequestOption)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// WithMaxRetries sets how often the SDK retries transient failures.
func WithMaxRetries(n int) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithMaxRetries(n))
	}
}

// New constructs a Provider. model may be a friendly name ("claude-haiku") or
// a full model ID.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}

	client := anthropic.NewClient(reqOpts...)
	return &Provider{client: &client, model: resolveModel(model)}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anthropic: request has no messages")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
	}
	system := req.SystemPrompt
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return &llm.CompletionResponse{
				Content: block.Text,
				Usage: llm.Usage{
					PromptTokens:     int(msg.Usage.InputTokens),
					CompletionTokens: int(msg.Usage.OutputTokens),
					TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
				},
			}, nil
		}
	}
	return nil, fmt.Errorf("anthropic: %w", llm.ErrEmptyResponse)
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider. All current Claude models share a
// 200k context window.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}
	if strings.Contains(p.model, "opus") {
		caps.MaxOutputTokens = 4_096
	}
	return caps
}

// buildMessages converts user and assistant messages. System messages are
// folded into the system prompt by Complete.
func buildMessages(msgs []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var role anthropic.MessageParamRole
		switch m.Role {
		case llm.RoleUser:
			role = anthropic.MessageParamRoleUser
		case llm.RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
		default:
			continue
		}
		out = append(out, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
		})
	}
	return out
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic: messages: %w", err)
}

// resolveModel maps a friendly model name to a provider model ID.
func resolveModel(name string) string {
	if id, ok := models[name]; ok {
		return id
	}
	return name
}
