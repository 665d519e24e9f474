package resilience

import (
	"context"

	"github.com/MrWong99/wordwise/pkg/provider/llm"
)

// LLMBreakerPrefix prefixes the breaker name of every LLM backend.
const LLMBreakerPrefix = "llm:"

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend is guarded by the breaker "llm:<name>" from the
// shared registry.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, breakers *Registry) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, breakers, LLMBreakerPrefix),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's counter. Token estimation is local and does
// not go through the breakers.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.entries[0].value.CountTokens(messages)
}

// Capabilities returns the capabilities of the primary.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.entries[0].value.Capabilities()
}
