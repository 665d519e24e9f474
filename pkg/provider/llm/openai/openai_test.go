package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/wordwise/pkg/provider/llm"
)

// newTestProvider starts an httptest server and returns a Provider pointed at it.
func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New("test-key", "gpt-4o-mini", WithBaseURL(server.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 12, "total_tokens": 52},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		role  string
		check func(t *testing.T, m llm.Message)
	}{
		{llm.RoleSystem, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfSystem == nil {
				t.Fatalf("expected OfSystem, got %+v, %v", p, err)
			}
		}},
		{llm.RoleUser, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfUser == nil {
				t.Fatalf("expected OfUser, got %+v, %v", p, err)
			}
		}},
		{llm.RoleAssistant, func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("expected OfAssistant, got %+v, %v", p, err)
			}
		}},
		{"tool", func(t *testing.T, m llm.Message) {
			if _, err := convertMessage(m); err == nil {
				t.Fatal("expected error for unsupported role")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			tt.check(t, llm.Message{Role: tt.role, Content: "hello"})
		})
	}
}

func TestBuildParams_RequiresMessages(t *testing.T) {
	p, err := New("key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("expected error for request without messages")
	}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Judge corrections.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "teh -> the"}},
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Errorf("expected system + user message, got %d", len(params.Messages))
	}
}

func TestComplete_HappyPath(t *testing.T) {
	var gotBody map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(`{"verdicts":[]}`))
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Judge corrections.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "teh -> the"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"verdicts":[]}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 52 {
		t.Errorf("expected 52 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("unexpected model in request: %v", gotBody["model"])
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(""))
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestComplete_ServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestModelCapabilities(t *testing.T) {
	if caps := modelCapabilities("gpt-4o-mini"); caps.MaxOutputTokens != 16_384 {
		t.Errorf("gpt-4o-mini: MaxOutputTokens = %d", caps.MaxOutputTokens)
	}
	if caps := modelCapabilities("gpt-4"); caps.ContextWindow != 8_192 {
		t.Errorf("gpt-4: ContextWindow = %d", caps.ContextWindow)
	}
	if caps := modelCapabilities("o3-mini"); caps.ContextWindow != 200_000 {
		t.Errorf("o3-mini: ContextWindow = %d", caps.ContextWindow)
	}
	if caps := modelCapabilities("some-local-model"); caps.ContextWindow != 128_000 {
		t.Errorf("default: ContextWindow = %d", caps.ContextWindow)
	}
}

func TestComplete_JSONResponses(t *testing.T) {
	for _, jsonMode := range []bool{false, true} {
		var gotBody map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(completionBody(`{"results":[]}`))
		}))

		opts := []Option{WithBaseURL(server.URL), WithMaxRetries(0)}
		if jsonMode {
			opts = append(opts, WithJSONResponses())
		}
		p, err := New("test-key", "gpt-4o-mini", opts...)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Complete(context.Background(), llm.CompletionRequest{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
		}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		server.Close()

		rf, ok := gotBody["response_format"].(map[string]any)
		if jsonMode && (!ok || rf["type"] != "json_object") {
			t.Errorf("jsonMode: response_format = %v, want json_object", gotBody["response_format"])
		}
		if !jsonMode && ok {
			t.Errorf("response_format sent without WithJSONResponses: %v", rf)
		}
	}
}
