package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System   string
	Messages []Message
	// JSON asks the provider for a single JSON object.
	JSON      bool
	MaxTokens int
}

// Client abstracts LLM providers for letter and profile generation.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// ErrDisabled is returned when no provider is configured.
var ErrDisabled = errors.New("llm provider disabled")

// DisabledClient fails every call with ErrDisabled.
type DisabledClient struct{}

func (DisabledClient) Complete(ctx context.Context, req Request) (string, error) {
	return "", ErrDisabled
}

func (DisabledClient) Name() string { return "none" }

// UserPrompt builds a single-turn request.
func UserPrompt(prompt string, asJSON bool) Request {
	return Request{
		Messages: []Message{{Role: "user", Content: prompt}},
		JSON:     asJSON,
	}
}

// StripCodeFences removes a surrounding ```json ... ``` block if present.
func StripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```")
	if nl := strings.IndexByte(out, '\n'); nl >= 0 {
		lang := strings.TrimSpace(out[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[") {
			out = out[nl+1:]
		}
	}
	out = strings.TrimSpace(out)
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

// DecodeJSON parses a model reply into v, tolerating code fences and
// surrounding prose.
func DecodeJSON(raw string, v any) error {
	body := StripCodeFences(raw)
	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("llm reply is not JSON")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("llm reply parse: %w", err)
	}
	return nil
}
