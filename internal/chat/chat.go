// Package chat answers the per-draft chat panel.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/prompts"
)

// ErrInvalidInput is returned for an empty or malformed transcript.
var ErrInvalidInput = errors.New("invalid or missing messages")

const maxMessages = 50

// Service relays a transcript to the model under the chat system prompt.
type Service struct {
	Prompts *prompts.Service
	LLM     llm.Client
	Events  progress.Publisher
}

func NewService(promptSvc *prompts.Service, client llm.Client, events progress.Publisher) *Service {
	if client == nil {
		client = llm.DisabledClient{}
	}
	if events == nil {
		events = progress.NopPublisher{}
	}
	return &Service{Prompts: promptSvc, LLM: client, Events: events}
}

// Turn is one chat request.
type Turn struct {
	Messages  []llm.Message
	Draft     string
	SessionID string
	Label     string
}

// Reply returns the assistant's next message.
func (s *Service) Reply(ctx context.Context, turn Turn) (string, error) {
	if len(turn.Messages) == 0 {
		return "", ErrInvalidInput
	}
	msgs := turn.Messages
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	clean := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "assistant" {
			return "", fmt.Errorf("%w: role %q", ErrInvalidInput, m.Role)
		}
		clean = append(clean, llm.Message{Role: role, Content: m.Content})
	}

	system, err := s.Prompts.Render(ctx, prompts.TypeChat, map[string]string{"draft": turn.Draft})
	if err != nil {
		return "", err
	}
	reply, err := s.LLM.Complete(ctx, llm.Request{System: system, Messages: clean})
	if err != nil {
		return "", err
	}
	s.Events.Publish(ctx, progress.EventChatTurn, turn.SessionID, map[string]any{
		"label":    turn.Label,
		"messages": len(clean),
	})
	return strings.TrimSpace(reply), nil
}
