package labsessions

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/prompts"
)

type scriptedLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	err     error
}

func (f *scriptedLLM) Name() string { return "scripted" }

func (f *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	prompt := req.Messages[len(req.Messages)-1].Content
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.Contains(prompt, "Generate 3 bullet points"):
		return "```json\n" + `{"bullets":[
{"index":0,"text":"Led a migration","rationale":"mastery"},
{"index":1,"text":"Paired with seniors","rationale":"vicarious"},
{"index":2,"text":"Praised by lead","rationale":"persuasion"}]}` + "\n```", nil
	case strings.Contains(prompt, "rated this bullet"):
		return `Here you go: {"bullet":{"text":"Led a zero-downtime migration","rationale":"clearer mastery"}}`, nil
	case strings.Contains(prompt, "final professional profile"):
		return "Aligned profile text.", nil
	case strings.Contains(prompt, "professional profile statement"):
		return "Control profile text.", nil
	case strings.Contains(prompt, "introduce a job seeker"):
		return "Welcome to the review.", nil
	case strings.Contains(prompt, "cover letter"):
		return "Dear hiring manager,", nil
	}
	return "unexpected", nil
}

func (f *scriptedLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type recordingArchiver struct {
	mu      sync.Mutex
	reasons []string
}

func (a *recordingArchiver) Enqueue(ctx context.Context, sessionID, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, sessionID+":"+reason)
	return nil
}

type recordingBinder struct {
	bound map[string]string
}

func (b *recordingBinder) BindSession(ctx context.Context, token, sessionID string) error {
	b.bound[token] = sessionID
	return nil
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	llm      *scriptedLLM
	archiver *recordingArchiver
	binder   *recordingBinder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	promptSvc, err := prompts.NewService(prompts.NewMemoryRepo(), nil)
	if err != nil {
		t.Fatalf("prompts.NewService: %v", err)
	}
	f := fixture{
		repo:     NewMemoryRepo(),
		llm:      &scriptedLLM{},
		archiver: &recordingArchiver{},
		binder:   &recordingBinder{bound: map[string]string{}},
	}
	f.svc = NewService(f.repo, promptSvc, f.llm, f.binder, nil, f.archiver)
	f.svc.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func intp(v int) *int { return &v }
