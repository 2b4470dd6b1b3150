package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/prompts"
)

type echoLLM struct {
	last llm.Request
}

func (e *echoLLM) Name() string { return "echo" }

func (e *echoLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	e.last = req
	return "  Which claim feels off?  ", nil
}

func newRouter(t *testing.T) (*gin.Engine, *echoLLM) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	promptSvc, err := prompts.NewService(prompts.NewMemoryRepo(), nil)
	if err != nil {
		t.Fatalf("prompts.NewService: %v", err)
	}
	fake := &echoLLM{}
	router := gin.New()
	NewHandler(NewService(promptSvc, fake, nil)).RegisterRoutes(router.Group("/api"))
	return router, fake
}

func post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestChatRejectsMissingMessages(t *testing.T) {
	router, _ := newRouter(t)
	for _, body := range []string{`{}`, `{"messages":[]}`, `{"messages":"hi"}`, `{"messages":[{"role":"system","content":"x"}]}`} {
		resp := post(router, body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, resp.Code)
		}
		if !strings.Contains(resp.Body.String(), msgInvalidMessages) {
			t.Fatalf("%s: unexpected body %s", body, resp.Body.String())
		}
	}
}

func TestChatReplies(t *testing.T) {
	router, fake := newRouter(t)
	resp := post(router, `{"draft":"Dear team","messages":[{"role":"assistant","content":"Is there any content?"},{"role":"user","content":"The dates"}]}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", resp.Code, resp.Body.String())
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message != "Which claim feels off?" {
		t.Fatalf("unexpected reply %q", out.Message)
	}
	if !strings.Contains(fake.last.System, "Dear team") || len(fake.last.Messages) != 2 {
		t.Fatalf("unexpected request %+v", fake.last)
	}
}
