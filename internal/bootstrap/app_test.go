package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/shared/config"
	"letterlab-backend/internal/shared/server/middleware"
)

type echoLLM struct{}

func (echoLLM) Name() string { return "echo" }

func (echoLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return "You said: " + req.Messages[len(req.Messages)-1].Content, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	return config.Config{
		Env:                "test",
		LocalStoreDir:      t.TempDir(),
		LLMProvider:        "none",
		AdminUsername:      "admin",
		AdminPassword:      "hunter2",
		IdempotencyTTL:     time.Minute,
		TokenValidateRate:  1,
		TokenValidateBurst: 10,
	}
}

func buildTestApp(t *testing.T) *App {
	t.Helper()
	app, err := Build(testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

func do(app *App, method, path, body string, header http.Header, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)
	return w
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestBuildInMemory(t *testing.T) {
	app := buildTestApp(t)
	if app.DB != nil {
		t.Fatalf("expected no database without DATABASE_URL")
	}
	if app.Queue != nil {
		t.Fatalf("expected inline archiving without a queue")
	}
	if app.Relay == nil || app.Relay.Proxy != nil {
		t.Fatalf("expected in-process relay without RELAY_BACKEND_URL")
	}

	w := do(app, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestBuildRejectsMissingDatabaseInProduction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL in production")
	}
}

func TestGatedRoutesRequireToken(t *testing.T) {
	app := buildTestApp(t)

	paths := []string{"/lab/initialize", "/cover-letter", "/api/chat"}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			w := do(app, http.MethodPost, p, `{}`, nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), middleware.MsgTokenRequired) {
				t.Fatalf("unexpected body %s", w.Body.String())
			}
		})
	}

	w := do(app, http.MethodPost, "/api/chat", `{}`, http.Header{middleware.AccessTokenHeader: {"unknown"}})
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), middleware.MsgTokenInvalidated) {
		t.Fatalf("expected invalidated response, got %d %s", w.Code, w.Body.String())
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	app := buildTestApp(t)
	for _, p := range []string{"/api/admin/me", "/api/admin/tokens", "/api/admin/prompts", "/api/admin/progress-log", "/api/admin/health"} {
		if w := do(app, http.MethodGet, p, "", nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", p, w.Code)
		}
	}
}

func TestParticipantFlow(t *testing.T) {
	app := buildTestApp(t)
	app.Chat.LLM = echoLLM{}

	login := do(app, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"hunter2"}`, nil)
	adminCookie := cookieNamed(login, middleware.AdminCookie)
	if login.Code != http.StatusOK || adminCookie == nil {
		t.Fatalf("admin login failed: %d %s", login.Code, login.Body.String())
	}

	created := do(app, http.MethodPost, "/api/admin/tokens", `{"count":1,"note":"pilot"}`, nil, adminCookie)
	if created.Code != http.StatusCreated {
		t.Fatalf("create tokens: %d %s", created.Code, created.Body.String())
	}
	var tokensResp struct {
		Tokens []struct {
			Token string `json:"token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &tokensResp); err != nil || len(tokensResp.Tokens) != 1 {
		t.Fatalf("decode tokens: %v %s", err, created.Body.String())
	}
	token := tokensResp.Tokens[0].Token

	validated := do(app, http.MethodPost, "/lab/validate-token", `{"token":"`+token+`"}`, nil)
	tokenCookie := cookieNamed(validated, middleware.AccessTokenCookie)
	if validated.Code != http.StatusOK || tokenCookie == nil {
		t.Fatalf("validate: %d %s", validated.Code, validated.Body.String())
	}
	if again := do(app, http.MethodPost, "/lab/validate-token", `{"token":"`+token+`"}`, nil); again.Code != http.StatusUnauthorized {
		t.Fatalf("expected second validation to fail, got %d", again.Code)
	}

	chat := do(app, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hello"}]}`, nil, tokenCookie)
	if chat.Code != http.StatusOK || !strings.Contains(chat.Body.String(), "You said: hello") {
		t.Fatalf("chat: %d %s", chat.Code, chat.Body.String())
	}

	if w := do(app, http.MethodGet, "/lab/sessions/missing", "", nil, tokenCookie); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", w.Code)
	}

	if w := do(app, http.MethodGet, "/api/admin/sessions/export", "", nil, adminCookie); w.Code != http.StatusNotFound {
		t.Fatalf("expected empty export to 404, got %d", w.Code)
	}

	invalidated := do(app, http.MethodPost, "/api/admin/tokens/"+token+"/invalidate", "", nil, adminCookie)
	if invalidated.Code != http.StatusOK {
		t.Fatalf("invalidate: %d %s", invalidated.Code, invalidated.Body.String())
	}
	w := do(app, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hello"}]}`, nil, tokenCookie)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), middleware.MsgTokenInvalidated) {
		t.Fatalf("expected invalidated token to be rejected, got %d %s", w.Code, w.Body.String())
	}
}

func TestIdempotentReplay(t *testing.T) {
	app := buildTestApp(t)
	app.Chat.LLM = echoLLM{}

	items, err := app.Tokens.Generate(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	header := http.Header{
		middleware.AccessTokenHeader: {items[0].Token},
		middleware.IdempotencyHeader: {"key-1"},
	}
	body := `{"messages":[{"role":"user","content":"once"}]}`

	first := do(app, http.MethodPost, "/api/chat", body, header)
	if first.Code != http.StatusOK {
		t.Fatalf("first: %d %s", first.Code, first.Body.String())
	}
	second := do(app, http.MethodPost, "/api/chat", body, header)
	if second.Code != http.StatusOK || second.Header().Get(middleware.IdempotencyReplayHeader) != "true" {
		t.Fatalf("expected replayed response, got %d headers=%v", second.Code, second.Header())
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs: %s vs %s", second.Body.String(), first.Body.String())
	}
}

func TestAdminHealthReportsComponents(t *testing.T) {
	app := buildTestApp(t)
	report := app.Health.Check(context.Background())
	want := map[string]string{
		"database":     "disabled",
		"object_store": "ok",
		"llm":          "disabled",
		"queue":        "disabled",
		"idempotency":  "ok",
		"events":       "ok",
	}
	for name, status := range want {
		if report.Components[name] != status {
			t.Fatalf("%s: expected %s, got %q (%+v)", name, status, report.Components[name], report)
		}
	}
	if report.Status != "ok" {
		t.Fatalf("expected ok overall, got %s", report.Status)
	}
}
