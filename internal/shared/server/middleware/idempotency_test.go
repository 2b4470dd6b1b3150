package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/idempotency"
)

func TestIdempotencyReplaysCompletedRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.Use(Idempotency(idempotency.NewMemoryStore(time.Minute)))
	router.POST("/lab/save-iteration-data", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/lab/save-iteration-data", nil)
		req.Header.Set(IdempotencyHeader, "abc")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	second := send()
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected codes %d/%d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body mismatch: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(IdempotencyReplayHeader) != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.Use(Idempotency(idempotency.NewMemoryStore(time.Minute)))
	router.POST("/lab/regenerate-bullet", func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/lab/regenerate-bullet", nil)
		req.Header.Set(IdempotencyHeader, "retry-me")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected retry after failure to run handler, calls=%d", calls)
	}
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.Use(Idempotency(idempotency.NewMemoryStore(time.Minute)))
	router.POST("/lab/initialize", func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})
	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/lab/initialize", nil))
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestIdempotencyReleasesKeyAfterPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.Use(Recovery(), Idempotency(idempotency.NewMemoryStore(time.Minute)))
	router.POST("/lab/save-iteration-data", func(c *gin.Context) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/lab/save-iteration-data", nil)
		req.Header.Set(IdempotencyHeader, "after-panic")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	if first := send(); first.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d, want 500", first.Code)
	}
	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("retry after panic status = %d body=%s, want 201", second.Code, second.Body.String())
	}
	if calls != 2 {
		t.Fatalf("expected handler to run again after panic, calls=%d", calls)
	}
}
