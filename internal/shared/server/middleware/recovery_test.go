package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/metrics"
)

func TestRecoveryReturnsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.POST("/lab/generate-bse-bullets", func(c *gin.Context) {
		panic("nil provider")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/lab/generate-bse-bullets", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "internal" {
		t.Fatalf("code = %q", body.Error.Code)
	}
	if !strings.Contains(metrics.Render(), "letterlab_panics_total") {
		t.Fatalf("panic counter not exported")
	}
}

func TestRecoveryKeepsPartialResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery())
	r.GET("/api/admin/export", func(c *gin.Context) {
		c.String(http.StatusOK, "session_id,")
		panic("row scan")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/admin/export", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected the already written status, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "Unexpected server error") {
		t.Fatalf("envelope must not be appended to a started body")
	}
}
