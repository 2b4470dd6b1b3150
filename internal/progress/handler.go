package progress

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/server/respond"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// CompletedCounter reports how many sessions finished.
type CompletedCounter interface {
	CountCompleted(ctx context.Context) (int, error)
}

// Handler serves the admin progress log.
type Handler struct {
	Repo      Repo
	Completed CompletedCounter
}

func NewHandler(repo Repo, completed CompletedCounter) *Handler {
	return &Handler{Repo: repo, Completed: completed}
}

// RegisterRoutes attaches progress routes to an admin-only group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/progress-log", h.log)
}

func (h *Handler) log(c *gin.Context) {
	limit := defaultLogLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	events, err := h.Repo.Recent(c.Request.Context(), limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load progress log", nil)
		return
	}
	if events == nil {
		events = []Event{}
	}
	completed := 0
	if h.Completed != nil {
		completed, err = h.Completed.CountCompleted(c.Request.Context())
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to count completed sessions", nil)
			return
		}
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"events":    events,
		"completed": completed,
	})
}
