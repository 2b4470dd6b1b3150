package prompts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/server/middleware"
	"letterlab-backend/internal/shared/server/respond"
)

// Handler exposes prompt management to admins.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches prompt routes to an admin-only group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/prompts", h.list)
	rg.PUT("/prompts/:type", h.update)
	rg.GET("/prompts/:type/history", h.history)
	rg.POST("/prompts/:type/revert", h.revert)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.Svc.ListActive(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list prompts", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"prompts": items})
}

type updateRequest struct {
	Content string `json:"content"`
}

func (h *Handler) update(c *gin.Context) {
	t, ok := ParseType(c.Param("type"))
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "unknown prompt type", nil)
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	tmpl, err := h.Svc.Update(c.Request.Context(), t, req.Content, middleware.AdminFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, tmpl)
}

func (h *Handler) history(c *gin.Context) {
	t, ok := ParseType(c.Param("type"))
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "unknown prompt type", nil)
		return
	}
	items, err := h.Svc.History(c.Request.Context(), t)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"history": items})
}

type revertRequest struct {
	Version int `json:"version"`
}

func (h *Handler) revert(c *gin.Context) {
	t, ok := ParseType(c.Param("type"))
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "unknown prompt type", nil)
		return
	}
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	tmpl, err := h.Svc.Revert(c.Request.Context(), t, req.Version, middleware.AdminFromContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, tmpl)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownType):
		respond.Error(c, http.StatusNotFound, "not_found", "prompt not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update prompt", nil)
	}
}
