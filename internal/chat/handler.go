package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/shared/server/respond"
)

const msgInvalidMessages = "Invalid or missing 'messages' array"

// Handler wires the chat endpoint.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/chat", h.chat)
}

type chatRequest struct {
	Messages  []llm.Message `json:"messages"`
	Draft     string        `json:"draft"`
	SessionID string        `json:"session_id"`
	Label     string        `json:"label"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", msgInvalidMessages, nil)
		return
	}
	reply, err := h.Svc.Reply(c.Request.Context(), Turn{
		Messages:  req.Messages,
		Draft:     req.Draft,
		SessionID: req.SessionID,
		Label:     req.Label,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", msgInvalidMessages, nil)
		case errors.Is(err, llm.ErrDisabled):
			respond.Error(c, http.StatusServiceUnavailable, "llm_disabled", "text generation is not configured", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "generation_failed", err.Error(), nil)
		}
		return
	}
	if req.SessionID != "" {
		c.Set("sessionId", req.SessionID)
	}
	c.Set("progressEvent", progress.EventChatTurn)
	respond.OK(c, gin.H{"message": reply})
}
