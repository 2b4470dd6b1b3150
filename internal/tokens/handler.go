package tokens

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/server/middleware"
	"letterlab-backend/internal/shared/server/respond"
)

// Handler wires token endpoints.
type Handler struct {
	Svc           *Service
	SecureCookies bool
}

func NewHandler(svc *Service, secureCookies bool) *Handler {
	return &Handler{Svc: svc, SecureCookies: secureCookies}
}

// RegisterPublicRoutes attaches the participant validation endpoint.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup, extra ...gin.HandlerFunc) {
	rg.POST("/validate-token", append(extra, h.validate)...)
}

// RegisterAdminRoutes attaches token administration to an admin-only group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/tokens", h.list)
	rg.POST("/tokens", h.create)
	rg.POST("/tokens/:token/invalidate", h.invalidate)
}

type validateRequest struct {
	Token string `json:"token"`
}

func (h *Handler) validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if err := h.Svc.Validate(c.Request.Context(), req.Token); err != nil {
		if errors.Is(err, ErrUnusable) {
			respond.Error(c, http.StatusUnauthorized, "invalid_token", "Invalid or used token", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to validate token", nil)
		return
	}
	middleware.SetTokenCookie(c, req.Token, h.SecureCookies)
	respond.OK(c, gin.H{"valid": true})
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.Svc.List(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list tokens", nil)
		return
	}
	if items == nil {
		items = []AccessToken{}
	}
	respond.OK(c, gin.H{"tokens": items})
}

type createRequest struct {
	Count int    `json:"count"`
	Note  string `json:"note"`
}

func (h *Handler) create(c *gin.Context) {
	req := createRequest{Count: 1}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	items, err := h.Svc.Generate(c.Request.Context(), req.Count, req.Note)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create tokens", nil)
		return
	}
	respond.Created(c, gin.H{"tokens": items})
}

func (h *Handler) invalidate(c *gin.Context) {
	err := h.Svc.Invalidate(c.Request.Context(), c.Param("token"))
	switch {
	case err == nil:
		respond.OK(c, gin.H{"invalidated": true})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "token not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to invalidate token", nil)
	}
}
