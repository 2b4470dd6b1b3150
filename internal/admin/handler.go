package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/shared/auth"
	"letterlab-backend/internal/shared/server/middleware"
	"letterlab-backend/internal/shared/server/respond"
	"letterlab-backend/internal/shared/telemetry"
)

// SessionLister returns every stored session document.
type SessionLister interface {
	List(ctx context.Context) ([]labsessions.Session, error)
}

// Credentials identify the single password-based admin account.
type Credentials struct {
	Username     string
	PasswordHash string
}

// NewCredentials prefers an explicit bcrypt hash and otherwise hashes the
// plaintext password once. With neither set, password login is disabled.
func NewCredentials(username, password, passwordHash string) (Credentials, error) {
	creds := Credentials{Username: strings.TrimSpace(username), PasswordHash: strings.TrimSpace(passwordHash)}
	if creds.PasswordHash == "" && password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return Credentials{}, err
		}
		creds.PasswordHash = hash
	}
	return creds, nil
}

func (c Credentials) check(username, password string) bool {
	if c.Username == "" || c.PasswordHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(username)) == 1
	pwErr := auth.CheckPassword(c.PasswordHash, password)
	return userOK && pwErr == nil
}

// Handler serves the admin session and reporting endpoints.
type Handler struct {
	Creds         Credentials
	Sessions      SessionLister
	Health        *Health
	Google        *GoogleService
	SecureCookies bool
}

func NewHandler(creds Credentials, sessions SessionLister, health *Health, secureCookies bool) *Handler {
	return &Handler{Creds: creds, Sessions: sessions, Health: health, SecureCookies: secureCookies}
}

// RegisterPublicRoutes attaches the sign-in endpoints, which must stay
// outside the admin session middleware.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/login", h.login)
	rg.POST("/logout", h.logout)
	if h.Google != nil {
		h.Google.RegisterRoutes(rg)
	}
}

// RegisterRoutes attaches routes that require an admin session.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
	rg.GET("/sessions/export", h.export)
	rg.GET("/health", h.health)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
		return
	}
	if !h.Creds.check(req.Username, req.Password) {
		telemetry.Warn("admin.login.rejected", map[string]any{
			"request_id": c.GetString("requestId"),
			"client_ip":  c.ClientIP(),
		})
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
		return
	}

	jwt, err := auth.SignJWT(auth.Claims{
		Sub:    "admin:" + h.Creds.Username,
		Name:   h.Creds.Username,
		Method: "password",
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue session", nil)
		return
	}
	middleware.SetAdminCookie(c, jwt, h.SecureCookies)
	telemetry.Info("admin.login", map[string]any{
		"request_id": c.GetString("requestId"),
		"method":     "password",
	})
	respond.OK(c, gin.H{"status": "logged_in"})
}

func (h *Handler) logout(c *gin.Context) {
	middleware.ClearAdminCookie(c, h.SecureCookies)
	respond.OK(c, gin.H{"status": "logged_out"})
}

func (h *Handler) me(c *gin.Context) {
	sub := middleware.AdminFromContext(c)
	if sub == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
		return
	}
	resp := gin.H{"sub": sub}
	if email := c.GetString("adminEmail"); email != "" {
		resp["email"] = email
	}
	respond.OK(c, resp)
}

func (h *Handler) export(c *gin.Context) {
	sessions, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load sessions", nil)
		return
	}
	if len(sessions) == 0 {
		respond.Error(c, http.StatusNotFound, "not_found", "No sessions found", nil)
		return
	}
	data, err := SessionsCSV(sessions)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to build export", nil)
		return
	}
	telemetry.Info("admin.sessions.export", map[string]any{
		"request_id": c.GetString("requestId"),
		"admin":      middleware.AdminFromContext(c),
		"sessions":   len(sessions),
	})
	respond.Attachment(c, "sessions.csv", "text/csv", data)
}

func (h *Handler) health(c *gin.Context) {
	if h.Health == nil {
		respond.OK(c, gin.H{"status": StatusOK, "components": map[string]string{}})
		return
	}
	report := h.Health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status != StatusOK {
		status = http.StatusServiceUnavailable
	}
	respond.JSON(c, status, report)
}

var errNotAllowed = errors.New("account not allowed")
