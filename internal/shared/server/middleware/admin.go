package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/auth"
	"letterlab-backend/internal/shared/server/respond"
)

const (
	adminSubKey = "adminSub"

	// AdminCookie holds the signed admin session.
	AdminCookie = "ll_admin"
)

// AdminSession requires a valid admin session cookie.
func AdminSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		raw, err := c.Cookie(AdminCookie)
		if err != nil || raw == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
			return
		}
		claims, err := auth.VerifyJWT(raw)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
			return
		}
		c.Set(adminSubKey, claims.Sub)
		if claims.Email != "" {
			c.Set("adminEmail", claims.Email)
		}
		c.Next()
	}
}

// AdminFromContext fetches the admin subject set by AdminSession.
func AdminFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(adminSubKey)
	if sub, ok := val.(string); ok {
		return sub
	}
	return ""
}

// SetAdminCookie stores a signed admin session on the response.
func SetAdminCookie(c *gin.Context, jwt string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AdminCookie, jwt, 12*3600, "/", "", secure, true)
}

// ClearAdminCookie expires the admin session cookie.
func ClearAdminCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AdminCookie, "", -1, "/", "", secure, true)
}
