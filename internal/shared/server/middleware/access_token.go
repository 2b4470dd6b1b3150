package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/server/respond"
	"letterlab-backend/internal/shared/util"
)

const (
	accessTokenKey = "accessToken"
	tokenRefKey    = "tokenRef"

	// AccessTokenHeader carries the participant access token.
	AccessTokenHeader = "X-Access-Token"
	// AccessTokenCookie is set by token validation for browser clients.
	AccessTokenCookie = "ll_token"

	// MsgTokenRequired and MsgTokenInvalidated are the 401 messages clients
	// match on to wipe local state.
	MsgTokenRequired    = "Access denied. Token required."
	MsgTokenInvalidated = "Token has been invalidated."
)

// TokenChecker reports whether an access token may be used for gated calls.
type TokenChecker interface {
	IsActive(ctx context.Context, token string) (bool, error)
}

// AccessToken requires a valid, non-invalidated participant token.
func AccessToken(checker TokenChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		token := TokenFromRequest(c)
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "token_required", MsgTokenRequired, nil)
			return
		}
		c.Set(tokenRefKey, TokenRef(token))

		active, err := checker.IsActive(c.Request.Context(), token)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to verify token", nil)
			return
		}
		if !active {
			clearTokenCookie(c)
			respond.Error(c, http.StatusUnauthorized, "token_invalidated", MsgTokenInvalidated, nil)
			return
		}

		c.Set(accessTokenKey, token)
		c.Next()
	}
}

// TokenFromRequest reads the token from the header, falling back to the cookie.
func TokenFromRequest(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(AccessTokenHeader)); token != "" {
		return token
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

// AccessTokenFromContext fetches the token stored by AccessToken.
func AccessTokenFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(accessTokenKey)
	if token, ok := val.(string); ok {
		return token
	}
	return ""
}

// TokenRef returns a short, log-safe reference for a token.
func TokenRef(token string) string {
	return util.HashKey(token)[:12]
}

// SetTokenCookie stores the participant token for browser clients.
func SetTokenCookie(c *gin.Context, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessTokenCookie, token, 7*24*3600, "/", "", secure, true)
}

func clearTokenCookie(c *gin.Context) {
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", false, true)
}
