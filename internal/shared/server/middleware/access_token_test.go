package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeChecker map[string]bool

func (f fakeChecker) IsActive(ctx context.Context, token string) (bool, error) {
	return f[token], nil
}

func TestAccessTokenRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AccessToken(fakeChecker{"good": true, "revoked": false}))
	router.GET("/lab/sessions/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": AccessTokenFromContext(c)})
	})

	cases := []struct {
		name    string
		header  string
		cookie  string
		status  int
		message string
	}{
		{name: "missing", status: http.StatusUnauthorized, message: MsgTokenRequired},
		{name: "invalidated", header: "revoked", status: http.StatusUnauthorized, message: MsgTokenInvalidated},
		{name: "unknown", header: "nope", status: http.StatusUnauthorized, message: MsgTokenInvalidated},
		{name: "header", header: "good", status: http.StatusOK},
		{name: "cookie", cookie: "good", status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/lab/sessions/s1", nil)
			if tc.header != "" {
				req.Header.Set(AccessTokenHeader, tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tc.cookie})
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			if tc.message == "" {
				return
			}
			var payload struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.Error.Message != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, payload.Error.Message)
			}
		})
	}
}

func TestTokenRefIsStableAndShort(t *testing.T) {
	a := TokenRef("secret-token")
	if a != TokenRef("secret-token") {
		t.Fatalf("token ref not stable")
	}
	if len(a) != 12 || a == "secret-token" {
		t.Fatalf("unexpected token ref %q", a)
	}
}
