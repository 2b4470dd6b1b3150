package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/admin"
	"letterlab-backend/internal/chat"
	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/prompts"
	"letterlab-backend/internal/relay"
	"letterlab-backend/internal/shared/config"
	"letterlab-backend/internal/shared/idempotency"
	"letterlab-backend/internal/shared/metrics"
	"letterlab-backend/internal/shared/server/middleware"
	"letterlab-backend/internal/shared/server/respond"
	"letterlab-backend/internal/tokens"
)

// RouterDeps carries the handlers mounted by NewRouter.
type RouterDeps struct {
	Config       config.Config
	TokenChecker middleware.TokenChecker
	Idempotency  idempotency.Store
	Sessions     *labsessions.Handler
	Chat         *chat.Handler
	Tokens       *tokens.Handler
	Prompts      *prompts.Handler
	Progress     *progress.Handler
	Admin        *admin.Handler
	Relay        *relay.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", metrics.Handler())

	participant := []gin.HandlerFunc{
		middleware.AccessToken(deps.TokenChecker),
		middleware.Idempotency(deps.Idempotency),
	}

	lab := r.Group("/lab")
	deps.Tokens.RegisterPublicRoutes(lab, middleware.RateLimit(middleware.RateLimitRule{
		Rate:  deps.Config.TokenValidateRate,
		Burst: deps.Config.TokenValidateBurst,
	}, nil))
	deps.Sessions.RegisterRoutes(lab.Group("", participant...))
	deps.Sessions.RegisterCoverLetterRoute(r.Group("", participant...))

	api := r.Group("/api")
	deps.Chat.RegisterRoutes(api.Group("", participant...))
	if deps.Relay != nil {
		deps.Relay.RegisterRoutes(api.Group("/resume", participant...))
	}

	adminAPI := api.Group("/admin")
	deps.Admin.RegisterPublicRoutes(adminAPI)
	protected := adminAPI.Group("", middleware.AdminSession())
	deps.Admin.RegisterRoutes(protected)
	deps.Tokens.RegisterAdminRoutes(protected)
	deps.Prompts.RegisterRoutes(protected)
	deps.Progress.RegisterRoutes(protected)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
