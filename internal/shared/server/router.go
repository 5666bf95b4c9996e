package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docstore-backend/internal/documents"
	"docstore-backend/internal/ingest"
	"docstore-backend/internal/shared/auth"
	"docstore-backend/internal/shared/config"
	"docstore-backend/internal/shared/metrics"
	"docstore-backend/internal/shared/server/middleware"
	"docstore-backend/internal/shared/server/respond"
)

const (
	rateGroupPoll   = "POLL"
	rateGroupSubmit = "SUBMIT"
)

// RouterDeps carries the handlers and settings the router mounts.
type RouterDeps struct {
	Config          config.Config
	Keys            *auth.Keyring
	DocumentHandler *documents.Handler
	IngestHandler   *ingest.Handler
	Limiter         *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/health", health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", health)

	secured := api.Group("")
	secured.Use(
		middleware.Auth(deps.Keys),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rateRules(),
			GroupFor: rateGroup,
			Limiter:  deps.Limiter,
		}),
	)
	registerMeRoutes(secured)
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(secured)
	}
	if deps.IngestHandler != nil {
		deps.IngestHandler.RegisterRoutes(secured)
	}

	return r
}

func health(c *gin.Context) {
	respond.JSON(c, http.StatusOK, gin.H{"ok": true})
}

// rateRules allows frequent status polling while keeping uploads and other calls tighter.
func rateRules() map[string]middleware.RateLimitRule {
	return map[string]middleware.RateLimitRule{
		rateGroupPoll:   {Rate: 5, Burst: 20},
		rateGroupSubmit: {Rate: 1, Burst: 10},
		"DEFAULT":       {Rate: 2, Burst: 30},
	}
}

func rateGroup(c *gin.Context) string {
	route := c.FullPath()
	switch {
	case c.Request.Method == http.MethodGet && strings.HasPrefix(route, "/api/v1/ingestions/"):
		return rateGroupPoll
	case c.Request.Method == http.MethodPost && route == "/api/v1/ingestions":
		return rateGroupSubmit
	default:
		return ""
	}
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
