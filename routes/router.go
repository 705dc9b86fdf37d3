package routes

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/basit/fileshare-workspaces/auth/middleware"
	"github.com/basit/fileshare-workspaces/handlers"
)

type RouterConfig struct {
	Handler     *handlers.Handler
	Verifier    middleware.Verifier
	Logger      logrus.FieldLogger
	CORSOrigins []string
	// RateLimitRPS <= 0 disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the gin engine. ctx bounds background work started by
// middleware.
func NewRouter(ctx context.Context, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(cfg.Logger), gin.Recovery())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if cfg.RateLimitRPS > 0 {
		router.Use(middleware.RateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	authRequired := middleware.AuthRequired(cfg.Verifier)
	authOptional := middleware.AuthOptional(cfg.Verifier)

	router.GET("/healthz", cfg.Handler.Health)

	api := router.Group("/api")
	RegisterUserRoutes(api, cfg.Handler, authRequired)
	RegisterWorkspaceRoutes(api, cfg.Handler, authRequired, authOptional)
	RegisterFileRoutes(api, cfg.Handler, authRequired, authOptional)

	return router
}
