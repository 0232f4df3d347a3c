package api

import (
	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/crawldesk/internal/api/admin"
	"github.com/liliang-cn/crawldesk/internal/api/middleware"
	"github.com/liliang-cn/crawldesk/internal/api/session"
	"github.com/liliang-cn/crawldesk/internal/service"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
	Logger       *zap.Logger
}

// SetupRouter sets up the Gin router. adminService may be nil when the
// local cache is disabled.
func SetupRouter(
	sess session.Session,
	adminService *service.AdminService,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(cfg.Logger))

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins, r.Routes))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	sessionHandler := session.NewHandler(sess)

	// Render helpers (public, stateless)
	sessionHandler.RegisterPreviewRoutes(r.Group("/api"))

	// Session API (requires API key when configured)
	sessionGroup := r.Group("/api/session")
	sessionGroup.Use(middleware.Auth(cfg.APIKey))
	sessionHandler.RegisterRoutes(sessionGroup)

	// Cache admin API (requires API key)
	if adminService != nil {
		adminHandler := admin.NewHandler(adminService)
		adminGroup := r.Group("/api/admin")
		adminGroup.Use(middleware.Auth(cfg.APIKey))
		adminHandler.RegisterRoutes(adminGroup)
	}

	return r
}
