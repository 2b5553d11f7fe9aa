// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/frkb/fingerprint-sync-go/internal/application/container"
	"github.com/frkb/fingerprint-sync-go/internal/presentation/http/handlers"
	"github.com/frkb/fingerprint-sync-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(c *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	syncHandlers := handlers.NewSyncHandlers(c.SyncService, c.Logger, c.PerfTracker)
	adminHandlers := handlers.NewAdminHandlers(c.AdminService, c.SyncService, c.Logger)
	healthHandlers := handlers.NewHealthHandlers(c.DB)

	r.GET("/health", healthHandlers.Health)

	api := r.Group("/frkbapi/v1/fingerprint-sync")
	{
		api.POST("/check", syncHandlers.Check)
		api.POST("/bidirectional-diff", syncHandlers.BidirectionalDiff)
		api.POST("/add", syncHandlers.Add)
		api.POST("/analyze-diff", syncHandlers.AnalyzeDiff)
		api.POST("/pull-diff-page", syncHandlers.PullDiffPage)
		api.POST("/reset", syncHandlers.Reset)
		api.GET("/status", syncHandlers.Status)
		api.DELETE("/cache/:userKey", adminHandlers.ClearCache)
		api.DELETE("/lock/:userKey", middleware.AdminAuthMiddleware(), adminHandlers.ForceUnlock)
	}

	admin := r.Group("/frkbapi/v1/admin")
	{
		admin.POST("/login", adminHandlers.Login)

		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.GET("/user-keys", adminHandlers.ListUserKeys)
			admin.POST("/user-keys", adminHandlers.RegisterUserKey)
			admin.PUT("/user-keys/:userKey/active", adminHandlers.SetUserKeyActive)
			admin.GET("/service-stats", adminHandlers.ServiceStats)
		}
	}

	return r
}
