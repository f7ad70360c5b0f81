// Package admin registers the administrator API under /api/admin.
package admin

import (
	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/codes"
	internalhttp "github.com/fimai/fimai-chat/internal/http"
	"github.com/fimai/fimai-chat/internal/http/api/admin/handlers"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the services the admin routes need.
type Deps struct {
	DB        *gorm.DB
	JWTSecret string
	Codes     *codes.Service
	Gate      *permission.Gate
	Catalog   *catalog.Catalog
}

// RegisterAdminRoutes registers /healthz and the admin API.
func RegisterAdminRoutes(r *gin.Engine, d Deps) {
	if r == nil || d.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(d.DB)
	r.GET("/healthz", healthHandler.Healthz)

	group := r.Group("/api/admin")
	group.Use(internalhttp.UserAuthMiddleware(d.DB, d.JWTSecret))
	group.Use(adminPermissionMiddleware())

	group.GET("/permissions", handlers.ListPermissions)

	providerHandler := handlers.NewProviderHandler(d.Catalog)
	group.GET("/providers", providerHandler.List)
	group.POST("/providers", providerHandler.Create)
	group.GET("/providers/:id", providerHandler.Get)
	group.PUT("/providers/:id", providerHandler.Update)
	group.DELETE("/providers/:id", providerHandler.Delete)
	group.POST("/providers/:id/sync-models", providerHandler.SyncModels)

	modelHandler := handlers.NewModelHandler(d.Catalog)
	group.GET("/models", modelHandler.List)
	group.POST("/models", modelHandler.Create)
	group.GET("/models/:id", modelHandler.Get)
	group.PUT("/models/:id", modelHandler.Update)
	group.DELETE("/models/:id", modelHandler.Delete)

	userHandler := handlers.NewUserHandler(d.DB, d.Gate)
	group.GET("/users", userHandler.List)
	group.GET("/users/:id", userHandler.Get)
	group.PATCH("/users/:id", userHandler.Update)
	group.DELETE("/users/:id", userHandler.Delete)
	group.GET("/users/:id/permission", userHandler.GetPermission)
	group.PUT("/users/:id/permission", userHandler.UpdatePermission)
	group.POST("/users/:id/permission/reset", userHandler.ResetPermission)

	codeHandler := handlers.NewCodeHandler(d.Codes)
	group.GET("/invite-codes", codeHandler.ListInvites)
	group.POST("/invite-codes", codeHandler.CreateInvite)
	group.DELETE("/invite-codes/:id", codeHandler.DeleteInvite)
	group.GET("/access-codes", codeHandler.ListAccess)
	group.DELETE("/access-codes/:id", codeHandler.DeleteAccess)

	usageHandler := handlers.NewUsageHandler(d.DB)
	group.GET("/token-usage", usageHandler.List)
	group.GET("/token-usage/stats", usageHandler.Stats)

	settingsHandler := handlers.NewSettingsHandler(d.DB)
	group.GET("/system-settings", settingsHandler.Get)
	group.PUT("/system-settings", settingsHandler.Put)
}
