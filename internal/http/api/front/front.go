package front

import (
	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/codes"
	"github.com/fimai/fimai-chat/internal/config"
	internalhttp "github.com/fimai/fimai-chat/internal/http"
	"github.com/fimai/fimai-chat/internal/http/api/front/handlers"
	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/mailer"
	"github.com/fimai/fimai-chat/internal/models"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/fimai/fimai-chat/internal/ratelimit"
	"github.com/fimai/fimai-chat/internal/upstream"
	"github.com/fimai/fimai-chat/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the services the front routes need.
type Deps struct {
	DB        *gorm.DB
	Auth      config.AuthConfig
	PublicURL string

	Codes    *codes.Service
	Gate     *permission.Gate
	Catalog  *catalog.Catalog
	Upstream *upstream.Client
	Recorder *usage.Recorder
	Store    kv.Store
	Mailer   mailer.Sender

	// AuthLimiter guards the unauthenticated auth routes per client IP.
	AuthLimiter *ratelimit.Limiter
	// ChatLimiter guards chat per user.
	ChatLimiter *ratelimit.Limiter
}

// RegisterFrontRoutes registers public and authenticated user routes under /api.
func RegisterFrontRoutes(r *gin.Engine, d Deps) {
	if r == nil || d.DB == nil {
		return
	}

	api := r.Group("/api")

	configHandler := handlers.NewConfigHandler(d.Codes)
	api.GET("/config", configHandler.GetPublicConfig)

	authHandler := handlers.NewAuthHandler(d.DB, d.Auth, d.Codes, d.Store, d.Mailer, d.PublicURL)
	public := api.Group("/auth")
	public.Use(ratelimit.Middleware(d.AuthLimiter, ratelimit.ByClientIP))
	public.POST("/register", authHandler.Register)
	public.POST("/login", authHandler.Login)
	public.POST("/login/totp", authHandler.LoginTOTP)
	public.POST("/guest", authHandler.Guest)
	public.POST("/forgot-password", authHandler.ForgotPassword)
	public.POST("/reset-password", authHandler.ResetPassword)

	authed := api.Group("")
	authed.Use(internalhttp.UserAuthMiddleware(d.DB, d.Auth.JWTSecret))

	profileHandler := handlers.NewProfileHandler(d.DB)
	authed.GET("/auth/me", profileHandler.Get)
	authed.PUT("/profile/password", profileHandler.ChangePassword)

	mfaHandler := handlers.NewMFAHandler(d.DB, d.Store, d.Auth.TOTPIssuer)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	settingsHandler := handlers.NewUserSettingsHandler(d.DB)
	authed.GET("/settings", settingsHandler.Get)
	authed.PUT("/settings", settingsHandler.Put)

	permissionHandler := handlers.NewPermissionHandler(d.DB, d.Gate)
	authed.GET("/permission", permissionHandler.Get)

	modelHandler := handlers.NewModelHandler(d.Catalog, d.Gate)
	authed.GET("/models", modelHandler.List)

	chatHandler := handlers.NewChatHandler(d.DB, d.Gate, d.Catalog, d.Upstream, d.Recorder)
	authed.POST("/chat", ratelimit.Middleware(d.ChatLimiter, internalhttp.ByUserID), chatHandler.Chat)

	conversationHandler := handlers.NewConversationHandler(d.DB)
	authed.GET("/conversations", conversationHandler.List)
	authed.POST("/conversations", conversationHandler.Create)
	authed.GET("/conversations/:id", conversationHandler.Get)
	authed.PATCH("/conversations/:id", conversationHandler.Update)
	authed.DELETE("/conversations/:id", conversationHandler.Delete)
	authed.GET("/conversations/:id/messages", conversationHandler.ListMessages)
	authed.POST("/conversations/:id/messages", conversationHandler.CreateMessage)
	authed.DELETE("/messages/:id", conversationHandler.DeleteMessage)

	usageHandler := handlers.NewUsageHandler(d.DB)
	authed.GET("/token-usage", usageHandler.List)
	authed.GET("/token-usage/stats", usageHandler.Stats)

	accessCodeHandler := handlers.NewAccessCodeHandler(d.Codes)
	hosts := authed.Group("/access-codes")
	hosts.Use(internalhttp.RequireRole(models.RoleUser, models.RoleAdmin))
	hosts.GET("", accessCodeHandler.List)
	hosts.POST("", accessCodeHandler.Create)
	hosts.PATCH("/:id", accessCodeHandler.Update)
	hosts.DELETE("/:id", accessCodeHandler.Delete)
}
