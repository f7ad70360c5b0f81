package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/catalog"
	"github.com/fimai/fimai-chat/internal/codes"
	"github.com/fimai/fimai-chat/internal/config"
	"github.com/fimai/fimai-chat/internal/http/api/admin"
	"github.com/fimai/fimai-chat/internal/http/api/front"
	"github.com/fimai/fimai-chat/internal/http/respond"
	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/fimai/fimai-chat/internal/mailer"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/fimai/fimai-chat/internal/ratelimit"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/fimai/fimai-chat/internal/upstream"
	"github.com/fimai/fimai-chat/internal/usage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NewRouter builds the services and the gin engine serving every route.
func NewRouter(cfg *config.Config, conn *gorm.DB, store kv.Store) (*gin.Engine, error) {
	switch {
	case cfg.IsProduction():
		gin.SetMode(gin.ReleaseMode)
	case cfg.Env == config.EnvTest:
		gin.SetMode(gin.TestMode)
	}
	respond.SetExposeDetail(cfg.IsDevelopment())

	cipher, err := security.NewFieldCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}
	client := upstream.NewClient(cfg.Upstream.ConnectTimeout, cfg.Upstream.RequestTimeout)
	cat := catalog.New(conn, store, cipher, client, cfg.Upstream.ModelCacheTTL)
	gate := permission.NewGate(conn, cat)
	codeService := codes.NewService(conn, cfg.Auth.AdminBootstrapCode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.RequestIDMiddleware())
	engine.Use(logging.AccessLogMiddleware("/healthz"))
	if mw := corsMiddleware(cfg.Server.AllowedOrigins); mw != nil {
		engine.Use(mw)
	}
	if errProxies := engine.SetTrustedProxies(cfg.RateLimit.TrustedCIDR); errProxies != nil {
		return nil, fmt.Errorf("trusted proxies: %w", errProxies)
	}

	front.RegisterFrontRoutes(engine, front.Deps{
		DB:        conn,
		Auth:      cfg.Auth,
		PublicURL: cfg.Server.PublicURL,
		Codes:     codeService,
		Gate:      gate,
		Catalog:   cat,
		Upstream:  client,
		Recorder:  usage.NewRecorder(conn),
		Store:     store,
		Mailer: mailer.New(mailer.Options{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}),
		AuthLimiter: ratelimit.New(store, "auth", cfg.RateLimit.Window, cfg.RateLimit.Max),
		ChatLimiter: ratelimit.New(store, "chat", cfg.RateLimit.Window, cfg.RateLimit.ChatMax),
	})
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:        conn,
		JWTSecret: cfg.Auth.JWTSecret,
		Codes:     codeService,
		Gate:      gate,
		Catalog:   cat,
	})

	engine.NoRoute(func(c *gin.Context) {
		respond.Error(c, http.StatusNotFound, "not found")
	})
	return engine, nil
}

// corsMiddleware returns nil when no origins are configured, which keeps the
// API same-origin only. A single "*" allows any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			cleaned = append(cleaned, origin)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", logging.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if len(cleaned) == 1 && cleaned[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = cleaned
	}
	return cors.New(cfg)
}
