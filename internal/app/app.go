// Package app wires configuration, storage and HTTP routes into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/config"
	"github.com/fimai/fimai-chat/internal/db"
	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/fimai/fimai-chat/internal/permission"
	"github.com/fimai/fimai-chat/internal/security"
	"github.com/fimai/fimai-chat/internal/settings"
	"github.com/fimai/fimai-chat/internal/usage"
	"github.com/fimai/fimai-chat/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	devSecretLength         = 48
	settingsRefreshInterval = time.Minute
)

// Options are the command line inputs.
type Options struct {
	ConfigPath string
}

// resolveConfigPath mirrors config.Load's fallback so the watcher sees the same file.
func resolveConfigPath(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv("FIMAI_CONFIG"))
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(conn)

	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return fmt.Errorf("migrate: %w", errMigrate)
	}
	log.Info("database migrated")
	return nil
}

// RunServer boots the HTTP server and background tasks and blocks until ctx is
// cancelled or the listener fails.
func RunServer(ctx context.Context, opts Options) error {
	configPath := resolveConfigPath(opts.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if cfg.Auth.JWTSecret == "" {
		secret, errSecret := security.GenerateRandomString(devSecretLength)
		if errSecret != nil {
			return fmt.Errorf("generate jwt secret: %w", errSecret)
		}
		cfg.Auth.JWTSecret = secret
		log.Warn("JWT_SECRET is not set; using a random secret, sessions will not survive a restart")
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(conn)
	if errMigrate := db.Migrate(conn.WithContext(ctx)); errMigrate != nil {
		return fmt.Errorf("migrate: %w", errMigrate)
	}
	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		return errSettings
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	engine, err := NewRouter(cfg, conn, store)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	usage.NewRetentionCleaner(conn, cfg.Usage.RetentionDays, cfg.Usage.RetentionInterval).Start(gctx)
	permission.NewResetSweeper(conn, cfg.Usage.ResetSweepInterval).Start(gctx)
	if errWatch := watcher.NewConfigWatcher(configPath, watcher.ApplyRuntime).Start(gctx); errWatch != nil {
		log.WithError(errWatch).Warn("config watcher disabled")
	}

	g.Go(func() error {
		refreshSettings(gctx, conn)
		return nil
	})
	g.Go(func() error {
		log.Infof("fimai listening on %s (env=%s, database=%s)", srv.Addr, cfg.Env, db.DialectName(conn))
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", errServe)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("http shutdown: %w", errShutdown)
		}
		return nil
	})
	return g.Wait()
}

func setupLogging(cfg *config.Config) (io.Closer, error) {
	return logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.Format == "json",
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	conn, err := db.Open(cfg.Database.DSN, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}

func closeDatabase(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil {
		return
	}
	if errClose := sqlDB.Close(); errClose != nil {
		log.WithError(errClose).Warn("close database")
	}
}

// openStore connects to Redis when configured and falls back to process memory.
func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	url := strings.TrimSpace(cfg.Redis.URL)
	if url == "" {
		log.Info("REDIS_URL not set; rate limits and one-time tokens are kept in memory")
		return kv.NewMemoryStore(), nil
	}
	store, err := kv.NewRedisStore(ctx, url, cfg.Redis.KeyPrefix)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// refreshSettings reloads admin settings periodically so writes made by other
// instances become visible.
func refreshSettings(ctx context.Context, conn *gorm.DB) {
	ticker := time.NewTicker(settingsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := settings.RefreshDBConfigSnapshot(ctx, conn); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("refresh settings snapshot")
			}
		}
	}
}
