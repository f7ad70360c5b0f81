package config

import (
	"strconv"
	"strings"
	"time"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) {
	setString(lookup, "APP_ENV", &cfg.Env)
	setString(lookup, "HOST", &cfg.Server.Host)
	setInt(lookup, "PORT", &cfg.Server.Port)
	setString(lookup, "PUBLIC_URL", &cfg.Server.PublicURL)
	setList(lookup, "CORS_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	setString(lookup, "DATABASE_URL", &cfg.Database.DSN)

	setString(lookup, "JWT_SECRET", &cfg.Auth.JWTSecret)
	setDuration(lookup, "JWT_TTL", &cfg.Auth.TokenTTL)
	setString(lookup, "ADMIN_BOOTSTRAP_CODE", &cfg.Auth.AdminBootstrapCode)

	setString(lookup, "ENCRYPTION_KEY", &cfg.Security.EncryptionKey)

	setString(lookup, "SMTP_HOST", &cfg.SMTP.Host)
	setInt(lookup, "SMTP_PORT", &cfg.SMTP.Port)
	setString(lookup, "SMTP_USERNAME", &cfg.SMTP.Username)
	setString(lookup, "SMTP_PASSWORD", &cfg.SMTP.Password)
	setString(lookup, "SMTP_FROM", &cfg.SMTP.From)

	setDuration(lookup, "RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	setInt(lookup, "RATE_LIMIT_MAX", &cfg.RateLimit.Max)
	setInt(lookup, "RATE_LIMIT_CHAT_MAX", &cfg.RateLimit.ChatMax)

	setString(lookup, "REDIS_URL", &cfg.Redis.URL)

	setDuration(lookup, "UPSTREAM_TIMEOUT", &cfg.Upstream.RequestTimeout)
	setInt(lookup, "USAGE_RETENTION_DAYS", &cfg.Usage.RetentionDays)
	setDuration(lookup, "RESET_SWEEP_INTERVAL", &cfg.Usage.ResetSweepInterval)

	setString(lookup, "LOG_LEVEL", &cfg.Logging.Level)
	setString(lookup, "LOG_FORMAT", &cfg.Logging.Format)
	setString(lookup, "LOG_FILE", &cfg.Logging.File)
}

func setString(lookup lookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(lookup lookupFunc, key string, dst *int) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

// setDuration accepts Go durations ("90s") or a bare number of seconds.
func setDuration(lookup lookupFunc, key string, dst *time.Duration) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

func setList(lookup lookupFunc, key string, dst *[]string) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
