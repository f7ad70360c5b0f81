// Package config loads process configuration from a YAML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environments accepted in Config.Env.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// DefaultAdminBootstrapCode registers the first administrator while no ADMIN exists.
const DefaultAdminBootstrapCode = "FIMAI-ADMIN-BOOTSTRAP"

// minJWTSecretLength is enforced in production.
const minJWTSecretLength = 32

// Config is the full process configuration.
type Config struct {
	Env string `yaml:"env" validate:"oneof=development production test"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Security  SecurityConfig  `yaml:"security"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Usage     UsageConfig     `yaml:"usage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	PublicURL       string        `yaml:"public_url" validate:"omitempty,url"`
}

// DatabaseConfig selects the database and tunes its pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"min=0"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" validate:"min=0"`
}

// AuthConfig controls token issuance and onboarding.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenTTL           time.Duration `yaml:"token_ttl" validate:"gt=0"`
	GuestTokenTTL      time.Duration `yaml:"guest_token_ttl" validate:"gt=0"`
	AdminBootstrapCode string        `yaml:"admin_bootstrap_code" validate:"required"`
	ResetTokenTTL      time.Duration `yaml:"reset_token_ttl" validate:"gt=0"`
	TOTPIssuer         string        `yaml:"totp_issuer"`
}

// SecurityConfig holds field encryption settings.
type SecurityConfig struct {
	// EncryptionKey encrypts provider API keys at rest. Empty stores them as given.
	EncryptionKey string `yaml:"encryption_key"`
}

// SMTPConfig configures outbound mail. An empty host disables mail.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"omitempty,email"`
}

// RateLimitConfig bounds requests per client within a fixed window.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" validate:"gt=0"`
	Max         int           `yaml:"max" validate:"min=0"`
	ChatMax     int           `yaml:"chat_max" validate:"min=0"`
	TrustedCIDR []string      `yaml:"trusted_proxies"`
}

// RedisConfig selects the shared key/value store. An empty URL keeps state in process.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// UpstreamConfig tunes calls to model providers.
type UpstreamConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	ModelCacheTTL  time.Duration `yaml:"model_cache_ttl" validate:"min=0"`
}

// UsageConfig controls usage bookkeeping background tasks.
type UsageConfig struct {
	RetentionDays      int           `yaml:"retention_days" validate:"min=0"`
	RetentionInterval  time.Duration `yaml:"retention_interval" validate:"gt=0"`
	ResetSweepInterval time.Duration `yaml:"reset_sweep_interval" validate:"min=0"`
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format     string `yaml:"format" validate:"omitempty,oneof=text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool { return c != nil && c.Env == EnvProduction }

// IsDevelopment reports whether internal error detail may be exposed.
func (c *Config) IsDevelopment() bool { return c != nil && c.Env == EnvDevelopment }

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           "file:data/fimai.db",
			SlowThreshold: time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:           7 * 24 * time.Hour,
			GuestTokenTTL:      24 * time.Hour,
			AdminBootstrapCode: DefaultAdminBootstrapCode,
			ResetTokenTTL:      30 * time.Minute,
			TOTPIssuer:         "fimai",
		},
		SMTP: SMTPConfig{Port: 587},
		RateLimit: RateLimitConfig{
			Window:  time.Minute,
			Max:     20,
			ChatMax: 60,
		},
		Redis: RedisConfig{KeyPrefix: "fimai:"},
		Upstream: UpstreamConfig{
			RequestTimeout: 5 * time.Minute,
			ConnectTimeout: 10 * time.Second,
			ModelCacheTTL:  time.Minute,
		},
		Usage: UsageConfig{
			RetentionDays:     0,
			RetentionInterval: 6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// ErrMissingRequired reports configuration that production refuses to start without.
var ErrMissingRequired = errors.New("config: missing required settings")

// Load builds the configuration from defaults, the YAML file at path (optional),
// the .env file in the working directory (optional) and the environment.
func Load(path string) (*Config, error) {
	if errEnv := loadDotEnv(".env"); errEnv != nil {
		return nil, errEnv
	}

	cfg := Default()
	if path = strings.TrimSpace(path); path == "" {
		path = strings.TrimSpace(os.Getenv("FIMAI_CONFIG"))
	}
	if path != "" {
		if errFile := loadFile(path, &cfg); errFile != nil {
			return nil, errFile
		}
	}
	applyEnv(&cfg, os.LookupEnv)

	if errFinalize := cfg.finalize(); errFinalize != nil {
		return nil, errFinalize
	}
	return &cfg, nil
}

// loadDotEnv exports a .env file without overriding variables already set.
func loadDotEnv(path string) error {
	info, errStat := os.Stat(path)
	if errStat != nil {
		if errors.Is(errStat, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: access env file %s: %w", path, errStat)
	}
	if info.IsDir() {
		return nil
	}
	if errLoad := godotenv.Load(path); errLoad != nil {
		return fmt.Errorf("config: load env file %s: %w", path, errLoad)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return fmt.Errorf("config: read %s: %w", path, errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}
	return nil
}

// finalize normalizes values, validates the schema and enforces production requirements.
func (c *Config) finalize() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Auth.JWTSecret = strings.TrimSpace(c.Auth.JWTSecret)

	if errValidate := validator.New().Struct(c); errValidate != nil {
		return fmt.Errorf("config: invalid: %w", errValidate)
	}

	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.IsProduction() {
		if len(c.Auth.JWTSecret) < minJWTSecretLength {
			missing = append(missing, fmt.Sprintf("JWT_SECRET (at least %d characters)", minJWTSecretLength))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return nil
}
