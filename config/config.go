package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ekmate/portal/utils"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	Server        ServerConfig
	Backend       BackendConfig
	TokenStore    TokenStoreConfig
	Routes        RoutesConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"127.0.0.1"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080" validate:"gt=0"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// AllowRemote lets non-loopback clients reach the portal. Every client
	// shares the one signed-in session, so this is an explicit opt-in.
	AllowRemote bool `env:"ALLOW_REMOTE" envDefault:"false"`
}

// BackendConfig points at the EKmate backend that issues tokens and serves profiles
type BackendConfig struct {
	BaseURL string        `env:"BACKEND_BASE_URL" envDefault:"http://localhost:4000/api" validate:"required,http_url"`
	Timeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s" validate:"gt=0"`
}

// TokenStoreKind selects where the bearer token is persisted
type TokenStoreKind string

const (
	TokenStoreFile   TokenStoreKind = "file"
	TokenStoreRedis  TokenStoreKind = "redis"
	TokenStoreMemory TokenStoreKind = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler so env parsing rejects unknown kinds
func (k *TokenStoreKind) UnmarshalText(text []byte) error {
	switch kind := TokenStoreKind(strings.ToLower(strings.TrimSpace(string(text)))); kind {
	case TokenStoreFile, TokenStoreRedis, TokenStoreMemory:
		*k = kind
		return nil
	default:
		return fmt.Errorf("unknown token store %q (want file, redis or memory)", string(text))
	}
}

// TokenStoreConfig holds token persistence configuration
type TokenStoreConfig struct {
	Kind  TokenStoreKind `env:"TOKEN_STORE" envDefault:"file"`
	File  string         `env:"TOKEN_FILE"`
	Redis RedisConfig    `envPrefix:"REDIS_"`
}

// RedisConfig holds the connection settings for the redis token store
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Key      string `env:"KEY" envDefault:"ekmate:session:token"`
}

// RoutesConfig holds the portal paths the route guards redirect to
type RoutesConfig struct {
	SignInPath    string `env:"SIGN_IN_PATH" envDefault:"/sign-in" validate:"required,startswith=/"`
	DashboardPath string `env:"DASHBOARD_PATH" envDefault:"/dashboard" validate:"required,startswith=/,nefield=SignInPath"`
	AdminPath     string `env:"ADMIN_PATH" envDefault:"/admin" validate:"required,startswith=/"`
}

// CORSConfig holds the origins allowed to call the JSON session API
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PORT is what most hosting platforms inject; it wins over SERVER_PORT
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = p
		}
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			return fmt.Errorf("%w: %v", err, fields)
		}
		return err
	}

	if !c.Server.AllowRemote && !c.Server.IsLoopback() {
		return fmt.Errorf("SERVER_HOST %q is not a loopback address; set ALLOW_REMOTE=true to share the session with remote clients", c.Server.Host)
	}

	if c.TokenStore.Kind == TokenStoreRedis && c.TokenStore.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when TOKEN_STORE=redis")
	}

	// An in-memory token does not survive a restart
	if c.IsProduction() && c.TokenStore.Kind == TokenStoreMemory {
		return fmt.Errorf("memory token store is not allowed in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsLoopback reports whether Host binds only to the local machine
func (c *ServerConfig) IsLoopback() bool {
	if strings.EqualFold(c.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsLoopback()
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
