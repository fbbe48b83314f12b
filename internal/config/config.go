package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Tenant operating modes, fixed at startup.
const (
	TenantModeSingle = "single"
	TenantModeMulti  = "multi"
)

// Config holds all environment-driven configuration for the identity core.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"Persona"`
	Env     string `env:"ENV" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`

	// BaseURL is the externally visible base URL used for provider redirect
	// URIs, e.g. "https://auth.example.com".
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Tenant configuration. Single mode serves exactly one implicit tenant;
	// multi mode requires an explicit allow-list and a per-request selector.
	TenantMode string   `env:"TENANT_MODE" envDefault:"single"`
	Tenant     string   `env:"TENANT" envDefault:"default"`
	Tenants    []string `env:"TENANTS" envSeparator:","`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"persona"`

	// Token lifetimes as integer+suffix strings (s, m, h, d, w), parsed by
	// token.ParseExpiry.
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" envDefault:"30d"`

	// InternalAPISecret guards the service-to-service administration routes.
	InternalAPISecret string `env:"INTERNAL_API_SECRET"`

	// Cookie keys for the signed (and optionally encrypted) browser-side
	// OAuth flow and token cookies.
	CookieHashKey  string `env:"COOKIE_HASH_KEY"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY"`

	// DatabaseURL selects the postgres repositories when set; the in-memory
	// repositories are used otherwise.
	DatabaseURL string `env:"DATABASE_URL"`

	// DefaultRedirect is where the browser lands after login when no valid
	// returnUrl was supplied.
	DefaultRedirect string `env:"DEFAULT_REDIRECT" envDefault:"/"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleIssuer       string `env:"GOOGLE_ISSUER" envDefault:"https://accounts.google.com"`
}

// Load parses configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.InternalAPISecret == "" {
		return fmt.Errorf("INTERNAL_API_SECRET is required")
	}
	if c.CookieHashKey == "" {
		return fmt.Errorf("COOKIE_HASH_KEY is required")
	}
	switch c.TenantMode {
	case TenantModeSingle:
		if strings.TrimSpace(c.Tenant) == "" {
			return fmt.Errorf("TENANT is required in single tenant mode")
		}
	case TenantModeMulti:
		if len(c.Tenants) == 0 {
			return fmt.Errorf("TENANTS is required in multi tenant mode")
		}
	default:
		return fmt.Errorf("TENANT_MODE must be %q or %q, got %q", TenantModeSingle, TenantModeMulti, c.TenantMode)
	}
	return nil
}

// IsProduction reports whether the server runs in production mode. Production
// forces https on reconstructed callback URLs and secure token cookies.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
