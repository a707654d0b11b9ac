package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSecretLength = 32

// Storage drivers for client sessions and development accounts.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMongo  = "mongo"
)

// Refresh protocols the portal can speak to the backend.
const (
	RefreshREST   = "rest"
	RefreshOAuth2 = "oauth2"
)

// AppConfig is the configuration of every volunteerhub command. Values are
// read from the environment; see the nested structs for variable names.
type AppConfig struct {
	// IsDev relaxes secret checks and fills in development secrets.
	IsDev    bool   `env:"DEV" envDefault:"true"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Portal  PortalConfig  `envPrefix:"PORTAL_"`
	DevAPI  DevAPIConfig  `envPrefix:"DEVAPI_"`
	Backend BackendConfig `envPrefix:"BACKEND_"`
	Storage StorageConfig `envPrefix:"STORAGE_"`
	Mongo   MongoConfig   `envPrefix:"MONGO_"`
	Redis   RedisConfig   `envPrefix:"REDIS_"`
}

// PortalConfig configures the browser-facing portal.
type PortalConfig struct {
	Addr          string        `env:"ADDR" envDefault:":8080"`
	CookieName    string        `env:"COOKIE_NAME" envDefault:"vh_session"`
	CookieSecret  string        `env:"COOKIE_SECRET"`
	CookieDomain  string        `env:"COOKIE_DOMAIN"`
	SecureCookie  bool          `env:"SECURE_COOKIE" envDefault:"false"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	MaxIdle       time.Duration `env:"MAX_IDLE" envDefault:"30m"`
}

// DevAPIConfig configures the development backend.
type DevAPIConfig struct {
	Addr       string        `env:"ADDR" envDefault:":8081"`
	JWTSecret  string        `env:"JWT_SECRET"`
	AccessTTL  time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	// Store selects where accounts and refresh tokens live.
	Store string `env:"STORE" envDefault:"memory"`
	Seed  bool   `env:"SEED" envDefault:"true"`
}

// BackendConfig tells clients where the platform backend is.
type BackendConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:8081"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	Refresh string        `env:"REFRESH" envDefault:"rest"`
	// TokenURL and ClientID are used by the oauth2 refresh protocol.
	TokenURL string `env:"TOKEN_URL"`
	ClientID string `env:"CLIENT_ID" envDefault:"volunteerhub-portal"`
}

// StorageConfig selects the durable store behind client sessions.
type StorageConfig struct {
	Driver string        `env:"DRIVER" envDefault:"memory"`
	TTL    time.Duration `env:"TTL" envDefault:"720h"`
}

type MongoConfig struct {
	URI      string `env:"URI"`
	Database string `env:"DATABASE" envDefault:"volunteerhub"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"vh:session:"`
}

// Load reads optional .env files, parses the environment, fills development
// defaults and validates the result. Missing .env files are ignored.
func Load(envFiles ...string) (AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Sanitize normalizes enum values and fills development secrets.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.DevAPI.Store = strings.ToLower(strings.TrimSpace(c.DevAPI.Store))
	c.Backend.Refresh = strings.ToLower(strings.TrimSpace(c.Backend.Refresh))
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.TokenURL == "" {
		c.Backend.TokenURL = c.Backend.BaseURL + "/oauth/token"
	}

	if c.IsDev {
		if c.Portal.CookieSecret == "" {
			c.Portal.CookieSecret = "dev-only-cookie-secret-change-me-please"
		}
		if c.DevAPI.JWTSecret == "" {
			c.DevAPI.JWTSecret = "dev-only-jwt-secret-change-me-please!!"
		}
	}
}

// Validate reports the first configuration problem found.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverRedis, DriverMongo:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be memory, redis or mongo, got %q", c.Storage.Driver)
	}
	switch c.DevAPI.Store {
	case DriverMemory, DriverMongo:
	default:
		return fmt.Errorf("DEVAPI_STORE must be memory or mongo, got %q", c.DevAPI.Store)
	}
	switch c.Backend.Refresh {
	case RefreshREST, RefreshOAuth2:
	default:
		return fmt.Errorf("BACKEND_REFRESH must be rest or oauth2, got %q", c.Backend.Refresh)
	}
	if c.Backend.BaseURL == "" {
		return errors.New("BACKEND_BASE_URL is required")
	}
	if c.usesMongo() && c.Mongo.URI == "" {
		return errors.New("MONGO_URI is required when mongo storage is selected")
	}
	if c.DevAPI.AccessTTL <= 0 || c.DevAPI.RefreshTTL <= 0 {
		return errors.New("DEVAPI_ACCESS_TTL and DEVAPI_REFRESH_TTL must be positive")
	}
	if !c.IsDev {
		if len(c.Portal.CookieSecret) < minSecretLength {
			return fmt.Errorf("PORTAL_COOKIE_SECRET must be at least %d characters", minSecretLength)
		}
		if len(c.DevAPI.JWTSecret) < minSecretLength {
			return fmt.Errorf("DEVAPI_JWT_SECRET must be at least %d characters", minSecretLength)
		}
	}
	return nil
}

func (c *AppConfig) usesMongo() bool {
	return c.Storage.Driver == DriverMongo || c.DevAPI.Store == DriverMongo
}
