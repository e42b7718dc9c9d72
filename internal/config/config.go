package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	AuthModeFirebase = "firebase"
	AuthModeHMAC     = "hmac"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	MetricsEnabled  bool          `env:"METRICS_ENABLED" envDefault:"true"`
	StoreDriver     string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	DBMaxConns      int           `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns      int           `env:"DB_MIN_CONNS" envDefault:"1"`
	SlugMaxAttempts int           `env:"SLUG_MAX_ATTEMPTS" envDefault:"16"`
	PhoneRegion     string        `env:"PHONE_DEFAULT_REGION" envDefault:"US"`

	AuthMode          string `env:"AUTH_MODE" envDefault:"firebase"`
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	FirebaseJWKSURL   string `env:"FIREBASE_JWKS_URL" envDefault:"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"`
	AuthHMACSecret    string `env:"AUTH_HMAC_SECRET"`
	AuthHMACIssuer    string `env:"AUTH_HMAC_ISSUER" envDefault:"account-api"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"30"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa combinaciones que env no puede expresar con tags.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.AuthMode {
	case AuthModeFirebase:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when AUTH_MODE=%s", AuthModeFirebase)
		}
	case AuthModeHMAC:
		if c.AuthHMACSecret == "" {
			return fmt.Errorf("AUTH_HMAC_SECRET is required when AUTH_MODE=%s", AuthModeHMAC)
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	return nil
}
