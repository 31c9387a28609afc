// Package config loads server settings from the environment.
//
// SOURCES, IN ORDER:
//  1. a .env file in the working directory, if there is one (godotenv)
//  2. the process environment, which always wins over .env
//  3. the defaults below
//
// Load reports every bad value at once instead of stopping at the first, so a
// broken deployment is fixed in one round trip.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting the server and createadmin read at startup.
type Config struct {
	Port      int
	APIPrefix string

	DBDriver    string
	DBPath      string // sqlite only
	DatabaseURL string // postgres only

	RedisURL      string // empty disables the token cache
	TokenCacheTTL time.Duration

	BcryptCost        int
	PasswordMinLength int

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins []string // empty disables CORS
	MetricsEnabled     bool
}

// Load reads .env (when present) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Tests pass a map lookup
// instead of touching the real environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		Port:               p.int("PORT", 8080),
		APIPrefix:          p.string("API_PREFIX", "/api"),
		DBDriver:           strings.ToLower(p.string("DB_DRIVER", DriverSQLite)),
		DBPath:             p.string("DB_PATH", "data/accounts.db"),
		DatabaseURL:        p.string("DATABASE_URL", ""),
		RedisURL:           p.string("REDIS_URL", ""),
		TokenCacheTTL:      p.duration("TOKEN_CACHE_TTL", 5*time.Minute),
		BcryptCost:         p.int("BCRYPT_COST", 12),
		PasswordMinLength:  p.int("PASSWORD_MIN_LENGTH", 8),
		LogLevel:           strings.ToLower(p.string("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(p.string("LOG_FORMAT", "text")),
		CORSAllowedOrigins: p.list("CORS_ALLOWED_ORIGINS"),
		MetricsEnabled:     p.bool("METRICS_ENABLED", true),
	}

	errs := append(p.errs, cfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT %d out of range 1-65535", c.Port))
	}
	if c.APIPrefix != "" && (!strings.HasPrefix(c.APIPrefix, "/") || strings.HasSuffix(c.APIPrefix, "/")) {
		errs = append(errs, fmt.Errorf("config: API_PREFIX %q must start with / and not end with one", c.APIPrefix))
	}

	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("config: DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver))
	}

	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, errors.New("config: REDIS_URL must be a redis:// or rediss:// URL"))
		}
	}
	if c.TokenCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("config: TOKEN_CACHE_TTL must be positive, got %s", c.TokenCacheTTL))
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("config: BCRYPT_COST %d out of range %d-%d", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.PasswordMinLength < 1 {
		errs = append(errs, fmt.Errorf("config: PASSWORD_MIN_LENGTH must be at least 1, got %d", c.PasswordMinLength))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT %q is not one of text, json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for net/http.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// parser reads typed values and remembers every parse failure.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) string(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s=%q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s=%q is not a boolean", key, v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s=%q is not a duration like 5m or 30s", key, v))
		return def
	}
	return d
}

// list splits a comma-separated value, dropping empty entries.
func (p *parser) list(key string) []string {
	var out []string
	for _, item := range strings.Split(p.getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
