// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendRemote   = "remote"
)

// Backends lists every backend name in display order.
var Backends = []string{BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendRemote}

// Config holds everything the CLI and the lock daemon read from env.
// Flags override these values after Load.
type Config struct {
	Backend BackendConfig
	Harness HarnessConfig
	Daemon  DaemonConfig
}

// BackendConfig selects and reaches the locking backend.
type BackendConfig struct {
	Name          string
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RemoteURL     string
}

// HarnessConfig tunes scenario runs.
type HarnessConfig struct {
	// Timeout bounds a scenario run when the scenario sets none.
	Timeout time.Duration
}

// DaemonConfig configures lockd.
type DaemonConfig struct {
	Addr       string
	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration
}

// Defaults.
const (
	DefaultSQLitePath = "lockharness.db"
	DefaultDaemonAddr = ":7070"
	DefaultJWTIssuer  = "lockd"
	DefaultSessionTTL = time.Hour
	DefaultTimeout    = 30 * time.Second
)

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.Backend.Name = strings.ToLower(strings.TrimSpace(os.Getenv("LOCKHARNESS_BACKEND")))
	c.Backend.SQLitePath = strings.TrimSpace(os.Getenv("LOCKHARNESS_SQLITE_PATH"))
	c.Backend.PostgresDSN = os.Getenv("LOCKHARNESS_POSTGRES_DSN")
	c.Backend.RedisAddr = strings.TrimSpace(os.Getenv("LOCKHARNESS_REDIS_ADDR"))
	c.Backend.RedisPassword = os.Getenv("LOCKHARNESS_REDIS_PASSWORD")
	c.Backend.RedisPrefix = strings.TrimSpace(os.Getenv("LOCKHARNESS_REDIS_PREFIX"))
	c.Backend.RemoteURL = strings.TrimSpace(os.Getenv("LOCKHARNESS_REMOTE_URL"))
	{
		n, err := optionalInt("LOCKHARNESS_REDIS_DB")
		parseErrs = appendErr(parseErrs, err)
		c.Backend.RedisDB = n
	}
	{
		d, err := optionalDuration("LOCKHARNESS_TIMEOUT")
		parseErrs = appendErr(parseErrs, err)
		c.Harness.Timeout = d
	}

	c.Daemon.Addr = strings.TrimSpace(os.Getenv("LOCKD_ADDR"))
	c.Daemon.JWTSecret = os.Getenv("LOCKD_JWT_SECRET")
	c.Daemon.JWTIssuer = strings.TrimSpace(os.Getenv("LOCKD_JWT_ISSUER"))
	{
		d, err := optionalDuration("LOCKD_SESSION_TTL")
		parseErrs = appendErr(parseErrs, err)
		c.Daemon.SessionTTL = d
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills every unset field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Backend.Name == "" {
		c.Backend.Name = BackendMemory
	}
	if c.Backend.SQLitePath == "" {
		c.Backend.SQLitePath = DefaultSQLitePath
	}
	if c.Harness.Timeout <= 0 {
		c.Harness.Timeout = DefaultTimeout
	}
	if c.Daemon.Addr == "" {
		c.Daemon.Addr = DefaultDaemonAddr
	}
	if c.Daemon.JWTIssuer == "" {
		c.Daemon.JWTIssuer = DefaultJWTIssuer
	}
	if c.Daemon.SessionTTL <= 0 {
		c.Daemon.SessionTTL = DefaultSessionTTL
	}
}

// Validate checks the backend settings. Daemon settings are checked by
// ValidateDaemon, since only `serve` needs them.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend.Name {
	case BackendMemory:
	case BackendSQLite:
		if c.Backend.SQLitePath == "" {
			errs = append(errs, errors.New("LOCKHARNESS_SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Backend.PostgresDSN) == "" {
			errs = append(errs, errors.New("LOCKHARNESS_POSTGRES_DSN is required for the postgres backend"))
		}
	case BackendRedis:
		if c.Backend.RedisAddr == "" {
			errs = append(errs, errors.New("LOCKHARNESS_REDIS_ADDR is required for the redis backend"))
		}
	case BackendRemote:
		if c.Backend.RemoteURL == "" {
			errs = append(errs, errors.New("LOCKHARNESS_REMOTE_URL is required for the remote backend"))
		} else if err := validateURL(c.Backend.RemoteURL); err != nil {
			errs = append(errs, fmt.Errorf("LOCKHARNESS_REMOTE_URL: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCKHARNESS_BACKEND must be one of %s, got %q", strings.Join(Backends, ", "), c.Backend.Name))
	}

	if c.Backend.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("LOCKHARNESS_REDIS_DB must not be negative, got %d", c.Backend.RedisDB))
	}
	if c.Harness.Timeout < 0 {
		errs = append(errs, fmt.Errorf("LOCKHARNESS_TIMEOUT must not be negative, got %s", c.Harness.Timeout))
	}

	return joinErrors(errs)
}

// ValidateDaemon checks what lockd needs on top of Validate.
func (c Config) ValidateDaemon() error {
	var errs []error

	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Backend.Name == BackendRemote {
		errs = append(errs, errors.New("lockd cannot serve the remote backend"))
	}
	if c.Daemon.JWTSecret == "" {
		errs = append(errs, errors.New("LOCKD_JWT_SECRET is required"))
	}
	if c.Daemon.Addr == "" {
		errs = append(errs, errors.New("LOCKD_ADDR is required"))
	}
	if c.Daemon.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("LOCKD_SESSION_TTL must be positive, got %s", c.Daemon.SessionTTL))
	}

	return joinErrors(errs)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
