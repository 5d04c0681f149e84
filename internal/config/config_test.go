package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOCKHARNESS_BACKEND", "LOCKHARNESS_SQLITE_PATH", "LOCKHARNESS_POSTGRES_DSN",
		"LOCKHARNESS_REDIS_ADDR", "LOCKHARNESS_REDIS_PASSWORD", "LOCKHARNESS_REDIS_DB",
		"LOCKHARNESS_REDIS_PREFIX", "LOCKHARNESS_REMOTE_URL", "LOCKHARNESS_TIMEOUT",
		"LOCKD_ADDR", "LOCKD_JWT_SECRET", "LOCKD_JWT_ISSUER", "LOCKD_SESSION_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, c.Backend.Name)
	assert.Equal(t, DefaultSQLitePath, c.Backend.SQLitePath)
	assert.Equal(t, DefaultTimeout, c.Harness.Timeout)
	assert.Equal(t, DefaultDaemonAddr, c.Daemon.Addr)
	assert.Equal(t, DefaultJWTIssuer, c.Daemon.JWTIssuer)
	assert.Equal(t, DefaultSessionTTL, c.Daemon.SessionTTL)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCKHARNESS_BACKEND", "Redis")
	t.Setenv("LOCKHARNESS_REDIS_ADDR", "localhost:6379")
	t.Setenv("LOCKHARNESS_REDIS_DB", "3")
	t.Setenv("LOCKHARNESS_TIMEOUT", "45s")
	t.Setenv("LOCKD_JWT_SECRET", "s3cret")
	t.Setenv("LOCKD_SESSION_TTL", "10m")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, c.Backend.Name)
	assert.Equal(t, "localhost:6379", c.Backend.RedisAddr)
	assert.Equal(t, 3, c.Backend.RedisDB)
	assert.Equal(t, 45*time.Second, c.Harness.Timeout)
	assert.Equal(t, 10*time.Minute, c.Daemon.SessionTTL)
	assert.NoError(t, c.ValidateDaemon())
}

func TestLoad_ReportsEveryParseError(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCKHARNESS_REDIS_DB", "zero")
	t.Setenv("LOCKHARNESS_TIMEOUT", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config errors:")
	assert.Contains(t, err.Error(), "LOCKHARNESS_REDIS_DB must be an integer")
	assert.Contains(t, err.Error(), "LOCKHARNESS_TIMEOUT must be a duration")
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		backend BackendConfig
		wantErr string
	}{
		{"memory", BackendConfig{Name: BackendMemory}, ""},
		{"sqlite", BackendConfig{Name: BackendSQLite, SQLitePath: "x.db"}, ""},
		{"sqlite without path", BackendConfig{Name: BackendSQLite}, "LOCKHARNESS_SQLITE_PATH is required"},
		{"postgres without dsn", BackendConfig{Name: BackendPostgres}, "LOCKHARNESS_POSTGRES_DSN is required"},
		{"redis without addr", BackendConfig{Name: BackendRedis}, "LOCKHARNESS_REDIS_ADDR is required"},
		{"remote", BackendConfig{Name: BackendRemote, RemoteURL: "http://localhost:7070"}, ""},
		{"remote without url", BackendConfig{Name: BackendRemote}, "LOCKHARNESS_REMOTE_URL is required"},
		{"remote with bad scheme", BackendConfig{Name: BackendRemote, RemoteURL: "ftp://x"}, "scheme must be http or https"},
		{"remote without host", BackendConfig{Name: BackendRemote, RemoteURL: "http://"}, "host is required"},
		{"unknown", BackendConfig{Name: "etcd"}, `LOCKHARNESS_BACKEND must be one of memory, sqlite, postgres, redis, remote, got "etcd"`},
		{"negative redis db", BackendConfig{Name: BackendMemory, RedisDB: -1}, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Backend: tt.backend}.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDaemon(t *testing.T) {
	c := Config{Backend: BackendConfig{Name: BackendRemote, RemoteURL: "http://lockd:7070"}}
	err := c.ValidateDaemon()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lockd cannot serve the remote backend")
	assert.Contains(t, err.Error(), "LOCKD_JWT_SECRET is required")
	assert.Contains(t, err.Error(), "LOCKD_ADDR is required")
	assert.Contains(t, err.Error(), "LOCKD_SESSION_TTL must be positive")

	c = Config{Backend: BackendConfig{Name: BackendMemory}, Daemon: DaemonConfig{JWTSecret: "s"}}
	c.ApplyDefaults()
	assert.NoError(t, c.ValidateDaemon())
}
