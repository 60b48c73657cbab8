package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func Test_parseFile(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	t.Setenv("VAULTSYNC_CONFIG", "")

	t.Run("json overlays non-zero fields", func(t *testing.T) {
		path := writeTempConfig(t, "server.json", `{
			"endpoint_addr_grpc": "www.example:9000",
			"database_dsn": "vault.db",
			"access_token_validity_duration": "2m",
			"scheduler_interval": "15s",
			"s3_offload_threshold": 1024,
			"write_rate": 2.5
		}`)
		os.Args = []string{"server", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFile(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrGRPC)
		assert.Equal(t, "vault.db", cfg.DatabaseDSN)
		assert.Equal(t, 2*time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 15*time.Second, cfg.SchedulerInterval)
		assert.Equal(t, int64(1024), cfg.S3OffloadThreshold)
		assert.Equal(t, 2.5, cfg.WriteRate)
		assert.Equal(t, ":8080", cfg.EndpointAddrHTTP, "unset fields keep defaults")
		assert.Equal(t, 24*time.Hour, cfg.RefreshTokenValidityDuration)
	})

	t.Run("yaml by extension", func(t *testing.T) {
		path := writeTempConfig(t, "server.yaml", "endpoint_addr_http: \":9999\"\nlog_level: debug\nrefresh_token_validity_duration: 1h\n")
		os.Args = []string{"server", "-c", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseFile(cfg)

		assert.Equal(t, ":9999", cfg.EndpointAddrHTTP)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, time.Hour, cfg.RefreshTokenValidityDuration)
	})

	t.Run("env fallback", func(t *testing.T) {
		path := writeTempConfig(t, "env.json", `{"secret_key":"from-env"}`)
		t.Setenv("VAULTSYNC_CONFIG", path)
		os.Args = []string{"server"}

		cfg := &Config{}
		parseFile(cfg)
		assert.Equal(t, "from-env", cfg.SecretKey)
	})

	t.Run("no file leaves config untouched", func(t *testing.T) {
		t.Setenv("VAULTSYNC_CONFIG", "")
		os.Args = []string{"server"}

		cfg := &Config{SecretKey: "keep"}
		parseFile(cfg)
		assert.Equal(t, "keep", cfg.SecretKey)
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"server", "-c", filepath.Join(t.TempDir(), "nope.json")}
		require.Panics(t, func() { parseFile(&Config{}) })
	})

	t.Run("invalid json panics", func(t *testing.T) {
		path := writeTempConfig(t, "bad.json", `{"endpoint_addr_grpc":`)
		os.Args = []string{"server", "-c", path}
		require.Panics(t, func() { parseFile(&Config{}) })
	})
}
