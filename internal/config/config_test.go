package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/techread/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Sources{EnvOnly: true, Environ: []string{}})
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "remote", cfg.Catalog.Source)
	assert.Equal(t, "memory", cfg.Catalog.Cache.Driver)
	assert.False(t, cfg.Preflight.Strict, "format and page checks are advisory by default")
}

func TestLoad_StrictPreflightFromEnv(t *testing.T) {
	cfg, err := Load(Sources{EnvOnly: true, Environ: []string{"TECHREAD_PREFLIGHT_STRICT=true", "TECHREAD_MAX_PAGES=5"}})
	require.NoError(t, err)

	assert.True(t, cfg.Preflight.Strict)
	assert.Equal(t, 5, cfg.Preflight.MaxPages)
}

func TestLoad_YAMLThenLicenseThenEnv(t *testing.T) {
	dir := t.TempDir()

	cfgPath := writeFile(t, dir, "techread.yaml", `
service:
  wss_url: wss://staging.example.com/v1/stream
  max_retries: 1
catalog:
  source: builtin
  cache:
    driver: redis
    ttl: 10m
`)
	licensePath := writeFile(t, dir, "license", `
TECHREAD_CLIENT_ID=client-from-license
TECHREAD_USERNAME=alice@example.com
TECHREAD_PASSWORD=from-license
`)

	cfg, err := Load(Sources{
		ConfigPath:  cfgPath,
		LicensePath: licensePath,
		Environ:     []string{"TECHREAD_PASSWORD=from-env", "TECHREAD_LOG_LEVEL=debug"},
	})
	require.NoError(t, err)

	assert.Equal(t, "wss://staging.example.com/v1/stream", cfg.Service.WSSURL)
	assert.Equal(t, 1, cfg.Service.MaxRetries)
	assert.Equal(t, "builtin", cfg.Catalog.Source)
	assert.Equal(t, "redis", cfg.Catalog.Cache.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Catalog.Cache.TTL)

	assert.Equal(t, "client-from-license", cfg.Credentials.ClientID)
	assert.Equal(t, "alice@example.com", cfg.Credentials.Username)
	assert.Equal(t, "from-env", cfg.Credentials.Password, "environment wins over license file")
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Empty(t, cfg.Credentials.Missing())
}

func TestLoad_MissingExplicitLicense(t *testing.T) {
	_, err := Load(Sources{LicensePath: filepath.Join(t.TempDir(), "nope"), Environ: []string{}})
	require.Error(t, err)

	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.True(t, domain.IsType(err, domain.ErrorTypeIO))
}

func TestLoad_MissingDefaultLicenseIsFine(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(Sources{Environ: []string{"TECHREAD_USERNAME=bob"}})
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Credentials.Username)
}

func TestLoad_DefaultLicenseInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefaultLicenseFile, "TECHREAD_USERNAME=carol\n")
	chdir(t, dir)

	cfg, err := Load(Sources{Environ: []string{}})
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Credentials.Username)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad wss scheme", func(c *Config) { c.Service.WSSURL = "https://x" }, "invalid wss_url"},
		{"relative auth url", func(c *Config) { c.Service.AuthURL = "/token" }, "invalid auth_url"},
		{"negative retries", func(c *Config) { c.Service.MaxRetries = -1 }, "max_retries"},
		{"bad source", func(c *Config) { c.Catalog.Source = "ftp" }, "invalid catalog source"},
		{"bad cache driver", func(c *Config) { c.Catalog.Cache.Driver = "memcached" }, "invalid cache driver"},
		{"zero drawing limit", func(c *Config) { c.Preflight.MaxDrawingBytes = 0 }, "size limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCredentialsMissing(t *testing.T) {
	creds := CredentialsConfig{Username: "dave"}
	assert.Equal(t, []string{"TECHREAD_CLIENT_ID", "TECHREAD_PASSWORD"}, creds.Missing())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
