// Package config provides configuration loading for the techread client.
// Supports YAML files, a dotenv-style license file and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/techread/internal/domain"
)

// DefaultLicenseFile is looked up in the working directory when no license
// path is given.
const DefaultLicenseFile = ".techread"

// Config holds all configuration for the techread client.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Preflight     PreflightConfig     `yaml:"preflight"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds the endpoints of the analysis service.
type ServiceConfig struct {
	AuthURL        string        `yaml:"auth_url" env:"TECHREAD_AUTH_URL"`
	HTTPSURL       string        `yaml:"https_url" env:"TECHREAD_SERVER_HTTPS"`
	WSSURL         string        `yaml:"wss_url" env:"TECHREAD_SERVER_WSS"`
	DialTimeout    time.Duration `yaml:"dial_timeout" env:"TECHREAD_DIAL_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"TECHREAD_REQUEST_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"TECHREAD_MAX_RETRIES"`
}

// CredentialsConfig holds the account used for the password grant.
type CredentialsConfig struct {
	ClientID     string `yaml:"client_id" env:"TECHREAD_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"TECHREAD_CLIENT_SECRET"`
	Username     string `yaml:"username" env:"TECHREAD_USERNAME"`
	Password     string `yaml:"password" env:"TECHREAD_PASSWORD"`
}

// Missing lists the credential fields that are not set.
func (c CredentialsConfig) Missing() []string {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "TECHREAD_CLIENT_ID")
	}
	if c.Username == "" {
		missing = append(missing, "TECHREAD_USERNAME")
	}
	if c.Password == "" {
		missing = append(missing, "TECHREAD_PASSWORD")
	}
	return missing
}

// CatalogConfig controls where ask types come from and how they are cached.
type CatalogConfig struct {
	Source string      `yaml:"source" env:"TECHREAD_CATALOG_SOURCE"` // remote or builtin
	Cache  CacheConfig `yaml:"cache"`
}

// CacheConfig holds catalog cache settings.
type CacheConfig struct {
	Driver string        `yaml:"driver" env:"TECHREAD_CACHE_DRIVER"` // none, memory or redis
	TTL    time.Duration `yaml:"ttl" env:"TECHREAD_CACHE_TTL"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"TECHREAD_REDIS_ADDR"`
	Password string `yaml:"password" env:"TECHREAD_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"TECHREAD_REDIS_DB"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// PreflightConfig bounds what is sent to the service.
type PreflightConfig struct {
	MaxDrawingBytes int64 `yaml:"max_drawing_bytes" env:"TECHREAD_MAX_DRAWING_BYTES"`
	MaxModelBytes   int64 `yaml:"max_model_bytes" env:"TECHREAD_MAX_MODEL_BYTES"`
	MaxPages        int   `yaml:"max_pages" env:"TECHREAD_MAX_PAGES"`
	// Strict turns the format and page count checks into errors. Otherwise
	// they are only logged and the drawing is sent as is.
	Strict bool `yaml:"strict" env:"TECHREAD_PREFLIGHT_STRICT"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level" env:"TECHREAD_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"TECHREAD_LOG_FORMAT"`
}

// Sources names the inputs Load reads from.
type Sources struct {
	// ConfigPath is an optional YAML file.
	ConfigPath string

	// LicensePath is a dotenv-style credentials file. When empty,
	// DefaultLicenseFile is used if it exists. An explicit path that does
	// not exist is an error.
	LicensePath string

	// EnvOnly skips the license file entirely.
	EnvOnly bool

	// Environ replaces os.Environ() when non-nil.
	Environ []string
}

// Load reads configuration from a YAML file and applies license-file and
// environment overrides, environment taking precedence.
func Load(src Sources) (*Config, error) {
	cfg := DefaultConfig()

	if src.ConfigPath != "" {
		data, err := os.ReadFile(src.ConfigPath)
		if err != nil {
			return nil, domain.IOError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	environ, err := mergedEnvironment(src)
	if err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, domain.ConfigError("parse environment", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// mergedEnvironment layers the process environment over the license file.
func mergedEnvironment(src Sources) (map[string]string, error) {
	merged := map[string]string{}

	if !src.EnvOnly {
		license, err := readLicense(src.LicensePath)
		if err != nil {
			return nil, err
		}
		for k, v := range license {
			merged[k] = v
		}
	}

	environ := src.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}

	return merged, nil
}

func readLicense(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultLicenseFile
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil, nil
		}
		return nil, domain.IOError(fmt.Sprintf("license file not found: %s", path), err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("parse license file %s", path), err)
	}
	return values, nil
}

// DefaultConfig returns a configuration pointing at the public service.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			AuthURL:        "https://auth.techread.spherical.ai/oauth2/token",
			HTTPSURL:       "https://techread.spherical.ai",
			WSSURL:         "wss://techread.spherical.ai/v1/stream",
			DialTimeout:    30 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxRetries:     3,
		},
		Catalog: CatalogConfig{
			Source: "remote",
			Cache: CacheConfig{
				Driver: "memory",
				TTL:    time.Hour,
				Redis: RedisConfig{
					Addr:     "localhost:6379",
					PoolSize: 10,
					Prefix:   "techread:",
				},
			},
		},
		Preflight: PreflightConfig{
			MaxDrawingBytes: 20 * 1024 * 1024,
			MaxModelBytes:   50 * 1024 * 1024,
			MaxPages:        20,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validateURL(c.Service.AuthURL, "http", "https"); err != nil {
		return fmt.Errorf("invalid auth_url: %w", err)
	}
	if err := validateURL(c.Service.HTTPSURL, "http", "https"); err != nil {
		return fmt.Errorf("invalid https_url: %w", err)
	}
	if err := validateURL(c.Service.WSSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("invalid wss_url: %w", err)
	}

	if c.Service.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	switch c.Catalog.Source {
	case "remote", "builtin":
	default:
		return fmt.Errorf("invalid catalog source: %s", c.Catalog.Source)
	}

	switch c.Catalog.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Catalog.Cache.Driver)
	}

	if c.Preflight.MaxDrawingBytes <= 0 || c.Preflight.MaxModelBytes <= 0 {
		return fmt.Errorf("preflight size limits must be positive")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, "/"))
}
