package techread

import (
	"net/http"

	"github.com/spherical/techread/internal/observability"
)

// Option configures OpenFromEnvironment.
type Option func(*options)

type options struct {
	config     *Config
	configPath string
	envOnly    bool
	environ    []string
	logger     *observability.Logger
	httpClient *http.Client
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithConfig uses cfg as is; no file or environment is read.
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithConfigFile reads a YAML configuration file before applying the
// license file and environment.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithEnvironmentOnly ignores license files and reads TECHREAD_* variables only.
func WithEnvironmentOnly() Option {
	return func(o *options) { o.envOnly = true }
}

// WithEnviron replaces the process environment, as KEY=VALUE pairs.
func WithEnviron(environ []string) Option {
	return func(o *options) { o.environ = environ }
}

// WithLogger sets the logger used by every component.
func WithLogger(logger *Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the client used for token, catalog and payload requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}
