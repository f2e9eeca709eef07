// Package techread is a client for the techread drawing analysis service.
//
// A submission sends one drawing, an optional 3D model and a list of asks.
// Results stream back and are handed to the hooks registered for them:
//
//	cat, _ := techread.LoadAskCatalog(ctx, cfg)
//	thumb, _ := cat.New("PageThumbnail", nil)
//
//	client, _ := techread.OpenFromEnvironment("")
//	defer client.Close()
//
//	err := client.ReadDrawingWithHooks(ctx, drawing, []techread.Hook{
//		techread.NewHook(thumb, func(ctx context.Context, msg *techread.ResponseMessage) error {
//			return os.WriteFile("thumb.png", msg.Payload, 0o644)
//		}),
//	}, nil)
package techread

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/spherical/techread/internal/auth"
	"github.com/spherical/techread/internal/cache"
	"github.com/spherical/techread/internal/catalog"
	"github.com/spherical/techread/internal/config"
	"github.com/spherical/techread/internal/dispatch"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
	"github.com/spherical/techread/internal/preflight"
	"github.com/spherical/techread/internal/reader"
	"github.com/spherical/techread/internal/session"
	"github.com/spherical/techread/internal/transport"
)

// Re-export domain types for the public API
type (
	Ask             = domain.AskDescriptor
	Hook            = domain.Hook
	HookFunc        = domain.HookFunc
	ResponseMessage = domain.ResponseMessage
	MessageType     = domain.MessageType
	Exception       = domain.Exception
	Error           = domain.DomainError
	ErrorType       = domain.ErrorType
)

// Re-export supporting types
type (
	Catalog     = catalog.Catalog
	Constructor = catalog.Constructor
	Config      = config.Config
	Logger      = observability.Logger
	LogConfig   = observability.LogConfig
	Event       = reader.Event
	EventType   = reader.EventType
	Summary     = reader.Summary
)

// Message type constants
const (
	MessageTypeAsk       = domain.MessageTypeAsk
	MessageTypeError     = domain.MessageTypeError
	MessageTypeProgress  = domain.MessageTypeProgress
	MessageTypeRejection = domain.MessageTypeRejection
)

// Error type constants
const (
	ErrorTypeAuthentication = domain.ErrorTypeAuthentication
	ErrorTypeCatalog        = domain.ErrorTypeCatalog
	ErrorTypeTransmission   = domain.ErrorTypeTransmission
	ErrorTypeServer         = domain.ErrorTypeServer
	ErrorTypeRejection      = domain.ErrorTypeRejection
	ErrorTypeProtocol       = domain.ErrorTypeProtocol
	ErrorTypeInvalidState   = domain.ErrorTypeInvalidState
	ErrorTypeStream         = domain.ErrorTypeStream
	ErrorTypeHook           = domain.ErrorTypeHook
	ErrorTypeValidation     = domain.ErrorTypeValidation
	ErrorTypeConfig         = domain.ErrorTypeConfig
	ErrorTypeIO             = domain.ErrorTypeIO
)

// Event type constants
const (
	EventStart    = reader.EventStart
	EventMessage  = reader.EventMessage
	EventComplete = reader.EventComplete
	EventError    = reader.EventError
)

// IsErrorType reports whether err carries a techread error of type t.
func IsErrorType(err error, t ErrorType) bool {
	return domain.IsType(err, t)
}

// NewLogger creates a structured logger for WithLogger.
func NewLogger(cfg LogConfig) *Logger {
	return observability.NewLogger(cfg)
}

// DefaultConfig returns the configuration for the public service.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// NewHook binds ask to fn. fn runs for every ASK message whose subtype is
// the ask's type.
func NewHook(ask Ask, fn HookFunc) Hook {
	return Hook{Ask: ask, Callback: fn}
}

// NewProgressHook subscribes fn to PROGRESS messages of the given subtype.
// The hook requests nothing from the service by itself.
func NewProgressHook(subtype string, fn HookFunc) Hook {
	return Hook{
		Callback:       fn,
		MessageType:    MessageTypeProgress,
		MessageSubtype: subtype,
	}
}

// Client submits drawings to the service. It is safe for concurrent use;
// every submission runs on its own session.
type Client struct {
	cfg     *Config
	auth    *auth.Authenticator
	service *reader.Service
	logger  *observability.Logger

	// catalogCache backs the "memory" cache driver for this client only.
	catalogCache cache.Client

	closeOnce sync.Once
	closeErr  error
}

// OpenFromEnvironment builds a client from the license file at licensePath
// (".techread" in the working directory when empty) and TECHREAD_*
// environment variables. Nothing is sent over the network until the first
// submission.
//
// An explicit licensePath that does not exist yields an error matching
// fs.ErrNotExist. Missing credentials yield an authentication error.
func OpenFromEnvironment(licensePath string, opts ...Option) (*Client, error) {
	o := applyOptions(opts)

	cfg := o.config
	if cfg == nil {
		var err error
		cfg, err = config.Load(config.Sources{
			ConfigPath:  o.configPath,
			LicensePath: licensePath,
			EnvOnly:     o.envOnly,
			Environ:     o.environ,
		})
		if err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	if missing := cfg.Credentials.Missing(); len(missing) > 0 {
		return nil, domain.AuthenticationError(
			fmt.Sprintf("missing credentials: %s", strings.Join(missing, ", ")), nil)
	}

	return newClient(cfg, o), nil
}

func newClient(cfg *Config, o *options) *Client {
	logger := o.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: "techread",
		})
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Service.RequestTimeout}
	}

	retry := transport.DefaultRetryConfig()
	retry.MaxRetries = cfg.Service.MaxRetries

	authenticator := auth.NewAuthenticator(cfg.Service.AuthURL, cfg.Credentials, httpClient, logger)
	dialer := transport.NewWebsocketDialer(cfg.Service.WSSURL, cfg.Service.DialTimeout, logger)
	fetcher := transport.NewHTTPClient(httpClient, retry, logger)

	newSession := func() reader.Session {
		return session.New(authenticator, dialer, fetcher, logger)
	}

	service := reader.NewService(
		newSession,
		dispatch.New(logger),
		preflight.NewValidator(cfg.Preflight, logger),
		logger,
	)

	return &Client{
		cfg:          cfg,
		auth:         authenticator,
		service:      service,
		logger:       logger,
		catalogCache: cache.NewMemoryClient(),
	}
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	return *c.cfg
}

// ReadDrawingWithHooks submits drawing with the asks of hooks and an optional
// model, and invokes the matching hooks for every streamed result, one at a
// time in arrival order. It returns once the service ends the stream.
//
// ERROR and REJECTION messages, unknown message types, transport faults and
// hook failures end the submission with an error. The session is closed
// before ReadDrawingWithHooks returns, whatever the outcome.
func (c *Client) ReadDrawingWithHooks(ctx context.Context, drawing []byte, hooks []Hook, model []byte) error {
	_, err := c.service.Read(ctx, drawing, hooks, model, nil)
	return err
}

// ReadDrawing is ReadDrawingWithHooks with a summary and optional progress
// events. Events are dropped if eventCh is full.
func (c *Client) ReadDrawing(ctx context.Context, drawing []byte, hooks []Hook, model []byte, eventCh chan<- Event) (*Summary, error) {
	return c.service.Read(ctx, drawing, hooks, model, eventCh)
}

// LoadAskCatalog loads the ask catalog with this client's configuration.
func (c *Client) LoadAskCatalog(ctx context.Context) (*Catalog, error) {
	return loadCatalog(ctx, c.cfg, c.catalogCache, c.logger)
}

// Username authenticates and returns the account name the service knows
// the credentials by. It is a diagnostic: success does not guarantee that
// later submissions succeed.
func (c *Client) Username(ctx context.Context) (string, error) {
	creds, err := c.auth.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return creds.Username, nil
}

// Close tears down any in-flight submission and refuses new ones. It is
// idempotent and safe to call concurrently with ReadDrawingWithHooks.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.service.Close()
		c.auth.Release()
		_ = c.catalogCache.Close()
		c.logger.Debug().Msg("Client closed")
	})
	return c.closeErr
}
