package domain

import "context"

// Channel is the bidirectional message channel to the analysis service.
// It is used by a single goroutine at a time.
type Channel interface {
	// Send transmits the submission.
	Send(ctx context.Context, req *Request) error

	// Receive blocks until the next message arrives. It returns (nil, false, nil)
	// when the service ends the stream normally.
	Receive(ctx context.Context) (*ResponseMessage, bool, error)

	// Close releases the underlying connection.
	Close() error
}

// Dialer opens channels authenticated with an access token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

// Credentials is an authenticated identity for one session.
type Credentials struct {
	AccessToken string
	Username    string
}

// Authenticator exchanges configured credentials for an access token.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Credentials, error)
}

// PayloadFetcher downloads payloads the service delivers by URL.
type PayloadFetcher interface {
	Fetch(ctx context.Context, url, token string) ([]byte, error)
}

// CatalogEntry is one ask type as published by the catalog provider.
type CatalogEntry struct {
	Name       string
	Attributes map[string]any
}

// CatalogProvider fetches the list of available ask types.
type CatalogProvider interface {
	FetchCatalog(ctx context.Context) ([]CatalogEntry, error)
}
