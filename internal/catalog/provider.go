package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
	"github.com/spherical/techread/internal/transport"
)

// CatalogPath is appended to the service's HTTPS base URL.
const CatalogPath = "/v1/asks"

// HTTPProvider fetches the catalog from the service.
type HTTPProvider struct {
	client *transport.HTTPClient
	url    string
	logger *observability.Logger
}

// NewHTTPProvider creates a provider for the catalog under baseURL.
func NewHTTPProvider(client *transport.HTTPClient, baseURL string, logger *observability.Logger) *HTTPProvider {
	if logger == nil {
		logger = observability.Nop()
	}
	return &HTTPProvider{
		client: client,
		url:    strings.TrimRight(baseURL, "/") + CatalogPath,
		logger: logger.WithOperation("catalog"),
	}
}

// URL returns the catalog endpoint.
func (p *HTTPProvider) URL() string {
	return p.url
}

// FetchCatalog downloads and validates the catalog.
func (p *HTTPProvider) FetchCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	body, err := p.client.Get(ctx, p.url, "")
	if err != nil {
		return nil, domain.CatalogUnavailable("catalog endpoint unreachable", err)
	}

	entries, err := ParseEntries(body)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().Int("asks", len(entries)).Str("url", p.url).Msg("Catalog fetched")
	return entries, nil
}

// ParseEntries decodes a catalog document of the form
// [{"name": "...", "attributes": {...}}, ...]. A missing attributes member
// means no fields; anything other than an object is malformed.
func ParseEntries(data []byte) ([]domain.CatalogEntry, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.CatalogUnavailable("malformed catalog document", err)
	}

	entries := make([]domain.CatalogEntry, 0, len(raw))
	for i, item := range raw {
		var name string
		if err := json.Unmarshal(item["name"], &name); err != nil || name == "" {
			return nil, domain.CatalogUnavailable(fmt.Sprintf("catalog entry %d: missing name", i), err)
		}

		attrs := map[string]any{}
		if rawAttrs, ok := item["attributes"]; ok {
			trimmed := bytes.TrimSpace(rawAttrs)
			if len(trimmed) == 0 || trimmed[0] != '{' {
				return nil, domain.CatalogUnavailable(
					fmt.Sprintf("catalog entry %q: attributes is not an object", name), nil)
			}
			if err := json.Unmarshal(trimmed, &attrs); err != nil {
				return nil, domain.CatalogUnavailable(fmt.Sprintf("catalog entry %q: attributes", name), err)
			}
		}

		entries = append(entries, domain.CatalogEntry{Name: name, Attributes: attrs})
	}
	return entries, nil
}

// encodeEntries is the inverse of ParseEntries.
func encodeEntries(entries []domain.CatalogEntry) ([]byte, error) {
	type wireEntry struct {
		Name       string         `json:"name"`
		Attributes map[string]any `json:"attributes"`
	}
	out := make([]wireEntry, len(entries))
	for i, e := range entries {
		attrs := e.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		out[i] = wireEntry{Name: e.Name, Attributes: attrs}
	}
	return json.Marshal(out)
}

var _ domain.CatalogProvider = (*HTTPProvider)(nil)
