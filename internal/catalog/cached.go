package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/spherical/techread/internal/cache"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
)

const cacheKeyPrefix = "catalog:"

// cachedCatalog is the stored cache value.
type cachedCatalog struct {
	Entries  json.RawMessage `json:"entries"`
	CachedAt time.Time       `json:"cached_at"`
}

// CachedProvider serves the catalog from a cache and falls back to the
// wrapped provider on a miss. Cache failures never fail a load.
type CachedProvider struct {
	inner  domain.CatalogProvider
	client cache.Client
	key    string
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedProvider wraps inner. source identifies the catalog origin, for
// example its URL, and is hashed into the cache key.
func NewCachedProvider(inner domain.CatalogProvider, client cache.Client, source string, ttl time.Duration, logger *observability.Logger) *CachedProvider {
	if logger == nil {
		logger = observability.Nop()
	}
	hash := sha256.Sum256([]byte(source))

	return &CachedProvider{
		inner:  inner,
		client: client,
		key:    cacheKeyPrefix + hex.EncodeToString(hash[:16]),
		ttl:    ttl,
		logger: logger.WithOperation("catalog_cache"),
	}
}

// Key returns the cache key used for this catalog.
func (p *CachedProvider) Key() string {
	return p.key
}

// FetchCatalog implements domain.CatalogProvider.
func (p *CachedProvider) FetchCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	if entries, ok := p.get(ctx); ok {
		return entries, nil
	}

	entries, err := p.inner.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}

	p.set(ctx, entries)
	return entries, nil
}

func (p *CachedProvider) get(ctx context.Context) ([]domain.CatalogEntry, bool) {
	data, err := p.client.Get(ctx, p.key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn().Err(err).Str("key", p.key).Msg("Cache get error")
		}
		return nil, false
	}

	var cached cachedCatalog
	if err := json.Unmarshal(data, &cached); err != nil {
		p.logger.Warn().Err(err).Str("key", p.key).Msg("Dropping unreadable cache entry")
		_ = p.client.Delete(ctx, p.key)
		return nil, false
	}

	entries, err := ParseEntries(cached.Entries)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", p.key).Msg("Dropping malformed cached catalog")
		_ = p.client.Delete(ctx, p.key)
		return nil, false
	}

	p.logger.Debug().
		Str("key", p.key).
		Dur("age", time.Since(cached.CachedAt)).
		Msg("Catalog cache hit")
	return entries, true
}

func (p *CachedProvider) set(ctx context.Context, entries []domain.CatalogEntry) {
	raw, err := encodeEntries(entries)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to encode catalog for cache")
		return
	}

	data, err := json.Marshal(cachedCatalog{Entries: raw, CachedAt: time.Now()})
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to encode catalog for cache")
		return
	}

	if err := p.client.Set(ctx, p.key, data, p.ttl); err != nil {
		p.logger.Warn().Err(err).Str("key", p.key).Msg("Cache set error")
	}
}

var _ domain.CatalogProvider = (*CachedProvider)(nil)
