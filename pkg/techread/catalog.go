package techread

import (
	"context"
	"net/http"

	"github.com/spherical/techread/internal/cache"
	"github.com/spherical/techread/internal/catalog"
	"github.com/spherical/techread/internal/config"
	"github.com/spherical/techread/internal/domain"
	"github.com/spherical/techread/internal/observability"
	"github.com/spherical/techread/internal/transport"
)

// LoadAskCatalog loads the ask catalog described by cfg, or the default
// configuration when cfg is nil. Failures to reach the catalog or to parse
// it are reported as catalog errors.
//
// Each call stands alone: the "memory" cache driver has nothing to reuse
// here, so the catalog is fetched every time. Use Client.LoadAskCatalog to
// cache in memory, or the "redis" driver to share across calls and processes.
func LoadAskCatalog(ctx context.Context, cfg *Config) (*Catalog, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return loadCatalog(ctx, cfg, nil, observability.Nop())
}

// loadCatalog fetches the catalog. memory backs the "memory" driver and may
// be nil.
func loadCatalog(ctx context.Context, cfg *Config, memory cache.Client, logger *observability.Logger) (*Catalog, error) {
	if cfg.Catalog.Source == "builtin" {
		return catalog.Load(ctx, catalog.BuiltinProvider{})
	}

	retry := transport.DefaultRetryConfig()
	retry.MaxRetries = cfg.Service.MaxRetries
	httpClient := transport.NewHTTPClient(&http.Client{Timeout: cfg.Service.RequestTimeout}, retry, logger)
	remote := catalog.NewHTTPProvider(httpClient, cfg.Service.HTTPSURL, logger)

	client, release := openCache(ctx, cfg.Catalog.Cache, memory, logger)
	defer release()

	var provider domain.CatalogProvider = remote
	if client != nil {
		provider = catalog.NewCachedProvider(remote, client, remote.URL(), cfg.Catalog.Cache.TTL, logger)
	}
	return catalog.Load(ctx, provider)
}

// openCache returns the configured cache, or nil when caching is disabled
// or Redis is unreachable. release must always be called.
func openCache(ctx context.Context, cfg config.CacheConfig, memory cache.Client, logger *observability.Logger) (cache.Client, func()) {
	switch cfg.Driver {
	case "memory":
		return memory, func() {}
	case "redis":
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, loading catalog uncached")
			return nil, func() {}
		}
		return client, func() { _ = client.Close() }
	default:
		return nil, func() {}
	}
}
