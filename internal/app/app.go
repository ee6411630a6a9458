package app

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/mediaparse/internal/artifact"
	"github.com/hyperifyio/mediaparse/internal/cache"
	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/dispatch"
	"github.com/hyperifyio/mediaparse/internal/downloader"
	"github.com/hyperifyio/mediaparse/internal/fetch"
	"github.com/hyperifyio/mediaparse/internal/media"
	"github.com/hyperifyio/mediaparse/internal/metrics"
	"github.com/hyperifyio/mediaparse/internal/platform/douyin"
	"github.com/hyperifyio/mediaparse/internal/platform/xiaohongshu"
)

// App wires the pipeline once; Parse may then be called concurrently.
type App struct {
	cfg        Config
	profiles   fetch.Profiles
	fetcher    *fetch.Client
	registry   *dispatch.Registry
	metrics    *metrics.Metrics
	downloader *downloader.HTTP
	httpCache  *cache.HTTPCache
}

// Option adjusts App construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient replaces the pooled HTTP client, e.g. to route requests
// through a test transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = newPooledHTTPClient(cfg.Timeout)
	}

	a := &App{cfg: cfg, profiles: cfg.Profiles(), metrics: metrics.New()}
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			if n, err := cache.PurgeHTTPCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
				log.Warn().Err(err).Msg("cache purge failed")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("expired cache entries purged")
			}
		}
		if cfg.CacheMaxBytes > 0 || cfg.CacheMaxEntries > 0 {
			if n, err := cache.EnforceHTTPCacheLimits(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheMaxEntries); err != nil {
				log.Warn().Err(err).Msg("cache limit enforcement failed")
			} else if n > 0 {
				log.Debug().Int("evicted", n).Msg("cache entries evicted")
			}
		}
		a.httpCache = &cache.HTTPCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	a.fetcher = &fetch.Client{
		HTTPClient:        o.httpClient,
		MaxAttempts:       cfg.MaxAttempts,
		PerRequestTimeout: cfg.Timeout,
		Cache:             a.httpCache,
		RedirectMaxHops:   cfg.RedirectMaxHops,
		MaxConcurrent:     cfg.MaxConcurrentRequests,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}
	norm := &media.Normalizer{
		Fetcher:     a.fetcher,
		Concurrency: cfg.MediaConcurrency,
		Quality:     cfg.JPEGQuality,
		Metrics:     a.metrics,
	}
	dy := &douyin.Resolver{
		Fetcher:    a.fetcher,
		Normalizer: norm,
		Profiles:   a.profiles,
		Mirrors:    cfg.DouyinMirrors,
		SlidesAPI:  cfg.DouyinSlidesAPI,
		Metrics:    a.metrics,
	}
	xhs := &xiaohongshu.Resolver{
		Fetcher:    a.fetcher,
		Normalizer: norm,
		Profiles:   a.profiles,
		BaseURL:    cfg.XHSBaseURL,
		Metrics:    a.metrics,
	}
	rules := append(dy.Rules(), xhs.Rules()...)
	a.registry = dispatch.NewRegistry(rules...).WithMetrics(a.metrics)

	if cfg.DownloadDir != "" {
		a.downloader = &downloader.HTTP{Fetcher: a.fetcher, Dir: cfg.DownloadDir}
	}
	log.Debug().Int("rules", len(rules)).Bool("cache", a.httpCache != nil).Bool("download", a.downloader != nil).Msg("pipeline ready")
	return a, nil
}

// Close releases idle upstream connections.
func (a *App) Close() {
	if a == nil || a.fetcher == nil || a.fetcher.HTTPClient == nil {
		return
	}
	a.fetcher.HTTPClient.CloseIdleConnections()
}

// Metrics exposes the pipeline counters.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Parse resolves the first supported link in input. Temporary files created
// on the way are removed unless the returned result references them; those
// belong to the caller until Result.Release.
func (a *App) Parse(ctx context.Context, input string) (*content.Result, error) {
	tr := artifact.NewTracker(a.cfg.ArtifactDir)
	defer func() {
		if err := tr.Release(); err != nil {
			log.Warn().Err(err).Msg("artifact cleanup failed")
		}
	}()

	res, err := a.registry.Dispatch(ctx, input, tr)
	if err != nil {
		return nil, err
	}
	tr.Keep(res.Artifacts()...)

	if a.downloader != nil {
		if err := res.Materialize(ctx, a.downloader, a.downloadHeaders(res.Platform), a.cfg.MediaConcurrency); err != nil {
			log.Warn().Err(err).Str("platform", res.Platform).Msg("some media stayed remote")
		}
	}
	log.Info().Str("platform", res.Platform).Int("contents", len(res.Contents)).Msg("parsed")
	return res, nil
}

// downloadHeaders emulates the client each platform serves media to.
func (a *App) downloadHeaders(platform string) map[string]string {
	if platform == douyin.Platform {
		return a.profiles.Android.HeaderMap()
	}
	return a.profiles.Desktop.HeaderMap()
}
