package main

import (
	"context"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/config"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/infrastructure/basket"
	"github.com/shelfscout/backend/internal/infrastructure/cache"
	"github.com/shelfscout/backend/internal/infrastructure/gemini"
	"github.com/shelfscout/backend/internal/infrastructure/history"
	"github.com/shelfscout/backend/internal/infrastructure/images"
	"github.com/shelfscout/backend/internal/infrastructure/storefront"
	"github.com/shelfscout/backend/internal/logging"
	"github.com/shelfscout/backend/internal/usecase"
)

// app owns the loaded configuration and everything that must be released on exit
type app struct {
	cfg     *config.Config
	closers []io.Closer
}

// newApp loads configuration and installs the process logger
func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags.apply(cfg)

	logger, closer := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	logging.SetDefault(logger)

	return &app{cfg: cfg, closers: []io.Closer{closer}}, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.Default().Warn("[APP] close failed", "error", err)
		}
	}
}

func (a *app) historyStore() (*history.CSVStore, error) {
	store, err := history.NewCSVStore(a.cfg.History.Dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open price history", goerr.V("dir", a.cfg.History.Dir))
	}
	return store, nil
}

// historyService serves lowest-ever lookups without touching storefronts or the model
func (a *app) historyService() (*usecase.RunService, error) {
	store, err := a.historyStore()
	if err != nil {
		return nil, err
	}
	return usecase.NewRunService(nil, nil, store, usecase.RunConfig{Retailers: a.cfg.Retailers}), nil
}

// runService wires storefronts, the comparison model and the archive into a run service.
// ctx bounds the search cache's cleanup loop.
func (a *app) runService(ctx context.Context) (*usecase.RunService, error) {
	cfg := a.cfg
	logger := logging.Default()

	imageStore, err := images.NewStore(cfg.Images.Dir)
	if err != nil {
		return nil, err
	}

	for _, r := range cfg.Retailers {
		if _, ok := cfg.Storefront(r); !ok {
			logger.Warn("[APP] no storefront profile, every quote will be absent", "retailer", r)
		}
	}

	fetcher := storefront.NewFetcher(storefront.Config{
		Profiles:           cfg.Storefronts,
		Images:             imageStore,
		RemoteURL:          cfg.Browser.RemoteURL,
		Headless:           cfg.Browser.Headless,
		Timeout:            cfg.Browser.Timeout,
		EnableDebugLogging: cfg.Matching.Debug,
	})
	a.closers = append(a.closers, fetcher)

	searchCache := cache.NewSearchCache(ctx)
	cachedFetcher := cache.NewCachingFetcher(fetcher, searchCache, cfg.Cache.TTL)

	client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrConfiguration, "comparison model unavailable", goerr.V("cause", err.Error()))
	}
	comparer := gemini.NewComparer(gemini.ComparerConfig{
		Generator:          client,
		Images:             imageStore,
		VisualConfidence:   cfg.Matching.VisualConfidence,
		EnableDebugLogging: cfg.Matching.Debug,
	})

	matcher := usecase.NewMatchingService(usecase.MatchConfig{
		Fetcher:            cachedFetcher,
		TextComparer:       comparer,
		ImageComparer:      comparer,
		Preprocessor:       usecase.NewQueryPreprocessor(cfg.Matching.Debug),
		EnableDebugLogging: cfg.Matching.Debug,
	})

	store, err := a.historyStore()
	if err != nil {
		return nil, err
	}

	loader := basket.NewLoader(basket.LoaderConfig{
		Path:     cfg.Basket.Path,
		Images:   imageStore,
		Capturer: fetcher,
	})

	logger.Info("[APP] configured",
		"retailers", cfg.Retailers,
		"basket", cfg.Basket.Path,
		"history", cfg.History.Dir,
		"model", cfg.Gemini.Model,
		"max_concurrent", cfg.RateLimit.MaxConcurrent,
		"call_delay", cfg.RateLimit.CallDelay,
		"batching", cfg.Batch.Enabled,
		"cache_ttl", cfg.Cache.TTL)

	return usecase.NewRunService(loader, matcher, store, usecase.RunConfig{
		Retailers: cfg.Retailers,
		RateLimit: usecase.RateLimiterConfig{
			MaxConcurrent: cfg.RateLimit.MaxConcurrent,
			CallDelay:     cfg.RateLimit.CallDelay,
		},
		Batch: usecase.BatchConfig{
			Enabled:  cfg.Batch.Enabled,
			Size:     cfg.Batch.Size,
			Delay:    cfg.Batch.Delay,
			Parallel: cfg.Batch.Parallel,
		},
		UseMembershipForCurrent: cfg.Pricing.UseMembershipForCurrent,
	}), nil
}
