package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/taobao-scraper/internal/browser"
	"github.com/maltedev/taobao-scraper/internal/cache"
	"github.com/maltedev/taobao-scraper/internal/config"
	"github.com/maltedev/taobao-scraper/internal/database"
	"github.com/maltedev/taobao-scraper/internal/events"
	"github.com/maltedev/taobao-scraper/internal/extract"
	"github.com/maltedev/taobao-scraper/internal/images"
	"github.com/maltedev/taobao-scraper/internal/link"
	"github.com/maltedev/taobao-scraper/internal/mcpserver"
	"github.com/maltedev/taobao-scraper/internal/metrics"
	"github.com/maltedev/taobao-scraper/internal/ratelimit"
	"github.com/maltedev/taobao-scraper/internal/response"
	"github.com/maltedev/taobao-scraper/internal/scraper"
	"github.com/maltedev/taobao-scraper/internal/session"
)

// app holds the wired components for one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	sessions  *session.Controller
	cache     cache.Cache
	redis     *redis.Client
	db        *database.DB
	relay     *database.Relay
	scraper   *scraper.Service
	assembler *response.Assembler
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.MustNewMetrics(a.registry)

	a.sessions = session.NewController(newLauncher(cfg, logger), sessionConfig(cfg), logger)

	if cfg.Cache.Backend == "redis" || cfg.Database.Enabled {
		a.redisClient()
	}

	var redisClient cache.RedisClient
	if a.redis != nil {
		redisClient = a.redis
	}
	c, err := cache.New(cfg.Cache.Backend, cfg.Cache.Size, cfg.Cache.TTL, redisClient)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = cache.WithMetrics(c, a.metrics)

	var archive scraper.Archiver
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db

		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}

		archive = events.NewPublisher(db, cfg.Redis.Stream, logger)
		a.relay = database.NewRelay(database.NewOutboxRepository(db), a.redis, logger, database.RelayConfig{
			PollInterval: cfg.Database.PollInterval,
		})
	}

	selectors, err := extract.LoadSelectors(cfg.Scraper.SelectorsFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	ids := link.NewExtractor(
		link.NewHTTPResolver(cfg.Link.HTTPTimeout, cfg.Link.InsecureTLS, cfg.Browser.UserAgent),
		link.BrowserResolver{Timeout: cfg.Link.BrowserTimeout, Settle: 2 * time.Second},
		logger,
	)

	a.scraper = scraper.NewService(scraper.Dependencies{
		Sessions: a.sessions,
		IDs:      ids,
		Pipeline: extract.NewPipeline(selectors, extract.DefaultTiming(), logger),
		Pacer:    ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax),
		Cache:    a.cache,
		Archive:  archive,
		Metrics:  a.metrics,
	}, scraper.Config{
		Platform:        link.ParsePlatform(cfg.Scraper.Platform),
		PageTimeout:     cfg.Scraper.PageTimeout,
		SelectorTimeout: cfg.Scraper.SelectorTimeout,
		SettleDelay:     cfg.Scraper.SettleDelay,
		TitleSelectors:  selectors.Title,
	}, logger)

	imgOpts := images.DefaultOptions()
	imgOpts.MaxConcurrent = cfg.Images.MaxConcurrent
	imgOpts.Timeout = cfg.Images.Timeout
	imgOpts.Referer = cfg.Images.Referer
	imgOpts.InsecureTLS = cfg.Images.InsecureTLS
	imgOpts.RequestsPerSecond = cfg.Images.RequestsPerSecond
	imgOpts.UserAgent = cfg.Browser.UserAgent

	fetcher := images.NewFetcher(imgOpts, images.NewWebPTranscoder(cfg.Images.WebPQuality), a.metrics, logger)
	a.assembler = response.NewAssembler(fetcher, cfg.Images.MaxConcurrent, logger)

	return a, nil
}

// redisClient returns the shared client, connecting on first use.
func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
	}
	return a.redis
}

func (a *app) mcpServer() *mcpserver.Server {
	return mcpserver.New(mcpserver.Dependencies{
		Sessions:  a.sessions,
		Scraper:   a.scraper,
		Assembler: a.assembler,
		Metrics:   a.metrics,
	}, version, a.logger)
}

func (a *app) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// startRelay forwards archived events to Redis until ctx is done. It is a
// no-op when the archive is disabled.
func (a *app) startRelay(ctx context.Context) {
	if a.relay == nil {
		return
	}
	go func() {
		if err := a.relay.Start(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("relay stopped", "error", err)
		}
	}()
}

func (a *app) Close() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn("failed to close browser session", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
}

func newLauncher(cfg *config.Config, logger *slog.Logger) session.Launcher {
	opts := &browser.Options{
		ProfileDir:     cfg.Browser.ProfileDir,
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Session.NavigationTimeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
		ProxyServer:    cfg.Browser.ProxyServer,
	}
	return session.LauncherFunc(func(ctx context.Context) (session.Handle, error) {
		b, err := browser.Launch(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.HomeURL = cfg.Session.HomeURL
	sc.LoginHosts = cfg.Session.LoginHosts
	sc.LoginMarker = cfg.Session.LoginMarker
	sc.LoginCookies = cfg.Session.LoginCookies
	sc.QuickConfirmText = cfg.Session.QuickConfirmText
	sc.LoginWait = cfg.Session.LoginWait
	sc.NavigationTimeout = cfg.Session.NavigationTimeout
	return sc
}
