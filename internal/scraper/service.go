// Package scraper drives one product scrape end to end: it borrows the
// session page, resolves the product id, loads the product page and runs
// the extraction pipeline over it.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/taobao-scraper/internal/cache"
	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/maltedev/taobao-scraper/internal/extract"
	"github.com/maltedev/taobao-scraper/internal/link"
	"github.com/maltedev/taobao-scraper/internal/metrics"
	"github.com/maltedev/taobao-scraper/internal/models"
)

var (
	ErrNavigation    = errors.New("failed to load product page")
	ErrPageStructure = errors.New("product page did not render the expected structure")
)

// Sessions lends the browser page. session.Controller implements it.
type Sessions interface {
	Acquire(ctx context.Context) (dom.Page, func(), error)
	HandleLoginWall(ctx context.Context, page dom.Page, wait bool) error
	OnLoginHost(raw string) bool
}

type IDExtractor interface {
	Extract(ctx context.Context, input string, page dom.Page) (link.Result, error)
}

// Pacer spaces out page navigations and learns from their outcome.
type Pacer interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

// Archiver stores finished records. events.Publisher implements it.
type Archiver interface {
	PublishProductScraped(ctx context.Context, product *models.Product) error
}

type Config struct {
	Platform        link.Platform
	PageTimeout     time.Duration
	SelectorTimeout time.Duration
	SettleDelay     time.Duration
	TitleSelectors  []string
}

func DefaultConfig() Config {
	return Config{
		Platform:        link.PlatformTmall,
		PageTimeout:     60 * time.Second,
		SelectorTimeout: 45 * time.Second,
		SettleDelay:     3 * time.Second,
		TitleSelectors:  extract.DefaultSelectors().Title,
	}
}

// Options tune a single scrape.
type Options struct {
	// WaitForLogin blocks on a login wall for a manual login instead of
	// failing with a login-required error.
	WaitForLogin bool
}

// Dependencies are the collaborators of a Service. Pacer, Cache, Archive
// and Metrics are optional.
type Dependencies struct {
	Sessions Sessions
	IDs      IDExtractor
	Pipeline *extract.Pipeline
	Pacer    Pacer
	Cache    cache.Cache
	Archive  Archiver
	Metrics  *metrics.Metrics
}

type Service struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
}

func NewService(deps Dependencies, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if len(cfg.TitleSelectors) == 0 {
		cfg.TitleSelectors = extract.DefaultSelectors().Title
	}
	if cfg.Platform == "" {
		cfg.Platform = link.PlatformTmall
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "scraper"),
	}
}

// Scrape produces a record for input, which may be a product link, a short
// link, share text containing one, or a bare product id.
func (s *Service) Scrape(ctx context.Context, input string, opts Options) (product *models.Product, err error) {
	start := time.Now()
	defer func() {
		s.observe(start, err)
	}()

	page, release, err := s.deps.Sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.deps.IDs.Extract(ctx, input, page)
	if err != nil {
		return nil, err
	}

	productURL := link.BuildURL(res.ID, s.cfg.Platform)
	logger := s.logger.With("product_id", res.ID)
	logger.Info("scraping product", "url", productURL, "strategy", res.Strategy)

	if err := s.load(ctx, page, productURL); err != nil {
		return nil, err
	}

	if s.deps.Sessions.OnLoginHost(page.URL()) {
		if err := s.deps.Sessions.HandleLoginWall(ctx, page, opts.WaitForLogin); err != nil {
			return nil, err
		}
		if !strings.Contains(page.URL(), res.ID) {
			logger.Info("reloading product page after login")
			if err := s.load(ctx, page, productURL); err != nil {
				return nil, err
			}
		}
	}

	if err := s.waitForTitle(page); err != nil {
		return nil, err
	}

	if current := page.URL(); link.IsShareLink(current) {
		clean := link.CleanShareURL(current, res.ID)
		logger.Info("reloading share link as clean product URL", "url", clean)
		if err := s.load(ctx, page, clean); err != nil {
			return nil, err
		}
		if err := s.waitForTitle(page); err != nil {
			return nil, err
		}
	}

	product = models.NewProduct(res.ID, productURL)
	if err := s.extract(ctx, s.deps.Pipeline, page, product); err != nil {
		return nil, err
	}

	s.finish(ctx, product)
	logger.Info("product scraped",
		"title", product.Title,
		"gallery", len(product.GalleryImages),
		"detail", len(product.DetailImages),
		"reviews", len(product.Reviews),
		"duration", time.Since(start),
	)
	return product, nil
}

// ScrapeSnapshot runs the pipeline over saved page HTML for productID
// without touching the browser.
func (s *Service) ScrapeSnapshot(ctx context.Context, productID, html string) (product *models.Product, err error) {
	start := time.Now()
	defer func() {
		s.observe(start, err)
	}()

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, link.ErrIdentifierNotFound
	}

	productURL := link.BuildURL(productID, s.cfg.Platform)
	page, err := dom.NewSnapshot(productURL, html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse saved page: %w", err)
	}
	if _, ok := dom.FirstText(page, s.cfg.TitleSelectors); !ok {
		return nil, fmt.Errorf("%w: no product title in saved page", ErrPageStructure)
	}

	product = models.NewProduct(productID, productURL)
	if err := s.extract(ctx, s.deps.Pipeline.Static(), page, product); err != nil {
		return nil, err
	}

	s.finish(ctx, product)
	return product, nil
}

// load paces, navigates and lets the page settle.
func (s *Service) load(ctx context.Context, page dom.Page, url string) error {
	if s.deps.Pacer != nil {
		if err := s.deps.Pacer.Wait(ctx); err != nil {
			return err
		}
	}

	if err := page.Navigate(url, s.cfg.PageTimeout); err != nil {
		if s.deps.Pacer != nil {
			s.deps.Pacer.RecordError()
		}
		s.logger.Error("navigation failed", "url", url, "error", err)
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	if s.deps.Pacer != nil {
		s.deps.Pacer.RecordSuccess()
	}

	return dom.Sleep(ctx, s.cfg.SettleDelay)
}

// waitForTitle waits for the first title selector and falls back to a
// presence check of the others.
func (s *Service) waitForTitle(page dom.Page) error {
	for i, sel := range s.cfg.TitleSelectors {
		if i == 0 {
			if err := page.WaitForSelector(sel, s.cfg.SelectorTimeout); err == nil {
				return nil
			}
			continue
		}
		if el, err := page.Query(sel); err == nil && el != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: product title not found at %s", ErrPageStructure, page.URL())
}

func (s *Service) extract(ctx context.Context, pl *extract.Pipeline, page dom.Page, product *models.Product) error {
	report, err := pl.Run(ctx, page, product)
	for _, section := range report.Failed {
		s.deps.Metrics.IncSectionFailure(section)
	}
	return err
}

// finish stamps the record and hands it to the cache and the archive.
// Neither can fail the scrape.
func (s *Service) finish(ctx context.Context, product *models.Product) {
	product.ScrapedAt = time.Now()

	if err := s.deps.Cache.Put(ctx, product.ProductID, product); err != nil {
		s.logger.Warn("failed to cache product", "product_id", product.ProductID, "error", err)
	}

	if s.deps.Archive != nil {
		if err := s.deps.Archive.PublishProductScraped(ctx, product); err != nil {
			s.logger.Error("failed to archive product", "product_id", product.ProductID, "error", err)
		}
	}
}

func (s *Service) observe(start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.deps.Metrics.ObserveScrape(outcome, time.Since(start))
}
