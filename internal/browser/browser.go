package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/playwright-community/playwright-go"
)

// Browser is a persistent-profile Chromium context with the single page the
// session drives.
type Browser struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	logger  *slog.Logger
}

type Options struct {
	ProfileDir     string
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	ProxyServer    string
}

func DefaultOptions() *Options {
	return &Options{
		ProfileDir:     "user_data/chrome_profile",
		Headless:       false,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Locale:         "zh-CN",
	}
}

// Launch starts playwright and opens Chromium on the profile directory so
// cookies survive restarts.
func Launch(ctx context.Context, opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(opts.Headless),
		UserAgent: playwright.String(opts.UserAgent),
		Locale:    playwright.String(opts.Locale),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		AcceptDownloads: playwright.Bool(false),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.ProfileDir, launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	// A persistent context normally opens with one blank tab.
	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to create new page: %w", err)
		}
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	logger.Info("browser launched", "component", "browser", "profile_dir", opts.ProfileDir, "headless", opts.Headless)

	return &Browser{
		pw:      pw,
		context: bctx,
		page:    page,
		logger:  logger.With("component", "browser"),
	}, nil
}

// Page returns the session page behind the dom capability.
func (b *Browser) Page() dom.Page {
	return WrapPage(b.page)
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	b.logger.Info("browser closed")
	return nil
}

// Install downloads the Chromium build playwright drives.
func Install() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}
