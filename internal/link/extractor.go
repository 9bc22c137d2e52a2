package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maltedev/taobao-scraper/internal/dom"
)

var (
	ErrIdentifierNotFound  = errors.New("could not extract product ID")
	ErrShortLinkUnresolved = fmt.Errorf("short link resolution failed: %w", ErrIdentifierNotFound)
)

var (
	directPattern    = regexp.MustCompile(`https?://(?:item\.taobao\.com|detail\.tmall\.com|detail\.m\.tmall\.com|item\.m\.taobao\.com)/item\.htm\?(?:.*&)?id=(\d+)`)
	shortLinkPattern = regexp.MustCompile(`https?://(?:e\.tb\.cn|s\.click\.taobao\.com)/[A-Za-z0-9.]+(?:\?\S*)?`)
	bareIDPattern    = regexp.MustCompile(`\b(\d{12,13})\b`)
)

// Strategy records how an identifier was obtained.
type Strategy string

const (
	StrategyDirect           Strategy = "direct"
	StrategyBareID           Strategy = "bare_id"
	StrategyShortLinkBrowser Strategy = "short_link_browser"
	StrategyShortLinkHTTP    Strategy = "short_link_http"
	StrategyShortLinkRescan  Strategy = "short_link_rescan_with_page"
)

type Result struct {
	ID          string
	Strategy    Strategy
	ShortLink   string
	ResolvedURL string
	// Attempt is 1 when the resolved URL yielded an ID on the page-less scan
	// and 2 when the page had to be re-supplied. Zero when no short link.
	Attempt int
}

// Resolver follows a short link to its destination without a browser.
type Resolver interface {
	Resolve(ctx context.Context, shortURL string) (string, error)
}

// PageResolver follows a short link by navigating a live page.
type PageResolver interface {
	ResolveWithPage(ctx context.Context, page dom.Page, shortURL string) (string, error)
}

type Extractor struct {
	http    Resolver
	browser PageResolver
	logger  *slog.Logger
}

func NewExtractor(http Resolver, browser PageResolver, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		http:    http,
		browser: browser,
		logger:  logger.With("component", "link_extractor"),
	}
}

// Extract finds the product identifier in free-form input. Priority is
// direct URL, then short link (resolved before any bare-digit scan so the
// short link's own path is never read as an ID), then a bare 12-13 digit run.
func (e *Extractor) Extract(ctx context.Context, input string, page dom.Page) (Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{}, ErrIdentifierNotFound
	}

	if id, ok := matchDirect(input); ok {
		return Result{ID: id, Strategy: StrategyDirect}, nil
	}

	if short := shortLinkPattern.FindString(input); short != "" {
		return e.extractFromShortLink(ctx, short, page)
	}

	if id, ok := matchBare(input); ok {
		return Result{ID: id, Strategy: StrategyBareID}, nil
	}

	return Result{}, ErrIdentifierNotFound
}

func (e *Extractor) extractFromShortLink(ctx context.Context, short string, page dom.Page) (Result, error) {
	e.logger.Info("detected short link", "url", short)

	resolved, strategy, err := e.resolve(ctx, short, page)
	if err != nil {
		e.logger.Warn("short link could not be resolved", "url", short, "error", err)
		return Result{}, fmt.Errorf("%w: %s", ErrShortLinkUnresolved, short)
	}

	res := Result{Strategy: strategy, ShortLink: short, ResolvedURL: resolved}

	// The first scan runs without the page: navigation already happened.
	if id, ok := e.scanResolved(ctx, resolved, nil); ok {
		res.ID, res.Attempt = id, 1
		return res, nil
	}

	if page != nil {
		e.logger.Warn("resolved URL had no ID, retrying with page", "resolved_url", resolved)
		if id, ok := e.scanResolved(ctx, resolved, page); ok {
			res.ID, res.Attempt, res.Strategy = id, 2, StrategyShortLinkRescan
			return res, nil
		}
	}

	e.logger.Warn("no product ID in resolved URL", "url", short, "resolved_url", resolved)
	return Result{}, fmt.Errorf("%w: %s", ErrShortLinkUnresolved, short)
}

// scanResolved looks for an ID in a resolved destination. A nested short
// link is followed once; its destination is only scanned, never resolved.
func (e *Extractor) scanResolved(ctx context.Context, text string, page dom.Page) (string, bool) {
	if id, ok := matchDirect(text); ok {
		return id, true
	}

	if short := shortLinkPattern.FindString(text); short != "" {
		next, _, err := e.resolve(ctx, short, page)
		if err != nil {
			return "", false
		}
		if id, ok := matchDirect(next); ok {
			return id, true
		}
		if shortLinkPattern.MatchString(next) {
			return "", false
		}
		return matchBare(next)
	}

	return matchBare(text)
}

// resolve prefers the browser when a page is supplied and falls back to HTTP.
func (e *Extractor) resolve(ctx context.Context, short string, page dom.Page) (string, Strategy, error) {
	var errs []error

	if page != nil && e.browser != nil {
		resolved, err := e.browser.ResolveWithPage(ctx, page, short)
		if err == nil && resolved != "" {
			return resolved, StrategyShortLinkBrowser, nil
		}
		if err == nil {
			err = errors.New("empty destination")
		}
		e.logger.Warn("browser resolution failed, trying HTTP", "url", short, "error", err)
		errs = append(errs, fmt.Errorf("browser: %w", err))
	}

	if e.http != nil {
		resolved, err := e.http.Resolve(ctx, short)
		if err == nil && resolved != "" {
			return resolved, StrategyShortLinkHTTP, nil
		}
		if err == nil {
			err = errors.New("empty destination")
		}
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	if len(errs) == 0 {
		return "", "", errors.New("no resolver available")
	}
	return "", "", errors.Join(errs...)
}

func matchDirect(s string) (string, bool) {
	if m := directPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

func matchBare(s string) (string, bool) {
	if m := bareIDPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

// ContainsShortLink reports whether input carries a short link.
func ContainsShortLink(input string) bool {
	return shortLinkPattern.MatchString(input)
}
