package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom"
)

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// HTTPResolver follows redirects with a plain HTTP client. It is the
// fallback when no browser page is available.
type HTTPResolver struct {
	client    *http.Client
	userAgent string
}

func NewHTTPResolver(timeout time.Duration, insecureTLS bool, userAgent string) *HTTPResolver {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &HTTPResolver{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: userAgent,
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to follow %s: %w", shortURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.Request.URL.String(), nil
}

// BrowserResolver navigates the short link as a real page visit and reads
// the final address once redirects settle.
type BrowserResolver struct {
	Timeout time.Duration
	Settle  time.Duration
}

func (r BrowserResolver) ResolveWithPage(ctx context.Context, page dom.Page, shortURL string) (string, error) {
	if err := page.Navigate(shortURL, r.Timeout); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", shortURL, err)
	}
	if err := dom.Sleep(ctx, r.Settle); err != nil {
		return "", err
	}
	return page.URL(), nil
}
