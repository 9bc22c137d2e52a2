package images

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/taobao-scraper/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxImageBytes bounds a single download.
const maxImageBytes = 20 << 20

// Fetched is a downloaded image ready to embed. Index is the position of
// its URL in the FetchAll input.
type Fetched struct {
	Index    int
	URL      string
	Data     []byte
	MIMEType string
}

type Options struct {
	MaxConcurrent     int
	Timeout           time.Duration
	UserAgent         string
	Referer           string
	InsecureTLS       bool
	RequestsPerSecond float64
	Burst             int
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent:     10,
		Timeout:           10 * time.Second,
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referer:           "https://detail.tmall.com/",
		InsecureTLS:       true,
		RequestsPerSecond: 20,
		Burst:             5,
	}
}

type Fetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	transcoder Transcoder
	opts       Options
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewFetcher(opts Options, transcoder Transcoder, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Fetcher{
		client:     &http.Client{Transport: transport},
		limiter:    rate.NewLimiter(limit, burst),
		transcoder: transcoder,
		opts:       opts,
		metrics:    m,
		logger:     logger.With("component", "image_fetcher"),
	}
}

// FetchAll downloads urls with at most maxConcurrent requests in flight.
// The result keeps input order; any URL that fails to download or
// transcode is left out. maxConcurrent <= 0 uses the configured default.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, maxConcurrent int) []Fetched {
	if len(urls) == 0 {
		return nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = f.opts.MaxConcurrent
	}

	slots := make([]*Fetched, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			img, err := f.fetchOne(gctx, u)
			if err != nil {
				f.logger.Warn("image dropped", "url", u, "error", err)
				return nil
			}
			img.Index = i
			slots[i] = img
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Fetched, 0, len(urls))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) (*Fetched, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		f.metrics.IncImageFetch("transport_error")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.metrics.IncImageFetch("transport_error")
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Referer", f.opts.Referer)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "image")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.IncImageFetch("transport_error")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.metrics.IncImageFetch("http_error")
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		f.metrics.IncImageFetch("transport_error")
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	mime := DetectMIME(data, url, resp.Header.Get("Content-Type"))
	outcome := "ok"
	if mime == MIMEAVIF {
		data, err = f.transcode(data)
		if err != nil {
			f.metrics.IncImageFetch("transcode_error")
			return nil, err
		}
		mime = MIMEWebP
		outcome = "transcoded"
	}

	f.metrics.IncImageFetch(outcome)
	f.metrics.AddImageBytes(len(data))
	return &Fetched{URL: url, Data: data, MIMEType: mime}, nil
}

func (f *Fetcher) transcode(data []byte) ([]byte, error) {
	if f.transcoder == nil {
		return nil, fmt.Errorf("no transcoder configured for AVIF")
	}
	out, err := f.transcoder.ToWebP(data)
	if err != nil {
		return nil, fmt.Errorf("transcode failed: %w", err)
	}
	if err := validateWebP(out); err != nil {
		return nil, err
	}
	return out, nil
}
