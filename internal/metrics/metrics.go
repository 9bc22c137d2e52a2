// Package metrics holds the Prometheus collectors for scrapes, image
// fetches and the product cache. All methods are safe on a nil *Metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taobao_scraper"

type Metrics struct {
	scrapeDuration  *prometheus.HistogramVec
	sectionFailures *prometheus.CounterVec
	imageFetches    *prometheus.CounterVec
	imageBytes      prometheus.Counter
	cacheOps        *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
}

// MustNewMetrics registers the collectors on reg. Collectors that are
// already registered are reused, so tests and repeated construction do not
// panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		scrapeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scrape_duration_seconds",
				Help:      "Duration of product scrapes by outcome.",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 240},
			},
			[]string{"outcome"},
		),
		sectionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "section_failures_total",
				Help:      "Page sections that could not be extracted.",
			},
			[]string{"section"},
		),
		imageFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_fetches_total",
				Help:      "Image fetches by outcome.",
			},
			[]string{"outcome"},
		),
		imageBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_bytes_total",
				Help:      "Bytes of image payload returned to callers.",
			},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Product cache operations by result.",
			},
			[]string{"op", "result"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "MCP tool calls by tool and result.",
			},
			[]string{"tool", "result"},
		),
	}

	m.scrapeDuration = register(reg, m.scrapeDuration)
	m.sectionFailures = register(reg, m.sectionFailures)
	m.imageFetches = register(reg, m.imageFetches)
	m.imageBytes = register(reg, m.imageBytes)
	m.cacheOps = register(reg, m.cacheOps)
	m.toolCalls = register(reg, m.toolCalls)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) ObserveScrape(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scrapeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncSectionFailure(section string) {
	if m == nil {
		return
	}
	m.sectionFailures.WithLabelValues(section).Inc()
}

// IncImageFetch counts one image by outcome: ok, transcoded, http_error,
// transport_error, transcode_error.
func (m *Metrics) IncImageFetch(outcome string) {
	if m == nil {
		return
	}
	m.imageFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddImageBytes(n int) {
	if m == nil {
		return
	}
	m.imageBytes.Add(float64(n))
}

func (m *Metrics) IncCacheOp(op, result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) IncToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, result).Inc()
}
