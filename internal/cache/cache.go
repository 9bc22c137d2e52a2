// Package cache keeps the most recent scrape of each product for
// inspection. The scrape path only writes to it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/taobao-scraper/internal/metrics"
	"github.com/maltedev/taobao-scraper/internal/models"
)

const (
	defaultMaxSize = 256
	defaultTTL     = time.Hour
)

var ErrUnknownBackend = errors.New("unknown cache backend")

type Cache interface {
	Put(ctx context.Context, productID string, p *models.Product) error
	// Get reports a miss with ok=false and a nil error.
	Get(ctx context.Context, productID string) (p *models.Product, ok bool, err error)
	Delete(ctx context.Context, productID string) error
	Clear(ctx context.Context) error
}

// Noop discards everything.
type Noop struct{}

func (Noop) Put(context.Context, string, *models.Product) error { return nil }
func (Noop) Get(context.Context, string) (*models.Product, bool, error) {
	return nil, false, nil
}
func (Noop) Delete(context.Context, string) error { return nil }
func (Noop) Clear(context.Context) error          { return nil }

// instrumented counts operations per result.
type instrumented struct {
	next    Cache
	metrics *metrics.Metrics
}

// WithMetrics wraps c so every operation is counted.
func WithMetrics(c Cache, m *metrics.Metrics) Cache {
	if m == nil {
		return c
	}
	return &instrumented{next: c, metrics: m}
}

func (c *instrumented) Put(ctx context.Context, id string, p *models.Product) error {
	err := c.next.Put(ctx, id, p)
	c.metrics.IncCacheOp("put", result(err))
	return err
}

func (c *instrumented) Get(ctx context.Context, id string) (*models.Product, bool, error) {
	p, ok, err := c.next.Get(ctx, id)
	switch {
	case err != nil:
		c.metrics.IncCacheOp("get", "error")
	case ok:
		c.metrics.IncCacheOp("get", "hit")
	default:
		c.metrics.IncCacheOp("get", "miss")
	}
	return p, ok, err
}

func (c *instrumented) Delete(ctx context.Context, id string) error {
	err := c.next.Delete(ctx, id)
	c.metrics.IncCacheOp("delete", result(err))
	return err
}

func (c *instrumented) Clear(ctx context.Context) error {
	err := c.next.Clear(ctx)
	c.metrics.IncCacheOp("clear", result(err))
	return err
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// New picks a backend by name: "memory", "redis" or "none". client is only
// used by the redis backend.
func New(backend string, maxSize int, ttl time.Duration, client RedisClient) (Cache, error) {
	switch backend {
	case "memory":
		return NewMemory(maxSize, ttl), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis cache backend needs a client")
		}
		return NewRedis(client, ttl), nil
	case "none", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
