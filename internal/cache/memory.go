package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maltedev/taobao-scraper/internal/models"
)

type memoryEntry struct {
	product  *models.Product
	storedAt time.Time
}

// Memory is a size-bounded LRU. Entries older than the TTL are treated as
// misses and evicted on read.
type Memory struct {
	cache *lru.Cache[string, memoryEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory builds a Memory cache; non-positive values fall back to 256
// entries and one hour.
func NewMemory(maxSize int, ttl time.Duration) *Memory {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c, err := lru.New[string, memoryEntry](maxSize)
	if err != nil {
		// lru.New only fails on a non-positive size, guarded above.
		panic(err)
	}
	return &Memory{cache: c, ttl: ttl, now: time.Now}
}

func (m *Memory) Put(_ context.Context, id string, p *models.Product) error {
	m.cache.Add(id, memoryEntry{product: p, storedAt: m.now()})
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.Product, bool, error) {
	entry, ok := m.cache.Get(id)
	if !ok {
		return nil, false, nil
	}
	if m.now().Sub(entry.storedAt) >= m.ttl {
		m.cache.Remove(id)
		return nil, false, nil
	}
	return entry.product, true, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.cache.Remove(id)
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.cache.Purge()
	return nil
}

func (m *Memory) Len() int {
	return m.cache.Len()
}
