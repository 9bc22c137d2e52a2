package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/taobao-scraper/internal/cache"
	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/maltedev/taobao-scraper/internal/session"
)

type fixedState session.State

func (s fixedState) State() session.State { return session.State(s) }

type stubOutbox struct {
	pending, deadLetter int64
	err                 error
}

func (s stubOutbox) Stats(context.Context) (int64, int64, error) {
	return s.pending, s.deadLetter, s.err
}

type failingCache struct{ cache.Noop }

func (failingCache) Get(context.Context, string) (*models.Product, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (failingCache) Clear(context.Context) error {
	return errors.New("redis: connection refused")
}

func newTestRouter(outbox OutboxStats, c cache.Cache, opts RouterOptions) http.Handler {
	h := NewHandlers(fixedState(session.StateReady), outbox, c, nil)
	return NewRouter(h, opts)
}

func do(t *testing.T, handler http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxStats
		wantCode   int
		wantStatus string
	}{
		{"archive disabled", nil, http.StatusOK, "ok"},
		{"healthy outbox", stubOutbox{pending: 3}, http.StatusOK, "ok"},
		{"pending backlog", stubOutbox{pending: 1001}, http.StatusOK, "warning"},
		{"dead letters", stubOutbox{deadLetter: 101}, http.StatusServiceUnavailable, "error"},
		{"outbox unavailable", stubOutbox{err: errors.New("db down")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.outbox, nil, RouterOptions{})

			rec, body := do(t, router, http.MethodGet, "/health")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, "ready", body["session"])
		})
	}

	t.Run("reports outbox counts", func(t *testing.T) {
		router := newTestRouter(stubOutbox{pending: 7, deadLetter: 2}, nil, RouterOptions{})

		_, body := do(t, router, http.MethodGet, "/health")
		outbox, ok := body["outbox"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 7.0, outbox["pending"])
		assert.Equal(t, 2.0, outbox["dead_letter"])
	})
}

func TestCacheEndpoints(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(8, time.Hour)
	p := models.NewProduct("881280651752", "https://detail.tmall.com/item.htm?id=881280651752")
	p.Title = "测试商品"
	require.NoError(t, mem.Put(ctx, p.ProductID, p))
	require.NoError(t, mem.Put(ctx, "680000000001", models.NewProduct("680000000001", "")))

	router := newTestRouter(nil, mem, RouterOptions{})

	rec, body := do(t, router, http.MethodGet, "/api/v1/cache/881280651752")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "测试商品", body["title"])

	rec, body = do(t, router, http.MethodGet, "/api/v1/cache/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product not cached", body["error"])

	rec, _ = do(t, router, http.MethodDelete, "/api/v1/cache/881280651752")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok, err := mem.Get(ctx, "881280651752")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, _ = do(t, router, http.MethodDelete, "/api/v1/cache")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, mem.Len())
}

func TestCacheEndpoints_BackendErrors(t *testing.T) {
	router := newTestRouter(nil, failingCache{}, RouterOptions{})

	rec, body := do(t, router, http.MethodGet, "/api/v1/cache/881280651752")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to read cache", body["error"])

	rec, _ = do(t, router, http.MethodDelete, "/api/v1/cache")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_OptionalHandlers(t *testing.T) {
	marker := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-Handler", name)
			w.WriteHeader(http.StatusTeapot)
		})
	}

	router := newTestRouter(nil, nil, RouterOptions{MCP: marker("mcp"), Metrics: marker("metrics")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, "mcp", rec.Header().Get("X-Handler"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "metrics", rec.Header().Get("X-Handler"))

	bare := newTestRouter(nil, nil, RouterOptions{})
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
