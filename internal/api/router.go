// Package api is the HTTP surface of the server: health, metrics, the MCP
// streamable endpoint and cache administration.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	// MCP serves the streamable HTTP transport at /mcp when set.
	MCP http.Handler
	// Metrics serves /metrics when set.
	Metrics        http.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	// MCP streams stay open, so the request timeout only covers the REST
	// routes.
	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Route("/cache", func(r chi.Router) {
			r.Delete("/", h.ClearCache)
			r.Get("/{productID}", h.GetCachedProduct)
			r.Delete("/{productID}", h.DeleteCachedProduct)
		})
	})

	return r
}
