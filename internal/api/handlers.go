package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/taobao-scraper/internal/cache"
	"github.com/maltedev/taobao-scraper/internal/session"
)

const (
	pendingWarnThreshold   = 1000
	deadLetterErrThreshold = 100
)

type SessionState interface {
	State() session.State
}

// OutboxStats reports outbox backlog. database.Relay implements it.
type OutboxStats interface {
	Stats(ctx context.Context) (pending, deadLetter int64, err error)
}

type Handlers struct {
	sessions SessionState
	outbox   OutboxStats
	cache    cache.Cache
	logger   *slog.Logger
}

// NewHandlers builds the REST handlers. outbox may be nil when the archive
// is disabled; a nil cache behaves as an always-empty one.
func NewHandlers(sessions SessionState, outbox OutboxStats, c cache.Cache, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Handlers{
		sessions: sessions,
		outbox:   outbox,
		cache:    c,
		logger:   logger.With("component", "api"),
	}
}

// Health reports the browser session state and, when archiving, the outbox
// backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"session": h.sessions.State(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterErrThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// GetCachedProduct returns the last scraped record for a product.
func (h *Handlers) GetCachedProduct(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "product ID is required")
		return
	}

	product, ok, err := h.cache.Get(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to read cache", "product_id", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read cache")
		return
	}
	if !ok {
		h.respondError(w, http.StatusNotFound, "product not cached")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

func (h *Handlers) DeleteCachedProduct(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		h.respondError(w, http.StatusBadRequest, "product ID is required")
		return
	}

	if err := h.cache.Delete(r.Context(), productID); err != nil {
		h.logger.Error("failed to delete cache entry", "product_id", productID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete cache entry")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear cache", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
