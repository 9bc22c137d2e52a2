package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/taobao-scraper/internal/database"
	"github.com/maltedev/taobao-scraper/internal/images"
	"github.com/maltedev/taobao-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductScraped is published after every successful scrape.
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
)

// ProductScrapedPayload is the body of a PRODUCT_SCRAPED event.
type ProductScrapedPayload struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	ScrapeID       string         `json:"scrape_id"`
	ProductID      string         `json:"product_id"`
	Title          string         `json:"title"`
	StoreName      string         `json:"store_name,omitempty"`
	ProductURL     string         `json:"product_url"`
	Price          *Price         `json:"price,omitempty"`
	ImageCounts    map[string]int `json:"image_counts"`
	ParameterCount int            `json:"parameter_count"`
	ReviewCount    int            `json:"review_count"`
	ScrapedAt      time.Time      `json:"scraped_at"`
	Source         string         `json:"source"`
}

// Price represents product pricing information
type Price struct {
	Current  *float64 `json:"current,omitempty"`
	Original *float64 `json:"original,omitempty"`
	Currency string   `json:"currency"`
}

// NewProductScrapedPayload summarises p for downstream consumers.
func NewProductScrapedPayload(p *models.Product) *ProductScrapedPayload {
	counts := make(map[string]int, len(models.Categories))
	for c, n := range images.CountByCategory(images.Aggregate(p)) {
		counts[string(c)] = n
	}

	payload := &ProductScrapedPayload{
		ScrapeID:       p.ScrapeID.String(),
		ProductID:      p.ProductID,
		Title:          p.Title,
		StoreName:      p.StoreName,
		ProductURL:     p.ProductURL,
		ImageCounts:    counts,
		ParameterCount: len(p.Parameters),
		ReviewCount:    len(p.Reviews),
		ScrapedAt:      p.ScrapedAt,
	}
	if p.CurrentPrice != nil || p.OriginalPrice != nil {
		payload.Price = &Price{Current: p.CurrentPrice, Original: p.OriginalPrice, Currency: "CNY"}
	}
	return payload
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type ProductWriter interface {
	UpsertWithTx(ctx context.Context, tx pgx.Tx, p *models.Product) error
}

// Publisher archives products and records their events using the
// transactional outbox pattern.
type Publisher struct {
	db       TxRunner
	outbox   OutboxWriter
	products ProductWriter
	stream   string
	logger   *slog.Logger
}

// NewPublisher creates a publisher writing events for stream.
func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:       db,
		outbox:   database.NewOutboxRepository(db),
		products: database.NewProductRepository(db),
		stream:   stream,
		logger:   logger.With("component", "event_publisher"),
	}
}

// PublishProductScraped upserts the product row and inserts its
// PRODUCT_SCRAPED event in one transaction.
func (p *Publisher) PublishProductScraped(ctx context.Context, product *models.Product) error {
	payload := NewProductScrapedPayload(product)
	payload.EventID = uuid.New().String()
	payload.EventType = string(EventTypeProductScraped)
	payload.Timestamp = time.Now()
	payload.Source = "scraper"

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: "product",
		AggregateID:   product.ProductID,
		EventType:     string(EventTypeProductScraped),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.products.UpsertWithTx(ctx, tx, product); err != nil {
			return fmt.Errorf("failed to archive product: %w", err)
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"product_id", product.ProductID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
