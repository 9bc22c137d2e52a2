package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/taobao-scraper/internal/database"
	"github.com/maltedev/taobao-scraper/internal/models"
)

// fakeTx runs the callback with a nil transaction, or fails to begin.
type fakeTx struct {
	beginErr error
	calls    int
}

func (f *fakeTx) Transaction(_ context.Context, fn func(pgx.Tx) error) error {
	f.calls++
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(nil)
}

// MockOutboxRepository is a mock for the outbox writer
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

// MockProductRepository is a mock for the product writer
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	args := m.Called(ctx, tx, p)
	return args.Error(0)
}

func scrapedProduct() *models.Product {
	cur := 59.9
	p := models.NewProduct("680000000001", "https://detail.tmall.com/item.htm?id=680000000001")
	p.Title = "夏季纯棉T恤"
	p.StoreName = "优衣库官方旗舰店"
	p.CurrentPrice = &cur
	p.GalleryImages = []models.ScrapedImage{{URL: "https://img/g0.jpg"}, {URL: "https://img/g1.jpg"}}
	p.Reviews = []models.Review{{Photos: []models.ReviewPhoto{{URL: "https://img/r0.jpg"}}}}
	return p
}

func newTestPublisher(tx TxRunner) (*Publisher, *MockOutboxRepository, *MockProductRepository) {
	outbox := new(MockOutboxRepository)
	products := new(MockProductRepository)
	return &Publisher{
		db:       tx,
		outbox:   outbox,
		products: products,
		stream:   "stream:product_scraped",
		logger:   slog.Default(),
	}, outbox, products
}

func TestPublisher_PublishProductScraped(t *testing.T) {
	ctx := context.Background()

	t.Run("archives product and writes outbox event", func(t *testing.T) {
		tx := &fakeTx{}
		publisher, outbox, products := newTestPublisher(tx)
		product := scrapedProduct()

		products.On("UpsertWithTx", ctx, mock.Anything, product).Return(nil)
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.MatchedBy(func(event *database.OutboxEvent) bool {
			var p ProductScrapedPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return false
			}
			return event.AggregateType == "product" &&
				event.AggregateID == "680000000001" &&
				event.EventType == "PRODUCT_SCRAPED" &&
				event.TargetStream == "stream:product_scraped" &&
				p.EventID != "" &&
				p.Source == "scraper" &&
				p.Title == "夏季纯棉T恤" &&
				p.ImageCounts["gallery"] == 2 &&
				p.ImageCounts["review"] == 1 &&
				!p.Timestamp.IsZero()
		})).Return(nil)

		require.NoError(t, publisher.PublishProductScraped(ctx, product))
		assert.Equal(t, 1, tx.calls)
		products.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("outbox failure aborts the transaction", func(t *testing.T) {
		publisher, outbox, products := newTestPublisher(&fakeTx{})

		products.On("UpsertWithTx", ctx, mock.Anything, mock.Anything).Return(nil)
		outbox.On("InsertWithTx", ctx, mock.Anything, mock.Anything).Return(assert.AnError)

		err := publisher.PublishProductScraped(ctx, scrapedProduct())
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "failed to insert outbox event")
	})

	t.Run("product failure skips the outbox", func(t *testing.T) {
		publisher, outbox, products := newTestPublisher(&fakeTx{})

		products.On("UpsertWithTx", ctx, mock.Anything, mock.Anything).Return(assert.AnError)

		err := publisher.PublishProductScraped(ctx, scrapedProduct())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to archive product")
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transaction begin failure", func(t *testing.T) {
		publisher, outbox, products := newTestPublisher(&fakeTx{beginErr: errors.New("failed to begin transaction: conn refused")})

		err := publisher.PublishProductScraped(ctx, scrapedProduct())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		products.AssertNotCalled(t, "UpsertWithTx", mock.Anything, mock.Anything, mock.Anything)
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestNewProductScrapedPayload(t *testing.T) {
	p := scrapedProduct()
	p.ScrapedAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	payload := NewProductScrapedPayload(p)

	assert.Equal(t, p.ScrapeID.String(), payload.ScrapeID)
	require.NotNil(t, payload.Price)
	assert.Equal(t, "CNY", payload.Price.Currency)
	assert.Equal(t, 59.9, *payload.Price.Current)
	assert.Nil(t, payload.Price.Original)
	assert.Equal(t, 1, payload.ReviewCount)
	assert.Equal(t, p.ScrapedAt, payload.ScrapedAt)

	p.CurrentPrice = nil
	assert.Nil(t, NewProductScrapedPayload(p).Price)
}
