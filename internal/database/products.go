package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/taobao-scraper/internal/models"
)

var ErrProductNotFound = errors.New("product not found")

// productRow is the flattened form of a product stored in the products
// table. The full record is kept in Data.
type productRow struct {
	ProductID     string
	ScrapeID      uuid.UUID
	Title         string
	StoreName     string
	CurrentPrice  *float64
	OriginalPrice *float64
	ProductURL    string
	ImageCount    int
	Data          []byte
	ScrapedAt     time.Time
}

func newProductRow(p *models.Product) (productRow, error) {
	if p == nil || p.ProductID == "" {
		return productRow{}, errors.New("product id is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return productRow{}, fmt.Errorf("failed to marshal product: %w", err)
	}

	images := len(p.GalleryImages) + len(p.DetailImages) +
		len(p.Specifications.SKUImages) + p.ReviewPhotoCount()

	return productRow{
		ProductID:     p.ProductID,
		ScrapeID:      p.ScrapeID,
		Title:         p.Title,
		StoreName:     p.StoreName,
		CurrentPrice:  p.CurrentPrice,
		OriginalPrice: p.OriginalPrice,
		ProductURL:    p.ProductURL,
		ImageCount:    images,
		Data:          data,
		ScrapedAt:     p.ScrapedAt,
	}, nil
}

// ProductRepository archives the latest scrape of each product.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// UpsertWithTx stores p, replacing any earlier scrape of the same product.
func (r *ProductRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	row, err := newProductRow(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO products (
			product_id, scrape_id, title, store_name,
			current_price, original_price, product_url,
			image_count, data, scraped_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW()
		)
		ON CONFLICT (product_id) DO UPDATE SET
			scrape_id = EXCLUDED.scrape_id,
			title = EXCLUDED.title,
			store_name = EXCLUDED.store_name,
			current_price = EXCLUDED.current_price,
			original_price = EXCLUDED.original_price,
			product_url = EXCLUDED.product_url,
			image_count = EXCLUDED.image_count,
			data = EXCLUDED.data,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()`

	_, err = tx.Exec(ctx, query,
		row.ProductID, row.ScrapeID, row.Title, row.StoreName,
		row.CurrentPrice, row.OriginalPrice, row.ProductURL,
		row.ImageCount, row.Data, row.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", row.ProductID, err)
	}
	return nil
}

// Get loads the archived record for productID.
func (r *ProductRepository) Get(ctx context.Context, productID string) (*models.Product, error) {
	var data []byte
	err := r.db.pool.QueryRow(ctx,
		"SELECT data FROM products WHERE product_id = $1", productID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	var p models.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product %s: %w", productID, err)
	}
	return &p, nil
}

func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}
