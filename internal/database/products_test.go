package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/taobao-scraper/internal/models"
)

func archivedProduct(id string) *models.Product {
	cur, orig := 128.0, 199.0
	p := models.NewProduct(id, "https://detail.tmall.com/item.htm?id="+id)
	p.ScrapedAt = time.Date(2025, 11, 17, 9, 0, 0, 0, time.UTC)
	p.Title = "男士休闲裤"
	p.StoreName = "某某旗舰店"
	p.CurrentPrice = &cur
	p.OriginalPrice = &orig
	p.GalleryImages = []models.ScrapedImage{{URL: "https://img/g0.jpg"}, {URL: "https://img/g1.jpg"}}
	p.DetailImages = []models.ScrapedImage{{URL: "https://img/d0.jpg"}}
	p.Specifications.SKUImages = []models.ScrapedImage{{URL: "https://img/s0.jpg"}}
	p.Reviews = []models.Review{{Photos: []models.ReviewPhoto{{URL: "https://img/r0.jpg"}}}}
	return p
}

func TestNewProductRow(t *testing.T) {
	p := archivedProduct("752468272997")

	row, err := newProductRow(p)
	require.NoError(t, err)

	assert.Equal(t, "752468272997", row.ProductID)
	assert.Equal(t, p.ScrapeID, row.ScrapeID)
	assert.Equal(t, 5, row.ImageCount)
	assert.Equal(t, 128.0, *row.CurrentPrice)

	var decoded models.Product
	require.NoError(t, json.Unmarshal(row.Data, &decoded))
	assert.Equal(t, "男士休闲裤", decoded.Title)
	assert.Equal(t, "https://img/r0.jpg", decoded.Reviews[0].Photos[0].URL)
}

func TestNewProductRow_RequiresID(t *testing.T) {
	_, err := newProductRow(nil)
	assert.Error(t, err)

	_, err = newProductRow(models.NewProduct("", ""))
	assert.Error(t, err)
}

func TestProductRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewProductRepository(db)

	id := uniqueID()
	p := archivedProduct(id)
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.UpsertWithTx(ctx, tx, p)
	}))

	p.Title = "男士休闲裤 新款"
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.UpsertWithTx(ctx, tx, p)
	}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "男士休闲裤 新款", got.Title)

	_, err = repo.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrProductNotFound)
}
