package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category identifies the page region an image was harvested from.
type Category string

const (
	CategoryGallery Category = "gallery"
	CategoryDetail  Category = "detail"
	CategorySKU     Category = "sku"
	CategoryReview  Category = "review"
)

// Categories lists image categories in aggregation order.
var Categories = []Category{CategoryGallery, CategoryDetail, CategorySKU, CategoryReview}

// ScrapedImage is an image URL tagged with its harvest position and region.
type ScrapedImage struct {
	URL      string   `json:"url"`
	Sequence int      `json:"sequence"`
	Category Category `json:"type"`
}

type Parameter struct {
	Name     string `json:"param_name"`
	Value    string `json:"param_value"`
	Category string `json:"param_category,omitempty"`
}

// ReviewPhoto accepts both a bare URL string and an object carrying a url
// field, matching the two shapes review photos arrive in.
type ReviewPhoto struct {
	URL string `json:"url"`
}

func (p *ReviewPhoto) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.URL = s
		return nil
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("review photo is neither string nor object: %w", err)
	}
	p.URL = obj.URL
	return nil
}

func (p ReviewPhoto) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.URL)
}

type Review struct {
	Username string        `json:"username,omitempty"`
	Text     string        `json:"review_text,omitempty"`
	Date     string        `json:"review_date,omitempty"`
	Variant  string        `json:"product_variant,omitempty"`
	Photos   []ReviewPhoto `json:"photos"`
}

type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Shipping struct {
	Time         string `json:"time,omitempty"`
	Fee          string `json:"fee,omitempty"`
	FromLocation string `json:"from_location,omitempty"`
	ToLocation   string `json:"to_location,omitempty"`
	LocationText string `json:"location_text,omitempty"`
}

func (s Shipping) IsEmpty() bool {
	return s == Shipping{}
}

type Shop struct {
	Name                string   `json:"name,omitempty"`
	Link                string   `json:"link,omitempty"`
	OverallRating       string   `json:"overall_rating,omitempty"`
	GoodRate            string   `json:"good_rate,omitempty"`
	ShippingSpeed       string   `json:"shipping_speed,omitempty"`
	ServiceSatisfaction string   `json:"service_satisfaction,omitempty"`
	Ratings             []string `json:"ratings,omitempty"`
}

func (s Shop) IsEmpty() bool {
	return s.Name == "" && s.Link == "" && s.OverallRating == "" &&
		s.GoodRate == "" && s.ShippingSpeed == "" && s.ServiceSatisfaction == "" &&
		len(s.Ratings) == 0
}

type Specifications struct {
	Colors      []string            `json:"colors"`
	Sizes       []string            `json:"sizes"`
	Other       map[string][]string `json:"other,omitempty"`
	StockStatus string              `json:"stock_status"`
	SKUImages   []ScrapedImage      `json:"sku_images"`
}

func (s Specifications) IsEmpty() bool {
	return len(s.Colors) == 0 && len(s.Sizes) == 0 && len(s.Other) == 0 &&
		s.StockStatus == "" && len(s.SKUImages) == 0
}

// Product is the full record produced by one scrape.
type Product struct {
	ScrapeID       uuid.UUID      `json:"scrape_id"`
	ProductID      string         `json:"product_id"`
	ProductURL     string         `json:"product_url"`
	ScrapedAt      time.Time      `json:"scraped_at"`
	Title          string         `json:"title,omitempty"`
	StoreName      string         `json:"store_name,omitempty"`
	CurrentPrice   *float64       `json:"current_price,omitempty"`
	OriginalPrice  *float64       `json:"original_price,omitempty"`
	GalleryImages  []ScrapedImage `json:"thumbnail_images"`
	DetailImages   []ScrapedImage `json:"detail_images"`
	Parameters     []Parameter    `json:"parameters"`
	Reviews        []Review       `json:"reviews"`
	QA             []QA           `json:"qa"`
	Shipping       Shipping       `json:"shipping"`
	Shop           Shop           `json:"shop"`
	Guarantees     []string       `json:"guarantees"`
	Specifications Specifications `json:"specifications"`
}

func NewProduct(productID, productURL string) *Product {
	return &Product{
		ScrapeID:   uuid.New(),
		ProductID:  productID,
		ProductURL: productURL,
		ScrapedAt:  time.Now(),
	}
}

// ScrapedAtString formats the scrape time the way documents display it.
func (p *Product) ScrapedAtString() string {
	if p.ScrapedAt.IsZero() {
		return "N/A"
	}
	return p.ScrapedAt.Format("2006-01-02 15:04:05")
}

// ReviewPhotoCount counts review photos that carry a URL.
func (p *Product) ReviewPhotoCount() int {
	n := 0
	for _, r := range p.Reviews {
		for _, ph := range r.Photos {
			if ph.URL != "" {
				n++
			}
		}
	}
	return n
}
