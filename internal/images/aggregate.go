// Package images merges a product's images into one ordered list, serves
// windows of it and fetches the window's payloads.
package images

import "github.com/maltedev/taobao-scraper/internal/models"

const (
	DefaultLimit = 10
	MaxLimit     = 20
)

// Aggregate concatenates gallery, detail, SKU and review images in that
// order. The same product always yields the same sequence. Review photos
// without a URL are skipped.
func Aggregate(p *models.Product) []models.ScrapedImage {
	if p == nil {
		return nil
	}

	out := make([]models.ScrapedImage, 0,
		len(p.GalleryImages)+len(p.DetailImages)+len(p.Specifications.SKUImages)+p.ReviewPhotoCount())

	for _, img := range p.GalleryImages {
		out = append(out, models.ScrapedImage{URL: img.URL, Sequence: img.Sequence, Category: models.CategoryGallery})
	}
	for _, img := range p.DetailImages {
		out = append(out, models.ScrapedImage{URL: img.URL, Sequence: img.Sequence, Category: models.CategoryDetail})
	}
	for _, img := range p.Specifications.SKUImages {
		out = append(out, models.ScrapedImage{URL: img.URL, Sequence: img.Sequence, Category: models.CategorySKU})
	}
	seq := 0
	for _, r := range p.Reviews {
		for _, ph := range r.Photos {
			if ph.URL == "" {
				continue
			}
			out = append(out, models.ScrapedImage{URL: ph.URL, Sequence: seq, Category: models.CategoryReview})
			seq++
		}
	}
	return out
}

// CountByCategory returns per-category totals for list.
func CountByCategory(list []models.ScrapedImage) map[models.Category]int {
	counts := make(map[models.Category]int, len(models.Categories))
	for _, img := range list {
		counts[img.Category]++
	}
	return counts
}

// Window is one page of the aggregated list.
type Window struct {
	Offset int
	// Limit is the effective limit after clamping.
	Limit      int
	Total      int
	Items      []models.ScrapedImage
	HasMore    bool
	NextOffset *int
}

// Paginate returns the half-open slice [offset, offset+limit) of list.
// limit is clamped to [1, MaxLimit] and a negative offset is treated as 0.
func Paginate(list []models.ScrapedImage, offset, limit int) Window {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	total := len(list)
	w := Window{Offset: offset, Limit: limit, Total: total, Items: []models.ScrapedImage{}}

	if offset >= total {
		return w
	}

	end := offset + min(limit, total-offset)
	w.Items = list[offset:end]
	if limit < total-offset {
		next := end
		w.HasMore = true
		w.NextOffset = &next
	}
	return w
}

// URLs returns the URLs of the window's items in order.
func (w Window) URLs() []string {
	out := make([]string, len(w.Items))
	for i, img := range w.Items {
		out[i] = img.URL
	}
	return out
}
