// Package response turns a scraped product and a window request into an
// ordered list of text and image blocks. Blocks carry no protocol types; the
// MCP layer converts them.
package response

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/maltedev/taobao-scraper/internal/images"
	"github.com/maltedev/taobao-scraper/internal/models"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

type Block struct {
	Kind     Kind
	Text     string
	Data     []byte
	MIMEType string
}

func TextBlock(text string) Block {
	return Block{Kind: KindText, Text: text}
}

// ImageFetcher downloads a window of image URLs. Results keep input order,
// carry their input index and omit failures.
type ImageFetcher interface {
	FetchAll(ctx context.Context, urls []string, maxConcurrent int) []images.Fetched
}

type Assembler struct {
	fetcher       ImageFetcher
	maxConcurrent int
	logger        *slog.Logger
}

func NewAssembler(fetcher ImageFetcher, maxConcurrent int, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		fetcher:       fetcher,
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "response"),
	}
}

// Assemble builds the reply for one paginated call. The basic information
// block is included on the first window or when includeInfo is set, the
// pagination block always, and each fetched image is preceded by its label.
func (a *Assembler) Assemble(ctx context.Context, p *models.Product, offset, limit int, includeInfo bool) []Block {
	all := images.Aggregate(p)
	win := images.Paginate(all, offset, limit)

	blocks := make([]Block, 0, 2+2*len(win.Items))
	if win.Offset == 0 || includeInfo {
		blocks = append(blocks, TextBlock(BasicInfo(p, all)))
	}
	blocks = append(blocks, TextBlock(PaginationInfo(win)))

	if len(win.Items) == 0 {
		return blocks
	}

	fetched := a.fetcher.FetchAll(ctx, win.URLs(), a.maxConcurrent)
	a.logger.Info("window fetched",
		"product_id", p.ProductID,
		"offset", win.Offset,
		"limit", win.Limit,
		"requested", len(win.Items),
		"fetched", len(fetched),
	)

	for _, img := range fetched {
		if img.Index < 0 || img.Index >= len(win.Items) {
			continue
		}
		item := win.Items[img.Index]
		blocks = append(blocks,
			TextBlock(ImageLabel(item.Category, win.Offset+img.Index+1, win.Total)),
			Block{Kind: KindImage, Data: img.Data, MIMEType: img.MIMEType},
		)
	}
	return blocks
}

type typeInfo struct {
	emoji       string
	label       string
	description string
}

var typeInfos = map[models.Category]typeInfo{
	models.CategoryGallery: {"📸", "📸 Gallery", "Main product photos from different angles (left-side thumbnails)"},
	models.CategoryDetail:  {"🔍", "🔍 Detail", "Product specifications, features, and advertising materials"},
	models.CategorySKU:     {"🎨", "🎨 SKU Variant", "Color/style selection thumbnails"},
	models.CategoryReview:  {"⭐", "⭐ Review Photo", "User-uploaded real-world product photos"},
}

func infoFor(c models.Category) typeInfo {
	if ti, ok := typeInfos[c]; ok {
		return ti
	}
	return typeInfo{emoji: "🖼️", label: titleCase(string(c))}
}

// ImageLabel is the heading placed before an image; position is 1-based
// within the whole aggregated list.
func ImageLabel(c models.Category, position, total int) string {
	ti := infoFor(c)
	return fmt.Sprintf("\n### %s Image %d/%d: %s\n", ti.emoji, position, total, ti.label)
}

// BasicInfo renders the product summary block.
func BasicInfo(p *models.Product, all []models.ScrapedImage) string {
	var b strings.Builder

	b.WriteString("# 🛍️ Product Information\n\n")
	fmt.Fprintf(&b, "**Product ID**: %s\n", orNA(p.ProductID))
	fmt.Fprintf(&b, "**Scraped at**: %s\n\n", p.ScrapedAtString())

	b.WriteString("## 📋 Basic Details\n\n")
	fmt.Fprintf(&b, "**Title**: %s\n\n", orNA(p.Title))
	fmt.Fprintf(&b, "**Price**: %s\n\n", FormatPrice(p.CurrentPrice, p.OriginalPrice))
	fmt.Fprintf(&b, "**Store**: %s\n\n", orNA(p.StoreName))

	if len(p.Parameters) > 0 {
		fmt.Fprintf(&b, "## 🔧 Product Parameters (%d items)\n\n", len(p.Parameters))
		b.WriteString("| Parameter | Value |\n")
		b.WriteString("|-----------|-------|\n")
		for _, param := range p.Parameters {
			fmt.Fprintf(&b, "| %s | %s |\n", orNA(param.Name), orNA(param.Value))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## 📊 Total Images: %d\n\n", len(all))
	counts := images.CountByCategory(all)
	for _, c := range models.Categories {
		n := counts[c]
		if n == 0 {
			continue
		}
		ti := infoFor(c)
		fmt.Fprintf(&b, "- %s **%s**: %d images - %s\n", ti.emoji, titleCase(string(c)), n, ti.description)
	}

	b.WriteString("\n---\n\n")
	return b.String()
}

// PaginationInfo renders the window summary and the empty-window notes.
func PaginationInfo(w images.Window) string {
	var b strings.Builder

	b.WriteString("## 📄 Pagination\n\n")
	fmt.Fprintf(&b, "- **Current page**: %d images (offset=%d, limit=%d)\n", len(w.Items), w.Offset, w.Limit)
	fmt.Fprintf(&b, "- **Total images**: %d\n", w.Total)
	if w.HasMore {
		b.WriteString("- **Has more**: Yes\n")
		fmt.Fprintf(&b, "- **Next page**: Use `offset=%d` to fetch more images\n", *w.NextOffset)
	} else {
		b.WriteString("- **Has more**: No\n")
	}
	b.WriteString("\n")

	if len(w.Items) == 0 {
		switch {
		case w.Total == 0:
			b.WriteString("⚠️ No images found for this product.\n\n")
		case w.Offset >= w.Total:
			fmt.Fprintf(&b, "⚠️ Offset %d exceeds total images (%d).\n", w.Offset, w.Total)
			fmt.Fprintf(&b, "Please use offset < %d.\n\n", w.Total)
		default:
			b.WriteString("ℹ️ No images in this page range.\n\n")
		}
	}

	b.WriteString("---\n\n")
	return b.String()
}

// FormatPrice renders "¥cur (原价: ¥orig)", "¥cur" or "N/A".
func FormatPrice(current, original *float64) string {
	cur := "N/A"
	if current != nil {
		cur = FormatAmount(*current)
	}
	switch {
	case original != nil:
		return fmt.Sprintf("¥%s (原价: ¥%s)", cur, FormatAmount(*original))
	case current != nil:
		return "¥" + cur
	default:
		return "N/A"
	}
}

// FormatAmount prints a price without trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
