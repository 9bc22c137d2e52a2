// Package markdown renders a product record as a standalone Markdown
// document and writes it to disk.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/maltedev/taobao-scraper/internal/response"
)

const maxFilenameRunes = 100

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Render produces the document: title, basic information, gallery and
// detail images, parameters, reviews and Q&A, followed by shipping, shop,
// guarantee and specification sections. Empty sections are left out.
func Render(p *models.Product) string {
	var md []string
	add := func(lines ...string) { md = append(md, lines...) }

	title := p.Title
	if strings.TrimSpace(title) == "" {
		title = "Unknown Product"
	}
	add("# " + title + "\n")

	add("## 基本信息\n")
	add("- **商品ID**: " + orNA(p.ProductID))
	add("- **店铺**: " + orNA(p.StoreName))
	if p.CurrentPrice != nil {
		add("- **价格**: ¥" + response.FormatAmount(*p.CurrentPrice))
	}
	if p.OriginalPrice != nil {
		add("- **原价**: ¥" + response.FormatAmount(*p.OriginalPrice))
	}
	add("- **商品链接**: " + orNA(p.ProductURL))
	add("- **抓取时间**: " + p.ScrapedAtString() + "\n")

	if len(p.GalleryImages) > 0 {
		add("## 商品图片\n")
		for i, img := range p.GalleryImages {
			add(fmt.Sprintf("![缩略图%d](%s)", i+1, img.URL))
		}
		add("")
	}

	if len(p.DetailImages) > 0 {
		add("## 详情图片\n")
		for i, img := range p.DetailImages {
			add(fmt.Sprintf("![详情图%d](%s)", i+1, img.URL))
		}
		add("")
	}

	if len(p.Parameters) > 0 {
		add("## 参数信息\n")
		add("| 参数名 | 参数值 |")
		add("|--------|--------|")
		for _, param := range p.Parameters {
			add(fmt.Sprintf("| %s | %s |", param.Name, param.Value))
		}
		add("")
	}

	if len(p.Reviews) > 0 {
		add("## 用户评价\n")
		for i, r := range p.Reviews {
			add(fmt.Sprintf("### 评价%d\n", i+1))
			add("- **用户**: " + orNA(r.Username))
			add("- **日期**: " + orNA(r.Date))
			if r.Variant != "" {
				add("- **规格**: " + r.Variant)
			}
			if r.Text != "" {
				add("- **内容**: " + r.Text)
			}
			if len(r.Photos) > 0 {
				links := make([]string, len(r.Photos))
				for j, ph := range r.Photos {
					links[j] = fmt.Sprintf("[图片%d](%s)", j+1, ph.URL)
				}
				add("- **图片**: " + strings.Join(links, ", "))
			}
			add("")
		}
	}

	if len(p.QA) > 0 {
		add("## 问答\n")
		for i, qa := range p.QA {
			add(fmt.Sprintf("### Q%d: %s\n", i+1, qa.Question))
			add(fmt.Sprintf("**A**: %s\n", qa.Answer))
		}
	}

	if !p.Shipping.IsEmpty() {
		add("## 物流信息\n")
		s := p.Shipping
		addIf(add, "发货时间", s.Time)
		addIf(add, "运费", s.Fee)
		if s.FromLocation != "" || s.ToLocation != "" {
			add(fmt.Sprintf("- **配送**: %s 至 %s", s.FromLocation, s.ToLocation))
		} else {
			addIf(add, "配送", s.LocationText)
		}
		add("")
	}

	if !p.Shop.IsEmpty() {
		add("## 店铺信息\n")
		s := p.Shop
		addIf(add, "店铺名称", s.Name)
		addIf(add, "店铺链接", s.Link)
		addIf(add, "综合评分", s.OverallRating)
		addIf(add, "好评率", s.GoodRate)
		addIf(add, "物流速度", s.ShippingSpeed)
		addIf(add, "服务满意度", s.ServiceSatisfaction)
		if len(s.Ratings) > 0 {
			add("- **评分**: " + strings.Join(s.Ratings, " / "))
		}
		add("")
	}

	if len(p.Guarantees) > 0 {
		add("## 服务保障\n")
		for _, g := range p.Guarantees {
			add("- " + g)
		}
		add("")
	}

	if !p.Specifications.IsEmpty() {
		add("## 规格信息\n")
		s := p.Specifications
		if len(s.Colors) > 0 {
			add("- **颜色**: " + strings.Join(s.Colors, ", "))
		}
		if len(s.Sizes) > 0 {
			add("- **尺码**: " + strings.Join(s.Sizes, ", "))
		}
		labels := make([]string, 0, len(s.Other))
		for label := range s.Other {
			labels = append(labels, label)
		}
		slices.Sort(labels)
		for _, label := range labels {
			add(fmt.Sprintf("- **%s**: %s", label, strings.Join(s.Other[label], ", ")))
		}
		addIf(add, "库存", s.StockStatus)
		if len(s.SKUImages) > 0 {
			add("")
			for i, img := range s.SKUImages {
				add(fmt.Sprintf("![规格图%d](%s)", i+1, img.URL))
			}
		}
		add("")
	}

	return strings.Join(md, "\n")
}

func addIf(add func(...string), label, value string) {
	if value != "" {
		add(fmt.Sprintf("- **%s**: %s", label, value))
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// SanitizeFilename strips characters that are invalid in file names,
// replaces spaces with underscores and caps the length.
func SanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " ", "_")
	if r := []rune(name); len(r) > maxFilenameRunes {
		name = string(r[:maxFilenameRunes])
	}
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "Unknown_Product"
	}
	return name
}

// Filename is the document name for p: the sanitised title and the id.
func Filename(p *models.Product) string {
	return fmt.Sprintf("%s_%s.md", SanitizeFilename(p.Title), p.ProductID)
}

// WriteFile renders p into dir, creating dir if needed, and returns the
// path written.
func WriteFile(dir string, p *models.Product) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, Filename(p))
	if err := os.WriteFile(path, []byte(Render(p)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write markdown: %w", err)
	}
	return path, nil
}
