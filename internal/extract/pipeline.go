// Package extract scrapes a navigated product page into a models.Product.
// Each section reads from the page through the selector table; a failing
// section leaves its part of the record empty and the rest still run.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/maltedev/taobao-scraper/internal/models"
)

// Timing holds the pauses that let lazy content render after tab clicks
// and scrolls.
type Timing struct {
	TabSettle     time.Duration
	SectionWait   time.Duration
	QAWait        time.Duration
	ScrollPause   time.Duration
	ScrollSteps   int
	ReviewScrolls int
}

func DefaultTiming() Timing {
	return Timing{
		TabSettle:     2 * time.Second,
		SectionWait:   10 * time.Second,
		QAWait:        5 * time.Second,
		ScrollPause:   600 * time.Millisecond,
		ScrollSteps:   3,
		ReviewScrolls: 5,
	}
}

// Report lists the sections that failed during a run.
type Report struct {
	Failed []string
}

type section struct {
	name string
	run  func(ctx context.Context, page dom.Page, p *models.Product) error
}

type Pipeline struct {
	sel    Selectors
	timing Timing
	logger *slog.Logger
}

func NewPipeline(sel Selectors, timing Timing, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		sel:    sel,
		timing: timing,
		logger: logger.With("component", "extract"),
	}
}

// Static returns a copy with every pause removed, for pages that are
// already fully rendered.
func (pl *Pipeline) Static() *Pipeline {
	cp := *pl
	cp.timing = Timing{}
	return &cp
}

func (pl *Pipeline) sections() []section {
	return []section{
		{"basic_info", pl.basicInfo},
		{"parameters", pl.parameters},
		{"detail_images", pl.detailImages},
		{"reviews", pl.reviews},
		{"qa", pl.qa},
		{"shipping", pl.shipping},
		{"shop", pl.shop},
		{"guarantees", pl.guarantees},
		{"specifications", pl.specifications},
	}
}

// Run fills product from page. Only cancellation of ctx is returned as an
// error; section failures are logged and listed in the report.
func (pl *Pipeline) Run(ctx context.Context, page dom.Page, product *models.Product) (Report, error) {
	var report Report
	for _, s := range pl.sections() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.run(ctx, page, product); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			pl.logger.Warn("section extraction failed", "section", s.name, "product_id", product.ProductID, "error", err)
			report.Failed = append(report.Failed, s.name)
			continue
		}
		pl.logger.Debug("section extracted", "section", s.name, "product_id", product.ProductID)
	}
	return report, nil
}

func (pl *Pipeline) basicInfo(_ context.Context, page dom.Page, p *models.Product) error {
	if title, ok := firstText(page, pl.sel.Title); ok {
		p.Title = title
	}
	if store, ok := firstText(page, pl.sel.StoreName); ok {
		p.StoreName = store
	}

	prices := make([]float64, 0, 2)
	for _, el := range firstAll(page, pl.sel.Price) {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			prices = append(prices, v)
		}
	}
	if len(prices) > 0 {
		p.CurrentPrice = &prices[0]
	}
	if len(prices) > 1 {
		p.OriginalPrice = &prices[1]
	}

	gallery := firstElement(page, pl.sel.Gallery)
	if gallery == nil {
		return nil
	}
	imgs, err := gallery.QueryAll("img")
	if err != nil {
		return fmt.Errorf("failed to list gallery images: %w", err)
	}
	p.GalleryImages = pl.collectImages(imgs, models.CategoryGallery)
	return nil
}

// collectImages reads the first usable attribute of each img, normalises it
// and drops duplicates.
func (pl *Pipeline) collectImages(imgs []dom.Element, cat models.Category) []models.ScrapedImage {
	seen := make(map[string]bool)
	var out []models.ScrapedImage
	for _, img := range imgs {
		src := pl.imageSource(img)
		url, ok := NormalizeImageURL(src)
		if !ok || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, models.ScrapedImage{URL: url, Sequence: len(out), Category: cat})
	}
	return out
}

func (pl *Pipeline) imageSource(img dom.Element) string {
	for _, attr := range pl.sel.ImageAttrs {
		v, err := img.Attribute(attr)
		if err != nil {
			continue
		}
		v = strings.TrimSpace(v)
		if v != "" && !strings.Contains(v, "tps-2-2") {
			return v
		}
	}
	return ""
}

func (pl *Pipeline) openTab(ctx context.Context, page dom.Page, index int) error {
	tab := firstElement(page, pl.sel.TabSelectors(index))
	if tab == nil {
		return nil
	}
	if err := tab.Click(); err != nil {
		return fmt.Errorf("failed to open tab %d: %w", index, err)
	}
	return dom.Sleep(ctx, pl.timing.TabSettle)
}

func (pl *Pipeline) parameters(ctx context.Context, page dom.Page, p *models.Product) error {
	if err := pl.openTab(ctx, page, pl.sel.ParamsTab); err != nil {
		return err
	}

	var params []models.Parameter
	groups := []struct {
		items, name, value []string
		category           string
	}{
		{pl.sel.EmphasisItem, pl.sel.EmphasisName, pl.sel.EmphasisValue, "emphasis"},
		{pl.sel.GeneralItem, pl.sel.GeneralName, pl.sel.GeneralValue, "general"},
	}
	for _, g := range groups {
		for _, item := range firstAll(page, g.items) {
			name, okName := firstText(item, g.name)
			value, okValue := firstText(item, g.value)
			if !okName || !okValue {
				continue
			}
			params = append(params, models.Parameter{Name: name, Value: value, Category: g.category})
		}
	}
	p.Parameters = params
	return nil
}

func (pl *Pipeline) detailImages(ctx context.Context, page dom.Page, p *models.Product) error {
	if err := pl.openTab(ctx, page, pl.sel.DetailsTab); err != nil {
		return err
	}

	root := pl.waitAny(page, pl.sel.DescRoot, pl.timing.SectionWait)
	if root == "" {
		for _, sel := range pl.sel.DescFallback {
			container, err := page.Query(sel)
			if err != nil || container == nil {
				continue
			}
			imgs, err := container.QueryAll("img")
			if err != nil || len(imgs) == 0 {
				continue
			}
			p.DetailImages = detailList(imgs)
			return nil
		}
		return nil
	}

	pl.scroll(ctx, page, fmt.Sprintf(`() => { const el = document.querySelector(%q); if (el) { el.scrollIntoView(); window.scrollBy(0, 500); } }`, root), 1)
	pl.scroll(ctx, page, "window.scrollBy(0, 800)", pl.timing.ScrollSteps)

	imgs, err := page.QueryAll(root + " img")
	if err != nil {
		return fmt.Errorf("failed to list detail images: %w", err)
	}
	p.DetailImages = detailList(imgs)
	return nil
}

// detailList keeps detail images as served, preferring data-src.
func detailList(imgs []dom.Element) []models.ScrapedImage {
	var out []models.ScrapedImage
	for _, img := range imgs {
		src, _ := img.Attribute("data-src")
		if strings.TrimSpace(src) == "" {
			src, _ = img.Attribute("src")
		}
		url, ok := absoluteURL(src)
		if !ok || IsPlaceholder(url) {
			continue
		}
		out = append(out, models.ScrapedImage{URL: url, Sequence: len(out), Category: models.CategoryDetail})
	}
	return out
}

func (pl *Pipeline) reviews(ctx context.Context, page dom.Page, p *models.Product) error {
	if err := pl.openTab(ctx, page, pl.sel.ReviewsTab); err != nil {
		return err
	}
	if pl.waitAny(page, pl.sel.Comments, pl.timing.SectionWait) == "" {
		return fmt.Errorf("review list did not load: %w", dom.ErrTimeout)
	}
	pl.scroll(ctx, page, "window.scrollBy(0, 600)", pl.timing.ReviewScrolls)

	var reviews []models.Review
	for _, item := range firstAll(page, pl.sel.ReviewItem) {
		var r models.Review
		r.Username, _ = firstText(item, pl.sel.ReviewUser)
		r.Text, _ = firstText(item, pl.sel.ReviewContent)
		if meta, ok := firstText(item, pl.sel.ReviewMeta); ok {
			parts := strings.Split(meta, "·")
			r.Date = strings.TrimSpace(parts[0])
			if len(parts) > 1 {
				r.Variant = strings.TrimSpace(parts[1])
			}
		}

		r.Photos = []models.ReviewPhoto{}
		for _, sel := range pl.sel.ReviewPhoto {
			photos, err := item.QueryAll(sel + " img")
			if err != nil || len(photos) == 0 {
				continue
			}
			for _, ph := range photos {
				src, _ := ph.Attribute("src")
				if strings.TrimSpace(src) == "" {
					src, _ = ph.Attribute("data-src")
				}
				if url, ok := NormalizeImageURL(src); ok {
					r.Photos = append(r.Photos, models.ReviewPhoto{URL: url})
				}
			}
			break
		}
		reviews = append(reviews, r)
	}
	p.Reviews = reviews
	return nil
}

func (pl *Pipeline) qa(ctx context.Context, page dom.Page, p *models.Product) error {
	if len(pl.sel.QAWrap) > 0 {
		pl.scroll(ctx, page, fmt.Sprintf(`() => { const el = document.querySelector(%q); if (el) { el.scrollIntoView({ behavior: 'smooth', block: 'start' }); } }`, pl.sel.QAWrap[0]), 1)
	}
	if pl.waitAny(page, pl.sel.QAWrap, pl.timing.QAWait) == "" {
		return fmt.Errorf("question and answer block not present: %w", dom.ErrTimeout)
	}

	var items []models.QA
	for _, item := range firstAll(page, pl.sel.QAItem) {
		q, okQ := firstText(item, pl.sel.Question)
		a, okA := firstText(item, pl.sel.Answer)
		if okQ && okA {
			items = append(items, models.QA{Question: q, Answer: a})
		}
	}
	p.QA = items
	return nil
}

func (pl *Pipeline) shipping(_ context.Context, page dom.Page, p *models.Product) error {
	var s models.Shipping
	s.Time, _ = firstText(page, pl.sel.ShippingTime)
	s.Fee, _ = firstText(page, pl.sel.ShippingFee)
	if loc, ok := firstText(page, pl.sel.ShippingLocation); ok {
		if from, to, found := strings.Cut(loc, " 至 "); found {
			s.FromLocation = strings.TrimSpace(from)
			s.ToLocation = strings.TrimSpace(to)
		} else {
			s.LocationText = loc
		}
	}
	p.Shipping = s
	return nil
}

func (pl *Pipeline) shop(_ context.Context, page dom.Page, p *models.Product) error {
	var s models.Shop
	s.Name, _ = firstText(page, pl.sel.ShopName)
	if link := firstElement(page, pl.sel.ShopLink); link != nil {
		href, _ := link.Attribute("href")
		if url, ok := absoluteURL(href); ok {
			s.Link = url
		}
	}
	s.OverallRating, _ = firstText(page, pl.sel.ShopRating)

	var labels []string
	for _, el := range firstAll(page, pl.sel.ShopLabel) {
		if t, err := el.Text(); err == nil && strings.TrimSpace(t) != "" {
			labels = append(labels, strings.TrimSpace(t))
		}
	}
	if len(labels) >= 3 {
		s.GoodRate, s.ShippingSpeed, s.ServiceSatisfaction = labels[0], labels[1], labels[2]
	} else if len(labels) > 0 {
		s.Ratings = labels
	}
	p.Shop = s
	return nil
}

const invoiceTag = "可开发票"

func (pl *Pipeline) guarantees(_ context.Context, page dom.Page, p *models.Product) error {
	var tags []string
	for _, el := range firstAll(page, pl.sel.Guarantee) {
		if t, err := el.Text(); err == nil && strings.TrimSpace(t) != "" {
			tags = append(tags, strings.TrimSpace(t))
		}
	}

	content, err := page.Content()
	if err != nil {
		p.Guarantees = tags
		return fmt.Errorf("failed to read page content: %w", err)
	}
	if strings.Contains(content, invoiceTag) && !slices.Contains(tags, invoiceTag) {
		tags = append([]string{invoiceTag}, tags...)
	}
	p.Guarantees = tags
	return nil
}

func (pl *Pipeline) specifications(_ context.Context, page dom.Page, p *models.Product) error {
	spec := models.Specifications{Colors: []string{}, Sizes: []string{}}

	for _, item := range firstAll(page, pl.sel.SKUItem) {
		label, ok := firstText(item, pl.sel.SKULabel)
		if !ok {
			continue
		}
		values := []string{}
		for _, sel := range pl.sel.SKUValue {
			els, err := item.QueryAll(sel)
			if err != nil || len(els) == 0 {
				continue
			}
			for _, el := range els {
				if t, err := el.Text(); err == nil && strings.TrimSpace(t) != "" {
					values = append(values, strings.TrimSpace(t))
				}
			}
			break
		}

		lower := strings.ToLower(label)
		switch {
		case strings.Contains(label, "颜色") || strings.Contains(lower, "color"):
			spec.Colors = values
		case strings.Contains(label, "尺码") || strings.Contains(lower, "size"):
			spec.Sizes = values
		default:
			if spec.Other == nil {
				spec.Other = map[string][]string{}
			}
			spec.Other[label] = values
		}
	}

	spec.SKUImages = pl.collectImages(firstAll(page, pl.sel.SKUImage), models.CategorySKU)
	spec.StockStatus, _ = firstText(page, pl.sel.StockStatus)

	p.Specifications = spec
	return nil
}

// waitAny waits up to timeout for the first selector, then checks the rest
// for presence only. It returns the selector that matched, or "".
func (pl *Pipeline) waitAny(page dom.Page, selectors []string, timeout time.Duration) string {
	for i, sel := range selectors {
		if i == 0 {
			if err := page.WaitForSelector(sel, timeout); err == nil {
				return sel
			}
			continue
		}
		if el, err := page.Query(sel); err == nil && el != nil {
			return sel
		}
	}
	return ""
}

// scroll runs script n times with the scroll pause between runs. Scroll
// failures only cost lazy images, so they are logged and ignored.
func (pl *Pipeline) scroll(ctx context.Context, page dom.Page, script string, n int) {
	for i := 0; i < n; i++ {
		if _, err := page.Evaluate(script); err != nil {
			pl.logger.Debug("scroll failed", "error", err)
			return
		}
		if err := dom.Sleep(ctx, pl.timing.ScrollPause); err != nil {
			return
		}
	}
}

// firstText returns the trimmed text of the first selector whose element
// has non-empty text.
func firstText(q dom.Querier, selectors []string) (string, bool) {
	for _, sel := range selectors {
		if t, ok := dom.FirstText(q, []string{sel}); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t), true
		}
	}
	return "", false
}

func firstElement(q dom.Querier, selectors []string) dom.Element {
	for _, sel := range selectors {
		if el, err := q.Query(sel); err == nil && el != nil {
			return el
		}
	}
	return nil
}

// firstAll returns the matches of the first selector that matches anything.
func firstAll(q dom.Querier, selectors []string) []dom.Element {
	for _, sel := range selectors {
		if els, err := q.QueryAll(sel); err == nil && len(els) > 0 {
			return els
		}
	}
	return nil
}

func absoluteURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	return s, strings.HasPrefix(s, "http")
}
