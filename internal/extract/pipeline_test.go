package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/maltedev/taobao-scraper/internal/dom/domtest"
	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productHTML = `<html><body>
<div class="site-nav"><a id="J_SiteNavOpenShop">测试旗舰店</a></div>
<h1 class="mainTitle--R75fTcZL"> 测试商品 夏季T恤 </h1>
<span class="text--LP7Wf49z">99.00</span>
<span class="text--LP7Wf49z">暂无</span>
<span class="text--LP7Wf49z">199</span>
<div id="picGalleryEle">
  <img src="https://img.alicdn.com/imgextra/i1/O1CN01a.jpg_q50.jpg_.webp?x=1">
  <img src="https://img.alicdn.com/tps/i1/tps-2-2.gif" data-src="//img.alicdn.com/imgextra/i2/O1CN01b.jpg_60x60.jpg">
  <img src="https://img.alicdn.com/imgextra/i1/O1CN01a.jpg_.webp">
</div>
<div class="tabs">
  <div class="tabTitleItem--z4AoobEz">评价</div>
  <div class="tabTitleItem--z4AoobEz">参数信息</div>
  <div class="tabTitleItem--z4AoobEz">图文详情</div>
</div>
<div class="emphasisParamsInfoItem--H5Qt3iog">
  <div class="emphasisParamsInfoItemTitle--IGClES8z">棉</div>
  <div class="emphasisParamsInfoItemSubTitle--Lzwb8yjJ">材质</div>
</div>
<div class="generalParamsInfoItem--qLqLDVWp">
  <span class="generalParamsInfoItemTitle--Fo9kKj5Z">品牌</span>
  <span class="generalParamsInfoItemSubTitle--S4pgp6b9">测试牌</span>
</div>
<div class="generalParamsInfoItem--qLqLDVWp">
  <span class="generalParamsInfoItemTitle--Fo9kKj5Z">无值</span>
</div>
<div class="desc-root">
  <img data-src="https://img.alicdn.com/desc/1.jpg" src="https://g.alicdn.com/s.gif">
  <img src="https://img.alicdn.com/spaceball.gif">
  <img src="https://img.alicdn.com/desc/2.jpg">
</div>
<div class="comments--ChxC7GEN">
  <div class="Comment--H5QmJwe9">
    <span class="userName--KpyzGX2s">t**1</span>
    <div class="content--uonoOhaz">很好</div>
    <div class="meta--PLijz6qf">2024-05-01 · 颜色分类:白色</div>
    <div class="photo--ZUITAPZq">
      <img src="https://img.alicdn.com/bao/uploaded/r1.jpg_400x400.jpg">
      <img src="https://img.alicdn.com/tps-2-2.png">
    </div>
  </div>
  <div class="Comment--H5QmJwe9">
    <span class="userName--KpyzGX2s">b**2</span>
    <div class="meta--PLijz6qf">2024-05-02</div>
  </div>
</div>
<div class="askAnswerWrap--SOQkB8id">
  <div class="askAnswerItem--RJKHFPmt">
    <div class="questionText--cClStSfJ">透气吗？</div>
    <div class="answer--GB6EGprf"> 很透气 </div>
  </div>
</div>
<div class="shipping--Obxoxza7">48小时内发货</div>
<div class="freight--oatKHK1s">免运费</div>
<div class="deliveryAddrWrap--KgrR00my"><span>浙江宁波 至 绵阳市 涪城区</span></div>
<div class="shopName--cSjM9uKk">测试旗舰店</div>
<a class="detailWrap--svoEjPUO" href="//shop1.taobao.com">进店</a>
<div class="StoreComprehensiveRating--If5wS20L">4.8</div>
<div class="storeLabelItem--IcqpWWIy">好评率99%</div>
<div class="storeLabelItem--IcqpWWIy">发货速度快</div>
<div class="storeLabelItem--IcqpWWIy">服务满意度高</div>
<span class="guaranteeText--hqmmjLTB">7天无理由退货</span>
<div class="invoice">可开发票</div>
<div class="skuItem--Z2AJB9Ew">
  <div class="ItemLabel--psS1SOyC">颜色分类</div>
  <div class="valueItem--smR4pNt4"><div class="valueItemImgWrap--ZvA2Cmim"><img src="https://img.alicdn.com/sku/c1.jpg_90x90q30.jpg"></div>白色</div>
  <div class="valueItem--smR4pNt4">黑色</div>
</div>
<div class="skuItem--Z2AJB9Ew">
  <div class="ItemLabel--psS1SOyC">尺码</div>
  <div class="valueItem--smR4pNt4">M</div>
  <div class="valueItem--smR4pNt4">L</div>
</div>
<div class="skuItem--Z2AJB9Ew">
  <div class="ItemLabel--psS1SOyC">套餐</div>
  <div class="valueItem--smR4pNt4">标配</div>
</div>
<div class="quantityTip--zL6BCu6j">有货</div>
</body></html>`

func runFixture(t *testing.T, html string) (*models.Product, Report) {
	t.Helper()
	page, err := dom.NewSnapshot("https://detail.tmall.com/item.htm?id=881280651752", html)
	require.NoError(t, err)

	product := models.NewProduct("881280651752", page.URL())
	pl := NewPipeline(DefaultSelectors(), DefaultTiming(), nil).Static()
	report, err := pl.Run(context.Background(), page, product)
	require.NoError(t, err)
	return product, report
}

func TestPipeline_FullPage(t *testing.T) {
	p, report := runFixture(t, productHTML)
	assert.Empty(t, report.Failed)

	assert.Equal(t, "测试商品 夏季T恤", p.Title)
	assert.Equal(t, "测试旗舰店", p.StoreName)
	require.NotNil(t, p.CurrentPrice)
	require.NotNil(t, p.OriginalPrice)
	assert.Equal(t, 99.0, *p.CurrentPrice)
	assert.Equal(t, 199.0, *p.OriginalPrice)

	assert.Equal(t, []models.ScrapedImage{
		{URL: "https://img.alicdn.com/imgextra/i1/O1CN01a.jpg", Sequence: 0, Category: models.CategoryGallery},
		{URL: "https://img.alicdn.com/imgextra/i2/O1CN01b.jpg", Sequence: 1, Category: models.CategoryGallery},
	}, p.GalleryImages)

	assert.Equal(t, []models.Parameter{
		{Name: "材质", Value: "棉", Category: "emphasis"},
		{Name: "品牌", Value: "测试牌", Category: "general"},
	}, p.Parameters)

	require.Len(t, p.DetailImages, 2)
	assert.Equal(t, "https://img.alicdn.com/desc/1.jpg", p.DetailImages[0].URL)
	assert.Equal(t, "https://img.alicdn.com/desc/2.jpg", p.DetailImages[1].URL)
	assert.Equal(t, models.CategoryDetail, p.DetailImages[1].Category)

	require.Len(t, p.Reviews, 2)
	assert.Equal(t, models.Review{
		Username: "t**1",
		Text:     "很好",
		Date:     "2024-05-01",
		Variant:  "颜色分类:白色",
		Photos:   []models.ReviewPhoto{{URL: "https://img.alicdn.com/bao/uploaded/r1.jpg"}},
	}, p.Reviews[0])
	assert.Equal(t, "2024-05-02", p.Reviews[1].Date)
	assert.Empty(t, p.Reviews[1].Variant)
	assert.Empty(t, p.Reviews[1].Photos)

	assert.Equal(t, []models.QA{{Question: "透气吗？", Answer: "很透气"}}, p.QA)

	assert.Equal(t, models.Shipping{
		Time:         "48小时内发货",
		Fee:          "免运费",
		FromLocation: "浙江宁波",
		ToLocation:   "绵阳市 涪城区",
	}, p.Shipping)

	assert.Equal(t, "https://shop1.taobao.com", p.Shop.Link)
	assert.Equal(t, "4.8", p.Shop.OverallRating)
	assert.Equal(t, "好评率99%", p.Shop.GoodRate)
	assert.Equal(t, "发货速度快", p.Shop.ShippingSpeed)
	assert.Equal(t, "服务满意度高", p.Shop.ServiceSatisfaction)
	assert.Empty(t, p.Shop.Ratings)

	assert.Equal(t, []string{"可开发票", "7天无理由退货"}, p.Guarantees)

	assert.Equal(t, []string{"白色", "黑色"}, p.Specifications.Colors)
	assert.Equal(t, []string{"M", "L"}, p.Specifications.Sizes)
	assert.Equal(t, map[string][]string{"套餐": {"标配"}}, p.Specifications.Other)
	assert.Equal(t, "有货", p.Specifications.StockStatus)
	assert.Equal(t, []models.ScrapedImage{
		{URL: "https://img.alicdn.com/sku/c1.jpg", Sequence: 0, Category: models.CategorySKU},
	}, p.Specifications.SKUImages)
}

func TestPipeline_MissingSectionsArePartial(t *testing.T) {
	html := `<html><body>
<h1 class="mainTitle--R75fTcZL">只有标题</h1>
<div class="deliveryAddrWrap--KgrR00my"><span>浙江杭州</span></div>
<div class="storeLabelItem--IcqpWWIy">好评率99%</div>
</body></html>`

	p, report := runFixture(t, html)

	assert.Equal(t, "只有标题", p.Title)
	assert.ElementsMatch(t, []string{"reviews", "qa"}, report.Failed)
	assert.Empty(t, p.Reviews)
	assert.Empty(t, p.QA)
	assert.Empty(t, p.DetailImages)
	assert.Equal(t, "浙江杭州", p.Shipping.LocationText)
	assert.Equal(t, []string{"好评率99%"}, p.Shop.Ratings)
	assert.Empty(t, p.Shop.GoodRate)
	assert.Empty(t, p.Guarantees)
}

func TestPipeline_DetailFallbackContainer(t *testing.T) {
	html := `<html><body>
<div class="detail-content"><img src="https://img.alicdn.com/d/a.jpg"><img src="data:image/gif;base64,R0lG"></div>
</body></html>`

	p, _ := runFixture(t, html)
	require.Len(t, p.DetailImages, 1)
	assert.Equal(t, "https://img.alicdn.com/d/a.jpg", p.DetailImages[0].URL)
}

func TestPipeline_ClicksTabsByPosition(t *testing.T) {
	page := domtest.NewPage("https://detail.tmall.com/item.htm?id=1")
	reviewsTab := domtest.Text("评价")
	paramsTab := domtest.Text("参数信息")
	detailsTab := domtest.Text("图文详情")
	page.Set(".tabTitleItem--z4AoobEz:nth-child(1)", reviewsTab)
	page.Set(".tabTitleItem--z4AoobEz:nth-child(2)", paramsTab)
	page.Set(".tabTitleItem--z4AoobEz:nth-child(3)", detailsTab)
	page.Set(".mainTitle--R75fTcZL", domtest.Text("标题"))

	pl := NewPipeline(DefaultSelectors(), DefaultTiming(), nil).Static()
	product := models.NewProduct("1", page.URL())
	_, err := pl.Run(context.Background(), page, product)
	require.NoError(t, err)

	assert.Equal(t, 1, reviewsTab.Clicks())
	assert.Equal(t, 1, paramsTab.Clicks())
	assert.Equal(t, 1, detailsTab.Clicks())
	assert.Equal(t, "标题", product.Title)
}

func TestPipeline_StopsOnCancel(t *testing.T) {
	page, err := dom.NewSnapshot("about:blank", productHTML)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewPipeline(DefaultSelectors(), DefaultTiming(), nil).Static().Run(ctx, page, models.NewProduct("1", ""))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadSelectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title:\n  - \".newTitle\"\n  - h1\nparams_tab: 3\n"), 0o644))

	sel, err := LoadSelectors(path)
	require.NoError(t, err)
	assert.Equal(t, []string{".newTitle", "h1"}, sel.Title)
	assert.Equal(t, 3, sel.ParamsTab)
	assert.Equal(t, DefaultSelectors().StoreName, sel.StoreName)

	sel, err = LoadSelectors("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSelectors(), sel)

	_, err = LoadSelectors(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTabSelectors(t *testing.T) {
	assert.Equal(t, []string{".tabTitleItem--z4AoobEz:nth-child(2)"}, DefaultSelectors().TabSelectors(1))
}

func TestNormalizeImageURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://img.alicdn.com/i1/a.jpg_q50.jpg_.webp", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/i1/a_q50.jpg_.webp", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/i1/a.png_.webp", "https://img.alicdn.com/i1/a.png", true},
		{"https://img.alicdn.com/i1/a.jpg_100x100q50.jpg_.webp", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/i1/a_100x100q50.jpg_.webp", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/i1/a.jpgq30", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/i1/a_100x100.jpg", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/i1/a_sum.jpg?spm=1", "https://img.alicdn.com/i1/a.jpg", true},
		{" //img.alicdn.com/i1/a.jpg ", "https://img.alicdn.com/i1/a.jpg", true},
		{"https://img.alicdn.com/tps/tps-2-2.gif", "", false},
		{"https://img.alicdn.com/spaceball.gif", "", false},
		{"data:image/png;base64,AAAA", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeImageURL(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
