package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/taobao-scraper/internal/cache"
	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/maltedev/taobao-scraper/internal/dom/domtest"
	"github.com/maltedev/taobao-scraper/internal/extract"
	"github.com/maltedev/taobao-scraper/internal/link"
	"github.com/maltedev/taobao-scraper/internal/metrics"
	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/maltedev/taobao-scraper/internal/session"
)

const (
	testID    = "752468272997"
	testURL   = "https://detail.tmall.com/item.htm?id=752468272997"
	titleSel  = ".mainTitle--R75fTcZL"
	loginHost = "https://login.taobao.com/member/login.jhtml"
)

type fakeSessions struct {
	page       *domtest.Page
	acquireErr error
	wallErr    error
	onWall     func(p *domtest.Page)
	released   int
	walls      int
	waited     bool
}

func (f *fakeSessions) Acquire(context.Context) (dom.Page, func(), error) {
	if f.acquireErr != nil {
		return nil, nil, f.acquireErr
	}
	return f.page, func() { f.released++ }, nil
}

func (f *fakeSessions) HandleLoginWall(_ context.Context, _ dom.Page, wait bool) error {
	f.walls++
	f.waited = wait
	if f.onWall != nil {
		f.onWall(f.page)
	}
	return f.wallErr
}

func (f *fakeSessions) OnLoginHost(raw string) bool {
	return strings.Contains(raw, "login.taobao.com")
}

type stubIDs struct {
	err error
}

func (s stubIDs) Extract(_ context.Context, input string, _ dom.Page) (link.Result, error) {
	if s.err != nil {
		return link.Result{}, s.err
	}
	return link.Result{ID: testID, Strategy: link.StrategyDirect}, nil
}

type countingPacer struct {
	waits, successes, errors int
}

func (p *countingPacer) Wait(context.Context) error { p.waits++; return nil }
func (p *countingPacer) RecordSuccess()             { p.successes++ }
func (p *countingPacer) RecordError()               { p.errors++ }

type recordingArchive struct {
	mu       sync.Mutex
	err      error
	archived []*models.Product
}

func (a *recordingArchive) PublishProductScraped(_ context.Context, p *models.Product) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, p)
	return a.err
}

type harness struct {
	svc      *Service
	sessions *fakeSessions
	page     *domtest.Page
	pacer    *countingPacer
	archive  *recordingArchive
	cache    *cache.Memory
	reg      *prometheus.Registry
}

func productPage() *domtest.Page {
	page := domtest.NewPage("about:blank")
	page.Set(titleSel, domtest.Text(" 男士 休闲裤 "))
	page.Set("#J_SiteNavOpenShop", domtest.Text("测试旗舰店"))
	return page
}

func newHarness(t *testing.T, ids IDExtractor) *harness {
	t.Helper()

	page := productPage()
	h := &harness{
		page:     page,
		sessions: &fakeSessions{page: page},
		pacer:    &countingPacer{},
		archive:  &recordingArchive{},
		cache:    cache.NewMemory(8, time.Hour),
		reg:      prometheus.NewRegistry(),
	}

	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.SelectorTimeout = 10 * time.Millisecond

	h.svc = NewService(Dependencies{
		Sessions: h.sessions,
		IDs:      ids,
		Pipeline: extract.NewPipeline(extract.DefaultSelectors(), extract.Timing{}, nil),
		Pacer:    h.pacer,
		Cache:    h.cache,
		Archive:  h.archive,
		Metrics:  metrics.MustNewMetrics(h.reg),
	}, cfg, nil)
	return h
}

func TestScrape_Success(t *testing.T) {
	h := newHarness(t, stubIDs{})
	ctx := context.Background()

	before := time.Now()
	p, err := h.svc.Scrape(ctx, "https://detail.tmall.com/item.htm?id="+testID, Options{})
	require.NoError(t, err)

	assert.Equal(t, testID, p.ProductID)
	assert.Equal(t, testURL, p.ProductURL)
	assert.Equal(t, "男士 休闲裤", p.Title)
	assert.Equal(t, "测试旗舰店", p.StoreName)
	assert.NotEqual(t, uuid.Nil, p.ScrapeID)
	assert.False(t, p.ScrapedAt.Before(before))

	assert.Equal(t, []string{testURL}, h.page.Navigations())
	assert.Equal(t, 1, h.sessions.released)
	assert.Equal(t, 0, h.sessions.walls)
	assert.Equal(t, 1, h.pacer.waits)
	assert.Equal(t, 1, h.pacer.successes)

	cached, ok, err := h.cache.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.ScrapeID, cached.ScrapeID)

	require.Len(t, h.archive.archived, 1)
	assert.Same(t, p, h.archive.archived[0])

	count, err := testutil.GatherAndCount(h.reg, "taobao_scraper_scrape_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScrape_SessionErrorsPassThrough(t *testing.T) {
	for _, sentinel := range []error{session.ErrNotInitialized, session.ErrBusy, session.ErrSessionClosed} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			h := newHarness(t, stubIDs{})
			h.sessions.acquireErr = sentinel

			_, err := h.svc.Scrape(context.Background(), testID, Options{})
			assert.ErrorIs(t, err, sentinel)
			assert.Empty(t, h.page.Navigations())
		})
	}
}

func TestScrape_IdentifierErrorReleasesPage(t *testing.T) {
	h := newHarness(t, stubIDs{err: link.ErrShortLinkUnresolved})

	_, err := h.svc.Scrape(context.Background(), "https://e.tb.cn/h.abc", Options{})
	assert.ErrorIs(t, err, link.ErrIdentifierNotFound)
	assert.Equal(t, 1, h.sessions.released)
	assert.Empty(t, h.page.Navigations())
}

func TestScrape_NavigationFailure(t *testing.T) {
	h := newHarness(t, stubIDs{})
	h.page.NavigateFunc = func(*domtest.Page, string) error {
		return errors.New("net::ERR_CONNECTION_RESET")
	}

	_, err := h.svc.Scrape(context.Background(), testID, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigation)
	assert.Contains(t, err.Error(), "ERR_CONNECTION_RESET")
	assert.Equal(t, 1, h.pacer.errors)
	assert.Empty(t, h.archive.archived)
}

func TestScrape_LoginWall(t *testing.T) {
	t.Run("login required", func(t *testing.T) {
		h := newHarness(t, stubIDs{})
		h.page.NavigateFunc = func(p *domtest.Page, _ string) error {
			p.SetURL(loginHost)
			return nil
		}
		h.sessions.wallErr = session.ErrLoginRequired

		_, err := h.svc.Scrape(context.Background(), testID, Options{})
		assert.ErrorIs(t, err, session.ErrLoginRequired)
		assert.False(t, h.sessions.waited)
	})

	t.Run("manual login then reload", func(t *testing.T) {
		h := newHarness(t, stubIDs{})
		h.page.NavigateFunc = func(p *domtest.Page, url string) error {
			if len(p.Navigations()) == 1 {
				p.SetURL(loginHost)
				return nil
			}
			p.SetURL(url)
			return nil
		}
		h.sessions.onWall = func(p *domtest.Page) { p.SetURL("https://www.taobao.com/") }

		p, err := h.svc.Scrape(context.Background(), testID, Options{WaitForLogin: true})
		require.NoError(t, err)
		assert.True(t, h.sessions.waited)
		assert.Equal(t, []string{testURL, testURL}, h.page.Navigations())
		assert.Equal(t, testID, p.ProductID)
	})

	t.Run("quick confirm lands on product", func(t *testing.T) {
		h := newHarness(t, stubIDs{})
		h.page.NavigateFunc = func(p *domtest.Page, _ string) error {
			p.SetURL(loginHost + "?redirectURL=x")
			return nil
		}
		h.sessions.onWall = func(p *domtest.Page) { p.SetURL(testURL) }

		_, err := h.svc.Scrape(context.Background(), testID, Options{})
		require.NoError(t, err)
		assert.Len(t, h.page.Navigations(), 1)
	})
}

func TestScrape_MissingTitle(t *testing.T) {
	h := newHarness(t, stubIDs{})
	h.page.Set(titleSel)

	_, err := h.svc.Scrape(context.Background(), testID, Options{})
	assert.ErrorIs(t, err, ErrPageStructure)
	assert.Empty(t, h.archive.archived)
}

func TestScrape_ShareLinkReload(t *testing.T) {
	h := newHarness(t, stubIDs{})
	h.page.NavigateFunc = func(p *domtest.Page, url string) error {
		if len(p.Navigations()) == 1 {
			p.SetURL(url + "&shareurl=true&sp_tk=abc")
			return nil
		}
		p.SetURL(url)
		return nil
	}

	_, err := h.svc.Scrape(context.Background(), testID, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{testURL, testURL}, h.page.Navigations())
	assert.Equal(t, 2, h.pacer.waits)
}

func TestScrape_ArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, stubIDs{})
	h.archive.err = errors.New("database unavailable")

	p, err := h.svc.Scrape(context.Background(), testID, Options{})
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Len(t, h.archive.archived, 1)
}

func TestScrape_CountsSectionFailures(t *testing.T) {
	h := newHarness(t, stubIDs{})
	h.page.Set(".tabTitleItem--z4AoobEz:nth-child(2)", &domtest.Element{
		OnClick: func() error { return errors.New("element is detached") },
	})

	_, err := h.svc.Scrape(context.Background(), testID, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, sectionFailures(t, h.reg, "parameters"))
}

// sectionFailures reads the failure counter for one section label.
func sectionFailures(t *testing.T, reg *prometheus.Registry, section string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "taobao_scraper_section_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "section" && lp.GetValue() == section {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestScrapeSnapshot(t *testing.T) {
	const html = `<html><body>
<h1 class="mainTitle--R75fTcZL">夏季纯棉T恤</h1>
<a id="J_SiteNavOpenShop">优衣库官方旗舰店</a>
<div id="picGalleryEle"><img src="https://img.alicdn.com/imgextra/i1/O1CN01a.jpg_q50.jpg_.webp"></div>
</body></html>`

	t.Run("extracts saved page", func(t *testing.T) {
		h := newHarness(t, stubIDs{})

		p, err := h.svc.ScrapeSnapshot(context.Background(), " 680000000001 ", html)
		require.NoError(t, err)
		assert.Equal(t, "680000000001", p.ProductID)
		assert.Equal(t, "https://detail.tmall.com/item.htm?id=680000000001", p.ProductURL)
		assert.Equal(t, "夏季纯棉T恤", p.Title)
		require.Len(t, p.GalleryImages, 1)
		assert.Equal(t, "https://img.alicdn.com/imgextra/i1/O1CN01a.jpg", p.GalleryImages[0].URL)
		assert.Empty(t, h.page.Navigations())
		assert.Len(t, h.archive.archived, 1)
	})

	t.Run("requires an id", func(t *testing.T) {
		h := newHarness(t, stubIDs{})
		_, err := h.svc.ScrapeSnapshot(context.Background(), "  ", html)
		assert.ErrorIs(t, err, link.ErrIdentifierNotFound)
	})

	t.Run("rejects pages without a title", func(t *testing.T) {
		h := newHarness(t, stubIDs{})
		_, err := h.svc.ScrapeSnapshot(context.Background(), "680000000001", "<html><body>验证码</body></html>")
		assert.ErrorIs(t, err, ErrPageStructure)
	})
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Dependencies{}, Config{}, nil)
	assert.Equal(t, link.PlatformTmall, svc.cfg.Platform)
	assert.Equal(t, extract.DefaultSelectors().Title, svc.cfg.TitleSelectors)
	assert.IsType(t, cache.Noop{}, svc.deps.Cache)
}
