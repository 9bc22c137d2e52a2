package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom/domtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "https://detail.tmall.com/item.htm?id=881280651752", BuildURL("881280651752", PlatformTmall))
	assert.Equal(t, "https://item.taobao.com/item.htm?id=881280651752", BuildURL("881280651752", PlatformTaobao))
	assert.Equal(t, "https://detail.tmall.com/item.htm?id=1", BuildURL("1", ParsePlatform("unknown")))
	assert.Equal(t, PlatformTaobao, ParsePlatform(" Taobao "))
}

func TestIsShareLink(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"https://detail.tmall.com/item.htm?id=881280651752", false},
		{"https://detail.tmall.com/item.htm?id=881280651752&tbSocialPopKey=shareItem&sp_tk=abc", true},
		{"https://item.taobao.com/item.htm?id=1&suid=ABC", true},
		{"https://item.taobao.com/item.htm?id=1&un=", false},
		{"://not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsShareLink(tt.url))
		})
	}
}

func TestCleanShareURL(t *testing.T) {
	shared := "https://detail.tmall.com/item.htm?id=881280651752&shareurl=true&app=chrome&cpp=1&short_name=h.x&sp_tk=abc"
	assert.Equal(t, "https://detail.tmall.com/item.htm?id=881280651752", CleanShareURL(shared, "881280651752"))

	shared = "https://item.taobao.com/item.htm?id=712345678901&ut_sk=1.abc&sourceType=item"
	assert.Equal(t, "https://item.taobao.com/item.htm?id=712345678901", CleanShareURL(shared, "712345678901"))
}

func TestHTTPResolverFollowsRedirects(t *testing.T) {
	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/h.abc", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		http.Redirect(w, r, "/hop", http.StatusFound)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/item.htm?id=881280651752", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/item.htm", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	r := NewHTTPResolver(2*time.Second, true, "")
	final, err := r.Resolve(context.Background(), srv.URL+"/h.abc")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/item.htm?id=881280651752", final)
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestHTTPResolverStrictTLSFails(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewHTTPResolver(2*time.Second, false, "")
	_, err := r.Resolve(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestHTTPResolverTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	r := NewHTTPResolver(50*time.Millisecond, false, "")
	_, err := r.Resolve(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestBrowserResolverReadsFinalURL(t *testing.T) {
	page := domtest.NewPage("about:blank")
	page.NavigateFunc = func(p *domtest.Page, url string) error {
		p.SetURL("https://detail.tmall.com/item.htm?id=881280651752&tk=1")
		return nil
	}

	final, err := BrowserResolver{Timeout: time.Second}.ResolveWithPage(context.Background(), page, "https://e.tb.cn/h.abc")
	require.NoError(t, err)
	assert.Equal(t, "https://detail.tmall.com/item.htm?id=881280651752&tk=1", final)
	assert.Equal(t, []string{"https://e.tb.cn/h.abc"}, page.Navigations())
}
