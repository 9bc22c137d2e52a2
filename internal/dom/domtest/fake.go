// Package domtest provides a scriptable in-memory dom.Page for tests.
package domtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom"
)

type Element struct {
	TextValue string
	Attrs     map[string]string
	Children  map[string][]*Element
	OnClick   func() error

	mu     sync.Mutex
	clicks int
}

func (e *Element) Text() (string, error) { return e.TextValue, nil }

func (e *Element) Attribute(name string) (string, error) {
	return e.Attrs[name], nil
}

func (e *Element) Click() error {
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Query(selector string) (dom.Element, error) {
	if els := e.Children[selector]; len(els) > 0 {
		return els[0], nil
	}
	return nil, nil
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	return toDOM(e.Children[selector]), nil
}

// Page is a fake dom.Page. Elements are keyed by the exact selector string.
type Page struct {
	mu sync.Mutex

	CurrentURL   string
	Elements     map[string][]*Element
	CookieJar    map[string]string
	HTML         string
	NavigateFunc func(p *Page, url string) error
	EvaluateFunc func(script string) (any, error)

	navigations []string
}

func NewPage(url string) *Page {
	return &Page{
		CurrentURL: url,
		Elements:   map[string][]*Element{},
		CookieJar:  map[string]string{},
	}
}

func (p *Page) Navigate(url string, _ time.Duration) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	fn := p.NavigateFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(p, url)
	}
	p.SetURL(url)
	return nil
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.CurrentURL = url
	p.mu.Unlock()
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

// Set replaces the elements matched by selector.
func (p *Page) Set(selector string, els ...*Element) {
	p.mu.Lock()
	p.Elements[selector] = els
	p.mu.Unlock()
}

func (p *Page) Query(selector string) (dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if els := p.Elements[selector]; len(els) > 0 {
		return els[0], nil
	}
	return nil, nil
}

func (p *Page) QueryAll(selector string) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return toDOM(p.Elements[selector]), nil
}

func (p *Page) Evaluate(script string) (any, error) {
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(script)
	}
	return 2, nil
}

func (p *Page) WaitForSelector(selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Elements[selector]) == 0 {
		return fmt.Errorf("waiting for %q: %w", selector, dom.ErrTimeout)
	}
	return nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) Cookies() (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.CookieJar))
	for k, v := range p.CookieJar {
		out[k] = v
	}
	return out, nil
}

// Text builds an element holding text.
func Text(s string) *Element {
	return &Element{TextValue: s}
}

// Img builds an element with a single attribute set.
func Img(attr, value string) *Element {
	return &Element{Attrs: map[string]string{attr: value}}
}

func toDOM(els []*Element) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out
}
