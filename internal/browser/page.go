package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/taobao-scraper/internal/dom"
	"github.com/playwright-community/playwright-go"
)

type page struct {
	p playwright.Page
}

// WrapPage adapts a playwright page to dom.Page.
func WrapPage(p playwright.Page) dom.Page {
	return &page{p: p}
}

func (pg *page) Navigate(url string, timeout time.Duration) error {
	_, err := pg.p.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return mapError(err)
}

func (pg *page) URL() string {
	return pg.p.URL()
}

func (pg *page) Query(selector string) (dom.Element, error) {
	el, err := pg.p.QuerySelector(selector)
	if err != nil {
		return nil, mapError(err)
	}
	if el == nil {
		return nil, nil
	}
	return &element{h: el}, nil
}

func (pg *page) QueryAll(selector string) ([]dom.Element, error) {
	els, err := pg.p.QuerySelectorAll(selector)
	if err != nil {
		return nil, mapError(err)
	}
	return wrapAll(els), nil
}

func (pg *page) Evaluate(script string) (any, error) {
	v, err := pg.p.Evaluate(script)
	return v, mapError(err)
}

// WaitForSelector with a non-positive timeout only checks presence;
// playwright would otherwise treat zero as wait forever.
func (pg *page) WaitForSelector(selector string, timeout time.Duration) error {
	if timeout <= 0 {
		el, err := pg.p.QuerySelector(selector)
		if err != nil {
			return mapError(err)
		}
		if el == nil {
			return fmt.Errorf("waiting for %q: %w", selector, dom.ErrTimeout)
		}
		return nil
	}
	_, err := pg.p.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return mapError(err)
}

func (pg *page) Content() (string, error) {
	html, err := pg.p.Content()
	return html, mapError(err)
}

func (pg *page) Cookies() (map[string]string, error) {
	cookies, err := pg.p.Context().Cookies()
	if err != nil {
		return nil, mapError(err)
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

type element struct {
	h playwright.ElementHandle
}

func (e *element) Text() (string, error) {
	s, err := e.h.TextContent()
	return s, mapError(err)
}

func (e *element) Attribute(name string) (string, error) {
	s, err := e.h.GetAttribute(name)
	return s, mapError(err)
}

func (e *element) Click() error {
	return mapError(e.h.Click())
}

func (e *element) Query(selector string) (dom.Element, error) {
	el, err := e.h.QuerySelector(selector)
	if err != nil {
		return nil, mapError(err)
	}
	if el == nil {
		return nil, nil
	}
	return &element{h: el}, nil
}

func (e *element) QueryAll(selector string) ([]dom.Element, error) {
	els, err := e.h.QuerySelectorAll(selector)
	if err != nil {
		return nil, mapError(err)
	}
	return wrapAll(els), nil
}

func wrapAll(els []playwright.ElementHandle) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{h: el})
	}
	return out
}

// mapError keeps timeouts distinguishable from every other playwright failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", dom.ErrTimeout, err)
	}
	return err
}
