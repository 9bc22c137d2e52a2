package dom

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is a read-only Page over a saved HTML document. Clicks and
// scripts are no-ops; waits succeed only when the selector already matches.
type Snapshot struct {
	doc     *goquery.Document
	html    string
	url     string
	cookies map[string]string
}

func NewSnapshot(url, html string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Snapshot{
		doc:     doc,
		html:    html,
		url:     url,
		cookies: map[string]string{},
	}, nil
}

// WithCookies sets the cookies reported by Cookies.
func (s *Snapshot) WithCookies(cookies map[string]string) *Snapshot {
	s.cookies = cookies
	return s
}

func (s *Snapshot) Navigate(url string, _ time.Duration) error {
	s.url = url
	return nil
}

func (s *Snapshot) URL() string { return s.url }

func (s *Snapshot) Query(selector string) (Element, error) {
	return querySelection(s.doc.Selection, selector), nil
}

func (s *Snapshot) QueryAll(selector string) ([]Element, error) {
	return queryAllSelection(s.doc.Selection, selector), nil
}

func (s *Snapshot) Evaluate(string) (any, error) { return nil, nil }

func (s *Snapshot) WaitForSelector(selector string, _ time.Duration) error {
	if s.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("waiting for %q: %w", selector, ErrTimeout)
	}
	return nil
}

func (s *Snapshot) Content() (string, error) { return s.html, nil }

func (s *Snapshot) Cookies() (map[string]string, error) {
	out := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		out[k] = v
	}
	return out, nil
}

type snapshotElement struct {
	sel *goquery.Selection
}

func (e *snapshotElement) Text() (string, error) { return e.sel.Text(), nil }

func (e *snapshotElement) Attribute(name string) (string, error) {
	v, _ := e.sel.Attr(name)
	return v, nil
}

func (e *snapshotElement) Click() error { return nil }

func (e *snapshotElement) Query(selector string) (Element, error) {
	return querySelection(e.sel, selector), nil
}

func (e *snapshotElement) QueryAll(selector string) ([]Element, error) {
	return queryAllSelection(e.sel, selector), nil
}

func querySelection(root *goquery.Selection, selector string) Element {
	found := root.Find(selector).First()
	if found.Length() == 0 {
		return nil
	}
	return &snapshotElement{sel: found}
}

func queryAllSelection(root *goquery.Selection, selector string) []Element {
	found := root.Find(selector)
	out := make([]Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &snapshotElement{sel: s})
	})
	return out
}
