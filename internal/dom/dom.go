// Package dom defines the page capability the scraper drives. The live
// implementation is backed by playwright (internal/browser); Snapshot is a
// static goquery-backed page used for saved HTML.
package dom

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks a navigation or selector wait that ran out of time, as
// opposed to any other failure.
var ErrTimeout = errors.New("timeout")

type Element interface {
	// Text returns the raw textContent, untrimmed.
	Text() (string, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(name string) (string, error)
	Click() error
	// Query returns nil, nil when nothing matches.
	Query(selector string) (Element, error)
	QueryAll(selector string) ([]Element, error)
}

// Querier is the selector surface shared by pages and elements.
type Querier interface {
	Query(selector string) (Element, error)
	QueryAll(selector string) ([]Element, error)
}

type Page interface {
	Navigate(url string, timeout time.Duration) error
	URL() string
	Query(selector string) (Element, error)
	QueryAll(selector string) ([]Element, error)
	Evaluate(script string) (any, error)
	WaitForSelector(selector string, timeout time.Duration) error
	Content() (string, error)
	Cookies() (map[string]string, error)
}

// IsTimeout reports whether err came from an expired wait.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FirstText returns the text of the first element matched by any of the
// selectors, trying them in order. ok is false when no selector matched.
func FirstText(q Querier, selectors []string) (text string, ok bool) {
	for _, sel := range selectors {
		el, err := q.Query(sel)
		if err != nil || el == nil {
			continue
		}
		t, err := el.Text()
		if err != nil {
			continue
		}
		return t, true
	}
	return "", false
}
