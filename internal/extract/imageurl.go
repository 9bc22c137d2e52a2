package extract

import (
	"regexp"
	"strings"
)

// suffixRewrites strip CDN resize and re-encode suffixes back to the
// original extension. Order matters.
var suffixRewrites = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`\.(jpe?g|png|gif)_[^/]*$`), ".$1"},
	{regexp.MustCompile(`\.jpgq\d+$`), ".jpg"},
	{regexp.MustCompile(`_q\d+\.jpg$`), ".jpg"},
	{regexp.MustCompile(`_\d+x\d+(q\d+)?\.jpg$`), ".jpg"},
}

var sizeMarkers = strings.NewReplacer(
	"_60x60", "",
	"_50x50", "",
	"_80x80", "",
	"_90x90", "",
	"_sum", "",
)

var placeholders = []string{"spaceball.gif", "tps-2-2", "pixel.gif", "blank.gif"}

// NormalizeImageURL turns a CDN thumbnail address into the full-size
// original. ok is false for anything that is not an http(s) image or is a
// known placeholder.
func NormalizeImageURL(raw string) (string, bool) {
	src := strings.TrimSpace(raw)
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	if !strings.HasPrefix(src, "http") || IsPlaceholder(src) {
		return "", false
	}

	if i := strings.IndexByte(src, '?'); i >= 0 {
		src = src[:i]
	}
	for _, r := range suffixRewrites {
		src = r.pattern.ReplaceAllString(src, r.repl)
	}
	return sizeMarkers.Replace(src), true
}

// IsPlaceholder reports whether src is a lazy-load placeholder pixel.
func IsPlaceholder(src string) bool {
	for _, p := range placeholders {
		if strings.Contains(src, p) {
			return true
		}
	}
	return false
}
