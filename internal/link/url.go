package link

import (
	"net/url"
	"strings"
)

type Platform string

const (
	PlatformTmall  Platform = "tmall"
	PlatformTaobao Platform = "taobao"

	DefaultPlatform = PlatformTmall
)

// shareParams are tracking parameters added by the app's share flow.
var shareParams = []string{
	"shareurl", "tbSocialPopKey", "app", "cpp", "short_name",
	"sp_tk", "tk", "suid", "bxsign", "wxsign", "un", "ut_sk",
	"share_crt_v", "sourceType", "shareUniqueId",
}

func ParsePlatform(s string) Platform {
	if strings.EqualFold(strings.TrimSpace(s), string(PlatformTaobao)) {
		return PlatformTaobao
	}
	return DefaultPlatform
}

// BuildURL returns the canonical detail page for id.
func BuildURL(id string, p Platform) string {
	if p == PlatformTaobao {
		return "https://item.taobao.com/item.htm?id=" + id
	}
	return "https://detail.tmall.com/item.htm?id=" + id
}

// PlatformFromURL picks tmall for tmall.com hosts and taobao otherwise.
func PlatformFromURL(raw string) Platform {
	u, err := url.Parse(raw)
	if err != nil {
		return DefaultPlatform
	}
	if strings.Contains(u.Host, "tmall.com") {
		return PlatformTmall
	}
	return PlatformTaobao
}

// IsShareLink reports whether raw carries any known share-tracking parameter.
func IsShareLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	q := u.Query()
	for _, p := range shareParams {
		if q.Get(p) != "" {
			return true
		}
	}
	return false
}

// CleanShareURL drops the whole query and rebuilds the canonical URL from
// the platform and id.
func CleanShareURL(raw, id string) string {
	return BuildURL(id, PlatformFromURL(raw))
}
