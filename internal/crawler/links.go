package crawler

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the absolute in-site links of a page in document order,
// without duplicates. Links to other hosts are dropped.
func ExtractLinks(doc *goquery.Document, base *url.URL) []*url.URL {
	if doc == nil || base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, ok := resolve(base, href)
		if !ok || !SameSite(abs.Hostname(), base.Hostname()) {
			return
		}
		key := CacheKey(abs.String())
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, abs)
	})
	return links
}
