package crawler

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const minImageSide = 100

var imageAttrs = []string{"src", "data-src", "data-lazy", "data-original"}

var excludedImageMarkers = []string{
	"logo", "icon", "sprite", "button", "badge", "flag", "social", "payment", "placeholder",
}

// ExtractImageURLs returns the candidate product image URLs of a page in
// document order. Decorative images are skipped; when nothing survives the
// og:image tag is used instead, then twitter:image.
func ExtractImageURLs(doc *goquery.Document, base *url.URL) []string {
	if doc == nil || base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		abs, ok := resolve(base, raw)
		if !ok {
			return
		}
		s := abs.String()
		if excludedImage(s) {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if tooSmall(sel) {
			return
		}
		for _, attr := range imageAttrs {
			if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
				add(v)
				return
			}
		}
		if srcset, ok := sel.Attr("srcset"); ok {
			add(firstSrcsetCandidate(srcset))
		}
	})

	for _, selector := range []string{`meta[property="og:image"]`, `meta[name="twitter:image"]`} {
		if len(out) > 0 {
			break
		}
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			add(content)
		}
	}
	return out
}

func excludedImage(raw string) bool {
	for _, marker := range excludedImageMarkers {
		if containsLower(raw, marker) {
			return true
		}
	}
	return false
}

// tooSmall reports whether an image declares both dimensions and either is below minImageSide.
func tooSmall(sel *goquery.Selection) bool {
	w, wok := dimension(sel, "width")
	h, hok := dimension(sel, "height")
	return wok && hok && (w < minImageSide || h < minImageSide)
}

func dimension(sel *goquery.Selection, attr string) (int, bool) {
	raw, ok := sel.Attr(attr)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "px"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstSrcsetCandidate(srcset string) string {
	first := strings.TrimSpace(strings.Split(srcset, ",")[0])
	if idx := strings.IndexAny(first, " \t"); idx >= 0 {
		first = first[:idx]
	}
	return first
}
