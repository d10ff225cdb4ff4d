// Package metadata pulls optional product fields (name, category, price) out of
// product pages for provenance records.
package metadata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

const breadcrumbSelector = `nav[aria-label*="readcrumb"] li, .breadcrumb li, .breadcrumbs li, ` +
	`[class*="breadcrumb"] li, ol[itemtype*="BreadcrumbList"] li`

// Extractor implements crawler.MetadataExtractor. Structured data wins over
// meta tags, which win over visible markup.
type Extractor struct{}

// New returns an Extractor.
func New() Extractor {
	return Extractor{}
}

// Extract returns whatever product fields the page exposes; missing fields stay empty.
func (Extractor) Extract(doc *goquery.Document) crawler.Metadata {
	if doc == nil {
		return crawler.Metadata{}
	}
	meta := fromJSONLD(doc)
	if meta.Name == "" {
		meta.Name = firstNonEmpty(
			attr(doc, `meta[property="og:title"]`, "content"),
			itemprop(doc, "name"),
			text(doc.Find("h1").First()),
		)
	}
	if meta.Price == "" {
		meta.Price = withCurrency(
			firstNonEmpty(
				attr(doc, `meta[property="product:price:amount"]`, "content"),
				itemprop(doc, "price"),
				text(doc.Find(".product-price, .price").First()),
			),
			firstNonEmpty(
				attr(doc, `meta[property="product:price:currency"]`, "content"),
				itemprop(doc, "priceCurrency"),
			),
		)
	}
	if meta.Category == "" {
		meta.Category = firstNonEmpty(itemprop(doc, "category"), breadcrumbCategory(doc))
	}
	return meta
}

// Noop implements crawler.MetadataExtractor and always returns empty metadata.
type Noop struct{}

// Extract returns empty metadata.
func (Noop) Extract(*goquery.Document) crawler.Metadata {
	return crawler.Metadata{}
}

func fromJSONLD(doc *goquery.Document) crawler.Metadata {
	var meta crawler.Metadata
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return true
		}
		product := findProduct(payload)
		if product == nil {
			return true
		}
		meta.Name = scalar(product["name"])
		meta.Category = scalar(product["category"])
		meta.Price = offerPrice(product["offers"])
		return false
	})
	return meta
}

// findProduct walks arrays and @graph containers for the first Product node.
func findProduct(node any) map[string]any {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if product := findProduct(item); product != nil {
				return product
			}
		}
	case map[string]any:
		if isProductType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findProduct(graph)
		}
	}
	return nil
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "Product")
	case []any:
		for _, item := range v {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func offerPrice(offers any) string {
	switch v := offers.(type) {
	case []any:
		for _, item := range v {
			if price := offerPrice(item); price != "" {
				return price
			}
		}
	case map[string]any:
		price := firstNonEmpty(scalar(v["price"]), scalar(v["lowPrice"]))
		return withCurrency(price, scalar(v["priceCurrency"]))
	}
	return ""
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", x), "0"), ".")
	case map[string]any:
		return scalar(x["name"])
	}
	return ""
}

func withCurrency(price, currency string) string {
	if price == "" || currency == "" || strings.Contains(price, currency) {
		return price
	}
	return price + " " + currency
}

func breadcrumbCategory(doc *goquery.Document) string {
	items := doc.Find(breadcrumbSelector)
	if items.Length() < 2 {
		return ""
	}
	return text(items.Eq(items.Length() - 2))
}

func itemprop(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`[itemprop=%q]`, name)).First()
	if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	return text(sel)
}

func attr(doc *goquery.Document, selector, name string) string {
	value, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(value)
}

func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
