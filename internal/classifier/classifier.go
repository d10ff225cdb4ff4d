// Package classifier scores parsed pages as product detail pages.
package classifier

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// DefaultThreshold is the minimum score of a product page.
const DefaultThreshold = 3

// Signal weights.
const (
	weightGallery    = 2
	weightPrice      = 2
	weightPurchase   = 3
	weightStructured = 3
	weightSingleItem = 1
	weightGrid       = -2
	weightText       = 1
	weightVariants   = 2
)

const (
	gridTileCount     = 6
	singleItemMaxTile = 3
	minDescriptionLen = 200
	largeImageSide    = 400
)

const tileSelector = `.product-tile, .product-card, .product-item, [class*="product-tile"], [class*="product-card"]`

const gallerySelector = `[class*="gallery"] img, [class*="carousel"] img, [class*="slider"] img, ` +
	`[class*="product-image"] img, img[class*="product-image"], [data-zoom-image]`

const priceSelector = `[itemprop="price"], .price, .product-price, [class*="price"], ` +
	`meta[property="product:price:amount"]`

const purchaseSelector = `button, input[type="submit"], a[role="button"], [class*="add-to-cart"], ` +
	`[class*="add-to-bag"], [name="add"]`

const structuredSelector = `[itemtype*="schema.org/Product"], meta[property="og:type"][content="product"]`

const descriptionSelector = `[itemprop="description"], [class*="description"], [class*="product-details"], ` +
	`[id*="description"]`

const variantSelector = `select[name*="size"], select[name*="Size"], select[name*="colo"], select[name*="Colo"], ` +
	`[class*="swatch"], [class*="size-selector"], [class*="variant"], [data-option-name]`

const productLinkSelector = `a[href*="/product/"], a[href*="/products/"], a[href*="/p/"], a[href*="/item/"]`

var (
	purchasePhrases = []string{"add to cart", "add to bag", "add to basket", "buy now", "purchase"}
	currencyPattern = regexp.MustCompile(`(?:[$€£¥]\s?\d[\d.,]*)|(?:\d[\d.,]*\s?(?:USD|EUR|GBP|CHF|JPY)\b)`)
	jsonLDProduct   = regexp.MustCompile(`"@type"\s*:\s*"Product"`)
	productPaths    = []string{"/product/", "/products/", "/p/", "/item/"}
)

// Classifier implements crawler.PageClassifier with additive heuristics.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	threshold int
}

// New returns a Classifier. A non-positive threshold selects DefaultThreshold.
func New(threshold int) Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Classifier{threshold: threshold}
}

// WithThreshold returns a copy using threshold n.
func (c Classifier) WithThreshold(n int) Classifier {
	if n <= 0 {
		return c
	}
	c.threshold = n
	return c
}

// Threshold returns the score a page needs to be a product.
func (c Classifier) Threshold() int {
	return c.threshold
}

// Factory adapts the classifier to per-site thresholds.
func (c Classifier) Factory() crawler.ClassifierFactory {
	return func(threshold int) crawler.PageClassifier {
		return c.WithThreshold(threshold)
	}
}

// Classify scores doc. Below the threshold, a product-like URL path still
// marks the page as a product; the score is returned unchanged.
func (c Classifier) Classify(doc *goquery.Document, pageURL string) (bool, int) {
	if doc == nil {
		return productPath(pageURL), 0
	}
	score := Score(doc)
	if score >= c.threshold {
		return true, score
	}
	return productPath(pageURL), score
}

// Score sums the weights of every signal present in doc.
func Score(doc *goquery.Document) int {
	score := 0
	tiles := tileCount(doc)
	if hasGallery(doc) {
		score += weightGallery
	}
	if hasPrice(doc) {
		score += weightPrice
	}
	if hasPurchaseControl(doc) {
		score += weightPurchase
	}
	if hasStructuredProduct(doc) {
		score += weightStructured
	}
	if doc.Find("h1").Length() == 1 && tiles < singleItemMaxTile {
		score += weightSingleItem
	}
	if tiles >= gridTileCount {
		score += weightGrid
	}
	if hasDescription(doc) {
		score += weightText
	}
	if doc.Find(variantSelector).Length() > 0 {
		score += weightVariants
	}
	return score
}

func tileCount(doc *goquery.Document) int {
	if n := doc.Find(tileSelector).Length(); n > 0 {
		return n
	}
	seen := make(map[string]struct{})
	doc.Find(productLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		seen[strings.TrimSpace(href)] = struct{}{}
	})
	return len(seen)
}

func hasGallery(doc *goquery.Document) bool {
	if doc.Find(gallerySelector).Length() > 0 {
		return true
	}
	large := false
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		w, _ := strconv.Atoi(strings.TrimSuffix(sel.AttrOr("width", ""), "px"))
		h, _ := strconv.Atoi(strings.TrimSuffix(sel.AttrOr("height", ""), "px"))
		large = w >= largeImageSide || h >= largeImageSide
		return !large
	})
	return large
}

func hasPrice(doc *goquery.Document) bool {
	if doc.Find(priceSelector).Length() > 0 {
		return true
	}
	return currencyPattern.MatchString(doc.Find("body").Text())
}

func hasPurchaseControl(doc *goquery.Document) bool {
	found := false
	doc.Find(purchaseSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		class := strings.ToLower(sel.AttrOr("class", ""))
		if strings.Contains(class, "add-to-cart") || strings.Contains(class, "add-to-bag") {
			found = true
			return false
		}
		label := strings.ToLower(sel.Text() + " " + sel.AttrOr("value", "") + " " + sel.AttrOr("aria-label", ""))
		for _, phrase := range purchasePhrases {
			if strings.Contains(label, phrase) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func hasStructuredProduct(doc *goquery.Document) bool {
	if doc.Find(structuredSelector).Length() > 0 {
		return true
	}
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		found = jsonLDProduct.MatchString(sel.Text())
		return !found
	})
	return found
}

func hasDescription(doc *goquery.Document) bool {
	found := false
	doc.Find(descriptionSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		found = len(strings.Join(strings.Fields(sel.Text()), " ")) >= minDescriptionLen
		return !found
	})
	return found
}

// productPath reports whether the URL path has a product segment followed by an identifier.
func productPath(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, marker := range productPaths {
		idx := strings.Index(path, marker)
		if idx < 0 {
			continue
		}
		if rest := strings.Trim(path[idx+len(marker):], "/"); rest != "" {
			return true
		}
	}
	return false
}
