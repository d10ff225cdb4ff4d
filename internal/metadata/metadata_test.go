package metadata

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractFromJSONLDGraph(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><head><script type="application/ld+json">
	{"@context":"https://schema.org","@graph":[
		{"@type":"BreadcrumbList"},
		{"@type":["Product"],"name":"Canvas Tote","category":"Bags",
		 "offers":[{"@type":"Offer","price":1250,"priceCurrency":"USD"}]}
	]}</script></head><body><h1>Ignored</h1></body></html>`)

	assert.Equal(t, crawler.Metadata{Name: "Canvas Tote", Category: "Bags", Price: "1250 USD"}, New().Extract(doc))
}

func TestExtractFallsBackToMarkup(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><head>
		<meta property="product:price:amount" content="89.50">
		<meta property="product:price:currency" content="EUR">
		<script type="application/ld+json">{not json</script>
	</head><body>
		<nav aria-label="Breadcrumb"><ol><li>Home</li><li>Women</li><li> Knitwear </li><li>Cardigan</li></ol></nav>
		<h1>  Merino
		Cardigan </h1>
	</body></html>`)

	assert.Equal(t, crawler.Metadata{Name: "Merino Cardigan", Category: "Knitwear", Price: "89.50 EUR"}, New().Extract(doc))
}

func TestExtractItemprop(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div itemscope itemtype="https://schema.org/Product">
		<span itemprop="name">Loafer</span>
		<meta itemprop="price" content="640.00"><meta itemprop="priceCurrency" content="GBP">
		<span itemprop="category">Shoes</span>
	</div>`)

	assert.Equal(t, crawler.Metadata{Name: "Loafer", Category: "Shoes", Price: "640.00 GBP"}, New().Extract(doc))
}

func TestExtractEmptyPage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, crawler.Metadata{}, New().Extract(parse(t, `<html><body><p>hi</p></body></html>`)))
	assert.Equal(t, crawler.Metadata{}, New().Extract(nil))
	assert.Equal(t, crawler.Metadata{}, Noop{}.Extract(nil))
}
