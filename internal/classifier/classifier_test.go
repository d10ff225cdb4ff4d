package classifier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><head>
<meta property="og:type" content="product">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","name":"Tote"}</script>
</head><body>
<h1>Canvas Tote</h1>
<div class="product-gallery"><img src="/a.jpg"><img src="/b.jpg"></div>
<span class="price">$1,250.00</span>
<select name="size"><option>S</option><option>M</option></select>
<div class="product-description">` + "A roomy everyday tote cut from heavy cotton canvas with leather trims, " +
	"an interior zip pocket and a detachable pouch. Made in Italy with care for decades of use, " +
	"it folds flat for travel and softens beautifully with time." + `</div>
<button type="submit">Add to Bag</button>
</body></html>`

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func categoryPage(tiles int) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1>Bags</h1><h2>New in</h2><div class="product-grid">`)
	for i := 0; i < tiles; i++ {
		fmt.Fprintf(&b, `<div class="product-card"><a href="/bags/item-%d">Bag %d</a><span class="price">$%d00</span></div>`, i, i, i+1)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func TestClassifyProductPage(t *testing.T) {
	t.Parallel()

	isProduct, score := New(0).Classify(parse(t, productPage), "https://shop.test/canvas-tote")
	assert.True(t, isProduct)
	// gallery, price, purchase, structured, single item, text, variants
	assert.Equal(t, 2+2+3+3+1+1+2, score)
}

func TestClassifyCategoryPage(t *testing.T) {
	t.Parallel()

	isProduct, score := New(0).Classify(parse(t, categoryPage(12)), "https://shop.test/women/bags")
	assert.False(t, isProduct)
	assert.Less(t, score, DefaultThreshold)
}

func TestClassifyURLFallbackKeepsScore(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><body><p>Loading…</p></body></html>`)
	c := New(0)

	isProduct, score := c.Classify(doc, "https://shop.test/products/canvas-tote")
	assert.True(t, isProduct)
	assert.Equal(t, 0, score)

	for _, listing := range []string{"https://shop.test/products", "https://shop.test/products/", "https://shop.test/about"} {
		isProduct, _ = c.Classify(doc, listing)
		assert.False(t, isProduct, listing)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	c := New(0)
	doc := parse(t, productPage)
	first, firstScore := c.Classify(doc, "https://shop.test/x")
	for i := 0; i < 5; i++ {
		again, againScore := c.Classify(doc, "https://shop.test/x")
		assert.Equal(t, first, again)
		assert.Equal(t, firstScore, againScore)
	}
}

func TestWithThreshold(t *testing.T) {
	t.Parallel()

	base := New(0)
	strict := base.WithThreshold(50)
	assert.Equal(t, DefaultThreshold, base.Threshold())
	assert.Equal(t, 50, strict.Threshold())
	assert.Equal(t, DefaultThreshold, base.WithThreshold(-1).Threshold())

	isProduct, _ := strict.Classify(parse(t, productPage), "https://shop.test/canvas-tote")
	assert.False(t, isProduct)

	perSite := base.Factory()(50)
	isProduct, _ = perSite.Classify(parse(t, productPage), "https://shop.test/canvas-tote")
	assert.False(t, isProduct)
}

func TestIndividualSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want int
	}{
		{name: "purchase by class", html: `<a class="js-add-to-cart">+</a>`, want: weightPurchase},
		{name: "itemtype product", html: `<div itemtype="https://schema.org/Product"></div>`, want: weightStructured},
		{name: "large image", html: `<img src="/x.jpg" width="800" height="1000">`, want: weightGallery},
		{name: "currency in text", html: `<p>Now 450 EUR</p>`, want: weightPrice},
		{name: "swatches", html: `<ul class="color-swatches"></ul>`, want: weightVariants},
		{name: "single heading", html: `<h1>Tote</h1>`, want: weightSingleItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Score(parse(t, "<html><body>"+tt.html+"</body></html>")))
		})
	}
}
