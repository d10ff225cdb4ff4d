package crawler

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://www.shop.test/women/")
	doc := parseDoc(t, `
		<a href="bags">bags</a>
		<a href="/women/bags/">dup</a>
		<a href="https://shop.test/men">apex host</a>
		<a href="https://other.test/">offsite</a>
		<a href="#">anchor</a>`)

	links := ExtractLinks(doc, base)
	got := make([]string, 0, len(links))
	for _, l := range links {
		got = append(got, l.String())
	}
	assert.Equal(t, []string{"https://www.shop.test/women/bags", "https://shop.test/men"}, got)
	assert.Nil(t, ExtractLinks(nil, base))
}

func TestExtractImageURLs(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://shop.test/product/1")
	doc := parseDoc(t, `
		<img src="/media/bag-front.jpg" width="800" height="800">
		<img data-src="/media/bag-side.jpg">
		<img srcset="/media/bag-back.jpg 1x, /media/bag-back@2x.jpg 2x">
		<img src="/media/thumb.jpg" width="50" height="400">
		<img src="/static/site-logo.svg">
		<img src="/media/bag-front.jpg">
		<img src="data:image/gif;base64,R0lGOD">`)

	assert.Equal(t, []string{
		"https://shop.test/media/bag-front.jpg",
		"https://shop.test/media/bag-side.jpg",
		"https://shop.test/media/bag-back.jpg",
	}, ExtractImageURLs(doc, base))
}

func TestExtractImageURLsFallsBackToMetaTags(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://shop.test/product/1")
	doc := parseDoc(t, `<html><head>
		<meta property="og:image" content="https://cdn.shop.test/og.jpg">
		<meta name="twitter:image" content="https://cdn.shop.test/tw.jpg">
		</head><body><img src="/icon.png"></body></html>`)

	assert.Equal(t, []string{"https://cdn.shop.test/og.jpg"}, ExtractImageURLs(doc, base))

	twitterOnly := parseDoc(t, `<html><head><meta name="twitter:image" content="/tw.jpg"></head></html>`)
	assert.Equal(t, []string{"https://shop.test/tw.jpg"}, ExtractImageURLs(twitterOnly, base))
}

func TestSlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hermes", Slug("Hermès"))
	assert.Equal(t, "saint_laurent", Slug("  Saint Laurent "))
	assert.Equal(t, "a_b-c", Slug("A & B-C"))
	assert.Equal(t, "site", Slug("!!!"))
}

func TestFetchErrorClassification(t *testing.T) {
	t.Parallel()

	statusErr := &FetchError{Kind: ErrorKindStatus, URL: "https://shop.test/", StatusCode: 404}
	assert.True(t, IsStatus(statusErr, 404))
	assert.False(t, IsStatus(statusErr, 403))
	assert.Equal(t, ErrorKindStatus, KindOf(statusErr))
	assert.Equal(t, statusErr, NewFetchError("ignored", statusErr))
	assert.Equal(t, ErrorKindSite, KindOf(ErrSiteBlocked))
	assert.Equal(t, ErrorKindRender, ClassifyError(ErrRendererUnavailable))
	assert.Contains(t, statusErr.Error(), "status 404")
}
