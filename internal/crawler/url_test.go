package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases scheme and host", in: "HTTPS://Shop.Test/Bags", want: "https://shop.test/Bags"},
		{name: "drops default port", in: "http://shop.test:80/a", want: "http://shop.test/a"},
		{name: "drops fragment", in: "https://shop.test/a#top", want: "https://shop.test/a"},
		{name: "sorts query", in: "https://shop.test/a?b=2&a=1", want: "https://shop.test/a?a=1&b=2"},
		{name: "trims trailing slash", in: "https://shop.test/a/", want: "https://shop.test/a"},
		{name: "keeps root", in: "https://shop.test", want: "https://shop.test/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheKeyIsTotal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "::bad", CacheKey("  ::bad "))
	assert.Equal(t, CacheKey("https://shop.test/a/"), CacheKey("https://SHOP.test/a#x"))
}

func TestSameSite(t *testing.T) {
	t.Parallel()

	assert.True(t, SameSite("www.shop.test", "shop.test"))
	assert.False(t, SameSite("cdn.shop.test", "shop.test"))
	assert.False(t, SameSite("", "shop.test"))
}

func TestResolveSkipsNonNavigableHrefs(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://shop.test/catalog/")
	require.NoError(t, err)

	for _, href := range []string{"", "#top", "javascript:void(0)", "mailto:a@b.c", "tel:123", "data:image/png;base64,AA", "ftp://shop.test/x"} {
		_, ok := resolve(base, href)
		assert.False(t, ok, href)
	}

	abs, ok := resolve(base, "bags?id=1#details")
	require.True(t, ok)
	assert.Equal(t, "https://shop.test/catalog/bags?id=1", abs.String())
}
