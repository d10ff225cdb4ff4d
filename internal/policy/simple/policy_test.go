package simple

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyAllowLink(t *testing.T) {
	t.Parallel()

	p := New()
	cases := map[string]bool{
		"https://shop.test/women/bags":           true,
		"https://shop.test/product/tote?c=red":   true,
		"https://shop.test/account/orders":       false,
		"https://shop.test/Cart":                 false,
		"https://shop.test/pages/privacy-policy": false,
		"https://shop.test/media/hero.JPG":       false,
		"https://shop.test/feed.xml":             false,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		assert.NoError(t, err)
		assert.Equal(t, want, p.AllowLink(u), raw)
	}
	assert.False(t, p.AllowLink(nil))
}

func TestPolicyCustomKeywords(t *testing.T) {
	t.Parallel()

	p := New("journal", " ")
	blog, _ := url.Parse("https://shop.test/journal/spring")
	cart, _ := url.Parse("https://shop.test/cart")
	assert.False(t, p.AllowLink(blog))
	assert.True(t, p.AllowLink(cart))
}
