package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

func page(body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	require.True(t, NewHeuristic(100, 0).ShouldPromote(page("  \n")))
}

func TestHeuristic_ShouldPromote_SPAShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 0)
	require.True(t, h.ShouldPromote(page(`<div id="__next"></div>`)))

	links := strings.Repeat(`<a href="/p">p</a>`, 5)
	require.False(t, h.ShouldPromote(page(`<div id="__next">`+links+`</div>`)), "server-rendered SPA pages have links")
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000, 0)
	require.True(t, h.ShouldPromote(page(`<html><script>var a=1;</script><p>t</p></html>`)))
}

func TestHeuristic_ShouldPromote_Skips(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100, 0)

	notFound := page("")
	notFound.StatusCode = http.StatusNotFound
	require.False(t, h.ShouldPromote(notFound))

	cached := page("")
	cached.FromCache = true
	require.False(t, h.ShouldPromote(cached))

	image := page("")
	image.Headers.Set("Content-Type", "image/jpeg")
	require.False(t, h.ShouldPromote(image))

	require.False(t, h.ShouldPromote(page(`<html><body><h1>Bag</h1><p>`+strings.Repeat("text ", 50)+`</p></body></html>`)))
}
