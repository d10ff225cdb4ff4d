// Package detector decides when a plain fetch should be re-fetched through the renderer.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

const (
	defaultBodyThreshold = 2048
	defaultMinAnchors    = 3
)

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	// BodyLengthThreshold bounds the size of pages checked for script density.
	BodyLengthThreshold int
	// MinAnchors is the anchor count below which an SPA root marks a shell.
	MinAnchors int
}

// NewHeuristic creates a new detector. Zero values select the defaults.
func NewHeuristic(threshold, minAnchors int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	if minAnchors <= 0 {
		minAnchors = defaultMinAnchors
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinAnchors: minAnchors}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether a successful plain fetch needs rendering.
// Cached responses were already judged when first fetched.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.FromCache || resp.Rendered {
		return false
	}
	if ct := resp.ContentType(); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return bytes.Count(lower, []byte("<a ")) < h.MinAnchors
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		nextSearch := total
		if relativeEnd := strings.Index(lower[contentStart:], closeTag); relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}
	return scriptCoverage*100/total >= 25
}
