// Package filter decides whether downloaded image bytes are worth keeping.
package filter

import (
	"bytes"
	"image"
	// Registered so DecodeConfig can read their headers.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// AcceptAll keeps every image.
type AcceptAll struct{}

// Accepts always returns true.
func (AcceptAll) Accepts([]byte) bool { return true }

// MinDimensions rejects images smaller than Width x Height. Only the image
// header is decoded. Formats the decoder does not know (webp, avif, svg) are
// accepted.
type MinDimensions struct {
	Width  int
	Height int
}

// Accepts reports whether data is at least Width x Height pixels.
func (m MinDimensions) Accepts(data []byte) bool {
	if m.Width <= 0 && m.Height <= 0 {
		return true
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return true
	}
	return cfg.Width >= m.Width && cfg.Height >= m.Height
}

// Chain accepts an image only when every filter accepts it.
type Chain []crawler.ContentFilter

// Accepts runs each filter in order and stops at the first rejection.
func (c Chain) Accepts(data []byte) bool {
	for _, f := range c {
		if f != nil && !f.Accepts(data) {
			return false
		}
	}
	return true
}

// FromSize returns MinDimensions when either bound is positive, otherwise AcceptAll.
func FromSize(width, height int) crawler.ContentFilter {
	if width <= 0 && height <= 0 {
		return AcceptAll{}
	}
	return MinDimensions{Width: width, Height: height}
}
