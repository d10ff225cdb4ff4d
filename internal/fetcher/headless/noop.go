package headless

import (
	"context"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// Noop stands in when headless rendering is disabled. Callers fall back to a
// plain fetch on crawler.ErrRendererUnavailable.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always reports that no renderer is configured.
func (Noop) Render(context.Context, string) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, crawler.ErrRendererUnavailable
}
