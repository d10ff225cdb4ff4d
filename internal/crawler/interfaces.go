package crawler

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer returns the rendered DOM of a page for sites that need JavaScript.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (FetchResponse, error)
}

// HeadlessDetector decides whether a plain fetch should be promoted to rendering.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// PageClassifier scores a parsed page as product or non-product.
type PageClassifier interface {
	Classify(doc *goquery.Document, pageURL string) (isProduct bool, score int)
}

// ClassifierFactory returns a classifier for a per-site detection threshold.
type ClassifierFactory func(threshold int) PageClassifier

// MetadataExtractor pulls optional product fields out of a page.
type MetadataExtractor interface {
	Extract(doc *goquery.Document) Metadata
}

// ContentFilter decides whether downloaded image bytes are worth keeping.
type ContentFilter interface {
	Accepts(data []byte) bool
}

// LinkPolicy decides whether a discovered in-domain link may be enqueued.
type LinkPolicy interface {
	AllowLink(u *url.URL) bool
}

// RobotsPolicy reports whether robots.txt permits fetching a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// BlobStore writes image bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Recorder receives provenance for kept images and itemized failures.
type Recorder interface {
	RecordImage(ctx context.Context, result DownloadResult) error
	RecordError(ctx context.Context, record ErrorRecord) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
