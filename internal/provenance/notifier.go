package provenance

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// ImageEvent is the message published for each kept image.
type ImageEvent struct {
	Site       string           `json:"site"`
	PageURL    string           `json:"page_url"`
	ImageURL   string           `json:"image_url"`
	Digest     string           `json:"digest"`
	ObjectPath string           `json:"object_path"`
	URI        string           `json:"uri"`
	Bytes      int              `json:"bytes"`
	Metadata   crawler.Metadata `json:"metadata"`
	KeptAt     time.Time        `json:"kept_at"`
}

// Notifier publishes an ImageEvent for every kept image. Errors are not published.
type Notifier struct {
	publisher crawler.Publisher
	topic     string
}

// NewNotifier returns a Notifier publishing to topic.
func NewNotifier(publisher crawler.Publisher, topic string) *Notifier {
	return &Notifier{publisher: publisher, topic: topic}
}

// RecordImage publishes kept images.
func (n *Notifier) RecordImage(ctx context.Context, result crawler.DownloadResult) error {
	if result.Outcome != crawler.OutcomeKept {
		return nil
	}
	event := ImageEvent{
		Site:       result.Site,
		PageURL:    result.PageURL,
		ImageURL:   result.ImageURL,
		Digest:     result.Digest,
		ObjectPath: result.ObjectPath,
		URI:        result.URI,
		Bytes:      result.Bytes,
		Metadata:   result.Metadata,
		KeptAt:     result.At,
	}
	if _, err := n.publisher.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("publish image event: %w", err)
	}
	return nil
}

// RecordError is a no-op.
func (n *Notifier) RecordError(context.Context, crawler.ErrorRecord) error {
	return nil
}
