package provenance

import (
	"context"
	"errors"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// Multi fans every record out to each Recorder. One failing recorder does not
// stop the others; their errors are joined.
type Multi []crawler.Recorder

// RecordImage forwards result to every recorder.
func (m Multi) RecordImage(ctx context.Context, result crawler.DownloadResult) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		errs = append(errs, r.RecordImage(ctx, result))
	}
	return errors.Join(errs...)
}

// RecordError forwards record to every recorder.
func (m Multi) RecordError(ctx context.Context, record crawler.ErrorRecord) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		errs = append(errs, r.RecordError(ctx, record))
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

// RecordImage does nothing.
func (Discard) RecordImage(context.Context, crawler.DownloadResult) error { return nil }

// RecordError does nothing.
func (Discard) RecordError(context.Context, crawler.ErrorRecord) error { return nil }
