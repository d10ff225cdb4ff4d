// Package download fetches, deduplicates, filters and persists product images
// in fixed-width batches while honoring a per-site quota.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/dedup"
	"github.com/JakeFAU/product-image-harvester/internal/hash/sha256"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
)

const (
	// DefaultBatchWidth is the number of images downloaded concurrently per batch.
	DefaultBatchWidth = 15
	// DefaultLinger bounds how long a partially filled batch waits for more tasks.
	DefaultLinger = 250 * time.Millisecond
)

// Registry is the subset of the duplicate detector used by the downloader.
type Registry interface {
	CheckAndRegister(data []byte) (bool, string, error)
	Forget(digest string)
	Persist(ctx context.Context, digest string, status dedup.Status) error
}

// Options configures a Downloader.
type Options struct {
	Fetcher crawler.Fetcher
	Dedup   Registry
	Filter  crawler.ContentFilter
	Store   crawler.BlobStore
	Clock   crawler.Clock
	Logger  *zap.Logger
	// Width is the batch width; non-positive means DefaultBatchWidth.
	Width int
	// Linger is how long a batch waits to fill once its first task arrives.
	Linger time.Duration
}

// BatchSummary counts the outcomes of one Run.
type BatchSummary struct {
	Kept       int
	Duplicates int
	Failed     int
	Rejected   int
	Batches    int
	// QuotaMet is true when Run stopped because the quota was reached.
	QuotaMet bool
}

func (s *BatchSummary) observe(outcome crawler.Outcome) {
	switch outcome {
	case crawler.OutcomeKept:
		s.Kept++
	case crawler.OutcomeDuplicate:
		s.Duplicates++
	case crawler.OutcomeFetchFailed:
		s.Failed++
	case crawler.OutcomeRejected:
		s.Rejected++
	}
}

// Downloader is the batch downloader for one or more sites. It is safe for
// concurrent use by several site workers.
type Downloader struct {
	fetcher crawler.Fetcher
	dedup   Registry
	filter  crawler.ContentFilter
	store   crawler.BlobStore
	clock   crawler.Clock
	logger  *zap.Logger
	width   int
	linger  time.Duration
}

// New validates opts and returns a Downloader.
func New(opts Options) (*Downloader, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("download: fetcher is required")
	}
	if opts.Dedup == nil {
		return nil, errors.New("download: duplicate registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("download: blob store is required")
	}
	d := &Downloader{
		fetcher: opts.Fetcher,
		dedup:   opts.Dedup,
		filter:  opts.Filter,
		store:   opts.Store,
		clock:   opts.Clock,
		logger:  opts.Logger,
		width:   opts.Width,
		linger:  opts.Linger,
	}
	if d.filter == nil {
		d.filter = acceptAll{}
	}
	if d.clock == nil {
		d.clock = utcClock{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.width <= 0 {
		d.width = DefaultBatchWidth
	}
	if d.linger <= 0 {
		d.linger = DefaultLinger
	}
	return d, nil
}

// Width returns the batch width.
func (d *Downloader) Width() int {
	return d.width
}

// Run consumes images in batches until the channel closes, ctx is canceled, or
// quota images have been kept. The quota is checked only between batches, so
// up to Width-1 extra images may be kept. A non-positive quota is unlimited.
// emit is called once per image and never concurrently.
func (d *Downloader) Run(
	ctx context.Context,
	site crawler.SiteConfig,
	images <-chan crawler.ImageTask,
	quota int,
	emit func(crawler.DownloadResult),
) BatchSummary {
	var (
		summary BatchSummary
		mu      sync.Mutex
	)
	logger := d.logger.With(zap.String("site", site.Site.Name))
	record := func(result crawler.DownloadResult) {
		mu.Lock()
		defer mu.Unlock()
		summary.observe(result.Outcome)
		metrics.ObserveImage(site.Slug, string(result.Outcome))
		if emit != nil {
			emit(result)
		}
	}

	for {
		if quota > 0 && quota-summary.Kept <= 0 {
			summary.QuotaMet = true
			logger.Info("image quota reached", zap.Int("kept", summary.Kept), zap.Int("quota", quota))
			return summary
		}
		if ctx.Err() != nil {
			return summary
		}
		batch, open := d.nextBatch(ctx, images)
		if len(batch) > 0 {
			summary.Batches++
			var g errgroup.Group
			g.SetLimit(d.width)
			for _, task := range batch {
				g.Go(func() error {
					record(d.process(ctx, site, task))
					return nil
				})
			}
			_ = g.Wait()
		}
		if !open {
			return summary
		}
	}
}

// nextBatch blocks for the first task, then collects up to width tasks or
// until the linger window closes. open is false once images is closed.
func (d *Downloader) nextBatch(ctx context.Context, images <-chan crawler.ImageTask) ([]crawler.ImageTask, bool) {
	batch := make([]crawler.ImageTask, 0, d.width)
	select {
	case task, ok := <-images:
		if !ok {
			return nil, false
		}
		batch = append(batch, task)
	case <-ctx.Done():
		return nil, false
	}

	timer := time.NewTimer(d.linger)
	defer timer.Stop()
	for len(batch) < d.width {
		select {
		case task, ok := <-images:
			if !ok {
				return batch, false
			}
			batch = append(batch, task)
		case <-timer.C:
			return batch, true
		case <-ctx.Done():
			return batch, false
		}
	}
	return batch, true
}

func (d *Downloader) process(ctx context.Context, site crawler.SiteConfig, task crawler.ImageTask) (out crawler.DownloadResult) {
	result := crawler.DownloadResult{
		Site:     site.Site.Name,
		ImageURL: task.ImageURL,
		PageURL:  task.PageURL,
		Metadata: task.Metadata,
	}
	// A panicking collaborator fails this image only; the digest is released
	// so a later run can retry it.
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if result.Digest != "" {
			d.dedup.Forget(result.Digest)
		}
		d.logger.Error("image processing panicked",
			zap.String("site", site.Site.Name),
			zap.String("image_url", task.ImageURL),
			zap.Any("panic", rec),
		)
		result.Outcome = crawler.OutcomeFetchFailed
		result.Err = &crawler.FetchError{Kind: crawler.ErrorKindUnknown, URL: task.ImageURL, Err: fmt.Errorf("panic: %v", rec)}
		result.At = d.clock.Now()
		out = result
	}()
	finish := func(outcome crawler.Outcome, err error) crawler.DownloadResult {
		result.Outcome = outcome
		result.Err = err
		result.At = d.clock.Now()
		return result
	}

	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: task.ImageURL, SkipCache: true})
	if err != nil {
		return finish(crawler.OutcomeFetchFailed, err)
	}
	if len(resp.Body) == 0 {
		return finish(crawler.OutcomeFetchFailed, &crawler.FetchError{Kind: crawler.ErrorKindParse, URL: task.ImageURL, Err: errors.New("empty body")})
	}
	result.Bytes = len(resp.Body)
	result.ContentType = contentType(resp)

	dup, digest, err := d.dedup.CheckAndRegister(resp.Body)
	if err != nil {
		return finish(crawler.OutcomeFetchFailed, &crawler.FetchError{Kind: crawler.ErrorKindUnknown, URL: task.ImageURL, Err: err})
	}
	result.Digest = digest
	if dup {
		return finish(crawler.OutcomeDuplicate, nil)
	}

	// Writes outlive cancellation so shutdown never leaves half-written state.
	persistCtx := context.WithoutCancel(ctx)
	if !d.filter.Accepts(resp.Body) {
		_ = d.dedup.Persist(persistCtx, digest, dedup.StatusRejected)
		return finish(crawler.OutcomeRejected, nil)
	}

	objectPath := ObjectPath(site.Slug, digest, Extension(result.ContentType, task.ImageURL))
	uri, err := d.store.PutObject(persistCtx, objectPath, result.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		d.dedup.Forget(digest)
		d.logger.Warn("persist image failed",
			zap.String("site", site.Site.Name),
			zap.String("path", objectPath),
			zap.Error(err),
		)
		return finish(crawler.OutcomeFetchFailed, &crawler.FetchError{Kind: crawler.ErrorKindSave, URL: task.ImageURL, Err: err})
	}
	_ = d.dedup.Persist(persistCtx, digest, dedup.StatusKept)
	result.ObjectPath = objectPath
	result.URI = uri
	return finish(crawler.OutcomeKept, nil)
}

// ObjectPath names an image as <slug>/<slug>_<short digest><ext>.
func ObjectPath(slug, digest, ext string) string {
	name := fmt.Sprintf("%s_%s%s", slug, sha256.Short(digest), ext)
	return path.Join(slug, name)
}

var extByType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/pjpeg":   ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
}

// Extension picks a file extension from the content type, then the URL path,
// and falls back to .jpg.
func Extension(contentType, rawURL string) string {
	if ext, ok := extByType[contentType]; ok {
		return ext
	}
	ext := strings.ToLower(path.Ext(strings.SplitN(strings.SplitN(rawURL, "?", 2)[0], "#", 2)[0]))
	switch ext {
	case ".jpeg":
		return ".jpg"
	case ".jpg", ".png", ".gif", ".webp", ".avif", ".svg", ".bmp", ".tiff":
		return ext
	}
	return ".jpg"
}

// contentType prefers the declared image type and sniffs the body otherwise.
func contentType(resp crawler.FetchResponse) string {
	if ct := resp.ContentType(); strings.HasPrefix(ct, "image/") {
		return ct
	}
	ct := http.DetectContentType(resp.Body)
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return ct
}

type acceptAll struct{}

func (acceptAll) Accepts([]byte) bool { return true }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
