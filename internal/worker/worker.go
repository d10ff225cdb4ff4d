// Package worker runs the crawl-and-download pipeline for a single site.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/download"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
	"github.com/JakeFAU/product-image-harvester/internal/progress"
	"github.com/JakeFAU/product-image-harvester/internal/sitelist"
)

// Discoverer streams product pages for a site.
type Discoverer interface {
	Discover(ctx context.Context, site crawler.SiteConfig, hooks crawler.Hooks) <-chan crawler.PageRecord
}

// Downloader turns image tasks into download results.
type Downloader interface {
	Run(
		ctx context.Context,
		site crawler.SiteConfig,
		images <-chan crawler.ImageTask,
		quota int,
		emit func(crawler.DownloadResult),
	) download.BatchSummary
}

// RateSetter installs per-domain request rates.
type RateSetter interface {
	SetRate(domain string, rps float64)
}

// Options wires a Worker.
type Options struct {
	Crawler    Discoverer
	Downloader Downloader
	Limiter    RateSetter
	Table      *sitelist.Table
	Defaults   sitelist.Defaults
	Recorder   crawler.Recorder
	Progress   progress.Emitter
	Clock      crawler.Clock
	Logger     *zap.Logger
}

// Worker harvests one site at a time. It is safe to call Run concurrently for
// different sites.
type Worker struct {
	crawler    Discoverer
	downloader Downloader
	limiter    RateSetter
	table      *sitelist.Table
	defaults   sitelist.Defaults
	recorder   crawler.Recorder
	progress   progress.Emitter
	clock      crawler.Clock
	logger     *zap.Logger
}

// New constructs a Worker. Crawler and Downloader are required.
func New(opts Options) (*Worker, error) {
	if opts.Crawler == nil {
		return nil, errors.New("worker: crawler is required")
	}
	if opts.Downloader == nil {
		return nil, errors.New("worker: downloader is required")
	}
	w := &Worker{
		crawler:    opts.Crawler,
		downloader: opts.Downloader,
		limiter:    opts.Limiter,
		table:      opts.Table,
		defaults:   opts.Defaults,
		recorder:   opts.Recorder,
		progress:   opts.Progress,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if w.recorder == nil {
		w.recorder = discardRecorder{}
	}
	if w.progress == nil {
		w.progress = progress.Discard{}
	}
	if w.clock == nil {
		w.clock = utcClock{}
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// siteRun holds the mutable state of one Run call.
type siteRun struct {
	w      *Worker
	ctx    context.Context
	runID  [16]byte
	name   string
	cfg    crawler.SiteConfig
	logger *zap.Logger

	mu       sync.Mutex
	stats    crawler.SiteStats
	firstErr string
	siteErr  string
}

// Run crawls site, downloads images from its product pages until the site's
// image quota is met, and returns the site's counters. Failures, including
// panics, are reported through SiteStats.Err and never propagated.
func (w *Worker) Run(ctx context.Context, site crawler.Site) (stats crawler.SiteStats) {
	r := &siteRun{
		w:      w,
		ctx:    ctx,
		runID:  progress.RunIDFrom(ctx),
		name:   site.Name,
		logger: w.logger.With(zap.String("site", site.Name)),
		stats: crawler.SiteStats{
			Site:    site.Name,
			Domain:  site.Domain(),
			Started: w.clock.Now(),
		},
	}
	metrics.IncActiveSites()
	defer metrics.DecActiveSites()
	r.emit(progress.Event{Stage: progress.StageSiteStart, URL: site.EntryURL})

	defer func() { stats = r.finish(site, recover()) }()
	r.harvest(site)
	return
}

func (r *siteRun) harvest(site crawler.Site) {
	r.cfg = r.w.table.Resolve(site, r.w.defaults)
	if r.cfg.Domain == "" {
		r.fail(crawler.ErrorKindInput, fmt.Sprintf("invalid entry url %q", site.EntryURL), site.EntryURL)
		return
	}
	if r.w.limiter != nil {
		r.w.limiter.SetRate(r.cfg.Domain, r.cfg.RequestsPerSecond)
	}
	r.logger.Info("site started",
		zap.String("domain", r.cfg.Domain),
		zap.Int("max_pages", r.cfg.MaxPages),
		zap.Int("max_images", r.cfg.MaxImages),
		zap.Bool("rendering", r.cfg.RequiresRendering),
	)

	crawlCtx, stopCrawl := context.WithCancel(r.ctx)
	defer stopCrawl()

	pages := r.w.crawler.Discover(crawlCtx, r.cfg, crawler.Hooks{
		OnVisit:     r.onVisit,
		OnPageError: r.onPageError,
	})
	tasks := make(chan crawler.ImageTask)
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		defer close(tasks)
		feed(crawlCtx, pages, tasks)
	}()

	summary := r.w.downloader.Run(r.ctx, r.cfg, tasks, r.cfg.MaxImages, r.onResult)
	// Stop discovery once the downloader returns, then wait for the crawl
	// goroutine so no hook runs after Run.
	stopCrawl()
	<-fed

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.siteErr != "":
		r.stats.Err = r.siteErr
	case r.stats.PagesVisited == 0 && r.firstErr != "":
		r.stats.Err = "entry page unreachable: " + r.firstErr
	}
	r.logger.Info("site finished",
		zap.Int("pages", r.stats.PagesVisited),
		zap.Int("product_pages", r.stats.ProductPages),
		zap.Int("kept", summary.Kept),
		zap.Int("batches", summary.Batches),
		zap.Bool("quota_met", summary.QuotaMet),
	)
}

// feed flattens product pages into image tasks, de-duplicating image URLs and
// keeping page order. It drains pages on cancellation so the crawler can exit.
func feed(ctx context.Context, pages <-chan crawler.PageRecord, tasks chan<- crawler.ImageTask) {
	defer func() {
		for range pages {
		}
	}()
	seen := make(map[string]struct{})
	for page := range pages {
		for _, imageURL := range page.ImageURLs {
			key := crawler.CacheKey(imageURL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			task := crawler.ImageTask{ImageURL: imageURL, PageURL: page.URL, Metadata: page.Metadata}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *siteRun) onVisit(page crawler.PageRecord) {
	r.mu.Lock()
	r.stats.PagesVisited++
	if page.Verdict == crawler.VerdictProduct {
		r.stats.ProductPages++
	}
	r.mu.Unlock()
	metrics.ObservePage(r.cfg.Slug, string(page.Verdict))
	r.emit(progress.Event{Stage: progress.StagePageDone, URL: page.URL, Verdict: string(page.Verdict)})
}

func (r *siteRun) onPageError(record crawler.ErrorRecord) {
	r.mu.Lock()
	r.stats.PageErrors++
	if r.firstErr == "" {
		r.firstErr = record.Message
	}
	if record.Kind == crawler.ErrorKindSite && r.siteErr == "" {
		r.siteErr = record.Message
	}
	r.mu.Unlock()
	r.logger.Debug("page failed",
		zap.String("url", record.URL),
		zap.String("kind", string(record.Kind)),
		zap.String("error", record.Message),
	)
	r.record(record)
}

// onResult is called by the downloader, never concurrently.
func (r *siteRun) onResult(result crawler.DownloadResult) {
	r.mu.Lock()
	r.stats.Observe(result)
	r.mu.Unlock()

	ctx := context.WithoutCancel(r.ctx)
	if err := r.w.recorder.RecordImage(ctx, result); err != nil {
		r.logger.Warn("record image failed", zap.String("image_url", result.ImageURL), zap.Error(err))
	}
	if result.Outcome == crawler.OutcomeFetchFailed {
		msg := "download failed"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		r.record(crawler.ErrorRecord{
			At:      result.At,
			Site:    r.name,
			Kind:    crawler.KindOf(result.Err),
			Message: msg,
			URL:     result.ImageURL,
		})
	}
	r.emit(progress.Event{
		Stage:   progress.StageImageDone,
		URL:     result.ImageURL,
		Outcome: string(result.Outcome),
		Bytes:   int64(result.Bytes),
	})
}

func (r *siteRun) record(record crawler.ErrorRecord) {
	if record.At.IsZero() {
		record.At = r.w.clock.Now()
	}
	if record.Site == "" {
		record.Site = r.name
	}
	if err := r.w.recorder.RecordError(context.WithoutCancel(r.ctx), record); err != nil {
		r.logger.Warn("record error failed", zap.Error(err))
	}
}

// fail marks the site as failed and writes an error record.
func (r *siteRun) fail(kind crawler.ErrorKind, msg, rawURL string) {
	r.mu.Lock()
	r.stats.Err = msg
	r.mu.Unlock()
	r.record(crawler.ErrorRecord{Kind: kind, Message: msg, URL: rawURL})
}

// finish converts a recovered panic into a site error, stamps the finish
// time and emits the terminal event.
func (r *siteRun) finish(site crawler.Site, rec any) crawler.SiteStats {
	if rec != nil {
		r.logger.Error("site worker panicked", zap.Any("panic", rec), zap.Stack("stack"))
		r.fail(crawler.ErrorKindUnknown, fmt.Sprintf("panic: %v", rec), site.EntryURL)
	}
	r.mu.Lock()
	r.stats.Finished = r.w.clock.Now()
	stats := r.stats
	r.mu.Unlock()

	evt := progress.Event{Stage: progress.StageSiteDone, Dur: stats.Finished.Sub(stats.Started)}
	if stats.HasError() {
		evt.Stage = progress.StageSiteError
		evt.Note = stats.Err
		r.logger.Warn("site failed", zap.String("error", stats.Err))
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	r.emit(evt)
	return stats
}

func (r *siteRun) emit(evt progress.Event) {
	evt.RunID = r.runID
	evt.Site = r.name
	if evt.TS.IsZero() {
		evt.TS = r.w.clock.Now()
	}
	r.w.progress.Emit(evt)
}

type discardRecorder struct{}

func (discardRecorder) RecordImage(context.Context, crawler.DownloadResult) error { return nil }
func (discardRecorder) RecordError(context.Context, crawler.ErrorRecord) error    { return nil }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
