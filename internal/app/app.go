// Package app builds the harvester's long-lived services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/api"
	"github.com/JakeFAU/product-image-harvester/internal/cache"
	"github.com/JakeFAU/product-image-harvester/internal/classifier"
	"github.com/JakeFAU/product-image-harvester/internal/clock/system"
	"github.com/JakeFAU/product-image-harvester/internal/config"
	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/dedup"
	"github.com/JakeFAU/product-image-harvester/internal/dispatcher"
	"github.com/JakeFAU/product-image-harvester/internal/download"
	collyfetcher "github.com/JakeFAU/product-image-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/product-image-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/product-image-harvester/internal/filter"
	"github.com/JakeFAU/product-image-harvester/internal/hash/sha256"
	"github.com/JakeFAU/product-image-harvester/internal/headless/detector"
	"github.com/JakeFAU/product-image-harvester/internal/id/uuid"
	"github.com/JakeFAU/product-image-harvester/internal/metadata"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
	"github.com/JakeFAU/product-image-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/product-image-harvester/internal/policy/simple"
	"github.com/JakeFAU/product-image-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/product-image-harvester/internal/progress/sinks"
	"github.com/JakeFAU/product-image-harvester/internal/provenance"
	memorypublisher "github.com/JakeFAU/product-image-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/product-image-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/product-image-harvester/internal/report"
	"github.com/JakeFAU/product-image-harvester/internal/sitelist"
	gcsstorage "github.com/JakeFAU/product-image-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/product-image-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/product-image-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/product-image-harvester/internal/storage/postgres"
	"github.com/JakeFAU/product-image-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/product-image-harvester/internal/worker"
)

const serverShutdownWait = 10 * time.Second

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the harvester's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   options

	limiter      *ratelimit.Limiter
	fetcher      *collyfetcher.Fetcher
	renderer     crawler.Renderer
	detector     *dedup.Detector
	blobs        crawler.BlobStore
	pool         *pgxpool.Pool
	runStore     *pgstore.RunStore
	recorder     crawler.Recorder
	hub          *progress.Hub
	orchestrator *dispatcher.Orchestrator
	table        *sitelist.Table

	serverStop context.CancelFunc
	serverDone chan error

	closers []closer
}

// New builds every component from cfg. On failure the services opened so far
// are released before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(&a.opts)
	}
	metrics.Init()
	a.logger.Info("building application dependencies")

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"site table", a.setupTable},
		{"fetcher", a.setupFetcher},
		{"renderer", a.setupRenderer},
		{"digest registry", a.setupDedup},
		{"storage", a.setupStorage},
		{"database", a.setupDatabase},
		{"recorder", a.setupRecorder},
		{"progress", a.setupProgress},
		{"orchestrator", a.setupOrchestrator},
		{"status server", a.setupServer},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("%s init failed: %w", step.name, err)
		}
	}
	return a, nil
}

// Run harvests sites and writes the markdown summary when one is configured.
// The stats are returned even when the summary cannot be written.
func (a *App) Run(ctx context.Context, sites []crawler.Site) (crawler.RunStats, error) {
	stats := a.orchestrator.RunAll(ctx, sites, a.cfg.Crawler.ConcurrentSites)
	path := a.cfg.Output.SummaryMarkdown
	if path == "" {
		return stats, nil
	}
	if err := report.WriteFile(path, stats); err != nil {
		return stats, fmt.Errorf("write summary: %w", err)
	}
	a.logger.Info("summary written", zap.String("path", path))
	return stats, nil
}

// Snapshot returns the live statistics of the current run.
func (a *App) Snapshot() crawler.RunStats {
	return a.orchestrator.Snapshot()
}

// Close releases resources in the reverse order they were acquired.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Defaults maps configuration onto the per-site defaults the override table
// refines.
func Defaults(cfg config.Config) sitelist.Defaults {
	return sitelist.Defaults{
		DetectionThreshold: cfg.Crawler.DetectionThreshold,
		RequestsPerSecond:  cfg.Rate.RequestsPerSecond,
		MaxPages:           cfg.Crawler.MaxPages,
		MaxDepth:           cfg.Crawler.MaxDepth,
		MaxImages:          cfg.Download.MaxImagesPerSite,
	}
}

func (a *App) setupTable(context.Context) error {
	table, err := sitelist.LoadTable(a.cfg.Sites.OverridesFile)
	if err != nil {
		return err
	}
	a.table = table
	if a.cfg.Sites.OverridesFile != "" {
		a.logger.Info("site overrides loaded", zap.String("path", a.cfg.Sites.OverridesFile))
	}
	return nil
}

func (a *App) setupFetcher(context.Context) error {
	a.limiter = ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Rate.RequestsPerSecond})
	responses, err := cache.New(a.cfg.Cache.MaxSize)
	if err != nil {
		return err
	}
	h := a.cfg.HTTP
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:       a.cfg.Crawler.UserAgent,
		Timeout:         a.cfg.RequestTimeout(),
		ConnectTimeout:  time.Duration(h.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:     time.Duration(h.ReadTimeoutSeconds) * time.Second,
		MaxConns:        h.MaxConns,
		MaxConnsPerHost: h.MaxConnsPerHost,
		MaxBodyBytes:    h.MaxBodyBytes,
	}, a.limiter, responses, a.logger.Named("fetcher"))
	a.logger.Info("http client ready",
		zap.Float64("default_rps", a.cfg.Rate.RequestsPerSecond),
		zap.Int("cache_size", a.cfg.Cache.MaxSize),
		zap.Int("max_conns_per_host", h.MaxConnsPerHost),
	)
	return nil
}

func (a *App) setupRenderer(context.Context) error {
	if !a.cfg.Headless.Enabled {
		a.renderer = headlessfetcher.NewNoop()
		return nil
	}
	renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
	}, a.limiter, a.logger.Named("renderer"))
	if err != nil {
		// Rendering is optional; sites that need it fall back to plain fetches.
		a.logger.Warn("headless renderer init failed", zap.Error(err))
		a.renderer = headlessfetcher.NewNoop()
		return nil
	}
	a.renderer = renderer
	a.onClose("renderer", func(context.Context) error {
		renderer.Close()
		return nil
	})
	a.logger.Info("using headless renderer", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	return nil
}

func (a *App) setupDedup(ctx context.Context) error {
	var digests dedup.DigestStore
	if a.cfg.Dedup.Persist {
		store, err := sqlite.Open(a.cfg.Dedup.RegistryPath)
		if err != nil {
			return err
		}
		a.onClose("digest registry", func(context.Context) error { return store.Close() })
		digests = store
	}
	a.detector = dedup.New(sha256.New(), digests, a.logger.Named("dedup"))
	loaded, err := a.detector.Seed(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("digest registry ready",
		zap.Bool("persist", a.cfg.Dedup.Persist),
		zap.String("path", a.cfg.Dedup.RegistryPath),
		zap.Int("loaded", loaded),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	s := a.cfg.Storage
	switch s.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: s.GCSBucket, Prefix: s.Prefix}, a.logger.Named("gcs"))
		if err != nil {
			return err
		}
		a.onClose("gcs", func(context.Context) error { return store.Close() })
		a.blobs = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", s.GCSBucket))
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: s.BaseDir})
		if err != nil {
			return err
		}
		a.blobs = store
		a.logger.Info("using local storage backend", zap.String("path", s.BaseDir))
	default:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured; provenance and progress stay local")
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return err
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	if err := pgstore.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	runStore, err := pgstore.NewRunStore(pool)
	if err != nil {
		return err
	}
	a.pool = pool
	a.runStore = runStore
	a.logger.Info("postgres ready")
	return nil
}

func (a *App) setupRecorder(ctx context.Context) error {
	var recorders provenance.Multi
	out := a.cfg.Output
	if out.ProvenanceCSV != "" && out.ErrorsCSV != "" {
		logs, err := provenance.OpenCSV(out.ProvenanceCSV, out.ErrorsCSV)
		if err != nil {
			return err
		}
		a.onClose("provenance logs", func(context.Context) error { return logs.Close() })
		recorders = append(recorders, logs)
		a.logger.Info("provenance logs open",
			zap.String("images", out.ProvenanceCSV),
			zap.String("errors", out.ErrorsCSV),
		)
	}
	if a.pool != nil {
		mirror, err := pgstore.NewProvenanceStore(a.pool)
		if err != nil {
			return err
		}
		recorders = append(recorders, mirror)
	}
	if a.cfg.PubSub.TopicName != "" {
		publisher, err := a.setupPublisher(ctx)
		if err != nil {
			return err
		}
		recorders = append(recorders, provenance.NewNotifier(publisher, a.cfg.PubSub.TopicName))
	}
	a.recorder = recorders
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	topic := a.cfg.PubSub.TopicName
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher", zap.String("topic", topic))
		dryRun := memorypublisher.New()
		a.onClose("memory publisher", func(context.Context) error {
			a.logger.Info("dry-run notifications", zap.Int("published", len(dryRun.Topic(topic))))
			return nil
		})
		return dryRun, nil
	}
	publisher, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.logger.Named("pubsub"))
	if err != nil {
		return nil, err
	}
	a.onClose("pubsub", func(context.Context) error { return publisher.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", topic),
	)
	return publisher, nil
}

func (a *App) setupProgress(ctx context.Context) error {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}
	promSink, err := progresssinks.NewPrometheusSink(a.opts.registerer)
	if err != nil {
		return err
	}
	sinkList = append(sinkList, promSink)
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
	}
	a.hub = progress.NewHub(progress.Config{
		// Progress outlives a canceled harvest so RUN_DONE still reaches the sinks.
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.onClose("progress hub", a.hub.Close)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupOrchestrator(context.Context) error {
	clock := system.New()
	c, err := crawler.New(crawler.Options{
		Fetcher:            a.fetcher,
		Renderer:           a.renderer,
		Detector:           a.promotionDetector(),
		Classifiers:        classifier.New(a.cfg.Crawler.DetectionThreshold).Factory(),
		Extractor:          metadata.New(),
		Links:              simple.New(),
		Robots:             crawler.NewRobotsEnforcer(a.cfg.Crawler.RespectRobots, a.fetcher, a.cfg.Crawler.UserAgent, a.logger.Named("robots")),
		Sitemaps:           crawler.NewSitemapSource(a.fetcher, a.logger.Named("sitemap")),
		Clock:              clock,
		Logger:             a.logger.Named("crawler"),
		ForbiddenThreshold: a.cfg.Crawler.ForbiddenThreshold,
	})
	if err != nil {
		return err
	}
	downloader, err := download.New(download.Options{
		Fetcher: a.fetcher,
		Dedup:   a.detector,
		Filter:  filter.FromSize(a.cfg.Download.MinWidth, a.cfg.Download.MinHeight),
		Store:   a.blobs,
		Clock:   clock,
		Logger:  a.logger.Named("download"),
		Width:   a.cfg.Download.BatchWidth,
		Linger:  a.cfg.Linger(),
	})
	if err != nil {
		return err
	}
	w, err := worker.New(worker.Options{
		Crawler:    c,
		Downloader: downloader,
		Limiter:    a.limiter,
		Table:      a.table,
		Defaults:   Defaults(a.cfg),
		Recorder:   a.recorder,
		Progress:   a.hub,
		Clock:      clock,
		Logger:     a.logger.Named("worker"),
	})
	if err != nil {
		return err
	}
	a.orchestrator, err = dispatcher.New(dispatcher.Options{
		Runner:   w,
		IDs:      uuid.New(),
		Progress: a.hub,
		Clock:    clock,
		Logger:   a.logger.Named("orchestrator"),
	})
	if err != nil {
		return err
	}
	a.logger.Info("orchestrator ready",
		zap.Int("concurrent_sites", a.cfg.Crawler.ConcurrentSites),
		zap.Int("batch_width", downloader.Width()),
		zap.Int("max_images_per_site", a.cfg.Download.MaxImagesPerSite),
	)
	return nil
}

func (a *App) promotionDetector() crawler.HeadlessDetector {
	if !a.cfg.Headless.Enabled || !a.cfg.Headless.PromoteSPA {
		return nil
	}
	return detector.NewHeuristic(0, 0)
}

func (a *App) setupServer(ctx context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	opts := api.Options{
		Run:    a.orchestrator,
		Ready:  a.ready,
		Logger: a.logger.Named("api"),
	}
	if a.runStore != nil {
		opts.Runs = a.runStore
	}
	srv := api.NewServer(opts)
	serverCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.serverStop = stop
	a.serverDone = make(chan error, 1)
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	go func() {
		a.serverDone <- srv.ListenAndServe(serverCtx, addr)
	}()
	a.onClose("status server", a.stopServer)
	a.logger.Info("status server started", zap.Int("port", a.cfg.Server.Port))
	return nil
}

func (a *App) stopServer(ctx context.Context) error {
	a.serverStop()
	select {
	case err := <-a.serverDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(serverShutdownWait):
		return errors.New("status server did not stop in time")
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}
