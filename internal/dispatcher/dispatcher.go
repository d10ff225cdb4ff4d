// Package dispatcher fans a site list out to a fixed pool of site workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/progress"
	"github.com/JakeFAU/product-image-harvester/internal/queue/memory"
)

// SiteRunner harvests one site.
type SiteRunner interface {
	Run(ctx context.Context, site crawler.Site) crawler.SiteStats
}

// Options wires an Orchestrator.
type Options struct {
	Runner   SiteRunner
	IDs      crawler.IDGenerator
	Progress progress.Emitter
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// Orchestrator runs sites with bounded concurrency and merges their results.
type Orchestrator struct {
	runner   SiteRunner
	ids      crawler.IDGenerator
	progress progress.Emitter
	clock    crawler.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	current crawler.RunStats
}

// New creates an Orchestrator. Runner is required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Runner == nil {
		return nil, errors.New("dispatcher: site runner is required")
	}
	o := &Orchestrator{
		runner:   opts.Runner,
		ids:      opts.IDs,
		progress: opts.Progress,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if o.progress == nil {
		o.progress = progress.Discard{}
	}
	if o.clock == nil {
		o.clock = utcClock{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o, nil
}

// RunAll harvests sites with at most maxConcurrentSites in flight. A fixed pool
// of workers pulls from a bounded queue. When ctx is canceled no further sites
// are started; they are reported as skipped while in-flight sites drain. Site
// failures are recorded in the returned stats and never abort the run.
func (o *Orchestrator) RunAll(ctx context.Context, sites []crawler.Site, maxConcurrentSites int) crawler.RunStats {
	runID := o.newRunID()
	started := o.clock.Now()
	o.mu.Lock()
	o.current = crawler.RunStats{RunID: runID.String(), Started: started}
	o.mu.Unlock()

	ctx = progress.WithRunID(ctx, progress.UUIDToBytes(runID))
	logger := o.logger.With(zap.String("run_id", runID.String()))
	logger.Info("run started", zap.Int("sites", len(sites)), zap.Int("concurrency", maxConcurrentSites))
	o.emit(runID, progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("%d sites", len(sites))})

	workers := maxConcurrentSites
	if workers < 1 {
		workers = 1
	}
	if workers > len(sites) {
		workers = len(sites)
	}

	queue := memory.NewQueue(workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				site, err := queue.Dequeue(ctx)
				if err != nil {
					return
				}
				o.merge(o.runSite(ctx, site, logger))
			}
		}()
	}

	admitted := 0
	for _, site := range sites {
		if err := queue.Enqueue(ctx, site); err != nil {
			break
		}
		admitted++
	}
	queue.Close()
	wg.Wait()

	skipped := queue.Drain()
	skipped = append(skipped, sites[admitted:]...)

	o.mu.Lock()
	for _, site := range skipped {
		o.current.Skipped = append(o.current.Skipped, site.Name)
	}
	o.current.Totals.SitesSkipped = len(o.current.Skipped)
	o.current.Finished = o.clock.Now()
	result := o.current.Clone()
	o.mu.Unlock()

	if len(skipped) > 0 {
		logger.Warn("run canceled; sites skipped", zap.Int("skipped", len(skipped)))
	}
	logger.Info("run finished",
		zap.Int("sites", result.Totals.Sites),
		zap.Int("failed", result.Totals.SitesFailed),
		zap.Int("kept", result.Totals.Kept),
		zap.Duration("elapsed", result.Finished.Sub(result.Started)),
	)
	done := progress.Event{Stage: progress.StageRunDone, Dur: nonNegative(result.Finished.Sub(started))}
	if len(skipped) > 0 {
		done.Note = fmt.Sprintf("%d sites skipped", len(skipped))
	}
	o.emit(runID, done)
	return result
}

// Snapshot returns a copy of the current or most recent run.
func (o *Orchestrator) Snapshot() crawler.RunStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Clone()
}

// runSite isolates a site's failure from the rest of the run.
func (o *Orchestrator) runSite(ctx context.Context, site crawler.Site, logger *zap.Logger) (stats crawler.SiteStats) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("site runner panicked", zap.String("site", site.Name), zap.Any("panic", rec))
			stats = crawler.SiteStats{
				Site:     site.Name,
				Domain:   site.Domain(),
				Err:      fmt.Sprintf("panic: %v", rec),
				Finished: o.clock.Now(),
			}
		}
	}()
	return o.runner.Run(ctx, site)
}

func (o *Orchestrator) merge(stats crawler.SiteStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current.Sites = append(o.current.Sites, stats)
	o.current.Totals.Add(stats)
}

func (o *Orchestrator) newRunID() uuid.UUID {
	if o.ids != nil {
		if raw, err := o.ids.NewID(); err == nil {
			if id, perr := uuid.Parse(raw); perr == nil {
				return id
			}
		} else {
			o.logger.Warn("run id generation failed; using random id", zap.Error(err))
		}
	}
	return uuid.New()
}

func (o *Orchestrator) emit(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = o.clock.Now()
	o.progress.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
