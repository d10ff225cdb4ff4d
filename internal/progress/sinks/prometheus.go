package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/product-image-harvester/internal/progress"
)

// PrometheusSink exports run and site progress. It owns its collectors and
// registers them on the supplied registerer.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runRuntime    prometheus.Histogram

	sitesCompleted *prometheus.CounterVec
	sitesRunning   prometheus.Gauge
	siteRuntime    *prometheus.HistogramVec
	pages          *prometheus.CounterVec
	images         *prometheus.CounterVec
	imageBytes     *prometheus.CounterVec

	mu      sync.Mutex
	running map[siteKey]struct{}
}

type siteKey struct {
	run  [16]byte
	site string
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Harvest runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Harvest runs completed.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_run_runtime_seconds",
			Help:    "Wall time per harvest run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		sitesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_sites_completed_total",
			Help: "Site runs completed partitioned by result.",
		}, []string{"result"}),
		sitesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_sites_running",
			Help: "Sites currently being harvested.",
		}),
		siteRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_site_runtime_seconds",
			Help:    "Wall time per site run partitioned by result.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_pages_total",
			Help: "Pages reported done partitioned by site and verdict.",
		}, []string{"site", "verdict"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_images_total",
			Help: "Images reported done partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		imageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_image_bytes_total",
			Help: "Bytes of kept images per site.",
		}, []string{"site"}),
		running: make(map[siteKey]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runRuntime,
		s.sitesCompleted, s.sitesRunning, s.siteRuntime,
		s.pages, s.images, s.imageBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StageRunDone:
			s.runsCompleted.Inc()
			if evt.Dur > 0 {
				s.runRuntime.Observe(evt.Dur.Seconds())
			}
		case progress.StageSiteStart:
			if s.track(evt, true) {
				s.sitesRunning.Inc()
			}
		case progress.StageSiteDone, progress.StageSiteError:
			result := "success"
			if evt.Stage == progress.StageSiteError {
				result = "error"
			}
			s.sitesCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.siteRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt, false) {
				s.sitesRunning.Dec()
			}
		case progress.StagePageDone:
			s.pages.WithLabelValues(evt.Site, evt.Verdict).Inc()
		case progress.StageImageDone:
			s.images.WithLabelValues(evt.Site, evt.Outcome).Inc()
			if evt.Bytes > 0 {
				s.imageBytes.WithLabelValues(evt.Site).Add(float64(evt.Bytes))
			}
		}
	}
	return nil
}

// track records a site start or finish and reports whether the running set changed.
func (s *PrometheusSink) track(evt progress.Event, start bool) bool {
	key := siteKey{run: evt.RunID, site: evt.Site}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[key]
	if start {
		if ok {
			return false
		}
		s.running[key] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, key)
	return true
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
