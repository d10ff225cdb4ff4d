package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/progress"
	"github.com/JakeFAU/product-image-harvester/internal/store"
)

// StoreSink persists progress through a store.RunRepository. Page and image
// events are collapsed into one counter delta per site and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type deltaKey struct {
	run  uuid.UUID
	site string
}

type pendingDelta struct {
	delta store.SiteDelta
	at    time.Time
}

// Consume applies lifecycle events in order and flushes the collapsed
// counters last. Repository errors are returned wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[deltaKey]*pendingDelta)
	var order []deltaKey

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone:
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageSiteStart, progress.StageSiteDone, progress.StageSiteError:
			if err := s.siteStatus(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StagePageDone, progress.StageImageDone:
			key := deltaKey{run: runID, site: evt.Site}
			pending := deltas[key]
			if pending == nil {
				pending = &pendingDelta{}
				deltas[key] = pending
				order = append(order, key)
			}
			accumulate(&pending.delta, evt)
			if evt.TS.After(pending.at) {
				pending.at = evt.TS
			}
		}
	}

	for _, key := range order {
		pending := deltas[key]
		if pending.delta.IsZero() {
			continue
		}
		if err := s.repo.AddSiteDelta(ctx, key.run, key.site, pending.delta, pending.at); err != nil {
			return fmt.Errorf("add site delta: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) siteStatus(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunRunning
	var note *string
	switch evt.Stage {
	case progress.StageSiteDone:
		status = store.RunSuccess
	case progress.StageSiteError:
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.SetSiteStatus(ctx, runID, evt.Site, status, note, evt.TS); err != nil {
		return fmt.Errorf("set site status: %w", err)
	}
	return nil
}

func accumulate(d *store.SiteDelta, evt progress.Event) {
	if evt.Stage == progress.StagePageDone {
		d.Pages++
		if evt.Verdict == string(crawler.VerdictProduct) {
			d.ProductPages++
		}
		return
	}
	switch crawler.Outcome(evt.Outcome) {
	case crawler.OutcomeKept:
		d.Kept++
		d.Bytes += evt.Bytes
	case crawler.OutcomeDuplicate:
		d.Duplicates++
	case crawler.OutcomeFetchFailed:
		d.Failed++
	case crawler.OutcomeRejected:
		d.Rejected++
	}
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
