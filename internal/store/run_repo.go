// Package store declares the persistence contract for harvest run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the harvest_runs.status column.
type RunStatus string

// Run and site statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one harvest run. FinishedAt is nil while the run is in progress.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// SiteDelta is an increment applied to a site's counters.
type SiteDelta struct {
	Pages        int64
	ProductPages int64
	Kept         int64
	Duplicates   int64
	Failed       int64
	Rejected     int64
	Bytes        int64
}

// IsZero reports whether the delta changes nothing.
func (d SiteDelta) IsZero() bool {
	return d == SiteDelta{}
}

// SiteProgress is the aggregated state of one site within a run.
type SiteProgress struct {
	RunID        uuid.UUID `json:"run_id"`
	Site         string    `json:"site"`
	Status       RunStatus `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	LastUpdate   time.Time `json:"last_update"`
	Pages        int64     `json:"pages"`
	ProductPages int64     `json:"product_pages"`
	Kept         int64     `json:"kept"`
	Duplicates   int64     `json:"duplicates"`
	Failed       int64     `json:"failed"`
	Rejected     int64     `json:"rejected"`
	Bytes        int64     `json:"bytes"`
}

// RunRepository persists run and per-site progress.
type RunRepository interface {
	// UpsertRunStart records a run as running; repeated calls are idempotent.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// SetSiteStatus records a site's lifecycle transition.
	SetSiteStatus(ctx context.Context, runID uuid.UUID, site string, status RunStatus, errMsg *string, at time.Time) error
	// AddSiteDelta adds delta to a site's counters, creating the row if needed.
	AddSiteDelta(ctx context.Context, runID uuid.UUID, site string, delta SiteDelta, at time.Time) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSites returns per-site progress for one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteProgress, error)
}
