package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/product-image-harvester/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// UpsertRunStart inserts the run as running; an existing row is left alone.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	const query = `
		INSERT INTO harvest_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun records the final status of a run.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	const query = `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetSiteStatus creates or updates the site row's lifecycle status.
func (s *RunStore) SetSiteStatus(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	status store.RunStatus,
	errMsg *string,
	at time.Time,
) error {
	const query = `
		INSERT INTO site_progress (run_id, site, status, error_message, last_update)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, site) DO UPDATE
		SET status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			last_update = GREATEST(site_progress.last_update, EXCLUDED.last_update);`
	if _, err := s.pool.Exec(ctx, query, runID, site, status, errMsg, at); err != nil {
		return fmt.Errorf("set site status: %w", err)
	}
	return nil
}

// AddSiteDelta adds delta to the site's counters in one statement.
func (s *RunStore) AddSiteDelta(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	delta store.SiteDelta,
	at time.Time,
) error {
	const query = `
		INSERT INTO site_progress (
			run_id, site, status, last_update,
			pages, product_pages, kept, duplicates, failed, rejected, bytes_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, site) DO UPDATE
		SET pages = site_progress.pages + EXCLUDED.pages,
			product_pages = site_progress.product_pages + EXCLUDED.product_pages,
			kept = site_progress.kept + EXCLUDED.kept,
			duplicates = site_progress.duplicates + EXCLUDED.duplicates,
			failed = site_progress.failed + EXCLUDED.failed,
			rejected = site_progress.rejected + EXCLUDED.rejected,
			bytes_total = site_progress.bytes_total + EXCLUDED.bytes_total,
			last_update = GREATEST(site_progress.last_update, EXCLUDED.last_update);`
	_, err := s.pool.Exec(ctx, query,
		runID, site, store.RunRunning, at,
		delta.Pages, delta.ProductPages, delta.Kept, delta.Duplicates, delta.Failed, delta.Rejected, delta.Bytes,
	)
	if err != nil {
		return fmt.Errorf("add site delta: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	const query = `
		SELECT id, started_at, finished_at, status, error_message
		FROM harvest_runs
		WHERE id = $1;`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	const query = `
		SELECT id, started_at, finished_at, status, error_message
		FROM harvest_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunSites returns per-site progress for a run, most recently updated first.
func (s *RunStore) ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.SiteProgress, error) {
	const query = `
		SELECT run_id, site, status, error_message, last_update,
			pages, product_pages, kept, duplicates, failed, rejected, bytes_total
		FROM site_progress
		WHERE run_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	var sites []store.SiteProgress
	for rows.Next() {
		var p store.SiteProgress
		err := rows.Scan(
			&p.RunID, &p.Site, &p.Status, &p.ErrorMessage, &p.LastUpdate,
			&p.Pages, &p.ProductPages, &p.Kept, &p.Duplicates, &p.Failed, &p.Rejected, &p.Bytes,
		)
		if err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	s.pool.Close()
}
