package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/progress"
)

// ErrNoRunID is returned when a record arrives without a run ID on its context.
var ErrNoRunID = errors.New("run id missing from context")

// ProvenanceStore mirrors kept-image provenance and itemized errors into
// Postgres. It implements crawler.Recorder; rows are keyed by the run ID
// carried on the context (see progress.WithRunID).
type ProvenanceStore struct {
	pool Pool
}

// NewProvenanceStore returns a store writing through pool.
func NewProvenanceStore(pool Pool) (*ProvenanceStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ProvenanceStore{pool: pool}, nil
}

func runIDOf(ctx context.Context) (uuid.UUID, error) {
	id := uuid.UUID(progress.RunIDFrom(ctx))
	if id == uuid.Nil {
		return uuid.Nil, ErrNoRunID
	}
	return id, nil
}

// RecordImage inserts a provenance row for kept images. A digest already
// recorded by an earlier run is left untouched.
func (s *ProvenanceStore) RecordImage(ctx context.Context, result crawler.DownloadResult) error {
	if result.Outcome != crawler.OutcomeKept {
		return nil
	}
	runID, err := runIDOf(ctx)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO image_provenance (
			digest, run_id, site, page_url, image_url, object_path, object_uri,
			product_name, category, price, bytes, content_type, kept_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (digest) DO NOTHING;`
	_, err = s.pool.Exec(ctx, query,
		result.Digest,
		runID,
		result.Site,
		result.PageURL,
		result.ImageURL,
		result.ObjectPath,
		result.URI,
		nullable(result.Metadata.Name),
		nullable(result.Metadata.Category),
		nullable(result.Metadata.Price),
		int64(result.Bytes),
		nullable(result.ContentType),
		result.At,
	)
	if err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	return nil
}

// RecordError inserts one error row.
func (s *ProvenanceStore) RecordError(ctx context.Context, record crawler.ErrorRecord) error {
	runID, err := runIDOf(ctx)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO harvest_errors (run_id, occurred_at, site, kind, message, url)
		VALUES ($1, $2, $3, $4, $5, $6);`
	_, err = s.pool.Exec(ctx, query,
		runID,
		record.At,
		record.Site,
		string(record.Kind),
		record.Message,
		nullable(record.URL),
	)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
