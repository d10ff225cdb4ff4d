package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/progress"
)

func strPtr(s string) *string { return &s }

func TestProvenanceStoreRecordsKeptImages(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	s, err := NewProvenanceStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	kept := crawler.DownloadResult{
		Site:        "Acme",
		ImageURL:    "https://acme.test/1.jpg",
		PageURL:     "https://acme.test/product/tote",
		Outcome:     crawler.OutcomeKept,
		Digest:      "abc",
		ObjectPath:  "acme/acme_abc.jpg",
		URI:         "file:///out/acme/acme_abc.jpg",
		Bytes:       512,
		ContentType: "image/jpeg",
		Metadata:    crawler.Metadata{Name: "Tote"},
		At:          now,
	}
	mock.ExpectExec("INSERT INTO image_provenance").
		WithArgs("abc", runID, "Acme", kept.PageURL, kept.ImageURL, kept.ObjectPath, kept.URI,
			strPtr("Tote"), (*string)(nil), (*string)(nil), int64(512), strPtr("image/jpeg"), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO harvest_errors").
		WithArgs(runID, now, "Acme", "timeout", "deadline exceeded", strPtr("https://acme.test/slow")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := progress.WithRunID(context.Background(), runID)
	require.NoError(t, s.RecordImage(ctx, kept))
	dup := kept
	dup.Outcome = crawler.OutcomeDuplicate
	require.NoError(t, s.RecordImage(ctx, dup))
	require.NoError(t, s.RecordError(ctx, crawler.ErrorRecord{
		At: now, Site: "Acme", Kind: crawler.ErrorKindTimeout, Message: "deadline exceeded", URL: "https://acme.test/slow",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvenanceStoreRequiresRunID(t *testing.T) {
	t.Parallel()

	_, err := NewProvenanceStore(nil)
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewProvenanceStore(mock)
	require.NoError(t, err)

	ctx := context.Background()
	err = s.RecordImage(ctx, crawler.DownloadResult{Outcome: crawler.OutcomeKept, Digest: "abc"})
	assert.ErrorIs(t, err, ErrNoRunID)
	err = s.RecordError(ctx, crawler.ErrorRecord{Site: "Acme"})
	assert.ErrorIs(t, err, ErrNoRunID)
	require.NoError(t, mock.ExpectationsWereMet())
}
