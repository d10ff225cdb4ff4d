package provenance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/publisher/memory"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func keptResult() crawler.DownloadResult {
	return crawler.DownloadResult{
		Site:       "Acme",
		ImageURL:   "https://acme.test/img/1.jpg",
		PageURL:    "https://acme.test/product/tote",
		Outcome:    crawler.OutcomeKept,
		Digest:     "abc123",
		ObjectPath: "acme/acme_abc123.jpg",
		URI:        "file:///out/acme/acme_abc123.jpg",
		Bytes:      42,
		Metadata:   crawler.Metadata{Name: "Tote, large", Category: "Bags", Price: "90 USD"},
		At:         at,
	}
}

func TestCSVRecorder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imagesPath := filepath.Join(dir, "out", "image_sources.csv")
	errorsPath := filepath.Join(dir, "out", "errors.csv")
	rec, err := OpenCSV(imagesPath, errorsPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rec.RecordImage(ctx, keptResult()))
	dup := keptResult()
	dup.Outcome = crawler.OutcomeDuplicate
	require.NoError(t, rec.RecordImage(ctx, dup))
	require.NoError(t, rec.RecordError(ctx, crawler.ErrorRecord{
		At: at, Site: "Acme", Kind: crawler.ErrorKindTimeout, Message: "deadline", URL: "https://acme.test/slow",
	}))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.Equal(t, [][]string{
		ImageColumns,
		{"2026-03-01T12:00:00Z", "Acme", "https://acme.test/product/tote", "Tote, large", "Bags", "90 USD",
			"https://acme.test/img/1.jpg", "abc123", "acme/acme_abc123.jpg"},
	}, readCSV(t, imagesPath))
	assert.Equal(t, [][]string{
		ErrorColumns,
		{"2026-03-01T12:00:00Z", "Acme", "timeout", "deadline", "https://acme.test/slow"},
	}, readCSV(t, errorsPath))
}

func TestLogAppendsWithoutSecondHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "errors.csv")
	for i := range 2 {
		l, err := OpenLog(path, ErrorColumns)
		require.NoError(t, err)
		require.NoError(t, l.Write([]string{"t", "s", "k", fmt.Sprint(i), "u"}))
		require.NoError(t, l.Close())
	}

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, ErrorColumns, rows[0])
	assert.Equal(t, "1", rows[2][3])
}

func TestLogConcurrentWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "errors.csv")
	l, err := OpenLog(path, ErrorColumns)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Write([]string{"t", "s", "k", fmt.Sprint(i), "u"}))
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())
	assert.Len(t, readCSV(t, path), 51)
	assert.Error(t, l.Write([]string{"late"}))
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) RecordImage(context.Context, crawler.DownloadResult) error {
	f.calls++
	return errors.New("image sink down")
}

func (f *failingRecorder) RecordError(context.Context, crawler.ErrorRecord) error {
	f.calls++
	return errors.New("error sink down")
}

func TestMultiContinuesPastFailures(t *testing.T) {
	t.Parallel()

	first, second := &failingRecorder{}, &failingRecorder{}
	m := Multi{first, nil, Discard{}, second}

	err := m.RecordImage(context.Background(), keptResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image sink down")
	require.Error(t, m.RecordError(context.Background(), crawler.ErrorRecord{}))
	assert.Equal(t, 2, first.calls)
	assert.Equal(t, 2, second.calls)
	assert.NoError(t, Multi{}.RecordImage(context.Background(), keptResult()))
}

func TestNotifierPublishesKeptImages(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	n := NewNotifier(pub, "images-kept")
	ctx := context.Background()

	require.NoError(t, n.RecordImage(ctx, keptResult()))
	failed := keptResult()
	failed.Outcome = crawler.OutcomeFetchFailed
	require.NoError(t, n.RecordImage(ctx, failed))
	require.NoError(t, n.RecordError(ctx, crawler.ErrorRecord{}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "images-kept", msgs[0].Topic)
	event, ok := msgs[0].Payload.(ImageEvent)
	require.True(t, ok)
	assert.Equal(t, "abc123", event.Digest)
	assert.Equal(t, "Tote, large", event.Metadata.Name)
	assert.Equal(t, at, event.KeptAt)
}
