// Package provenance records where every kept image came from and logs
// itemized failures.
package provenance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

var (
	// ImageColumns is the header of the provenance log.
	ImageColumns = []string{
		"timestamp", "site", "source_url", "product_name", "category", "price",
		"image_url", "digest", "local_filename",
	}
	// ErrorColumns is the header of the error log.
	ErrorColumns = []string{"timestamp", "site", "error_type", "message", "url"}
)

// Log is an append-only CSV file. The header is written only when the file is
// new or empty. Rows are flushed as they are written.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// OpenLog opens path for appending, creating parent directories as needed.
func OpenLog(path string, header []string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	// #nosec G304 -- log paths come from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	l := &Log{file: f, writer: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Write appends one row and flushes it.
func (l *Log) Write(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("log is closed")
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	err := errors.Join(l.writer.Error(), l.file.Close())
	l.file = nil
	return err
}

// CSV is a Recorder writing the provenance and error logs.
type CSV struct {
	images *Log
	errs   *Log
}

// OpenCSV opens both logs.
func OpenCSV(imagesPath, errorsPath string) (*CSV, error) {
	images, err := OpenLog(imagesPath, ImageColumns)
	if err != nil {
		return nil, fmt.Errorf("provenance log: %w", err)
	}
	errs, err := OpenLog(errorsPath, ErrorColumns)
	if err != nil {
		_ = images.Close()
		return nil, fmt.Errorf("error log: %w", err)
	}
	return &CSV{images: images, errs: errs}, nil
}

// RecordImage appends a provenance row for kept images and ignores the rest.
func (c *CSV) RecordImage(_ context.Context, result crawler.DownloadResult) error {
	if result.Outcome != crawler.OutcomeKept {
		return nil
	}
	return c.images.Write([]string{
		timestamp(result.At),
		result.Site,
		result.PageURL,
		result.Metadata.Name,
		result.Metadata.Category,
		result.Metadata.Price,
		result.ImageURL,
		result.Digest,
		result.ObjectPath,
	})
}

// RecordError appends one error row.
func (c *CSV) RecordError(_ context.Context, record crawler.ErrorRecord) error {
	return c.errs.Write([]string{
		timestamp(record.At),
		record.Site,
		string(record.Kind),
		record.Message,
		record.URL,
	})
}

// Close closes both logs.
func (c *CSV) Close() error {
	return errors.Join(c.images.Close(), c.errs.Close())
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}
