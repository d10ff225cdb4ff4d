// Package sitelist loads the harvest targets and their per-site overrides.
package sitelist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

var (
	nameColumns = []string{"designer_name", "name"}
	urlColumns  = []string{"website_url", "url"}
)

// RowError describes a skipped row of the site list.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string) ([]crawler.Site, []RowError, error) {
	// #nosec G304 -- the site list path is operator supplied.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open site list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Read parses a CSV site list. The header must name a site column
// (designer_name or name) and a URL column (website_url or url). Bad rows are
// skipped and reported; file order is preserved.
func Read(r io.Reader) ([]crawler.Site, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("site list is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	nameIdx := column(header, nameColumns)
	urlIdx := column(header, urlColumns)
	if nameIdx < 0 || urlIdx < 0 {
		return nil, nil, fmt.Errorf("header must contain %s and %s columns",
			strings.Join(nameColumns, "|"), strings.Join(urlColumns, "|"))
	}

	var (
		sites   []crawler.Site
		skipped []RowError
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped = append(skipped, RowError{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return sites, skipped, fmt.Errorf("read site list: %w", err)
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		name, rawURL := field(record, nameIdx), field(record, urlIdx)
		if name == "" || rawURL == "" {
			skipped = append(skipped, RowError{Line: line, Reason: "missing name or url"})
			continue
		}
		entry, reason := normalizeEntry(rawURL)
		if reason != "" {
			skipped = append(skipped, RowError{Line: line, Reason: reason})
			continue
		}
		sites = append(sites, crawler.Site{Name: name, EntryURL: entry})
	}
	return sites, skipped, nil
}

// normalizeEntry defaults a missing scheme to https and validates the host.
func normalizeEntry(rawURL string) (string, string) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Sprintf("invalid url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Sprintf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Sprintf("url %q has no host", rawURL)
	}
	return u.String(), ""
}

func column(header []string, names []string) int {
	for _, want := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), want) {
				return i
			}
		}
	}
	return -1
}

func field(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
