package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

func sampleStats() crawler.RunStats {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	stats := crawler.RunStats{
		RunID:    "0193b0c4-0000-7000-8000-000000000001",
		Started:  started,
		Finished: started.Add(95 * time.Second),
		Sites: []crawler.SiteStats{
			{Site: "Zeta", PagesVisited: 4, ProductPages: 2, Kept: 6, Duplicates: 1},
			{Site: "Acme", PagesVisited: 10, ProductPages: 3, Kept: 9, Failed: 2, Err: "status 500 | upstream"},
		},
		Skipped: []string{"Late Label"},
	}
	for _, s := range stats.Sites {
		stats.Totals.Add(s)
	}
	stats.Totals.SitesSkipped = 1
	return stats
}

func TestWriteRendersTables(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleStats()))
	out := buf.String()

	assert.Contains(t, out, "# Harvest Summary")
	assert.Contains(t, out, "| Run ID | `0193b0c4-0000-7000-8000-000000000001` |")
	assert.Contains(t, out, "| Duration | 1m35s |")
	assert.Contains(t, out, "| Acme | 10 | 3 | 9 | 0 | 2 | 0 | status 500 \\| upstream |")
	assert.Contains(t, out, "| Images kept | 15 |")
	assert.Contains(t, out, "Late Label")
	assert.Contains(t, out, "```mermaid")
	assert.Less(t, strings.Index(out, "| Acme |"), strings.Index(out, "| Zeta |"), "sites are sorted by name")
}

func TestWriteEmptyRun(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, crawler.RunStats{RunID: "empty"}))
	assert.Contains(t, buf.String(), "No sites were harvested.")
	assert.NotContains(t, buf.String(), "mermaid")
}

func TestWriteFileCreatesDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "summary.md")
	require.NoError(t, WriteFile(path, sampleStats()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Totals")
}
