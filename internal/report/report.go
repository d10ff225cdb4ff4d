// Package report renders the end-of-run markdown summary.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// Write renders stats as markdown to w.
func Write(w io.Writer, stats crawler.RunStats) error {
	md := markdown.NewMarkdown(w)
	writeHeader(md, stats)
	writeSites(md, stats)
	writeTotals(md, stats)
	if err := md.Build(); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	return nil
}

// WriteFile renders stats to path, creating parent directories.
func WriteFile(path string, stats crawler.RunStats) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	if err := Write(f, stats); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close summary: %w", err)
	}
	return nil
}

func writeHeader(md *markdown.Markdown, stats crawler.RunStats) {
	md.H1("Harvest Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + stats.RunID + "`"},
			{"Started", formatTime(stats.Started)},
			{"Duration", formatDuration(stats.Finished.Sub(stats.Started))},
			{"Sites", strconv.Itoa(stats.Totals.Sites)},
			{"Sites failed", strconv.Itoa(stats.Totals.SitesFailed)},
			{"Sites skipped", strconv.Itoa(stats.Totals.SitesSkipped)},
		},
	})
	md.PlainText("")

	switch {
	case len(stats.Skipped) > 0:
		md.Warningf("Run was interrupted; %d site(s) were not started.", len(stats.Skipped))
	case stats.Totals.SitesFailed > 0:
		md.Importantf("%d site(s) finished with an error.", stats.Totals.SitesFailed)
	default:
		md.Tip("Every site finished without a site-level error.")
	}
	md.PlainText("")
}

func writeSites(md *markdown.Markdown, stats crawler.RunStats) {
	md.H2("Sites")
	md.PlainText("")
	if len(stats.Sites) == 0 {
		md.PlainText("No sites were harvested.")
		md.PlainText("")
		return
	}

	sites := append([]crawler.SiteStats(nil), stats.Sites...)
	sort.SliceStable(sites, func(i, j int) bool { return sites[i].Site < sites[j].Site })
	rows := make([][]string, 0, len(sites))
	for _, s := range sites {
		errText := "-"
		if s.HasError() {
			errText = cell(s.Err)
		}
		rows = append(rows, []string{
			cell(s.Site),
			strconv.Itoa(s.PagesVisited),
			strconv.Itoa(s.ProductPages),
			strconv.Itoa(s.Kept),
			strconv.Itoa(s.Duplicates),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Rejected),
			errText,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Site", "Pages", "Product pages", "Kept", "Duplicate", "Failed", "Rejected", "Error"},
		Rows:   rows,
		Alignment: []markdown.TableAlignment{
			markdown.AlignLeft,
			markdown.AlignRight, markdown.AlignRight, markdown.AlignRight,
			markdown.AlignRight, markdown.AlignRight, markdown.AlignRight,
			markdown.AlignLeft,
		},
	})
	md.PlainText("")

	if len(stats.Skipped) > 0 {
		md.H3("Skipped")
		md.PlainText("")
		md.BulletList(stats.Skipped...)
		md.PlainText("")
	}
}

func writeTotals(md *markdown.Markdown, stats crawler.RunStats) {
	t := stats.Totals
	md.H2("Totals")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Pages visited", strconv.Itoa(t.PagesVisited)},
			{"Product pages", strconv.Itoa(t.ProductPages)},
			{"Images kept", strconv.Itoa(t.Kept)},
			{"Duplicates", strconv.Itoa(t.Duplicates)},
			{"Failed downloads", strconv.Itoa(t.Failed)},
			{"Rejected by filter", strconv.Itoa(t.Rejected)},
		},
	})
	md.PlainText("")

	if t.Kept+t.Duplicates+t.Failed+t.Rejected == 0 {
		return
	}
	chart := piechart.NewPieChart(io.Discard, piechart.WithTitle("Image outcomes"), piechart.WithShowData(true))
	for _, part := range []struct {
		label string
		n     int
	}{
		{"Kept", t.Kept},
		{"Duplicate", t.Duplicates},
		{"Failed", t.Failed},
		{"Rejected", t.Rejected},
	} {
		if part.n > 0 {
			chart.LabelAndIntValue(part.label, uint64(part.n))
		}
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// cell keeps free text from breaking the table layout.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
