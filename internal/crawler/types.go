package crawler

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verdict is the classification assigned to a visited page.
type Verdict string

// Page verdicts.
const (
	VerdictUnknown    Verdict = "unknown"
	VerdictProduct    Verdict = "product"
	VerdictNonProduct Verdict = "non-product"
)

// SiteOverrides holds optional per-site policy. Nil fields fall back to the
// run defaults.
type SiteOverrides struct {
	RequiresRendering  *bool
	DetectionThreshold *int
	RateLimit          *float64
	MaxPages           *int
	MaxImages          *int
	ProductSitemap     string
}

// Site identifies one harvest target. It is immutable for the duration of a run.
type Site struct {
	Name      string
	EntryURL  string
	Overrides SiteOverrides
}

// Domain returns the lowercased host of the entry URL.
func (s Site) Domain() string {
	return DomainOf(s.EntryURL)
}

// SiteConfig is the fully resolved configuration for one site run.
type SiteConfig struct {
	Site               Site
	Domain             string
	Slug               string
	RequiresRendering  bool
	DetectionThreshold int
	RequestsPerSecond  float64
	MaxPages           int
	MaxDepth           int
	MaxImages          int
	ProductSitemap     string
}

// Metadata carries optional product fields used only for provenance.
type Metadata struct {
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Price    string `json:"price,omitempty"`
}

// PageRecord describes a visited page. It is never mutated after classification.
type PageRecord struct {
	URL       string
	Depth     int
	Verdict   Verdict
	Score     int
	ImageURLs []string
	Metadata  Metadata
	Rendered  bool
}

// ImageTask is a single image scheduled for download.
type ImageTask struct {
	ImageURL string
	PageURL  string
	Metadata Metadata
}

// Outcome is the terminal state of one image download.
type Outcome string

// Download outcomes.
const (
	OutcomeKept        Outcome = "kept"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeFetchFailed Outcome = "fetch-failed"
	OutcomeRejected    Outcome = "rejected"
)

// DownloadResult is produced once per image by the batch downloader.
type DownloadResult struct {
	Site        string
	ImageURL    string
	PageURL     string
	Outcome     Outcome
	Digest      string
	ObjectPath  string
	URI         string
	Bytes       int
	ContentType string
	Metadata    Metadata
	Err         error
	At          time.Time
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// SkipCache bypasses the response cache for both lookup and population.
	SkipCache bool
}

// FetchResponse is the result returned by a Fetcher or Renderer.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	FromCache  bool
	Rendered   bool
}

// ContentType returns the response media type without parameters.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	ct := r.Headers.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ErrorRecord is one line of the itemized error log.
type ErrorRecord struct {
	At      time.Time
	Site    string
	Kind    ErrorKind
	Message string
	URL     string
}

// SiteStats summarizes a single site run.
type SiteStats struct {
	Site         string    `json:"site"`
	Domain       string    `json:"domain"`
	PagesVisited int       `json:"pages_visited"`
	ProductPages int       `json:"product_pages"`
	PageErrors   int       `json:"page_errors"`
	Kept         int       `json:"kept"`
	Duplicates   int       `json:"duplicates"`
	Failed       int       `json:"failed"`
	Rejected     int       `json:"rejected"`
	Err          string    `json:"error,omitempty"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished"`
}

// Observe folds one download outcome into the counters.
func (s *SiteStats) Observe(result DownloadResult) {
	switch result.Outcome {
	case OutcomeKept:
		s.Kept++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeFetchFailed:
		s.Failed++
	case OutcomeRejected:
		s.Rejected++
	}
}

// HasError reports whether the site run ended with a recorded error.
func (s SiteStats) HasError() bool {
	return s.Err != ""
}

// Totals aggregates counters across sites.
type Totals struct {
	Sites        int `json:"sites"`
	SitesFailed  int `json:"sites_failed"`
	SitesSkipped int `json:"sites_skipped"`
	PagesVisited int `json:"pages_visited"`
	ProductPages int `json:"product_pages"`
	Kept         int `json:"kept"`
	Duplicates   int `json:"duplicates"`
	Failed       int `json:"failed"`
	Rejected     int `json:"rejected"`
}

// Add folds a site's counters into the totals.
func (t *Totals) Add(s SiteStats) {
	t.Sites++
	if s.HasError() {
		t.SitesFailed++
	}
	t.PagesVisited += s.PagesVisited
	t.ProductPages += s.ProductPages
	t.Kept += s.Kept
	t.Duplicates += s.Duplicates
	t.Failed += s.Failed
	t.Rejected += s.Rejected
}

// RunStats is the process-wide result of one harvest run.
type RunStats struct {
	RunID    string      `json:"run_id"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
	Sites    []SiteStats `json:"sites"`
	Skipped  []string    `json:"skipped,omitempty"`
	Totals   Totals      `json:"totals"`
}

// Clone returns a deep copy safe to hand to readers.
func (r RunStats) Clone() RunStats {
	out := r
	out.Sites = append([]SiteStats(nil), r.Sites...)
	out.Skipped = append([]string(nil), r.Skipped...)
	return out
}

// DomainOf returns the lowercased hostname of rawURL, or "" when it has none.
func DomainOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// StripWWW removes a leading "www." label.
func StripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
