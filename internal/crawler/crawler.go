package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// PageErrorFunc receives page-level failures. Traversal continues after each call.
type PageErrorFunc func(record ErrorRecord)

// PageVisitFunc observes every visited page, product or not.
type PageVisitFunc func(record PageRecord)

// Options wires the collaborators used by the Crawler.
type Options struct {
	Fetcher     Fetcher
	Renderer    Renderer
	Detector    HeadlessDetector
	Classifiers ClassifierFactory
	Extractor   MetadataExtractor
	Links       LinkPolicy
	Robots      RobotsPolicy
	Sitemaps    *SitemapSource
	Clock       Clock
	Logger      *zap.Logger
	// ForbiddenThreshold is the number of 403/429 responses after which a site is abandoned.
	ForbiddenThreshold int
}

// Crawler discovers product pages on a single site breadth-first.
type Crawler struct {
	fetcher     Fetcher
	renderer    Renderer
	detector    HeadlessDetector
	classifiers ClassifierFactory
	extractor   MetadataExtractor
	links       LinkPolicy
	robots      RobotsPolicy
	sitemaps    *SitemapSource
	clock       Clock
	pauser      pauseController
	forbidden   int
	logger      *zap.Logger
}

// New builds a Crawler. Fetcher and Classifiers are required; every other
// collaborator falls back to a permissive no-op.
func New(opts Options) (*Crawler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	if opts.Classifiers == nil {
		return nil, errors.New("crawler: classifier factory is required")
	}
	c := &Crawler{
		fetcher:     opts.Fetcher,
		renderer:    opts.Renderer,
		detector:    opts.Detector,
		classifiers: opts.Classifiers,
		extractor:   opts.Extractor,
		links:       opts.Links,
		robots:      opts.Robots,
		sitemaps:    opts.Sitemaps,
		clock:       opts.Clock,
		pauser:      &timerPauseController{},
		forbidden:   opts.ForbiddenThreshold,
		logger:      opts.Logger,
	}
	if c.renderer == nil {
		c.renderer = unavailableRenderer{}
	}
	if c.extractor == nil {
		c.extractor = noopExtractor{}
	}
	if c.robots == nil {
		c.robots = AllowAllRobots{}
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Hooks lets callers observe traversal without affecting it.
type Hooks struct {
	OnPageError PageErrorFunc
	OnVisit     PageVisitFunc
}

type queuedURL struct {
	url   *url.URL
	depth int
}

// Discover starts a breadth-first traversal of site and streams every page
// classified as a product. The channel is closed when the queue empties,
// site.MaxPages distinct URLs have been visited, the site blocks the crawler,
// or ctx is canceled.
func (c *Crawler) Discover(ctx context.Context, site SiteConfig, hooks Hooks) <-chan PageRecord {
	out := make(chan PageRecord)
	go func() {
		defer close(out)
		defer c.recoverTraversal(site, hooks)
		c.traverse(ctx, site, hooks, out)
	}()
	return out
}

// recoverTraversal turns a panic in a collaborator into a site-level error so
// the caller marks the site failed instead of losing the process.
func (c *Crawler) recoverTraversal(site SiteConfig, hooks Hooks) {
	rec := recover()
	if rec == nil {
		return
	}
	c.logger.Error("crawl panicked", zap.String("site", site.Site.Name), zap.Any("panic", rec))
	c.reportError(hooks, site, ErrorKindSite, fmt.Sprintf("panic: %v", rec), site.Site.EntryURL)
}

func (c *Crawler) traverse(ctx context.Context, site SiteConfig, hooks Hooks, out chan<- PageRecord) {
	logger := c.logger.With(zap.String("site", site.Site.Name))
	entry, err := url.Parse(strings.TrimSpace(site.Site.EntryURL))
	if err != nil || entry.Host == "" {
		c.reportError(hooks, site, ErrorKindInput, fmt.Sprintf("invalid entry url %q", site.Site.EntryURL), site.Site.EntryURL)
		return
	}
	if site.MaxPages <= 0 {
		return
	}

	classifier := c.classifiers(site.DetectionThreshold)
	visited := NewVisitedSet()
	blocker := newForbiddenTracker(c.forbidden)
	queued := map[string]struct{}{CacheKey(entry.String()): {}}
	queue := []queuedURL{{url: entry, depth: 0}}
	for _, seed := range c.sitemapSeeds(ctx, site, hooks, logger) {
		key := CacheKey(seed.String())
		if _, dup := queued[key]; dup {
			continue
		}
		queued[key] = struct{}{}
		queue = append(queue, queuedURL{url: seed, depth: 1})
	}

	for len(queue) > 0 && visited.Len() < site.MaxPages {
		if ctx.Err() != nil {
			return
		}
		next := queue[0]
		queue = queue[1:]
		if !c.robots.Allowed(ctx, next.url.String()) {
			logger.Debug("robots disallowed", zap.String("url", next.url.String()))
			continue
		}
		if !visited.MarkIfNew(CacheKey(next.url.String())) {
			continue
		}

		record, links, err := c.visit(ctx, site, classifier, next)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.reportError(hooks, site, KindOf(err), err.Error(), next.url.String())
			if c.refused(ctx, err) && blocker.MarkForbidden(next.url.Hostname()) {
				c.reportError(hooks, site, ErrorKindSite, ErrSiteBlocked.Error(), next.url.String())
				logger.Warn("site blocked crawler; stopping traversal")
				return
			}
			continue
		}
		if hooks.OnVisit != nil {
			hooks.OnVisit(record)
		}

		if record.Verdict == VerdictProduct {
			select {
			case out <- record:
			case <-ctx.Done():
				return
			}
			continue
		}
		if site.MaxDepth > 0 && next.depth+1 > site.MaxDepth {
			continue
		}
		for _, link := range links {
			linkKey := CacheKey(link.String())
			if _, dup := queued[linkKey]; dup {
				continue
			}
			if c.links != nil && !c.links.AllowLink(link) {
				continue
			}
			queued[linkKey] = struct{}{}
			queue = append(queue, queuedURL{url: link, depth: next.depth + 1})
		}
	}
}

// visit fetches, parses and classifies one page. Non-product pages also return
// their in-site links.
func (c *Crawler) visit(
	ctx context.Context,
	site SiteConfig,
	classifier PageClassifier,
	next queuedURL,
) (PageRecord, []*url.URL, error) {
	pageURL := next.url.String()
	resp, err := c.fetchPage(ctx, site, pageURL)
	if err != nil {
		return PageRecord{}, nil, err
	}
	record := PageRecord{
		URL:      pageURL,
		Depth:    next.depth,
		Verdict:  VerdictUnknown,
		Rendered: resp.Rendered,
	}
	if ct := resp.ContentType(); ct != "" && !strings.Contains(ct, "html") {
		record.Verdict = VerdictNonProduct
		return record, nil, nil
	}

	base := next.url
	if resp.URL != "" {
		if final, perr := url.Parse(resp.URL); perr == nil && SameSite(final.Hostname(), next.url.Hostname()) {
			base = final
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		// Unparseable markup is treated as a non-product page with no recoverable links.
		record.Verdict = VerdictNonProduct
		return record, nil, nil
	}

	isProduct, score := classifier.Classify(doc, pageURL)
	record.Score = score
	if isProduct {
		record.Verdict = VerdictProduct
		record.ImageURLs = ExtractImageURLs(doc, base)
		record.Metadata = c.extractor.Extract(doc)
		return record, nil, nil
	}
	record.Verdict = VerdictNonProduct
	return record, ExtractLinks(doc, base), nil
}

// fetchPage fetches through the renderer for sites that need it, otherwise
// through the plain fetcher, promoting JS shells to the renderer when possible.
func (c *Crawler) fetchPage(ctx context.Context, site SiteConfig, pageURL string) (FetchResponse, error) {
	if site.RequiresRendering {
		resp, err := c.renderer.Render(ctx, pageURL)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrRendererUnavailable) {
			return FetchResponse{}, &FetchError{Kind: ErrorKindRender, URL: pageURL, Err: err}
		}
		c.logger.Debug("renderer unavailable; falling back to plain fetch", zap.String("url", pageURL))
	}

	resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: pageURL})
	if err != nil {
		return FetchResponse{}, err
	}
	if site.RequiresRendering || c.detector == nil || !c.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, rerr := c.renderer.Render(ctx, pageURL)
	if rerr != nil {
		if !errors.Is(rerr, ErrRendererUnavailable) {
			c.logger.Debug("render promotion failed", zap.String("url", pageURL), zap.Error(rerr))
		}
		return resp, nil
	}
	return rendered, nil
}

// refused reports whether err is a 403/429 refusal; 429 responses also honor Retry-After.
func (c *Crawler) refused(ctx context.Context, err error) bool {
	if IsStatus(err, http.StatusForbidden) {
		return true
	}
	if !IsStatus(err, http.StatusTooManyRequests) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		c.pauser.Pause(ctx, retryAfter(fe.Header))
	}
	return true
}

func (c *Crawler) sitemapSeeds(ctx context.Context, site SiteConfig, hooks Hooks, logger *zap.Logger) []*url.URL {
	if c.sitemaps == nil || site.ProductSitemap == "" {
		return nil
	}
	locs, err := c.sitemaps.ProductURLs(ctx, site.ProductSitemap, site.Domain, site.MaxPages)
	if err != nil {
		c.reportError(hooks, site, KindOf(err), err.Error(), site.ProductSitemap)
		return nil
	}
	seeds := make([]*url.URL, 0, len(locs))
	for _, loc := range locs {
		u, perr := url.Parse(loc)
		if perr != nil {
			continue
		}
		seeds = append(seeds, u)
	}
	logger.Info("sitemap seeds loaded", zap.Int("count", len(seeds)))
	return seeds
}

func (c *Crawler) reportError(hooks Hooks, site SiteConfig, kind ErrorKind, msg, rawURL string) {
	if hooks.OnPageError == nil {
		return
	}
	hooks.OnPageError(ErrorRecord{
		At:      c.clock.Now(),
		Site:    site.Site.Name,
		Kind:    kind,
		Message: msg,
		URL:     rawURL,
	})
}

type unavailableRenderer struct{}

func (unavailableRenderer) Render(context.Context, string) (FetchResponse, error) {
	return FetchResponse{}, ErrRendererUnavailable
}

type noopExtractor struct{}

func (noopExtractor) Extract(*goquery.Document) Metadata { return Metadata{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
