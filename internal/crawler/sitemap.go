package crawler

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

// SitemapSource reads product page URLs out of XML sitemaps.
type SitemapSource struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewSitemapSource wires a sitemap reader on top of the shared fetcher.
func NewSitemapSource(fetcher Fetcher, logger *zap.Logger) *SitemapSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapSource{fetcher: fetcher, logger: logger}
}

// ProductURLs returns up to limit in-site page locations listed by the sitemap
// at sitemapURL. A sitemap index is followed one level deep.
func (s *SitemapSource) ProductURLs(ctx context.Context, sitemapURL, siteHost string, limit int) ([]string, error) {
	if s == nil || s.fetcher == nil || strings.TrimSpace(sitemapURL) == "" {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}
	doc, err := s.load(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	urls := collectLocs(doc, "//url/loc", siteHost, limit)
	if len(urls) >= limit {
		return urls, nil
	}
	for _, child := range xmlquery.Find(doc, "//sitemap/loc") {
		childURL := strings.TrimSpace(child.InnerText())
		if childURL == "" {
			continue
		}
		childDoc, err := s.load(ctx, childURL)
		if err != nil {
			s.logger.Debug("nested sitemap failed", zap.String("url", childURL), zap.Error(err))
			continue
		}
		urls = append(urls, collectLocs(childDoc, "//url/loc", siteHost, limit-len(urls))...)
		if len(urls) >= limit {
			break
		}
	}
	return urls, nil
}

func (s *SitemapSource) load(ctx context.Context, sitemapURL string) (*xmlquery.Node, error) {
	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: sitemapURL})
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	return doc, nil
}

func collectLocs(doc *xmlquery.Node, expr, siteHost string, limit int) []string {
	var out []string
	for _, node := range xmlquery.Find(doc, expr) {
		if len(out) >= limit {
			break
		}
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" || !SameSite(DomainOf(loc), siteHost) {
			continue
		}
		out = append(out, loc)
	}
	return out
}
