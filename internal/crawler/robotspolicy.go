package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsEnforcer enforces robots.txt directives per host. robots.txt itself is
// fetched through the shared Fetcher so it is rate limited and cached like any page.
type RobotsEnforcer struct {
	fetcher   Fetcher
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// NewRobotsEnforcer builds a RobotsPolicy respecting the config toggle.
func NewRobotsEnforcer(respect bool, fetcher Fetcher, userAgent string, logger *zap.Logger) RobotsPolicy {
	if !respect || fetcher == nil {
		return AllowAllRobots{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsEnforcer{
		fetcher:   fetcher,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed implements RobotsPolicy.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := r.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	status, body, err := r.fetch(ctx, robotsURL.String())
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}

func (r *RobotsEnforcer) fetch(ctx context.Context, robotsURL string) (int, []byte, error) {
	resp, err := r.fetcher.Fetch(ctx, FetchRequest{URL: robotsURL})
	if err == nil {
		return resp.StatusCode, resp.Body, nil
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == ErrorKindStatus {
		return fe.StatusCode, nil, nil
	}
	return 0, nil, fmt.Errorf("fetch robots: %w", err)
}

// AllowAllRobots permits every URL.
type AllowAllRobots struct{}

// Allowed implements RobotsPolicy.
func (AllowAllRobots) Allowed(context.Context, string) bool { return true }
