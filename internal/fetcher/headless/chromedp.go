// Package headless contains renderers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	lazyLoadPause            = time.Second
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Limiter spaces navigations per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Renderer implements crawler.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	limiter     Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless renderer backed by chromedp. Chrome is started
// lazily on the first Render call.
func NewChromedp(cfg Config, limiter Limiter, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		slots:       slots,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts down the browser.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates with a headless browser, scrolls to trigger lazy-loaded
// images and returns the rendered DOM.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, crawler.NewFetchError(rawURL, err)
	}
	defer r.release()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.FetchResponse{}, crawler.NewFetchError(rawURL, err)
		}
	}

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Tie the tab to the caller so shutdown closes it.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.runHeadless(taskCtx, rawURL)
	if err != nil {
		metrics.ObserveRender(false)
		r.logger.Debug("render failed", zap.String("url", rawURL), zap.Error(err))
		kind := crawler.ErrorKindRender
		if ctx.Err() != nil {
			kind = crawler.ClassifyError(ctx.Err())
		}
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: kind, URL: rawURL, Err: err}
	}
	metrics.ObserveRender(true)

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if status < 200 || status > 299 {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.ErrorKindStatus,
			URL:        rawURL,
			StatusCode: status,
			Header:     headers,
		}
	}
	if headers == nil {
		headers = http.Header{}
	}

	return crawler.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (r *Renderer) runHeadless(ctx context.Context, rawURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(lazyLoadPause),
		chromedp.Evaluate(`window.scrollTo(0, 0)`, nil),
		chromedp.Sleep(lazyLoadPause / 2),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots == nil {
		return
	}
	select {
	case <-r.slots:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response is the navigation; later ones are iframes.
	if m.url != "" {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}
