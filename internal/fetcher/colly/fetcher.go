// Package collyfetcher implements the cached, rate-limited HTTP client on gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-image-harvester/internal/cache"
	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
)

// DefaultUserAgent is a desktop browser string; many storefronts reject bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// ErrBodyTooLarge is wrapped by fetches whose body exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Config controls the collector and its pooled transport.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxConns        int
	MaxConnsPerHost int
	MaxBodyBytes    int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 20 * time.Second
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 100
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 20 << 20
	}
	return c
}

// Limiter spaces requests per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector. It consults the
// response cache first, then the limiter, then the network.
type Fetcher struct {
	cfg           Config
	limiter       Limiter
	responses     *cache.ResponseCache
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter and responses may be nil.
func New(cfg Config, limiter Limiter, responses *cache.ResponseCache, logger *zap.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	// One extra byte lets Fetch tell an oversized body from one that fits exactly.
	c.MaxBodySize = cfg.MaxBodyBytes + 1
	// Clones share the backend, so transport and timeout are set once here.
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		responses:     responses,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. Only 2xx responses are returned without
// error; everything else is a *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	key := crawler.CacheKey(request.URL)
	if !request.SkipCache {
		if entry, ok := f.responses.Get(key); ok {
			return crawler.FetchResponse{
				URL:        entry.URL,
				StatusCode: entry.StatusCode,
				Headers:    entry.Headers.Clone(),
				Body:       entry.Body,
				FromCache:  true,
			}, nil
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, f.fail(ctx, request.URL, err)
		}
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)
	if err := collector.Visit(request.URL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return crawler.FetchResponse{}, f.fail(ctx, request.URL, fetchErr)
	}

	if result.StatusCode < 200 || result.StatusCode > 299 {
		metrics.ObserveFetch(request.URL, "status")
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.ErrorKindStatus,
			URL:        request.URL,
			StatusCode: result.StatusCode,
			Header:     result.Headers,
		}
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		metrics.ObserveFetch(request.URL, string(crawler.ErrorKindParse))
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind: crawler.ErrorKindParse,
			URL:  request.URL,
			Err:  fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.cfg.MaxBodyBytes),
		}
	}
	metrics.ObserveFetch(request.URL, "ok")

	if !request.SkipCache {
		f.responses.Put(key, cache.Entry{
			URL:        result.URL,
			StatusCode: result.StatusCode,
			Headers:    result.Headers.Clone(),
			Body:       result.Body,
		})
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// fail converts a transport or scheduling error into a typed FetchError.
func (f *Fetcher) fail(ctx context.Context, rawURL string, err error) error {
	fe := crawler.NewFetchError(rawURL, err)
	if errors.Is(ctx.Err(), context.Canceled) {
		fe.Kind = crawler.ErrorKindCanceled
	}
	metrics.ObserveFetch(rawURL, string(fe.Kind))
	f.logger.Debug("fetch failed", zap.String("url", rawURL), zap.String("kind", string(fe.Kind)), zap.Error(err))
	return fe
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
