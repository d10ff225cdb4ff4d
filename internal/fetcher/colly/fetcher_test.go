package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/cache"
	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

type countingLimiter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *countingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, rawURL)
	return l.err
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newCache(t *testing.T) *cache.ResponseCache {
	t.Helper()
	c, err := cache.New(10)
	require.NoError(t, err)
	return c
}

func TestFetchCachesSuccessfulPages(t *testing.T) {
	t.Parallel()

	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	})
	limiter := &countingLimiter{}
	f := New(Config{}, limiter, newCache(t), nil)
	ctx := context.Background()
	req := crawler.FetchRequest{URL: srv.URL + "/page", Headers: http.Header{"X-Trace": {"yes"}}}

	first, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(first.Body))
	assert.False(t, first.FromCache)
	assert.Equal(t, "text/html", first.ContentType())

	second, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/page#frag"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 1, limiter.count(), "cache hits must not consume rate grants")
}

func TestFetchSkipCacheBypassesAndDoesNotPopulate(t *testing.T) {
	t.Parallel()

	srv, hits := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xd8})
	})
	responses := newCache(t)
	f := New(Config{}, nil, responses, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/img.jpg", SkipCache: true})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), hits.Load())
	assert.Zero(t, responses.Len())
}

func TestFetchStatusErrorsAreTypedAndNotCached(t *testing.T) {
	t.Parallel()

	srv, hits := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	f := New(Config{}, nil, newCache(t), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow"})
		var fe *crawler.FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, crawler.ErrorKindStatus, fe.Kind)
		assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
		assert.Equal(t, "3", fe.Header.Get("Retry-After"))
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		size := 10
		if r.URL.Path == "/large" {
			size = 100
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(bytes.Repeat([]byte("x"), size))
	})
	responses := newCache(t)
	f := New(Config{MaxBodyBytes: 10}, nil, responses, nil)
	ctx := context.Background()

	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/large"})
	require.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, crawler.ErrorKindParse, crawler.KindOf(err))
	assert.Zero(t, responses.Len(), "oversized bodies must not be cached")

	resp, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/exact"})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 10)
}

func TestFetchConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{ConnectTimeout: time.Second}, nil, nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: addr + "/gone"})
	assert.Equal(t, crawler.ErrorKindConnection, crawler.KindOf(err))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond}, nil, nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	assert.Equal(t, crawler.ErrorKindTimeout, crawler.KindOf(err))
}

func TestFetchCanceledWhileWaitingForLimiter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limiter := &countingLimiter{err: context.Canceled}
	f := New(Config{}, limiter, nil, nil)

	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "https://shop.test/"})
	assert.Equal(t, crawler.ErrorKindCanceled, crawler.KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil)
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 100, cfg.MaxConns)
	assert.Equal(t, 10, cfg.MaxConnsPerHost)

	transport := newHTTPTransport(cfg)
	assert.Equal(t, 10, transport.MaxConnsPerHost)
	assert.Equal(t, 20*time.Second, transport.ResponseHeaderTimeout)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
