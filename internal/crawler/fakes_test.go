package crawler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]FetchResponse
	errs      map[string]error
	counts    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]FetchResponse),
		errs:      make(map[string]error),
		counts:    make(map[string]int),
	}
}

func (f *fakeFetcher) page(rawURL, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[rawURL] = FetchResponse{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func (f *fakeFetcher) status(rawURL string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[rawURL] = &FetchError{Kind: ErrorKindStatus, URL: rawURL, StatusCode: code}
}

func (f *fakeFetcher) Fetch(_ context.Context, request FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[request.URL]++
	if err, ok := f.errs[request.URL]; ok {
		return FetchResponse{}, err
	}
	if resp, ok := f.responses[request.URL]; ok {
		return resp, nil
	}
	return FetchResponse{}, &FetchError{Kind: ErrorKindStatus, URL: request.URL, StatusCode: http.StatusNotFound}
}

func (f *fakeFetcher) calls(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[rawURL]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.counts {
		total += n
	}
	return total
}

func (f *fakeFetcher) maxCallsPerURL() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	highest := 0
	for _, n := range f.counts {
		highest = max(highest, n)
	}
	return highest
}

// pathClassifier marks pages whose path contains /product/ as products.
type pathClassifier struct{}

func (pathClassifier) Classify(_ *goquery.Document, pageURL string) (bool, int) {
	if strings.Contains(pageURL, "/product/") {
		return true, 5
	}
	return false, 0
}

func pathClassifiers(int) PageClassifier { return pathClassifier{} }

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, rawURL string) (FetchResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	body, ok := r.pages[rawURL]
	if !ok {
		return FetchResponse{}, &FetchError{Kind: ErrorKindRender, URL: rawURL}
	}
	return FetchResponse{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
		Rendered:   true,
	}, nil
}

type denyKeywordPolicy struct {
	keyword string
}

func (p denyKeywordPolicy) AllowLink(u *url.URL) bool {
	return !strings.Contains(u.String(), p.keyword)
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(*goquery.Document) Metadata { panic("extractor exploded") }
