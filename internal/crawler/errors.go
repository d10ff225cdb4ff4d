package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies failures for the error log and metrics.
type ErrorKind string

// Error kinds.
const (
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindStatus     ErrorKind = "http_status"
	ErrorKindCanceled   ErrorKind = "canceled"
	ErrorKindRender     ErrorKind = "render"
	ErrorKindParse      ErrorKind = "parse"
	ErrorKindSave       ErrorKind = "save"
	ErrorKindRobots     ErrorKind = "robots"
	ErrorKindSite       ErrorKind = "site"
	ErrorKindInput      ErrorKind = "input"
	ErrorKindUnknown    ErrorKind = "unknown"
)

var (
	// ErrQuotaExhausted marks the normal end of a site run once its image quota is met.
	ErrQuotaExhausted = errors.New("image quota exhausted")
	// ErrRendererUnavailable is returned by renderers that are not configured.
	ErrRendererUnavailable = errors.New("renderer not configured")
	// ErrSiteBlocked is returned when a site keeps refusing requests.
	ErrSiteBlocked = errors.New("site is refusing requests")
)

// FetchError is the typed failure returned by fetchers.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	// Header carries the response headers of status failures.
	Header http.Header
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == ErrorKindStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError classifies err into a FetchError for rawURL.
func NewFetchError(rawURL string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: ClassifyError(err), URL: rawURL, Err: err}
}

// ClassifyError maps arbitrary transport errors onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	if errors.Is(err, ErrRendererUnavailable) {
		return ErrorKindRender
	}
	return ErrorKindConnection
}

// KindOf returns the ErrorKind recorded for err in logs.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrSiteBlocked) {
		return ErrorKindSite
	}
	return ErrorKindUnknown
}

// IsStatus reports whether err is an HTTP status failure with the given code.
func IsStatus(err error, code int) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == ErrorKindStatus && fe.StatusCode == code
}
