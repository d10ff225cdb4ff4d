package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters, drops the fragment and trims a trailing slash from non-root paths.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// CacheKey is the total form of NormalizeURL: unparseable input is returned trimmed.
func CacheKey(rawURL string) string {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	return key
}

// SameSite reports whether two hosts belong to the same site, ignoring a www. prefix.
func SameSite(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return StripWWW(a) == StripWWW(b)
}

// resolve turns href into an absolute http(s) URL relative to base.
func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return nil, false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs, true
}
