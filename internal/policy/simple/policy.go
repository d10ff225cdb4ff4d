// Package simple contains the keyword-based link policy used during discovery.
package simple

import (
	"net/url"
	"path"
	"strings"
)

// DefaultDenyKeywords are path fragments of utility pages that never lead to products.
var DefaultDenyKeywords = []string{
	"login", "signin", "sign-in", "signup", "register", "account",
	"cart", "checkout", "wishlist", "privacy", "terms", "contact", "about",
	"stores", "customer-service", "help",
}

var assetExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".pdf": {}, ".zip": {},
	".mp4": {}, ".mp3": {}, ".woff": {}, ".woff2": {}, ".ttf": {},
}

// Policy rejects links to utility pages and static assets.
type Policy struct {
	deny []string
}

// New creates a Policy. With no keywords DefaultDenyKeywords apply.
func New(denyKeywords ...string) *Policy {
	if len(denyKeywords) == 0 {
		denyKeywords = DefaultDenyKeywords
	}
	deny := make([]string, 0, len(denyKeywords))
	for _, kw := range denyKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			deny = append(deny, kw)
		}
	}
	return &Policy{deny: deny}
}

// AllowLink reports whether u may be enqueued for crawling.
func (p *Policy) AllowLink(u *url.URL) bool {
	if u == nil {
		return false
	}
	lowerPath := strings.ToLower(u.Path)
	if _, asset := assetExtensions[path.Ext(lowerPath)]; asset {
		return false
	}
	for _, kw := range p.deny {
		if strings.Contains(lowerPath, kw) {
			return false
		}
	}
	return true
}
