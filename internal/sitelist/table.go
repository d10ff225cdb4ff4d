package sitelist

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
)

// Override is one [sites."domain"] entry of the override file.
type Override struct {
	// Strategy "playwright" or "browser" implies RequiresRendering.
	Strategy           string   `toml:"strategy"`
	RequiresRendering  *bool    `toml:"requires_rendering"`
	RateLimit          *float64 `toml:"rate_limit"`
	DetectionThreshold *int     `toml:"detection_threshold"`
	MaxPages           *int     `toml:"max_pages"`
	MaxImages          *int     `toml:"max_images"`
	ProductSitemap     string   `toml:"product_sitemap"`
}

type file struct {
	Sites map[string]Override `toml:"sites"`
}

// Defaults are the run-wide values a site falls back to.
type Defaults struct {
	RequiresRendering  bool
	DetectionThreshold int
	RequestsPerSecond  float64
	MaxPages           int
	MaxDepth           int
	MaxImages          int
}

// Table maps domains to per-site overrides. The zero value has no overrides.
type Table struct {
	sites map[string]crawler.SiteOverrides
}

// LoadTable reads a TOML override file. An empty path yields an empty table.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return &Table{}, nil
	}
	var f file
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("decode site overrides: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown site override keys: %v", undecoded)
	}
	return NewTable(f.Sites)
}

// ParseTable decodes overrides from TOML text.
func ParseTable(data string) (*Table, error) {
	var f file
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode site overrides: %w", err)
	}
	return NewTable(f.Sites)
}

// NewTable validates raw overrides keyed by domain.
func NewTable(raw map[string]Override) (*Table, error) {
	t := &Table{sites: make(map[string]crawler.SiteOverrides, len(raw))}
	for domain, o := range raw {
		key := strings.ToLower(strings.TrimSpace(domain))
		if key == "" {
			return nil, fmt.Errorf("site override with empty domain")
		}
		converted, err := o.toOverrides()
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", domain, err)
		}
		t.sites[key] = converted
	}
	return t, nil
}

func (o Override) toOverrides() (crawler.SiteOverrides, error) {
	out := crawler.SiteOverrides{
		RequiresRendering:  o.RequiresRendering,
		DetectionThreshold: o.DetectionThreshold,
		RateLimit:          o.RateLimit,
		MaxPages:           o.MaxPages,
		MaxImages:          o.MaxImages,
		ProductSitemap:     strings.TrimSpace(o.ProductSitemap),
	}
	switch strings.ToLower(strings.TrimSpace(o.Strategy)) {
	case "", "html":
	case "playwright", "browser":
		if out.RequiresRendering == nil {
			rendered := true
			out.RequiresRendering = &rendered
		}
	default:
		return out, fmt.Errorf("unknown strategy %q", o.Strategy)
	}
	if o.RateLimit != nil && *o.RateLimit <= 0 {
		return out, fmt.Errorf("rate_limit must be > 0")
	}
	if o.MaxPages != nil && *o.MaxPages <= 0 {
		return out, fmt.Errorf("max_pages must be > 0")
	}
	if o.MaxImages != nil && *o.MaxImages <= 0 {
		return out, fmt.Errorf("max_images must be > 0")
	}
	return out, nil
}

// Len reports the number of configured domains.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sites)
}

// Lookup finds overrides by host, then by the host without "www.".
func (t *Table) Lookup(host string) (crawler.SiteOverrides, bool) {
	if t == nil || len(t.sites) == 0 {
		return crawler.SiteOverrides{}, false
	}
	host = strings.ToLower(host)
	if o, ok := t.sites[host]; ok {
		return o, true
	}
	o, ok := t.sites[crawler.StripWWW(host)]
	return o, ok
}

// Resolve merges defaults, table overrides and the site's own overrides, in
// increasing precedence, into a SiteConfig.
func (t *Table) Resolve(site crawler.Site, defaults Defaults) crawler.SiteConfig {
	domain := site.Domain()
	cfg := crawler.SiteConfig{
		Site:               site,
		Domain:             domain,
		Slug:               crawler.Slug(site.Name),
		RequiresRendering:  defaults.RequiresRendering,
		DetectionThreshold: defaults.DetectionThreshold,
		RequestsPerSecond:  defaults.RequestsPerSecond,
		MaxPages:           defaults.MaxPages,
		MaxDepth:           defaults.MaxDepth,
		MaxImages:          defaults.MaxImages,
	}
	if o, ok := t.Lookup(domain); ok {
		apply(&cfg, o)
	}
	apply(&cfg, site.Overrides)
	return cfg
}

func apply(cfg *crawler.SiteConfig, o crawler.SiteOverrides) {
	if o.RequiresRendering != nil {
		cfg.RequiresRendering = *o.RequiresRendering
	}
	if o.DetectionThreshold != nil {
		cfg.DetectionThreshold = *o.DetectionThreshold
	}
	if o.RateLimit != nil {
		cfg.RequestsPerSecond = *o.RateLimit
	}
	if o.MaxPages != nil {
		cfg.MaxPages = *o.MaxPages
	}
	if o.MaxImages != nil {
		cfg.MaxImages = *o.MaxImages
	}
	if o.ProductSitemap != "" {
		cfg.ProductSitemap = o.ProductSitemap
	}
}
