// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName namespaces files under the XDG base directories.
const AppName = "product-image-harvester"

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Rate     RateConfig     `mapstructure:"rate"`
	Cache    CacheConfig    `mapstructure:"cache"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Download DownloadConfig `mapstructure:"download"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Output   OutputConfig   `mapstructure:"output"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sites    SitesConfig    `mapstructure:"sites"`
}

// CrawlerConfig governs discovery and site-level concurrency.
type CrawlerConfig struct {
	MaxPages           int    `mapstructure:"max_pages"`
	MaxDepth           int    `mapstructure:"max_depth"`
	DetectionThreshold int    `mapstructure:"detection_threshold"`
	UserAgent          string `mapstructure:"user_agent"`
	RespectRobots      bool   `mapstructure:"respect_robots"`
	ConcurrentSites    int    `mapstructure:"concurrent_sites"`
	ForbiddenThreshold int    `mapstructure:"forbidden_threshold"`
}

// RateConfig sets the default per-domain request rate.
type RateConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// CacheConfig bounds the page response cache. Zero disables it.
type CacheConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

// HTTPConfig configures the pooled transport.
type HTTPConfig struct {
	TimeoutSeconds        int `mapstructure:"timeout_seconds"`
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int `mapstructure:"read_timeout_seconds"`
	MaxConns              int `mapstructure:"max_conns"`
	MaxConnsPerHost       int `mapstructure:"max_conns_per_host"`
	MaxBodyBytes          int `mapstructure:"max_body_bytes"`
}

// DownloadConfig controls image batching, quotas and the content filter.
type DownloadConfig struct {
	BatchWidth       int `mapstructure:"batch_width"`
	LingerMillis     int `mapstructure:"linger_ms"`
	MaxImagesPerSite int `mapstructure:"max_images_per_site"`
	MinWidth         int `mapstructure:"min_width"`
	MinHeight        int `mapstructure:"min_height"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	PromoteSPA    bool `mapstructure:"promote_spa"`
}

// StorageConfig selects where kept images are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DedupConfig locates the cross-run digest registry.
type DedupConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	Persist      bool   `mapstructure:"persist"`
}

// OutputConfig names the run artifacts.
type OutputConfig struct {
	ProvenanceCSV   string `mapstructure:"provenance_csv"`
	ErrorsCSV       string `mapstructure:"errors_csv"`
	SummaryMarkdown string `mapstructure:"summary_markdown"`
}

// DBConfig controls access to the relational database. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for kept-image notifications. A topic without a
// project publishes to an in-memory dry-run publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// SitesConfig points at the per-site override table.
type SitesConfig struct {
	OverridesFile string `mapstructure:"overrides_file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultRegistryPath is the digest registry location under the XDG data dir.
func DefaultRegistryPath() string {
	return filepath.Join(xdg.DataHome, AppName, "digests.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.max_pages", 20)
	v.SetDefault("crawler.max_depth", 0)
	v.SetDefault("crawler.detection_threshold", 3)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.concurrent_sites", 5)
	v.SetDefault("crawler.forbidden_threshold", 3)
	v.SetDefault("rate.requests_per_second", 2.0)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.connect_timeout_seconds", 10)
	v.SetDefault("http.read_timeout_seconds", 20)
	v.SetDefault("http.max_conns", 100)
	v.SetDefault("http.max_conns_per_host", 10)
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("download.batch_width", 15)
	v.SetDefault("download.linger_ms", 250)
	v.SetDefault("download.max_images_per_site", 100)
	v.SetDefault("download.min_width", 0)
	v.SetDefault("download.min_height", 0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promote_spa", true)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "./output/images")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("dedup.registry_path", DefaultRegistryPath())
	v.SetDefault("dedup.persist", true)
	v.SetDefault("output.provenance_csv", "./output/image_sources.csv")
	v.SetDefault("output.errors_csv", "./output/errors.csv")
	v.SetDefault("output.summary_markdown", "./output/summary.md")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("sites.overrides_file", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.DetectionThreshold <= 0 {
		return fmt.Errorf("crawler.detection_threshold must be > 0")
	}
	if c.Crawler.ConcurrentSites <= 0 {
		return fmt.Errorf("crawler.concurrent_sites must be > 0")
	}
	if c.Rate.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate.requests_per_second must be > 0")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxConnsPerHost <= 0 {
		return fmt.Errorf("http.max_conns_per_host must be > 0")
	}
	if c.Download.BatchWidth <= 0 {
		return fmt.Errorf("download.batch_width must be > 0")
	}
	if c.Download.MaxImagesPerSite <= 0 {
		return fmt.Errorf("download.max_images_per_site must be > 0")
	}
	if c.Download.MinWidth < 0 || c.Download.MinHeight < 0 {
		return fmt.Errorf("download.min_width and download.min_height must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs (got %q)", c.Storage.Backend)
	}
	if c.Dedup.Persist && strings.TrimSpace(c.Dedup.RegistryPath) == "" {
		return fmt.Errorf("dedup.registry_path must be set when dedup.persist is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// RequestTimeout is the overall per-request budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Linger is how long the downloader waits to fill a batch.
func (c Config) Linger() time.Duration {
	return time.Duration(c.Download.LingerMillis) * time.Millisecond
}
