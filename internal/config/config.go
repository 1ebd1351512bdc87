// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agencyscope/agencydir/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Browser BrowserConfig `mapstructure:"browser"`
	Store   StoreConfig   `mapstructure:"store"`
	Output  OutputConfig  `mapstructure:"output"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig locates the directory site.
type SiteConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	DirectoryPath    string `mapstructure:"directory_path"`
	DetailPathFormat string `mapstructure:"detail_path_format"`
}

// CrawlConfig governs pipeline behavior and scope.
type CrawlConfig struct {
	Categories        []string `mapstructure:"categories"`
	MaxAgencies       int      `mapstructure:"max_agencies"`
	SkipDetails       bool     `mapstructure:"skip_details"`
	RefetchScraped    bool     `mapstructure:"refetch_scraped"`
	MaxNavAttempts    int      `mapstructure:"max_nav_attempts"`
	DetailNavAttempts int      `mapstructure:"detail_nav_attempts"`
	HostQPS           float64  `mapstructure:"host_qps"`
	UserAgent         string   `mapstructure:"user_agent"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	Headless         bool `mapstructure:"headless"`
	NavTimeoutSec    int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs    int  `mapstructure:"settle_delay_ms"`
	ProbeFirst       bool `mapstructure:"probe_first"`
	DetectorMinBytes int  `mapstructure:"detector_min_bytes"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// OutputConfig sets the export and asset directory.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. path may be empty, in which
// case only defaults and AGENCYDIR_* environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENCYDIR")
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

func setDefaults(v *viper.Viper) {
	defaults := crawler.DefaultConfig()
	v.SetDefault("site.base_url", defaults.BaseURL)
	v.SetDefault("site.directory_path", defaults.DirectoryPath)
	v.SetDefault("site.detail_path_format", defaults.DetailPathFormat)
	v.SetDefault("crawl.max_agencies", 0)
	v.SetDefault("crawl.skip_details", false)
	v.SetDefault("crawl.refetch_scraped", false)
	v.SetDefault("crawl.max_nav_attempts", defaults.MaxNavAttempts)
	v.SetDefault("crawl.detail_nav_attempts", defaults.DetailNavAttempts)
	v.SetDefault("crawl.host_qps", defaults.HostQPS)
	v.SetDefault("crawl.user_agent", defaults.UserAgent)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.settle_delay_ms", 2000)
	v.SetDefault("browser.probe_first", true)
	v.SetDefault("browser.detector_min_bytes", defaults.DetectorMinHTMLBytes)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "agency_data/agencies.db")
	v.SetDefault("output.dir", defaults.OutputDir)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Site.BaseURL, "http://") && !strings.HasPrefix(c.Site.BaseURL, "https://") {
		return fmt.Errorf("site.base_url must be absolute, got %q", c.Site.BaseURL)
	}
	if c.Crawl.MaxNavAttempts <= 0 {
		return fmt.Errorf("crawl.max_nav_attempts must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// CrawlerConfig projects the loaded settings onto the engine's config.
func (c Config) CrawlerConfig() crawler.Config {
	out := crawler.DefaultConfig()
	out.BaseURL = c.Site.BaseURL
	out.DirectoryPath = c.Site.DirectoryPath
	out.DetailPathFormat = c.Site.DetailPathFormat
	out.TargetCategories = c.Crawl.Categories
	out.MaxAgenciesPerCategory = c.Crawl.MaxAgencies
	out.SkipDetails = c.Crawl.SkipDetails
	out.RefetchScraped = c.Crawl.RefetchScraped
	out.MaxNavAttempts = c.Crawl.MaxNavAttempts
	out.DetailNavAttempts = c.Crawl.DetailNavAttempts
	out.HostQPS = c.Crawl.HostQPS
	out.UserAgent = c.Crawl.UserAgent
	out.Headless = c.Browser.Headless
	out.NavTimeout = time.Duration(c.Browser.NavTimeoutSec) * time.Second
	out.SettleDelay = time.Duration(c.Browser.SettleDelayMs) * time.Millisecond
	out.DetectorMinHTMLBytes = c.Browser.DetectorMinBytes
	out.OutputDir = c.Output.Dir
	return out
}
