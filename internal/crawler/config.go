package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the settings for a crawl session. It is decoupled from viper so
// the engine and its collaborators stay testable without configuration files.
type Config struct {
	// BaseURL is the directory site root; relative links are resolved
	// against it.
	BaseURL string
	// DirectoryPath is the path of the category directory page.
	DirectoryPath string
	// DetailPathFormat builds a detail-page path from an agency idx.
	DetailPathFormat string

	// TargetCategories filters the crawl to the named categories. Empty
	// means all.
	TargetCategories []string
	// MaxAgenciesPerCategory caps listing extraction per category. Zero or
	// negative means unlimited.
	MaxAgenciesPerCategory int
	// SkipDetails disables the detail pass.
	SkipDetails bool
	// RefetchScraped revisits categories already marked scraped.
	RefetchScraped bool

	Headless    bool
	UserAgent   string
	NavTimeout  time.Duration
	SettleDelay time.Duration
	// MaxNavAttempts is the per-navigation retry budget.
	MaxNavAttempts int
	// DetailNavAttempts is the (smaller) budget for detail pages.
	DetailNavAttempts int
	// HostQPS rate-limits navigations and logo downloads per host.
	HostQPS float64

	OutputDir string

	// DetectorMinHTMLBytes and friends tune the probe-or-render heuristic.
	DetectorMinHTMLBytes int
	DetectorSelectors    []string
	DetectorKeywords     []string
}

// DefaultConfig returns the settings observed on the live directory.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "https://www.i-boss.co.kr",
		DirectoryPath:        "/ab-7553",
		DetailPathFormat:     "/ab-7554-%s",
		UserAgent:            "agencydir-bot/0.1",
		NavTimeout:           30 * time.Second,
		SettleDelay:          2 * time.Second,
		MaxNavAttempts:       3,
		DetailNavAttempts:    2,
		HostQPS:              2,
		OutputDir:            "agency_data",
		DetectorMinHTMLBytes: 2048,
		DetectorSelectors:    []string{"div.intro", "div._list"},
		DetectorKeywords:     []string{"enable javascript", "noscript"},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base url must be absolute, got %q", c.BaseURL)
	}
	if c.DirectoryPath == "" {
		return fmt.Errorf("directory path must be set")
	}
	if !strings.Contains(c.DetailPathFormat, "%s") {
		return fmt.Errorf("detail path format must contain %%s, got %q", c.DetailPathFormat)
	}
	if c.MaxNavAttempts <= 0 {
		return fmt.Errorf("max nav attempts must be > 0")
	}
	if c.NavTimeout <= 0 {
		return fmt.Errorf("nav timeout must be > 0")
	}
	return nil
}

// DirectoryURL returns the absolute URL of the category directory page.
func (c Config) DirectoryURL() string {
	return c.BaseURL + c.DirectoryPath
}

// DetailURL builds the absolute detail-page URL for an agency idx.
func (c Config) DetailURL(idx string) string {
	return c.BaseURL + fmt.Sprintf(c.DetailPathFormat, idx)
}

// AbsoluteURL resolves a possibly relative link against the base URL.
func (c Config) AbsoluteURL(link string) string {
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return c.BaseURL + link
}

// WantsCategory reports whether the category name is in the target set.
func (c Config) WantsCategory(name string) bool {
	if len(c.TargetCategories) == 0 {
		return true
	}
	for _, target := range c.TargetCategories {
		if strings.EqualFold(strings.TrimSpace(target), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
