package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.BaseURL != "https://www.i-boss.co.kr" {
		t.Fatalf("unexpected default base url %q", cfg.Site.BaseURL)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite default driver, got %q", cfg.Store.Driver)
	}
	if !cfg.Browser.Headless {
		t.Fatal("expected headless default to be true")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  base_url: https://directory.example.com
  directory_path: /dir
  detail_path_format: /detail-%s
crawl:
  categories: ["디자인", "마케팅"]
  max_agencies: 40
  skip_details: true
  max_nav_attempts: 5
browser:
  headless: false
  nav_timeout_seconds: 45
  settle_delay_ms: 250
store:
  driver: postgres
  dsn: postgres://localhost/agencies
server:
  enabled: true
  port: 9090
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.BaseURL != "https://directory.example.com" {
		t.Fatalf("expected base url override, got %q", cfg.Site.BaseURL)
	}
	if len(cfg.Crawl.Categories) != 2 || cfg.Crawl.Categories[0] != "디자인" {
		t.Fatalf("expected category overrides, got %v", cfg.Crawl.Categories)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN == "" {
		t.Fatalf("expected postgres store config, got %+v", cfg.Store)
	}
	if cfg.Server.Port != 9090 || !cfg.Server.Enabled {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}

	ec := cfg.CrawlerConfig()
	if ec.NavTimeout != 45*time.Second {
		t.Fatalf("expected 45s nav timeout, got %v", ec.NavTimeout)
	}
	if ec.SettleDelay != 250*time.Millisecond {
		t.Fatalf("expected 250ms settle delay, got %v", ec.SettleDelay)
	}
	if !ec.SkipDetails || ec.MaxAgenciesPerCategory != 40 {
		t.Fatalf("expected crawl overrides in engine config, got %+v", ec)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"relative base url": "site:\n  base_url: i-boss.co.kr\n",
		"unknown driver":    "store:\n  driver: dynamo\n",
		"postgres no dsn":   "store:\n  driver: postgres\n",
		"zero nav attempts": "crawl:\n  max_nav_attempts: 0\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
