package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LogoFetcher downloads agency logos to a content-addressed local path under
// {outputDir}/logos. Filenames are deterministic, so calling it twice for the
// same (category, agency) performs exactly one network download.
type LogoFetcher struct {
	client  *http.Client
	dir     string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLogoFetcher creates the logos directory and returns the fetcher.
func NewLogoFetcher(cfg Config, logger *zap.Logger) (*LogoFetcher, error) {
	dir := filepath.Join(cfg.OutputDir, "logos")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create logos dir %s: %w", dir, err)
	}
	var limiter *rate.Limiter
	if cfg.HostQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HostQPS), 1)
	}
	return &LogoFetcher{
		client:  &http.Client{Timeout: 10 * time.Second},
		dir:     dir,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// LogoPath returns the deterministic local path for a (category, agency)
// pair without touching the network.
func (f *LogoFetcher) LogoPath(categoryName, agencyName string) string {
	name := fmt.Sprintf("%s_%s.png", sanitizeName(categoryName), sanitizeName(agencyName))
	return filepath.Join(f.dir, name)
}

// FetchLogo downloads the logo unless the file already exists. It returns ""
// with a nil error for an empty URL, and an error for network or non-image
// failures; both leave the agency's logo path null.
func (f *LogoFetcher) FetchLogo(ctx context.Context, logoURL, categoryName, agencyName string) (string, error) {
	if logoURL == "" {
		return "", nil
	}
	if _, err := url.ParseRequestURI(logoURL); err != nil {
		return "", fmt.Errorf("logo url %q: %w", logoURL, err)
	}

	target := f.LogoPath(categoryName, agencyName)
	if _, err := os.Stat(target); err == nil {
		f.logger.Debug("logo already downloaded", zap.String("path", target))
		return target, nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("logo rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build logo request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download logo %s: %w", logoURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download logo %s: status %d", logoURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("download logo %s: content type %q is not an image", logoURL, ct)
	}

	tmp, err := os.CreateTemp(f.dir, ".logo-*")
	if err != nil {
		return "", fmt.Errorf("create temp logo file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stream logo %s: %w", logoURL, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp logo file: %w", err)
	}
	// Rename keeps a crashed download from leaving a half-written target.
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move logo into place: %w", err)
	}
	return target, nil
}

func sanitizeName(name string) string {
	cleaned := sanitize.BaseName(strings.TrimSpace(name))
	if cleaned == "" {
		// Korean names sanitize to nothing under BaseName's ASCII rules;
		// fall back to replacing only filesystem-hostile characters.
		cleaned = strings.Map(func(r rune) rune {
			switch r {
			case '\\', '/', '*', '?', ':', '"', '<', '>', '|', ' ':
				return '_'
			default:
				return r
			}
		}, strings.TrimSpace(name))
	}
	return cleaned
}
