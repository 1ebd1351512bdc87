package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLogoServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG fake bytes"))
		case "/error.png":
			http.Error(w, "gone", http.StatusNotFound)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newLogoFetcher(t *testing.T) *LogoFetcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.HostQPS = 0
	f, err := NewLogoFetcher(cfg, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchLogoDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := newLogoServer(t, &hits)
	f := newLogoFetcher(t)
	ctx := context.Background()

	path, err := f.FetchLogo(ctx, srv.URL+"/logo.png", "디자인", "acme")
	require.NoError(t, err)
	assert.Equal(t, f.LogoPath("디자인", "acme"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PNG")

	// Second call for the same pair hits the disk, not the network.
	again, err := f.FetchLogo(ctx, srv.URL+"/logo.png", "디자인", "acme")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchLogoEmptyURL(t *testing.T) {
	f := newLogoFetcher(t)
	path, err := f.FetchLogo(context.Background(), "", "디자인", "acme")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFetchLogoErrorsAreReported(t *testing.T) {
	var hits atomic.Int32
	srv := newLogoServer(t, &hits)
	f := newLogoFetcher(t)
	ctx := context.Background()

	_, err := f.FetchLogo(ctx, srv.URL+"/error.png", "디자인", "gone")
	assert.Error(t, err)

	_, err = f.FetchLogo(ctx, srv.URL+"/page.html", "디자인", "notimage")
	assert.Error(t, err)

	// A failed download leaves no file behind.
	entries, err := os.ReadDir(filepath.Dir(f.LogoPath("x", "y")))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogoPathSanitizesNames(t *testing.T) {
	f := newLogoFetcher(t)

	path := f.LogoPath("Design/Branding", "A*gency?")
	base := filepath.Base(path)
	assert.NotContains(t, base, "/")
	assert.NotContains(t, base, "*")
	assert.NotContains(t, base, "?")

	korean := filepath.Base(f.LogoPath("종합광고대행", "에이전시 원"))
	assert.Equal(t, "종합광고대행_에이전시_원.png", korean)
}
