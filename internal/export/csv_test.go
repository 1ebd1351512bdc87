package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/crawler"
	"github.com/agencyscope/agencydir/internal/store"
)

func TestExportAllWritesThreeFiles(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	catID, err := st.UpsertCategory(ctx, "디자인", "https://example.com/dir", 2)
	require.NoError(t, err)
	agencyID, err := st.UpsertAgency(ctx, crawler.Agency{
		CategoryID:   catID,
		CategoryName: "디자인",
		Name:         "acme",
		SiteURL:      "https://acme.test",
		Description:  "has, commas, in it",
		Idx:          "7806",
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordAgencyDetail(ctx, agencyID, "line one\nline two"))

	sessID, err := st.StartSession(ctx, 1, 2)
	require.NoError(t, err)
	require.NoError(t, st.CloseSession(ctx, sessID, crawler.StatusCompleted))

	dir := t.TempDir()
	written, err := NewExporter(st, dir, zap.NewNop()).ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, written, 3)

	raw, err := os.ReadFile(filepath.Join(dir, "agencies.csv"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "agency_name")
	assert.Contains(t, content, "agency_idx")
	assert.Contains(t, content, "acme")
	assert.Contains(t, content, "7806")
	assert.Contains(t, content, `"has, commas, in it"`)
	assert.Contains(t, content, "line one")

	raw, err = os.ReadFile(filepath.Join(dir, "scraping_status.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), sessID)
	assert.Contains(t, string(raw), "completed")
}

func TestExportAllOnEmptyStoreWritesHeaders(t *testing.T) {
	dir := t.TempDir()
	written, err := NewExporter(store.NewMemory(), dir, zap.NewNop()).ExportAll(context.Background())
	require.NoError(t, err)
	require.Len(t, written, 3)

	raw, err := os.ReadFile(filepath.Join(dir, "categories.csv"))
	require.NoError(t, err)
	header := strings.TrimSpace(string(raw))
	assert.Equal(t, "category_name,category_link,agency_count,scraped,last_updated", header)
}
