// Package export writes the directory store out as CSV files for analysts
// who consume the data outside the database.
package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/crawler"
)

// Exporter dumps store contents into CSV files under a directory.
type Exporter struct {
	store  crawler.Store
	dir    string
	logger *zap.Logger
}

// NewExporter constructs an Exporter writing into dir.
func NewExporter(store crawler.Store, dir string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, dir: dir, logger: logger}
}

type categoryRow struct {
	Name        string `csv:"category_name"`
	Link        string `csv:"category_link"`
	AgencyCount int    `csv:"agency_count"`
	Scraped     bool   `csv:"scraped"`
	LastUpdated string `csv:"last_updated"`
}

type agencyRow struct {
	Category      string `csv:"category_name"`
	Name          string `csv:"agency_name"`
	SiteURL       string `csv:"site_url"`
	LogoURL       string `csv:"logo_url"`
	LocalLogoPath string `csv:"local_logo_path"`
	Description   string `csv:"description"`
	Idx           string `csv:"agency_idx"`
	DetailURL     string `csv:"detail_url"`
	DetailDesc    string `csv:"detail_desc"`
	DetailScraped bool   `csv:"detailed_scraped"`
	LastUpdated   string `csv:"last_updated"`
}

type sessionRow struct {
	ID                string `csv:"session_id"`
	Status            string `csv:"status"`
	StartedAt         string `csv:"started_at"`
	EndedAt           string `csv:"ended_at"`
	CategoriesTotal   int    `csv:"categories_total"`
	CategoriesScraped int    `csv:"categories_scraped"`
	AgenciesTotal     int    `csv:"agencies_total"`
	AgenciesScraped   int    `csv:"agencies_scraped"`
	DetailsTotal      int    `csv:"details_total"`
	DetailsScraped    int    `csv:"details_scraped"`
}

// ExportAll writes categories.csv, agencies.csv, and scraping_status.csv and
// returns the paths written.
func (e *Exporter) ExportAll(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", e.dir)
	}

	var written []string

	categories, err := e.store.ListCategories(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: list categories")
	}
	catRows := make([]categoryRow, 0, len(categories))
	for _, c := range categories {
		catRows = append(catRows, categoryRow{
			Name:        c.Name,
			Link:        c.Link,
			AgencyCount: c.AgencyCount,
			Scraped:     c.Scraped,
			LastUpdated: formatTime(c.LastUpdated),
		})
	}
	path, err := writeCSV(filepath.Join(e.dir, "categories.csv"), catRows)
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	agencies, err := e.store.ListAgencies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: list agencies")
	}
	agencyRows := make([]agencyRow, 0, len(agencies))
	for _, a := range agencies {
		agencyRows = append(agencyRows, agencyRow{
			Category:      a.CategoryName,
			Name:          a.Name,
			SiteURL:       a.SiteURL,
			LogoURL:       a.LogoURL,
			LocalLogoPath: a.LocalLogoPath,
			Description:   a.Description,
			Idx:           a.Idx,
			DetailURL:     a.DetailURL,
			DetailDesc:    a.DetailDesc,
			DetailScraped: a.DetailScraped,
			LastUpdated:   formatTime(a.LastUpdated),
		})
	}
	path, err = writeCSV(filepath.Join(e.dir, "agencies.csv"), agencyRows)
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	sessionRows, err := e.sessionRows(ctx)
	if err != nil {
		return nil, err
	}
	path, err = writeCSV(filepath.Join(e.dir, "scraping_status.csv"), sessionRows)
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	e.logger.Info("export complete",
		zap.Int("categories", len(catRows)),
		zap.Int("agencies", len(agencyRows)),
		zap.String("dir", e.dir))
	return written, nil
}

func (e *Exporter) sessionRows(ctx context.Context) ([]sessionRow, error) {
	sess, err := e.store.LatestSession(ctx)
	if err != nil {
		if eris.Is(err, crawler.ErrNotFound) {
			return []sessionRow{}, nil
		}
		return nil, eris.Wrap(err, "export: latest session")
	}
	ended := ""
	if sess.EndedAt != nil {
		ended = formatTime(*sess.EndedAt)
	}
	return []sessionRow{{
		ID:                sess.ID,
		Status:            string(sess.Status),
		StartedAt:         formatTime(sess.StartedAt),
		EndedAt:           ended,
		CategoriesTotal:   sess.CategoriesTotal,
		CategoriesScraped: sess.CategoriesScraped,
		AgenciesTotal:     sess.AgenciesTotal,
		AgenciesScraped:   sess.AgenciesScraped,
		DetailsTotal:      sess.DetailsTotal,
		DetailsScraped:    sess.DetailsScraped,
	}}, nil
}

func writeCSV[T any](path string, rows []T) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return "", eris.Wrapf(err, "export: encode row in %s", path)
		}
	}
	// An empty table still gets its header row.
	if len(rows) == 0 {
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return "", eris.Wrapf(err, "export: encode header in %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrapf(err, "export: flush %s", path)
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "export: close %s", path)
	}
	return path, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
