package crawler

import (
	"context"
	"time"
)

// Store persists categories, agencies, and session progress. All methods are
// safe for concurrent callers: implementations serialize each logical
// operation so writers never interleave mid-statement and readers never
// observe a half-written row.
type Store interface {
	// UpsertCategory inserts or updates a category by name and returns its
	// stable id. It never clears an existing scraped flag.
	UpsertCategory(ctx context.Context, name, link string, agencyCount int) (int64, error)
	// UpsertAgency inserts or updates an agency by (CategoryID, Name) and
	// returns its stable id. It never clears existing detail text or an
	// existing DetailScraped flag.
	UpsertAgency(ctx context.Context, a Agency) (int64, error)
	// RecordAgencyDetail stores the long-form description and flips
	// DetailScraped to true. Returns ErrNotFound for an unknown agency id.
	RecordAgencyDetail(ctx context.Context, agencyID int64, detailDesc string) error
	// MarkCategoryScraped sets the scraped flag; a no-op if already set.
	MarkCategoryScraped(ctx context.Context, categoryID int64) error
	// SetCategoryLastPage records the last fully processed listing page so an
	// interrupted pass resumes where it died.
	SetCategoryLastPage(ctx context.Context, categoryID int64, page int) error
	// AgenciesMissingDetail returns every agency with DetailScraped=false.
	AgenciesMissingDetail(ctx context.Context) ([]Agency, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListAgencies(ctx context.Context) ([]Agency, error)

	// StartSession opens a new session row in StatusRunning. Returns
	// ErrSessionRunning if one is already open.
	StartSession(ctx context.Context, categoriesTotal, agenciesTotal int) (string, error)
	// UpdateSessionCounters adds the delta to the session's counters.
	UpdateSessionCounters(ctx context.Context, sessionID string, delta SessionDelta) error
	// CloseSession stamps the end time and terminal status.
	CloseSession(ctx context.Context, sessionID string, status SessionStatus) error
	// LatestSession returns the most recently started session, or ErrNotFound
	// when the store has never run.
	LatestSession(ctx context.Context) (Session, error)

	Close() error
}

// Renderer loads a URL in a real browser tab, waits for dynamic content to
// settle, and returns the DOM snapshot. The crawl is sequential, so a single
// tab is reused; Evaluate runs a script (e.g. a pagination click) in that tab
// and re-snapshots it.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Evaluate(ctx context.Context, script string) (Page, error)
	Close(ctx context.Context) error
}

// Fetcher retrieves a page without JavaScript. Used to probe detail pages
// before paying for a headless render.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Detector decides whether a probed page needs a JavaScript render.
type Detector interface {
	NeedsJS(ctx context.Context, page Page) bool
}

// AssetFetcher downloads a logo to a deterministic local path, skipping the
// download when the file already exists. A failed download is non-fatal; the
// caller keeps a null logo path.
type AssetFetcher interface {
	FetchLogo(ctx context.Context, logoURL, categoryName, agencyName string) (string, error)
}

// RetryPolicy governs per-navigation retries.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
