// Package crawler defines the core types and interfaces for the agency
// directory crawl engine: the three-stage pipeline (categories, agency
// listings, agency detail pages), its retry policy, and the persistence
// contract the engine drives.
package crawler

import (
	"errors"
	"net/http"
	"time"
)

// Sentinel errors shared across store implementations and the engine.
var (
	// ErrNotFound is returned when an operation references an unknown row id.
	// Hitting it during a crawl means an invariant was violated upstream.
	ErrNotFound = errors.New("not found")

	// ErrSessionRunning is returned by StartSession while another session row
	// is still in StatusRunning for the same store.
	ErrSessionRunning = errors.New("another scraping session is running")

	// ErrNavigation wraps a render failure that survived the full retry
	// budget. Listing-page navigation errors abort the category's pagination
	// loop; detail-page errors only skip that one agency.
	ErrNavigation = errors.New("navigation failed")
)

// Category is one grouping of agencies on the directory, with its own listing
// page(s). Identity is the category name.
type Category struct {
	ID          int64
	Name        string
	Link        string
	AgencyCount int
	Scraped     bool
	LastPage    int
	LastUpdated time.Time
}

// Agency is a business entity listed under a category. Identity is the
// (CategoryID, Name) pair. Detail fields stay empty until the detail pass
// visits the agency's detail page.
type Agency struct {
	ID            int64
	CategoryID    int64
	CategoryName  string
	Name          string
	SiteURL       string
	LogoURL       string
	LocalLogoPath string
	Description   string
	Idx           string
	DetailURL     string
	DetailDesc    string
	DetailScraped bool
	LastUpdated   time.Time
}

// SessionStatus is the lifecycle state of a scraping session.
type SessionStatus string

// Session status values persisted in the store. A session left in
// StatusRunning by a dead process marks a crashed run.
const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Session tracks one complete run of the engine. Counters are monotonically
// non-decreasing within a run.
type Session struct {
	ID                string
	StartedAt         time.Time
	EndedAt           *time.Time
	CategoriesTotal   int
	CategoriesScraped int
	AgenciesTotal     int
	AgenciesScraped   int
	DetailsTotal      int
	DetailsScraped    int
	Status            SessionStatus
}

// SessionDelta carries counter increments for UpdateSessionCounters. All
// fields are additive; negative values are rejected by store implementations.
type SessionDelta struct {
	CategoriesTotal   int
	CategoriesScraped int
	AgenciesTotal     int
	AgenciesScraped   int
	DetailsTotal      int
	DetailsScraped    int
}

// IsZero reports whether the delta would change nothing.
func (d SessionDelta) IsZero() bool {
	return d == SessionDelta{}
}

// Page is a rendered (or probed) document snapshot.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	UsedJS     bool
}

// ContentLength reports the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// CategoryListing is the raw tuple extracted from the directory root, before
// it is upserted into the store.
type CategoryListing struct {
	Name        string
	Link        string
	AgencyCount int
}

// AgencyListing is the raw tuple extracted from one listing-page card.
type AgencyListing struct {
	Name        string
	SiteURL     string
	LogoURL     string
	Description string
	Href        string
}
