// Package progress defines the milestone events emitted by the crawl engine
// and the hub that fans them out to sinks (log lines, Prometheus counters,
// session counters in the store).
package progress

import (
	"context"
	"errors"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart    Stage = "SESSION_START"
	StageSessionDone     Stage = "SESSION_DONE"
	StageCategoriesFound Stage = "CATEGORIES_FOUND"
	StageCategoryScraped Stage = "CATEGORY_SCRAPED"
	StageAgencyUpserted  Stage = "AGENCY_UPSERTED"
	StageDetailsQueued   Stage = "DETAILS_QUEUED"
	StageDetailScraped   Stage = "DETAIL_SCRAPED"
	StageNavRetry        Stage = "NAV_RETRY"
	StageUnitFailed      Stage = "UNIT_FAILED"
)

// Delta mirrors the store's session counter increments so sinks can forward
// them without importing the crawler package.
type Delta struct {
	CategoriesTotal   int
	CategoriesScraped int
	AgenciesTotal     int
	AgenciesScraped   int
	DetailsTotal      int
	DetailsScraped    int
}

// IsZero reports whether the delta carries no increments.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Add accumulates another delta into this one.
func (d *Delta) Add(other Delta) {
	d.CategoriesTotal += other.CategoriesTotal
	d.CategoriesScraped += other.CategoriesScraped
	d.AgenciesTotal += other.AgenciesTotal
	d.AgenciesScraped += other.AgenciesScraped
	d.DetailsTotal += other.DetailsTotal
	d.DetailsScraped += other.DetailsScraped
}

// Event is one crawl milestone.
type Event struct {
	Stage     Stage
	SessionID string
	Category  string
	Agency    string
	URL       string
	// Scope labels the failing unit for StageUnitFailed ("listing",
	// "detail", "logo").
	Scope  string
	Note   string
	Status string
	Delta  Delta
	TS     time.Time
}

// Validate rejects events the sinks cannot attribute.
func (e Event) Validate() error {
	if e.Stage == "" {
		return errors.New("progress event missing stage")
	}
	if e.SessionID == "" {
		return errors.New("progress event missing session id")
	}
	if e.TS.IsZero() {
		return errors.New("progress event missing timestamp")
	}
	return nil
}

// Sink consumes batches of events. Implementations must tolerate repeated
// Close calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the engine-facing side of the hub.
type Emitter interface {
	Emit(evt Event)
}
