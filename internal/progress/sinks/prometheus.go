package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agencyscope/agencydir/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns all
// collectors for the pipeline stages.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	categoriesScraped prometheus.Counter
	agenciesUpserted  *prometheus.CounterVec
	detailsScraped    prometheus.Counter
	navRetries        prometheus.Counter
	unitFailures      *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agencydir_sessions_started_total",
			Help: "Total scraping sessions started.",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agencydir_sessions_completed_total",
			Help: "Total sessions closed, partitioned by terminal status.",
		}, []string{"status"}),
		categoriesScraped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agencydir_categories_scraped_total",
			Help: "Categories whose listing pages were fully consumed.",
		}),
		agenciesUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agencydir_agencies_upserted_total",
			Help: "Agency rows upserted, partitioned by category.",
		}, []string{"category"}),
		detailsScraped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agencydir_details_scraped_total",
			Help: "Agency detail descriptions recorded.",
		}),
		navRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agencydir_nav_retries_total",
			Help: "Navigation attempts that were retried.",
		}),
		unitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agencydir_unit_failures_total",
			Help: "Units of work skipped after exhausting retries, by stage.",
		}, []string{"stage"}),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.categoriesScraped,
		s.agenciesUpserted,
		s.detailsScraped,
		s.navRetries,
		s.unitFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSessionStart:
			s.sessionsStarted.Inc()
		case progress.StageSessionDone:
			s.sessionsCompleted.WithLabelValues(evt.Status).Inc()
		case progress.StageCategoryScraped:
			s.categoriesScraped.Inc()
		case progress.StageAgencyUpserted:
			s.agenciesUpserted.WithLabelValues(evt.Category).Inc()
		case progress.StageDetailScraped:
			s.detailsScraped.Inc()
		case progress.StageNavRetry:
			s.navRetries.Inc()
		case progress.StageUnitFailed:
			s.unitFailures.WithLabelValues(evt.Scope).Inc()
		}
	}
	return nil
}

// Close is a no-op; collectors live for the process lifetime.
func (s *PrometheusSink) Close(_ context.Context) error {
	return nil
}
