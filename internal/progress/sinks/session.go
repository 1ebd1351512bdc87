package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/crawler"
	"github.com/agencyscope/agencydir/internal/progress"
)

// SessionCounterStore is the slice of the store the session sink needs.
type SessionCounterStore interface {
	UpdateSessionCounters(ctx context.Context, sessionID string, delta crawler.SessionDelta) error
}

// SessionSink folds event deltas into the persisted session counters. It
// collapses each batch into one store write per session to keep write
// amplification down.
type SessionSink struct {
	store  SessionCounterStore
	logger *zap.Logger
}

// NewSessionSink constructs a SessionSink over the store.
func NewSessionSink(store SessionCounterStore, logger *zap.Logger) *SessionSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSink{store: store, logger: logger}
}

// Consume accumulates the batch's deltas per session and forwards them.
func (s *SessionSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	totals := make(map[string]*progress.Delta)
	for _, evt := range batch {
		if evt.Delta.IsZero() {
			continue
		}
		delta, ok := totals[evt.SessionID]
		if !ok {
			delta = &progress.Delta{}
			totals[evt.SessionID] = delta
		}
		delta.Add(evt.Delta)
	}
	for sessionID, delta := range totals {
		err := s.store.UpdateSessionCounters(ctx, sessionID, crawler.SessionDelta{
			CategoriesTotal:   delta.CategoriesTotal,
			CategoriesScraped: delta.CategoriesScraped,
			AgenciesTotal:     delta.AgenciesTotal,
			AgenciesScraped:   delta.AgenciesScraped,
			DetailsTotal:      delta.DetailsTotal,
			DetailsScraped:    delta.DetailsScraped,
		})
		if err != nil {
			return fmt.Errorf("update session counters %s: %w", sessionID, err)
		}
	}
	return nil
}

// Close is a no-op; the store is owned by the caller.
func (s *SessionSink) Close(_ context.Context) error {
	return nil
}
