// Package sinks holds progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event at a level matching its severity.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.Time("ts", evt.TS),
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", evt.Category))
		}
		if evt.Agency != "" {
			fields = append(fields, zap.String("agency", evt.Agency))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		switch evt.Stage {
		case progress.StageNavRetry, progress.StageUnitFailed:
			s.logger.Warn(string(evt.Stage), fields...)
		default:
			s.logger.Info(string(evt.Stage), fields...)
		}
	}
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (s *LogSink) Close(_ context.Context) error {
	return nil
}
