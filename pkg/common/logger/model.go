package logger

import (
	"context"
	"log/slog"
	"time"
)

// Level represents the minimum level a log event must have to be emitted.
type Level slog.Level

const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// Record captures the details of a log event as handed to event functions.
type Record struct {
	Time       time.Time
	Message    string
	Level      Level
	Attributes map[string]any
}

func toRecord(r slog.Record) Record {
	atts := make(map[string]any, r.NumAttrs())
	r.Attrs(func(attr slog.Attr) bool {
		atts[attr.Key] = attr.Value.Any()
		return true
	})

	return Record{
		Time:       r.Time,
		Message:    r.Message,
		Level:      Level(r.Level),
		Attributes: atts,
	}
}

// EventFn is executed when a log event at the matching level is emitted.
type EventFn func(ctx context.Context, r Record)

// Events lets callers hook custom handling into specific log levels, e.g.
// shipping error events to an alerting channel.
type Events struct {
	Debug EventFn
	Info  EventFn
	Warn  EventFn
	Error EventFn
}

// TraceIDFn extracts a trace id from the context so log lines can be
// correlated with spans.
type TraceIDFn func(ctx context.Context) string
