// Package store hands turn and summary records to a persistence backend.
// Persistence is best effort: callers log failures and carry on.
package store

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// Collections records are filed under.
const (
	CollectionTranslations = "translations"
	CollectionEmotions     = "emotions"
)

// TimestampField is added to every record that lacks it.
const TimestampField = "timestamp"

// Record is one document destined for a collection.
type Record struct {
	Collection string
	Fields     map[string]any
}

// Stamped returns a copy of r that carries a timestamp, keeping an existing one.
func (r Record) Stamped(now time.Time) Record {
	fields := make(map[string]any, len(r.Fields)+1)
	maps.Copy(fields, r.Fields)
	if _, ok := fields[TimestampField]; !ok {
		fields[TimestampField] = now.UTC()
	}
	return Record{Collection: r.Collection, Fields: fields}
}

// SessionID returns the record's session_id field, if any.
func (r Record) SessionID() string {
	id, _ := r.Fields["session_id"].(string)
	return id
}

// SummaryRecord builds the emotions document for a closed window.
func SummaryRecord(sessionID string, s window.Summary) Record {
	return Record{
		Collection: CollectionEmotions,
		Fields: map[string]any{
			"session_id":           sessionID,
			"dominant_emotion":     s.DominantLabel,
			"emotion_distribution": s.Distribution,
			"sample_count":         s.SampleCount,
			TimestampField:         s.EndedAt.UTC(),
		},
	}
}

// Sink accepts records for persistence.
type Sink interface {
	Save(ctx context.Context, r Record) error
	Close(ctx context.Context) error
}

// Writer persists a batch of records. Backends implement Writer and are
// wrapped in a Batcher.
type Writer interface {
	Write(ctx context.Context, records []Record) error
	Close(ctx context.Context) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Save(context.Context, Record) error { return nil }
func (Nop) Close(context.Context) error        { return nil }

// LogWriter writes records to the structured log.
type LogWriter struct {
	Logger *slog.Logger
}

// Write logs each record at info level.
func (w LogWriter) Write(_ context.Context, records []Record) error {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	for _, r := range records {
		log.Info("record", "collection", r.Collection, "fields", r.Fields)
	}
	return nil
}

func (LogWriter) Close(context.Context) error { return nil }
