package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
	closed  bool
}

func (w *recordingWriter) Write(_ context.Context, records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, records)
	return w.err
}

func (w *recordingWriter) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func speech(text string) Record {
	return Record{Collection: CollectionTranslations, Fields: map[string]any{"original_text": text}}
}

func TestBatcherFlushOnMaxSize(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(w, 2, time.Hour)

	require.NoError(t, b.Save(context.Background(), speech("a")))
	require.NoError(t, b.Save(context.Background(), speech("b")))

	assert.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBatcherFlushOnDelay(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(w, 100, 20*time.Millisecond)

	require.NoError(t, b.Save(context.Background(), speech("a")))
	assert.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcherStampsTimestamp(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(w, 1, time.Hour)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	require.NoError(t, b.Save(context.Background(), speech("a")))
	require.NoError(t, b.Close(context.Background()))

	require.Len(t, w.batches, 1)
	assert.Equal(t, fixed, w.batches[0][0].Fields[TimestampField])
}

func TestStampedKeepsExistingTimestamp(t *testing.T) {
	existing := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Record{Fields: map[string]any{TimestampField: existing}}

	got := r.Stamped(time.Now())
	assert.Equal(t, existing, got.Fields[TimestampField])
}

func TestBatcherCloseDrainsAndRejects(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(w, 100, time.Hour)

	require.NoError(t, b.Save(context.Background(), speech("a")))
	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, 1, w.count())
	assert.True(t, w.closed)
	err := b.Save(context.Background(), speech("late"))
	assert.True(t, apperrors.IsCode(err, apperrors.CodePersistence))
}

func TestBatcherWriteFailureIsSwallowed(t *testing.T) {
	w := &recordingWriter{err: errors.New("db down")}
	b := NewBatcher(w, 1, time.Hour)

	assert.NoError(t, b.Save(context.Background(), speech("a")))
	assert.NoError(t, b.Close(context.Background()))
}

func TestSummaryRecord(t *testing.T) {
	end := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	r := SummaryRecord("s1", window.Summary{
		DominantLabel: "Happy",
		Distribution:  map[string]int{"Happy": 3, "Sad": 1},
		SampleCount:   4,
		EndedAt:       end,
	})

	assert.Equal(t, CollectionEmotions, r.Collection)
	assert.Equal(t, "s1", r.SessionID())
	assert.Equal(t, "Happy", r.Fields["dominant_emotion"])
	assert.Equal(t, 4, r.Fields["sample_count"])
	assert.Equal(t, end, r.Fields[TimestampField])
}
