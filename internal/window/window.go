// Package window aggregates labelled samples over a bounded time window.
//
// An Aggregator is owned by one session. Start, Append and Stop share a
// single lock, so a sample is either counted in the window it arrived in or
// dropped; it never lands in a buffer that Start just cleared.
package window

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// Sample is one labelled observation.
type Sample struct {
	Label string
	At    time.Time
}

// Summary describes a closed window.
type Summary struct {
	DominantLabel string         `json:"dominant_emotion"`
	Distribution  map[string]int `json:"emotion_distribution"`
	SampleCount   int            `json:"sample_count"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at"`
}

// Handle identifies one opened window. Done receives the window's summary
// exactly once when it closes by timer or Stop, and is closed without a
// value if the aggregator is closed first.
type Handle struct {
	ID        uint64
	StartedAt time.Time
	Duration  time.Duration
	done      chan Summary
}

// Done returns the channel that delivers this window's summary.
func (h *Handle) Done() <-chan Summary { return h.done }

// Aggregator collects samples between Start and Stop.
type Aggregator struct {
	mu      sync.Mutex
	open    bool
	samples []Sample
	handle  *Handle
	timer   *time.Timer
	nextID  uint64
	last    Summary
	closed  bool
	now     func() time.Time
}

// New creates an idle aggregator. Its last summary is the empty summary.
func New() *Aggregator {
	a := &Aggregator{now: time.Now}
	a.last = summarize(nil, time.Time{}, time.Time{})
	return a
}

// Start clears the buffer and opens a window that closes itself after d.
// It fails with ALREADY_COLLECTING if a window is open.
func (a *Aggregator) Start(d time.Duration) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, apperrors.New(apperrors.CodeConnectionClosed, "aggregator closed")
	}
	if a.open {
		return nil, apperrors.New(apperrors.CodeAlreadyCollecting, "already collecting")
	}
	a.nextID++
	h := &Handle{ID: a.nextID, StartedAt: a.now(), Duration: d, done: make(chan Summary, 1)}
	a.open = true
	a.samples = a.samples[:0]
	a.handle = h
	id := h.ID
	a.timer = time.AfterFunc(d, func() { a.expire(id) })
	return h, nil
}

// Append adds a sample to the open window. It reports whether the sample
// was retained; samples arriving while idle are dropped.
func (a *Aggregator) Append(s Sample) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return false
	}
	if s.At.IsZero() {
		s.At = a.now()
	}
	a.samples = append(a.samples, s)
	return true
}

// Stop closes the open window and returns its summary. When idle it returns
// the most recent summary unchanged.
func (a *Aggregator) Stop() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return a.last
	}
	return a.closeLocked()
}

// Collecting reports whether a window is open.
func (a *Aggregator) Collecting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Last returns the most recent summary without closing anything.
func (a *Aggregator) Last() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Close discards any open window without producing a summary. Further
// Start calls fail.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.handle != nil {
		close(a.handle.done)
		a.handle = nil
	}
	a.open = false
	a.samples = nil
}

func (a *Aggregator) expire(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// A stale timer from an earlier window must not close a newer one.
	if !a.open || a.handle == nil || a.handle.ID != id {
		return
	}
	a.closeLocked()
}

func (a *Aggregator) closeLocked() Summary {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	sum := summarize(a.samples, a.handle.StartedAt, a.now())
	a.last = sum
	a.open = false
	a.samples = a.samples[:0]
	a.handle.done <- sum
	a.handle = nil
	return sum
}

// summarize counts labels; the dominant label is the first to reach the
// maximum count in arrival order.
func summarize(samples []Sample, start, end time.Time) Summary {
	dist := make(map[string]int)
	dominant := emotion.Unknown
	best := 0
	for _, s := range samples {
		dist[s.Label]++
		if dist[s.Label] > best {
			best = dist[s.Label]
			dominant = s.Label
		}
	}
	return Summary{
		DominantLabel: dominant,
		Distribution:  dist,
		SampleCount:   len(samples),
		StartedAt:     start,
		EndedAt:       end,
	}
}
