package vision

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// SamplerConfig configures the ambient loop.
type SamplerConfig struct {
	Rate            float64 // Hz
	MaxHashDistance int
	ClassifyTimeout time.Duration
}

// Sampler is the single reader of the camera. Each tick it grabs a frame,
// labels it and broadcasts the label. Frames that look like the previous one
// reuse its label instead of calling the classifier again.
type Sampler struct {
	camera     Camera
	classifier provider.EmotionClassifier
	hub        *Hub
	cfg        SamplerConfig

	mu        sync.RWMutex
	lastHash  *goimagehash.ImageHash
	lastLabel string

	running atomic.Bool
	frames  atomic.Int64
	reused  atomic.Int64
}

// NewSampler creates a sampler that feeds hub.
func NewSampler(camera Camera, classifier provider.EmotionClassifier, hub *Hub, cfg SamplerConfig) *Sampler {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.MaxHashDistance < 0 {
		cfg.MaxHashDistance = DefaultMaxHashDistance
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	return &Sampler{camera: camera, classifier: classifier, hub: hub, cfg: cfg}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	interval := time.Duration(float64(time.Second) / s.cfg.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := trace.Logger(ctx)
	log.Info("camera sampler started", "rate", s.cfg.Rate)
	for {
		select {
		case <-ctx.Done():
			log.Info("camera sampler stopped", "frames", s.frames.Load(), "reused", s.reused.Load())
			return
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// step grabs, labels and broadcasts one frame.
func (s *Sampler) step(ctx context.Context) {
	frame, err := s.camera.Grab(ctx)
	if err != nil {
		trace.Logger(ctx).Debug("camera grab failed", "error", err)
		return
	}
	label, ok := s.label(ctx, frame)
	if !ok {
		return
	}
	s.frames.Add(1)
	s.hub.Broadcast(window.Sample{Label: label, At: time.Now()})
}

// label classifies frame unless it matches the previous one.
func (s *Sampler) label(ctx context.Context, frame []byte) (string, bool) {
	_, img, err := decodeRaw(frame)
	if err == nil {
		if label, ok := s.reuse(img); ok {
			s.reused.Add(1)
			return label, true
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifyTimeout)
	defer cancel()
	verdict, err := s.classifier.Classify(cctx, frame)
	if err != nil {
		trace.Logger(ctx).Debug("frame classification failed", "error", err)
		return "", false
	}
	label := emotion.Normalize(verdict.Label, verdict.Scores)

	s.mu.Lock()
	s.lastLabel = label
	s.mu.Unlock()
	return label, true
}

// reuse computes the frame's perceptual hash and returns the previous label
// when the distance is within MaxHashDistance. The stored hash only moves
// when the scene changes.
func (s *Sampler) reuse(img image.Image) (string, bool) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastHash == nil || s.lastLabel == "" {
		s.lastHash = hash
		return "", false
	}
	dist, err := s.lastHash.Distance(hash)
	if err != nil || dist > s.cfg.MaxHashDistance {
		s.lastHash = hash
		return "", false
	}
	return s.lastLabel, true
}

// Last returns the most recent label, or Unknown before the first frame.
func (s *Sampler) Last() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastLabel == "" {
		return emotion.Unknown
	}
	return s.lastLabel
}

// Running reports whether Run is active.
func (s *Sampler) Running() bool { return s.running.Load() }

// Stats returns labelled frames and how many reused a previous label.
func (s *Sampler) Stats() (frames, reused int64) {
	return s.frames.Load(), s.reused.Load()
}
