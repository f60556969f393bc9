// Package segment cuts a microphone stream into utterances with a speech
// detector.
package segment

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Detector classifies one window of little-endian float32 samples.
type Detector interface {
	DetectSpeech(ctx context.Context, chunk []byte, sampleRate int) (float32, bool, error)
	ResetVAD(ctx context.Context) error
}

// Handler receives a completed utterance.
type Handler func(ctx context.Context, samples []float32)

// Config for a Segmenter.
type Config struct {
	SampleRate       int
	Threshold        float64 // speech probability
	MaxSilenceChunks int     // trailing silent windows that end an utterance
	MinSpeechSamples int     // shorter utterances are dropped
}

// Segmenter accumulates windows of speech and hands each finished utterance
// to the handler. It serves a single stream.
type Segmenter struct {
	vad      Detector
	cfg      Config
	onSpeech Handler

	mu            sync.Mutex
	buffer        []float32
	speech        []float32
	speaking      bool
	silenceChunks int
}

// New creates a segmenter.
func New(vad Detector, cfg Config, onSpeech Handler) *Segmenter {
	if cfg.MinSpeechSamples == 0 {
		cfg.MinSpeechSamples = cfg.SampleRate / 2
	}
	if cfg.MaxSilenceChunks <= 0 {
		cfg.MaxSilenceChunks = DefaultMaxSilenceChunks
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Segmenter{vad: vad, cfg: cfg, onSpeech: onSpeech}
}

// Push feeds captured samples. The handler runs synchronously, so a turn
// finishes before the next utterance is cut.
func (s *Segmenter) Push(ctx context.Context, data []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, data...)
	for len(s.buffer) >= WindowSamples {
		win := s.buffer[:WindowSamples]
		s.buffer = s.buffer[WindowSamples:]

		prob, isSpeech, err := s.vad.DetectSpeech(ctx, Float32ToBytes(win), s.cfg.SampleRate)
		if err != nil {
			slog.Debug("VAD error", "error", err)
			continue
		}

		switch {
		case isSpeech || float64(prob) > s.cfg.Threshold:
			s.speaking = true
			s.silenceChunks = 0
			s.speech = append(s.speech, win...)
		case s.speaking:
			s.speech = append(s.speech, win...)
			s.silenceChunks++
			if s.silenceChunks > s.cfg.MaxSilenceChunks {
				s.emitLocked(ctx)
			}
		}
	}
}

// Flush emits any utterance in progress.
func (s *Segmenter) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		s.emitLocked(ctx)
	}
	s.buffer = s.buffer[:0]
}

func (s *Segmenter) emitLocked(ctx context.Context) {
	utterance := s.speech
	s.speaking = false
	s.speech = nil
	s.silenceChunks = 0
	_ = s.vad.ResetVAD(ctx)
	if len(utterance) > s.cfg.MinSpeechSamples {
		s.onSpeech(ctx, utterance)
	}
}

// Float32ToBytes converts float32 samples to little-endian bytes.
func Float32ToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*Float32ByteSize)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*Float32ByteSize:], math.Float32bits(v))
	}
	return buf
}

// BytesToFloat32 is the inverse of Float32ToBytes. Trailing bytes are ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/Float32ByteSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*Float32ByteSize:]))
	}
	return out
}
