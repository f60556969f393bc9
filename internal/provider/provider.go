// Package provider defines the inference capabilities a turn depends on.
// Implementations live in grpcclient, translate/* and provider/stub.
package provider

import (
	"context"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
)

// Transcript is the recognized text of an utterance and its detected language.
// Empty Text means silence.
type Transcript struct {
	Text     string
	Language string
}

// Transcriber converts canonical WAV audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (Transcript, error)
}

// Emotion is a classifier verdict. Scores are percentages keyed by raw label.
type Emotion struct {
	Label  string
	Scores map[string]float64
}

// EmotionClassifier labels an audio clip or a video frame.
type EmotionClassifier interface {
	Classify(ctx context.Context, data []byte) (Emotion, error)
}

// Translator translates text between two languages. Source may be lang.Auto.
type Translator interface {
	Translate(ctx context.Context, text string, source, target lang.Code) (string, error)
}

// Voice selects how synthesized speech sounds.
type Voice struct {
	Name    string // provider voice id, empty for the provider default
	Prosody emotion.Prosody
}

// Synthesizer renders text as encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, language lang.Code, voice Voice) ([]byte, error)
}

// Set bundles the providers one process uses.
type Set struct {
	Transcriber  Transcriber
	AudioEmotion EmotionClassifier
	VideoEmotion EmotionClassifier
	Translator   Translator
	Synthesizer  Synthesizer
}
