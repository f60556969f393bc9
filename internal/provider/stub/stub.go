// Package stub provides deterministic in-process providers for local runs
// and tests.
package stub

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/audio/codec"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
)

// wait simulates provider latency and honours cancellation.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transcriber returns scripted transcripts in round-robin order.
type Transcriber struct {
	Script          []provider.Transcript
	ProcessingDelay time.Duration
	Err             error

	mu    sync.Mutex
	next  int
	calls int
}

// DefaultScript is used when Script is empty.
var DefaultScript = []provider.Transcript{
	{Text: "Hello, nice to meet you.", Language: "en"},
	{Text: "만나서 반갑습니다.", Language: "ko"},
}

// Transcribe returns the next scripted transcript.
func (t *Transcriber) Transcribe(ctx context.Context, _ []byte) (provider.Transcript, error) {
	if err := wait(ctx, t.ProcessingDelay); err != nil {
		return provider.Transcript{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.Err != nil {
		return provider.Transcript{}, t.Err
	}
	script := t.Script
	if len(script) == 0 {
		script = DefaultScript
	}
	tr := script[t.next%len(script)]
	t.next++
	return tr, nil
}

// Calls returns how many times Transcribe ran.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Classifier returns a fixed verdict.
type Classifier struct {
	Result          provider.Emotion
	ProcessingDelay time.Duration
	Err             error
}

// Classify returns Result, defaulting to a neutral verdict.
func (c *Classifier) Classify(ctx context.Context, _ []byte) (provider.Emotion, error) {
	if err := wait(ctx, c.ProcessingDelay); err != nil {
		return provider.Emotion{}, err
	}
	if c.Err != nil {
		return provider.Emotion{}, c.Err
	}
	if c.Result.Label == "" {
		return provider.Emotion{Label: "neutral", Scores: map[string]float64{"neutral": 100}}, nil
	}
	return c.Result, nil
}

// Translator looks translations up in a dictionary and otherwise prefixes
// the text with the target language.
type Translator struct {
	Dictionary      map[lang.Code]map[string]string // [target][source text]
	ProcessingDelay time.Duration
	Err             error
}

// DefaultDictionary covers the phrases of DefaultScript.
var DefaultDictionary = map[lang.Code]map[string]string{
	"ko": {"Hello, nice to meet you.": "안녕하세요, 만나서 반갑습니다.", "hello": "안녕하세요"},
	"en": {"만나서 반갑습니다.": "Nice to meet you.", "안녕하세요": "hello"},
}

// Translate returns the dictionary entry or "[target] text".
func (t *Translator) Translate(ctx context.Context, text string, _, target lang.Code) (string, error) {
	if err := wait(ctx, t.ProcessingDelay); err != nil {
		return "", err
	}
	if t.Err != nil {
		return "", t.Err
	}
	dict := t.Dictionary
	if dict == nil {
		dict = DefaultDictionary
	}
	if translated, ok := dict[target][text]; ok {
		return translated, nil
	}
	return "[" + string(target) + "] " + text, nil
}

// Synthesizer returns a short silent WAV clip.
type Synthesizer struct {
	ProcessingDelay time.Duration
	Err             error

	mu     sync.Mutex
	voices []provider.Voice
}

// Synthesize records the requested voice and returns silence.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, _ lang.Code, voice provider.Voice) ([]byte, error) {
	if err := wait(ctx, s.ProcessingDelay); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	s.voices = append(s.voices, voice)
	s.mu.Unlock()
	return silentWAV(len(text)), nil
}

// Voices returns the voices requested so far.
func (s *Synthesizer) Voices() []provider.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// silentWAV returns roughly 10ms of silence per character of text.
func silentWAV(chars int) []byte {
	return codec.EncodeWAV(make([]float32, (chars+1)*160), 16000)
}

// New returns a Set wired entirely with stubs.
func New() provider.Set {
	return provider.Set{
		Transcriber:  &Transcriber{},
		AudioEmotion: &Classifier{},
		VideoEmotion: &Classifier{},
		Translator:   &Translator{},
		Synthesizer:  &Synthesizer{},
	}
}
