package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// patternJPEG renders visually distinct test frames.
func patternJPEG(pattern int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var c color.RGBA
			switch pattern {
			case 0:
				c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
			case 1:
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{A: 255}
				}
			case 2:
				c = color.RGBA{R: uint8(x * 4), B: uint8(255 - x*4), A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}

type scriptedCamera struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *scriptedCamera) Grab(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	f := c.frames[0]
	if len(c.frames) > 1 {
		c.frames = c.frames[1:]
	}
	return f, nil
}

func (c *scriptedCamera) Close() {}

type countingClassifier struct {
	mu     sync.Mutex
	labels []string
	calls  int
	err    error
}

func (c *countingClassifier) Classify(context.Context, []byte) (provider.Emotion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return provider.Emotion{}, c.err
	}
	label := c.labels[min(c.calls-1, len(c.labels)-1)]
	return provider.Emotion{Label: label}, nil
}

func collecting(t *testing.T) *window.Aggregator {
	t.Helper()
	a := window.New()
	_, err := a.Start(time.Hour)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestSamplerReusesLabelForSimilarFrames(t *testing.T) {
	frame := patternJPEG(0)
	cam := &scriptedCamera{frames: [][]byte{frame, frame, frame}}
	cls := &countingClassifier{labels: []string{"hap", "sad"}}
	hub := NewHub()
	agg := collecting(t)
	hub.Register("s1", agg)

	s := NewSampler(cam, cls, hub, SamplerConfig{MaxHashDistance: DefaultMaxHashDistance})
	for range 3 {
		s.step(context.Background())
	}

	assert.Equal(t, 1, cls.calls)
	frames, reused := s.Stats()
	assert.Equal(t, int64(3), frames)
	assert.Equal(t, int64(2), reused)

	sum := agg.Stop()
	assert.Equal(t, 3, sum.SampleCount)
	assert.Equal(t, "Happy", sum.DominantLabel)
}

func TestSamplerClassifiesChangedScene(t *testing.T) {
	cam := &scriptedCamera{frames: [][]byte{patternJPEG(1), patternJPEG(2)}}
	cls := &countingClassifier{labels: []string{"neutral", "surprise"}}
	s := NewSampler(cam, cls, NewHub(), SamplerConfig{MaxHashDistance: DefaultMaxHashDistance})

	s.step(context.Background())
	s.step(context.Background())

	assert.Equal(t, 2, cls.calls)
	assert.Equal(t, "Surprise", s.Last())
}

func TestSamplerSkipsFailedFrames(t *testing.T) {
	hub := NewHub()
	agg := collecting(t)
	hub.Register("s1", agg)

	cam := &scriptedCamera{err: errors.New("device busy")}
	s := NewSampler(cam, &countingClassifier{labels: []string{"happy"}}, hub, SamplerConfig{})
	s.step(context.Background())

	cam.err = nil
	cam.frames = [][]byte{patternJPEG(0)}
	failing := NewSampler(cam, &countingClassifier{err: errors.New("model down")}, hub, SamplerConfig{})
	failing.step(context.Background())

	assert.Equal(t, 0, agg.Stop().SampleCount)
	assert.Equal(t, "Unknown", failing.Last())
}

func TestSamplerRunStopsWithContext(t *testing.T) {
	cam := &scriptedCamera{frames: [][]byte{patternJPEG(0)}}
	s := NewSampler(cam, &countingClassifier{labels: []string{"happy"}}, NewHub(), SamplerConfig{Rate: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { f, _ := s.Stats(); return f > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())
	cancel()
	<-done
	assert.False(t, s.Running())
}

func TestHubFansOutToOpenWindows(t *testing.T) {
	hub := NewHub()
	open1, open2 := collecting(t), collecting(t)
	idle := window.New()
	hub.Register("a", open1)
	hub.Register("b", open2)
	hub.Register("c", idle)
	assert.Equal(t, 3, hub.Len())

	assert.Equal(t, 2, hub.Broadcast(window.Sample{Label: "Happy"}))

	hub.Unregister("b")
	assert.Equal(t, 1, hub.Broadcast(window.Sample{Label: "Sad"}))

	assert.Equal(t, 2, open1.Stop().SampleCount)
	assert.Equal(t, 1, open2.Stop().SampleCount)
	assert.Equal(t, 0, idle.Stop().SampleCount)
}

func TestDecodeFrame(t *testing.T) {
	raw := patternJPEG(0)
	enc := base64.StdEncoding.EncodeToString(raw)

	data, img, err := DecodeFrame(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
	assert.Equal(t, 64, img.Bounds().Dx())

	_, _, err = DecodeFrame("data:image/jpeg;base64," + enc)
	assert.NoError(t, err)

	_, _, err = DecodeFrame("not base64!")
	assert.True(t, errors.Is(err, apperrors.ErrDecode))

	_, _, err = DecodeFrame(base64.StdEncoding.EncodeToString([]byte("plain text")))
	assert.True(t, errors.Is(err, apperrors.ErrDecode))
}
