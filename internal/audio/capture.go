// Package audio captures the local microphone for listen mode. The capturer
// is the only owner of the input device; consumers read chunks from Output.
package audio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// Chunk represents a captured audio chunk.
type Chunk struct {
	Data      []float32
	DeviceID  string
	Timestamp int64
}

// Capturer captures mono audio from one input device with backpressure:
// chunks are dropped when the consumer falls behind.
type Capturer struct {
	outCh        chan Chunk
	sampleRate   int
	framesPerBuf int
	device       string // name filter, empty for the default input
	mu           sync.Mutex
	running      bool
	stream       *portaudio.Stream
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewCapturer initializes PortAudio. device selects an input by
// case-insensitive name substring.
func NewCapturer(sampleRate, bufferSize int, device string) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "initialize portaudio")
	}
	return &Capturer{
		outCh:        make(chan Chunk, bufferSize),
		sampleRate:   sampleRate,
		framesPerBuf: FramesPerBuffer,
		device:       device,
	}, nil
}

// Output returns the channel for receiving audio chunks. It is closed after
// Stop.
func (c *Capturer) Output() <-chan Chunk { return c.outCh }

// Start opens the selected device and begins reading.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := c.selectDevice()
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.framesPerBuf,
	}
	buf := make([]float32, c.framesPerBuf)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeUnavailable, "open %s", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperrors.Wrapf(err, apperrors.CodeUnavailable, "start %s", dev.Name)
	}

	devCtx, cancel := context.WithCancel(ctx)
	c.stream, c.cancel, c.done, c.running = stream, cancel, make(chan struct{}), true
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate)

	go c.read(devCtx, stream, buf, dev.Name, c.done)
	return nil
}

func (c *Capturer) read(ctx context.Context, stream *portaudio.Stream, buf []float32, deviceID string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			slog.Debug("audio read error", "device", deviceID, "error", err)
			return
		}

		chunk := Chunk{
			Data:      append([]float32(nil), buf...),
			DeviceID:  deviceID,
			Timestamp: time.Now().UnixNano(),
		}
		select {
		case c.outCh <- chunk:
		default:
			slog.Debug("audio buffer full, dropping chunk", "device", deviceID)
		}
	}
}

func (c *Capturer) selectDevice() (*portaudio.DeviceInfo, error) {
	if c.device == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "no default input device")
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "list audio devices")
	}
	if dev := pickDevice(devices, c.device); dev != nil {
		return dev, nil
	}
	return nil, apperrors.Newf(apperrors.CodeUnavailable, "no input device matching %q", c.device)
}

// pickDevice returns the first input device whose name contains want,
// preferring built-in microphones when several match.
func pickDevice(devices []*portaudio.DeviceInfo, want string) *portaudio.DeviceInfo {
	want = strings.ToLower(want)
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || !strings.Contains(strings.ToLower(dev.Name), want) {
			continue
		}
		if best == nil || (isBuiltIn(dev.Name) && !isBuiltIn(best.Name)) {
			best = dev
		}
	}
	return best
}

func isBuiltIn(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "built-in") || strings.Contains(name, "macbook")
}

// Stop stops capture, releases the device and closes Output.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.cancel()
		_ = c.stream.Stop()
		<-c.done
		_ = c.stream.Close()
		c.running = false
		close(c.outCh)
	}
	_ = portaudio.Terminate()
}
