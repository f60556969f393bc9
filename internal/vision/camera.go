// Package vision samples the ambient camera and turns frames into emotion
// samples for every open collection window.
package vision

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// Camera grabs still frames from a capture device. The sampler is its only
// caller.
type Camera interface {
	Grab(ctx context.Context) ([]byte, error)
	Close()
}

// ffmpegCamera grabs one JPEG per call through ffmpeg. The input arguments
// are platform specific (see camera_<os>.go).
type ffmpegCamera struct {
	device  string
	tempDir string
}

// NewCamera opens device through ffmpeg.
func NewCamera(device string) (Camera, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "ffmpeg not found")
	}
	tmpDir, err := os.MkdirTemp("", "emotalk-camera-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return &ffmpegCamera{device: device, tempDir: tmpDir}, nil
}

func (c *ffmpegCamera) Grab(ctx context.Context) ([]byte, error) {
	out := filepath.Join(c.tempDir, "frame.jpg")
	args := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, inputArgs(c.device)...)
	args = append(args, "-frames:v", "1", "-q:v", "4", out)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "camera grab: %s", stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "read frame")
	}
	_ = os.Remove(out)
	return data, nil
}

func (c *ffmpegCamera) Close() {
	if c.tempDir != "" && c.tempDir != os.TempDir() {
		_ = os.RemoveAll(c.tempDir)
	}
}
