package segment

import (
	"context"
	"math"
)

// EnergyVAD is a local detector that treats windows whose RMS exceeds
// Threshold as speech.
type EnergyVAD struct {
	Threshold float64
}

// DetectSpeech returns the RMS scaled so that Threshold maps to 0.5.
func (e EnergyVAD) DetectSpeech(_ context.Context, chunk []byte, _ int) (float32, bool, error) {
	samples := BytesToFloat32(chunk)
	if len(samples) == 0 {
		return 0, false, nil
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	prob := math.Min(1, rms/(2*threshold))
	return float32(prob), rms > threshold, nil
}

// ResetVAD is a no-op; the detector is stateless.
func (EnergyVAD) ResetVAD(context.Context) error { return nil }
