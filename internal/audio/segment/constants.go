package segment

// Segmentation constants
const (
	// VAD window size, as required by the Silero model behind the remote detector.
	WindowSamples = 512

	Float32ByteSize = 4

	DefaultThreshold        = 0.5
	DefaultEnergyThreshold  = 0.02
	DefaultMaxSilenceChunks = 15
)
