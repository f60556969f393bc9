package audio

// FramesPerBuffer is the capture block size, 64ms at 16kHz.
const FramesPerBuffer = 1024
