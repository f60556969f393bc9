//go:build darwin

package vision

// inputArgs reads from an AVFoundation device index. Linux-style paths fall
// back to the default camera.
func inputArgs(device string) []string {
	if device == "" || device[0] == '/' {
		device = "0"
	}
	return []string{"-f", "avfoundation", "-framerate", "30", "-i", device}
}
