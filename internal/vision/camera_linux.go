//go:build linux

package vision

// inputArgs reads from a V4L2 device such as /dev/video0.
func inputArgs(device string) []string {
	return []string{"-f", "v4l2", "-i", device}
}
