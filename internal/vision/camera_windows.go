//go:build windows

package vision

// inputArgs reads from a DirectShow device by name.
func inputArgs(device string) []string {
	return []string{"-f", "dshow", "-i", "video=" + device}
}
