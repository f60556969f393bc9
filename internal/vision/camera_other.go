//go:build !linux && !darwin && !windows

package vision

func inputArgs(device string) []string {
	return []string{"-i", device}
}
