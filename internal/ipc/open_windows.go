//go:build windows

package ipc

import "os"

// openNoFollow has no O_NOFOLLOW equivalent on Windows; the preceding
// Lstat/fstat symlink checks in secureRead are the only guard on this
// platform.
func openNoFollow(path string) (*os.File, error) {
	return os.Open(path)
}
