//go:build !windows

package ipc

import (
	"os"
	"syscall"
)

// openNoFollow opens path refusing to traverse a final symlink component,
// so a TOCTOU swap between the preceding Lstat and this Open cannot
// redirect the read to an attacker-controlled target.
func openNoFollow(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
