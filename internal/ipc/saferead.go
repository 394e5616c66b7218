// Package ipc implements the safe-read contract used to pull artifact
// files back out of an agent's worktree: filenames are validated, the
// path is opened without following symlinks, and anything that fails a
// check is quarantined rather than silently rejected so an operator can
// inspect what the agent actually tried to hand back.
package ipc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxFileBytes bounds how much of an artifact file is read into memory.
const MaxFileBytes = 1 << 20 // 1 MiB

// ValidateFilename rejects path traversal and absolute paths. Artifact
// filenames are always relative to a worktree and must name a single
// path component or simple nested path beneath it, never escape it.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("empty filename")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute path not allowed: %s", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return fmt.Errorf("path traversal not allowed: %s", name)
	}
	return nil
}

// ReadFile safely reads an artifact file: it validates the filename,
// resolves it against dir, and performs a symlink-guarded read capped at
// MaxFileBytes. Violations quarantine the offending path under
// dir/errors/ instead of merely erroring, so the content survives for
// inspection.
func ReadFile(dir, name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	return secureRead(path, dir)
}

// CheckArtifact reports whether the named artifact exists beneath dir,
// without reading its contents. Used for the phase "check_artifact" gate.
func CheckArtifact(dir, name string) bool {
	if err := ValidateFilename(name); err != nil {
		return false
	}
	path := filepath.Join(dir, name)
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// ReadTrustedPath reads a path that is already known-safe (e.g. a config
// file under the daemon's own install directory), applying the same
// symlink and size guards but skipping filename validation since the
// caller, not an agent, supplied the path.
func ReadTrustedPath(path string) (string, error) {
	return secureRead(path, filepath.Dir(path))
}

// secureRead performs lstat -> O_NOFOLLOW open -> fstat -> bounded read
// -> UTF-8 validation. Any violation quarantines the file under
// quarantineDir/errors/ and returns an error describing why.
func secureRead(path, quarantineDir string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		quarantine(path, quarantineDir, "symlink")
		return "", fmt.Errorf("%s is a symlink, refusing to read", path)
	}
	if !info.Mode().IsRegular() {
		quarantine(path, quarantineDir, "not-a-regular-file")
		return "", fmt.Errorf("%s is not a regular file", path)
	}

	f, err := openNoFollow(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("fstat %s: %w", path, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 || !fi.Mode().IsRegular() {
		quarantine(path, quarantineDir, "changed-after-lstat")
		return "", fmt.Errorf("%s changed type between lstat and open", path)
	}
	if fi.Size() > MaxFileBytes {
		quarantine(path, quarantineDir, "too-large")
		return "", fmt.Errorf("%s exceeds max artifact size of %d bytes", path, MaxFileBytes)
	}

	buf := make([]byte, fi.Size())
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	buf = buf[:n]

	if !utf8.Valid(buf) {
		quarantine(path, quarantineDir, "invalid-utf8")
		return "", fmt.Errorf("%s is not valid UTF-8", path)
	}

	return string(buf), nil
}

// quarantine moves a file that failed a safety check into
// quarantineDir/errors/<basename>.<epoch>[.<n>], guarding against the
// destination directory itself being a symlink (in which case the
// offending file is simply deleted, never written through the symlink)
// and incrementing a collision counter so two rejections of the same file
// in the same second don't silently overwrite one another. Failures to
// quarantine are swallowed: the caller already has a definitive error to
// return, and quarantining is a best-effort forensic aid, not a
// load-bearing step.
func quarantine(path, quarantineDir, reason string) {
	errDir := filepath.Join(quarantineDir, "errors")
	if info, err := os.Lstat(errDir); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			slog.Warn("ipc: quarantine dir is a symlink, skipping move", "dir", errDir, "path", path, "reason", reason)
			_ = os.Remove(path)
			return
		}
	} else if os.MkdirAll(errDir, 0o755) != nil {
		slog.Warn("ipc: could not create quarantine dir", "dir", errDir, "path", path, "reason", reason)
		_ = os.Remove(path)
		return
	}

	base := filepath.Base(path)
	ts := time.Now().Unix()
	dest := filepath.Join(errDir, fmt.Sprintf("%s.%d", base, ts))
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(dest); err != nil {
			break
		}
		dest = filepath.Join(errDir, fmt.Sprintf("%s.%d.%d", base, ts, counter))
	}

	if err := os.Rename(path, dest); err != nil {
		slog.Warn("ipc: rename into quarantine failed, removing instead", "path", path, "dest", dest, "error", err)
		_ = os.Remove(path)
	}
}
