package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ReadFileScoped reads a file by opening a root at the file's directory.
// This scopes access to the intended directory and avoids path traversal.
func ReadFileScoped(path string) ([]byte, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// ResolveWithinRoot resolves path (following symlinks on every existing
// ancestor) and verifies it stays inside root. It returns the resolved
// absolute path or an error describing the escape.
func ResolveWithinRoot(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(absRoot, path)
	}
	abs = filepath.Clean(abs)

	// The target itself may not exist yet; resolve the deepest existing
	// ancestor and re-join the remainder.
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes project root %s", path, root)
	}
	return resolved, nil
}

func resolveExisting(abs string) (string, error) {
	suffix := ""
	dir := abs
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("resolving %s: no existing ancestor", abs)
		}
		suffix = filepath.Join(filepath.Base(dir), suffix)
		dir = parent
	}
}

// WriteFileAtomic writes data to path atomically via a same-directory
// temp file and rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// CopyFileAtomic copies src to dst atomically: the content lands in a
// temp file in dst's directory and is renamed into place, so a crash
// never leaves a half-written dst.
func CopyFileAtomic(src, dst string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src) // #nosec G304 -- path validated by callers
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		// Best-effort cleanup on failure paths; after a successful
		// rename the file no longer exists under tmpName.
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, err
	}
	return n, nil
}

// EnsureDir creates dir (and parents) with restrictive permissions.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}
