package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// ErrMoveCollision is returned by MoveToDir when the destination already held a file
// with the same name. The source has been removed by the time it is returned.
var ErrMoveCollision = errors.New("destination already exists")

// MoveToDir moves src into destDir, creating destDir if needed, and returns the
// destination path. If destDir already contains a file with the same name the
// source is deleted instead and the error wraps ErrMoveCollision.
func MoveToDir(src, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}

	dest := filepath.Join(destDir, filepath.Base(src))
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Remove(src); err != nil {
			return dest, fmt.Errorf("failed to discard %s: %w", src, err)
		}
		return dest, fmt.Errorf("%w: %s", ErrMoveCollision, dest)
	}

	if err := moveFileAcrossFS(src, dest); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", src, err)
	}
	return dest, nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// WriteAtomic streams r into a temporary file next to dest and renames it into
// place, so dest is either absent or complete.
func WriteAtomic(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return n, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("failed to rename into %s: %w", dest, err)
	}
	return n, nil
}

// moveFileAcrossFS moves a file, falling back to copy+delete for cross-filesystem moves.
func moveFileAcrossFS(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if err := copyFile(src, dest); err != nil {
			return err
		}
		return os.Remove(src)
	}

	return err
}

// copyFile copies a file from src to dest.
func copyFile(src, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	destFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, srcInfo.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, srcFile); err != nil {
		destFile.Close()
		os.Remove(dest) // Clean up on failure
		return err
	}
	return destFile.Close()
}
