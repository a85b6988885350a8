package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// MoveToTrash sends src to the desktop trash so the user can still restore it.
// Linux follows the freedesktop.org layout, Windows uses the Recycle Bin and
// everything else moves the file into ~/.Trash.
func MoveToTrash(src string) error {
	switch runtime.GOOS {
	case "windows":
		return moveToWindowsTrash(src)
	case "linux":
		trashDir, err := getTrashDir()
		if err != nil {
			return err
		}
		return moveToLinuxTrash(src, trashDir)
	default:
		trashDir, err := getTrashDir()
		if err != nil {
			return err
		}
		name := findUniqueName(filepath.Base(src), func(name string) bool {
			_, err := os.Lstat(filepath.Join(trashDir, name))
			return os.IsNotExist(err)
		})
		return moveFileAcrossFS(src, filepath.Join(trashDir, name))
	}
}

func getTrashDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	var trashDir string
	switch runtime.GOOS {
	case "darwin":
		trashDir = filepath.Join(homeDir, ".Trash")
	case "linux":
		trashDir = filepath.Join(trashHome(homeDir), "files")
	default:
		trashDir = filepath.Join(homeDir, "bingarchiver_trash")
	}

	if err := os.MkdirAll(trashDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create trash directory: %w", err)
	}
	return trashDir, nil
}

// trashHome honours XDG_DATA_HOME when it is set.
func trashHome(homeDir string) string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(dataHome) {
		return filepath.Join(dataHome, "Trash")
	}
	return filepath.Join(homeDir, ".local", "share", "Trash")
}

// moveToLinuxTrash writes the .trashinfo record first, then moves the file.
// The record is removed again if the move fails.
func moveToLinuxTrash(src, trashFilesDir string) error {
	trashInfoDir := filepath.Join(filepath.Dir(trashFilesDir), "info")
	if err := os.MkdirAll(trashInfoDir, 0755); err != nil {
		return fmt.Errorf("failed to create trash info directory: %w", err)
	}

	absPath, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	destName := findUniqueName(filepath.Base(src), func(name string) bool {
		_, errFile := os.Lstat(filepath.Join(trashFilesDir, name))
		_, errInfo := os.Lstat(filepath.Join(trashInfoDir, name+".trashinfo"))
		return os.IsNotExist(errFile) && os.IsNotExist(errInfo)
	})

	infoPath := filepath.Join(trashInfoDir, destName+".trashinfo")
	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		absPath, time.Now().Format("2006-01-02T15:04:05"))
	if err := os.WriteFile(infoPath, []byte(info), 0644); err != nil {
		return fmt.Errorf("failed to write trash info: %w", err)
	}

	if err := moveFileAcrossFS(src, filepath.Join(trashFilesDir, destName)); err != nil {
		os.Remove(infoPath)
		return fmt.Errorf("failed to move %s to trash: %w", src, err)
	}
	return nil
}

// findUniqueName appends _1, _2, ... before the extension until isAvailable accepts the name.
func findUniqueName(filename string, isAvailable func(string) bool) string {
	if isAvailable(filename) {
		return filename
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if isAvailable(candidate) {
			return candidate
		}
	}
}
