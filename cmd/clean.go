package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bingarchiver/internal/fileutil"
	"bingarchiver/internal/triage"
)

var (
	dryRun      bool
	noConfirm   bool
	cleanErrors bool
	permanent   bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean <folder>",
	Short: "Trash the images sorted into the Duplicates bucket",
	Long: `Move the files triage sorted into the Duplicates folder to the system trash.

Options:
  --dry-run     Preview what would be removed without actually removing
  --errors      Also empty the Errors folder
  --permanent   Delete files instead of moving them to trash
  --yes         Skip confirmation prompt

Example:
  bingarchiver clean ./wallpapers --dry-run      # Preview only
  bingarchiver clean ./wallpapers --errors       # Empty Duplicates and Errors
  bingarchiver clean ./wallpapers --permanent    # Skip the trash`,
	Args: cobra.ExactArgs(1),
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without removing")
	cleanCmd.Flags().BoolVar(&cleanErrors, "errors", false, "Also remove files in the Errors folder")
	cleanCmd.Flags().BoolVar(&permanent, "permanent", false, "Delete files instead of moving them to trash")
	cleanCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	folder, err := resolveFolder(args[0])
	if err != nil {
		return err
	}

	buckets := []string{triage.DuplicatesBucket}
	if cleanErrors {
		buckets = append(buckets, triage.ErrorsBucket)
	}

	toRemove, totalSize, err := bucketFiles(folder, buckets)
	if err != nil {
		return err
	}
	if len(toRemove) == 0 {
		fmt.Println("Nothing to remove.")
		return nil
	}

	action := "move to trash"
	if permanent {
		action = "permanently delete"
	}
	fmt.Printf("Will %s %d files (%s)\n\n", action, len(toRemove), humanize.Bytes(uint64(totalSize)))

	if dryRun {
		fmt.Println("Files to be removed:")
		for _, path := range toRemove {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
		fmt.Println("(Dry run - no files were modified)")
		return nil
	}

	// Confirm unless --yes flag is set
	if !noConfirm {
		fmt.Printf("Are you sure you want to %s %d files? [y/N]: ", action, len(toRemove))
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	remove := fileutil.MoveToTrash
	if permanent {
		remove = os.Remove
	}
	processed, failed := removeFiles(toRemove, remove)

	if permanent {
		fmt.Printf("Deleted %d files\n", processed)
	} else {
		fmt.Printf("Moved %d files to trash\n", processed)
	}
	if failed > 0 {
		fmt.Printf("Failed: %d files\n", failed)
	}
	return nil
}

// bucketFiles lists the regular files in the given bucket folders. Missing buckets are skipped.
func bucketFiles(folder string, buckets []string) ([]string, int64, error) {
	var files []string
	var totalSize int64
	for _, bucket := range buckets {
		entries, err := os.ReadDir(filepath.Join(folder, bucket))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, fmt.Errorf("failed to list %s: %w", bucket, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, filepath.Join(folder, bucket, e.Name()))
			totalSize += info.Size()
		}
	}
	return files, totalSize, nil
}

func removeFiles(paths []string, remove func(string) error) (processed, failed int) {
	for _, path := range paths {
		if err := remove(path); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("failed to remove")
			failed++
			continue
		}
		processed++
	}
	return processed, failed
}
