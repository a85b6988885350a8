package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var triageCmd = &cobra.Command{
	Use:   "triage <folder>",
	Short: "Sort a folder without downloading anything",
	Long: `Classify every file directly inside a folder, in name order.

Each image is either kept and added to the folder's index, or moved to:
  Duplicates/  when it is at least --threshold percent similar to a kept image
  Errors/      when it cannot be decoded
  WxH/         when --size is set and the image has another resolution

Files that are not images are left alone. Running it twice moves nothing the
second time.

Example:
  bingarchiver triage ./wallpapers
  bingarchiver triage ./wallpapers --size 1920x1200 --threshold 97`,
	Args: cobra.ExactArgs(1),
	RunE: runTriage,
}

func init() {
	rootCmd.AddCommand(triageCmd)
}

func runTriage(cmd *cobra.Command, args []string) error {
	folder, err := resolveFolder(args[0])
	if err != nil {
		return err
	}

	store, err := openStore(folder)
	if err != nil {
		return err
	}
	defer store.Close()

	classifier, err := newClassifier()
	if err != nil {
		return err
	}

	report, err := classifier.Run(folder, store)
	if report != nil {
		fmt.Printf("Scanned %d files: %d kept, %d already indexed, %d not images\n",
			report.Scanned, report.Kept, report.Skipped, report.Ignored)
		fmt.Println(report.Summary())
	}
	if err != nil {
		return fmt.Errorf("triage aborted: %w", err)
	}
	return nil
}
