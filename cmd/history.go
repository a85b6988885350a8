package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bingarchiver/internal/fileutil"
	"bingarchiver/internal/storage"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <folder>",
	Short: "Show past triage runs of a folder",
	Long: `Display the most recent triage runs recorded in a folder's index.

Example:
  bingarchiver history ./wallpapers         # Last 10 runs
  bingarchiver history ./wallpapers -n 0    # All runs`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to display (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	folder, err := resolveFolder(args[0])
	if err != nil {
		return err
	}
	if !fileutil.FileExists(filepath.Join(folder, storage.IndexFileName)) {
		fmt.Println("No index found in this folder.")
		fmt.Println("Run 'bingarchiver triage <folder>' first.")
		return nil
	}

	store, err := openStore(folder)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			humanize.Time(r.StartedAt),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Scanned,
			r.Kept,
			r.Duplicates,
			r.Mismatches,
			r.Errors,
		})
	}

	fmt.Println(renderTable(
		table.Row{"Started", "", "Took", "Scanned", "Kept", "Duplicates", "Resolution", "Invalid"},
		rows,
		3, 4, 5, 6, 7, 8,
	))

	if last, ok, err := store.LastScannedDate(); err == nil && ok {
		fmt.Printf("Archive complete up to %s\n", last.Format("2006-01-02"))
	}
	return nil
}
