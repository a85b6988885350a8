package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bingarchiver/internal/fileutil"
	"bingarchiver/internal/hash"
	"bingarchiver/internal/storage"
)

var (
	indexJSON  bool
	indexLimit int
)

var indexCmd = &cobra.Command{
	Use:   "index <folder>",
	Short: "List the images kept in a folder's index",
	Long: `Display the images the similarity index holds, in the order they were kept.

Example:
  bingarchiver index ./wallpapers           # First 20 images
  bingarchiver index ./wallpapers -n 0      # All images
  bingarchiver index ./wallpapers --json    # Machine readable, with fingerprints`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "Output in JSON format")
	indexCmd.Flags().IntVarP(&indexLimit, "limit", "n", 20, "Limit number of images to display (0 = all)")
	rootCmd.AddCommand(indexCmd)
}

type indexEntryJSON struct {
	Path        string    `json:"path"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Format      string    `json:"format"`
	FileSize    int64     `json:"file_size"`
	ModTime     time.Time `json:"mod_time"`
	HasExif     bool      `json:"has_exif"`
	Fingerprint string    `json:"fingerprint"`
}

func runIndex(cmd *cobra.Command, args []string) error {
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

	entries := store.LoadIndex().Entries()

	if indexJSON {
		out := make([]indexEntryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, indexEntryJSON{
				Path:        e.Path,
				Width:       e.Width,
				Height:      e.Height,
				Format:      e.Format,
				FileSize:    e.FileSize,
				ModTime:     e.ModTime,
				HasExif:     e.HasExif,
				Fingerprint: hash.FormatFingerprint(e.Fingerprint),
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(entries) == 0 {
		fmt.Println("The index is empty.")
		return nil
	}

	var totalSize int64
	resolutions := make(map[string]int)
	for _, e := range entries {
		totalSize += e.FileSize
		resolutions[e.Resolution()]++
	}

	shown := entries
	if indexLimit > 0 && len(shown) > indexLimit {
		shown = shown[:indexLimit]
	}

	rows := make([]table.Row, 0, len(shown))
	for _, e := range shown {
		exif := ""
		if e.HasExif {
			exif = "yes"
		}
		rows = append(rows, table.Row{
			filepath.Base(e.Path),
			e.Resolution(),
			strings.ToUpper(e.Format),
			humanize.Bytes(uint64(e.FileSize)),
			exif,
			humanize.Time(e.ModTime),
		})
	}

	fmt.Println(renderTable(
		table.Row{"File", "Resolution", "Format", "Size", "EXIF", "Modified"},
		rows,
		2, 4,
	))
	if len(shown) < len(entries) {
		fmt.Printf("Showing %d of %d images (use -n 0 to show all)\n", len(shown), len(entries))
	}
	fmt.Printf("%s images, %s, %d distinct resolutions\n",
		humanize.Comma(int64(len(entries))), humanize.Bytes(uint64(totalSize)), len(resolutions))
	return nil
}
