package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bingarchiver/internal/archive"
	"bingarchiver/internal/config"
	"bingarchiver/internal/download"
	"bingarchiver/internal/logging"
	"bingarchiver/internal/source"
	"bingarchiver/internal/storage"
)

var (
	configPath string
	logLevel   string
	sizeFlag   string
	threshold  float64

	cfg    *config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "bingarchiver <folder>",
	Short: "Archive Bing wallpapers and weed out duplicates",
	Long: `bingarchiver keeps a folder of Bing wallpapers up to date.

It walks the iorise blog archive one day at a time from the last visit up to
today, downloads every wallpaper it has not seen yet, then sorts the folder:
  Duplicates/  images that look like one already kept
  Errors/      files that claim to be images but cannot be decoded
  WxH/         images whose resolution differs from --size

Example usage:
  bingarchiver ~/Pictures/Bing                  # Download new wallpapers and triage
  bingarchiver ~/Pictures/Bing --size 1920x1200 # Also sort out other resolutions
  bingarchiver triage ~/Pictures/Bing           # Triage only, no downloads
  bingarchiver history ~/Pictures/Bing          # Show past runs`,
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              runArchive,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./bingarchiver.toml or ~/.config/bingarchiver/bingarchiver.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&sizeFlag, "size", "", "Expected resolution as WxH; other sizes are moved to a WxH folder")
	rootCmd.PersistentFlags().Float64Var(&threshold, "threshold", 95, "Similarity percentage above which an image is a duplicate")
}

// loadConfig merges the config file, environment and command-line flags and builds the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("size") {
		c.Triage.ExpectedSize = sizeFlag
	}
	if flags.Changed("threshold") {
		c.Triage.Threshold = threshold
	}
	if err := c.Validate(); err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format})
	if err != nil {
		return err
	}

	cfg = c
	logger = log
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	folder, err := resolveFolder(args[0])
	if err != nil {
		return err
	}

	store, err := openStore(folder)
	if err != nil {
		return err
	}
	defer store.Close()

	start, err := cfg.Archive.Start()
	if err != nil {
		return err
	}
	formatChange, err := cfg.Archive.FormatChange()
	if err != nil {
		return err
	}

	src := source.New(
		source.WithBaseURL(cfg.Archive.BaseURL),
		source.WithFormatChange(formatChange),
		source.WithHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}),
		source.WithLogger(logger),
	)

	bar := newSpinner("downloading")
	dl := download.New(
		download.WithTimeout(cfg.Download.Timeout),
		download.WithWorkers(cfg.Download.Workers),
		download.WithRetries(cfg.Download.Retries),
		download.WithDelay(cfg.Download.Delay),
		download.WithLogger(logger),
		download.WithProgress(func(_, _ int) {
			if bar != nil {
				_ = bar.Add(1)
			}
		}),
	)

	classifier, err := newClassifier()
	if err != nil {
		return err
	}

	a := archive.New(src, dl, classifier,
		archive.WithStart(start),
		archive.WithLogger(logger),
	)

	res, err := a.Run(cmd.Context(), folder, store)
	if bar != nil {
		_ = bar.Finish()
	}
	if res != nil {
		fmt.Printf("Scanned %d days (%s to %s): %d links, %d downloaded, %d already present, %d failed\n",
			res.Days, res.From.Format("2006-01-02"), res.To.Format("2006-01-02"),
			res.Links, res.Downloads.Downloaded, res.Downloads.Existing, res.Downloads.Failed)
		if res.Triage != nil {
			fmt.Println(res.Triage.Summary())
		}
	}
	if errors.Is(err, context.Canceled) {
		return errors.New("interrupted, progress saved up to the last completed day")
	}
	return err
}

// openStore opens the folder's index database, explaining a held lock.
func openStore(folder string) (*storage.Store, error) {
	store, err := storage.Open(folder, logger)
	if errors.Is(err, storage.ErrLocked) {
		return nil, fmt.Errorf("another bingarchiver run is using %s", folder)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return store, nil
}
