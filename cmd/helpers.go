package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/schollz/progressbar/v3"

	"bingarchiver/internal/logging"
	"bingarchiver/internal/models"
	"bingarchiver/internal/triage"
)

// resolveFolder returns the absolute path of arg, which must be an existing directory.
func resolveFolder(arg string) (string, error) {
	absFolder, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absFolder)
	if err != nil {
		return "", fmt.Errorf("folder not found: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absFolder)
	}
	return absFolder, nil
}

// newClassifier builds a classifier from the loaded configuration, with a
// progress bar when stderr is a terminal.
func newClassifier() (*triage.Classifier, error) {
	size, err := cfg.Triage.Size()
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	started := false
	return triage.NewClassifier(
		triage.WithExpectedSize(size),
		triage.WithThreshold(cfg.Triage.Threshold),
		triage.WithLogger(logger),
		triage.WithProgress(func(done, total int, _ string, _ models.Outcome) {
			if !started {
				started = true
				bar = newProgressBar(total, "triage")
			}
			if bar == nil {
				return
			}
			_ = bar.Set(done)
			if done == total {
				_ = bar.Finish()
			}
		}),
	), nil
}

// newProgressBar returns nil when stderr is not a terminal.
func newProgressBar(total int, desc string) *progressbar.ProgressBar {
	if !logging.IsTerminal(os.Stderr) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// newSpinner is a progress bar for an unknown number of steps.
func newSpinner(desc string) *progressbar.ProgressBar {
	return newProgressBar(-1, desc)
}

// renderTable lays rows out under header. Columns listed in rightAligned,
// counted from 1, are right aligned; rows shorter than the header are padded.
func renderTable(header table.Row, rows []table.Row, rightAligned ...int) string {
	if len(header) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	for _, row := range rows {
		for len(row) < len(header) {
			row = append(row, "")
		}
		tw.AppendRow(row)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, n := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
