// Package triage sorts the images of one folder into keep, duplicate,
// wrong-resolution and error buckets.
//
// A run takes a single snapshot of the folder listing and handles each entry
// in name order. Kept images are added to the similarity index, which is saved
// before the next entry is looked at, so item N always sees item N-1.
package triage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bingarchiver/internal/fileutil"
	"bingarchiver/internal/hash"
	"bingarchiver/internal/index"
	"bingarchiver/internal/models"
	"bingarchiver/internal/storage"
)

// Bucket folder names. Resolution mismatches go to a folder named after the actual WxH.
const (
	DuplicatesBucket = "Duplicates"
	ErrorsBucket     = "Errors"
)

// Store is the persistence the classifier needs
type Store interface {
	LoadIndex() *index.Index
	SaveIndex(idx *index.Index) error
	RecordRun(r *models.Report) error
}

// ProgressFunc is called after each directory entry has been handled
type ProgressFunc func(done, total int, path string, outcome models.Outcome)

// Classifier triages a folder of images
type Classifier struct {
	hasher     *hash.Hasher
	expected   models.Size
	threshold  float64
	progressFn ProgressFunc
	log        zerolog.Logger
}

// Option configures a Classifier
type Option func(*Classifier)

// WithExpectedSize moves images whose resolution differs from size into a WxH bucket.
// The zero Size disables the check.
func WithExpectedSize(size models.Size) Option {
	return func(c *Classifier) {
		c.expected = size
	}
}

// WithThreshold sets the similarity percentage above which an image is a duplicate
func WithThreshold(percent float64) Option {
	return func(c *Classifier) {
		if percent > 0 && percent <= 100 {
			c.threshold = percent
		}
	}
}

// WithProgress sets a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(c *Classifier) {
		c.progressFn = fn
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Classifier) {
		c.log = log
	}
}

// WithHasher replaces the default hasher
func WithHasher(h *hash.Hasher) Option {
	return func(c *Classifier) {
		if h != nil {
			c.hasher = h
		}
	}
}

// NewClassifier creates a new Classifier
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		hasher:    hash.NewHasher(),
		threshold: hash.DefaultThreshold,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run triages every file directly inside folder. Per-file problems are logged and
// never stop the run; failing to persist the index does, and the partial report is
// returned with the error.
func (c *Classifier) Run(folder string, store Store) (*models.Report, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	entries, err := os.ReadDir(absFolder)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder: %w", err)
	}

	report := &models.Report{
		RunID:     uuid.NewString(),
		Folder:    absFolder,
		StartedAt: time.Now(),
	}
	log := c.log.With().Str("run_id", report.RunID).Str("folder", absFolder).Logger()

	idx := store.LoadIndex()
	if removed := idx.Prune(fileutil.FileExists); len(removed) > 0 {
		log.Info().Int("count", len(removed)).Msg("pruned index entries for missing files")
		if err := store.SaveIndex(idx); err != nil {
			return c.finish(report, store, log), err
		}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || storage.IsStoreFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(absFolder, e.Name()))
	}

	for i, path := range files {
		report.Scanned++
		outcome, err := c.classify(absFolder, path, idx, store, log)
		if err != nil {
			if isFatal(err) {
				return c.finish(report, store, log), err
			}
			log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("leaving file in place")
		}
		report.Add(outcome)

		if c.progressFn != nil {
			c.progressFn(i+1, len(files), path, outcome)
		}
	}

	return c.finish(report, store, log), nil
}

func isFatal(err error) bool {
	return errors.Is(err, storage.ErrIndexSave) ||
		errors.Is(err, hash.ErrLengthMismatch) ||
		errors.Is(err, hash.ErrIncompatibleFingerprint)
}

func (c *Classifier) classify(folder, path string, idx *index.Index, store Store, log zerolog.Logger) (models.Outcome, error) {
	if idx.Has(path) {
		return models.OutcomeSkipped, nil
	}

	name := filepath.Base(path)
	info, err := c.hasher.Inspect(path)
	switch {
	case errors.Is(err, hash.ErrNotAnImage):
		log.Debug().Str("file", name).Msg("not an image, ignoring")
		return models.OutcomeIgnored, nil
	case errors.Is(err, hash.ErrDecode):
		log.Info().Err(err).Str("file", name).Msg("invalid image")
		return c.moveTo(path, folder, ErrorsBucket, models.OutcomeError, log)
	case err != nil:
		return models.OutcomeIgnored, err
	}

	if !c.expected.IsZero() && (info.Width != c.expected.Width || info.Height != c.expected.Height) {
		log.Info().Str("file", name).Str("resolution", info.Resolution()).Msg("unexpected resolution")
		return c.moveTo(path, folder, info.Resolution(), models.OutcomeMismatch, log)
	}

	match, err := idx.FindNearMatch(info.Fingerprint, c.threshold)
	if err != nil {
		return models.OutcomeIgnored, err
	}
	if match != nil {
		log.Info().Str("file", name).Str("original", filepath.Base(match.Path)).Msg("duplicate image")
		return c.moveTo(path, folder, DuplicatesBucket, models.OutcomeDuplicate, log)
	}

	if err := idx.Put(info); err != nil {
		return models.OutcomeIgnored, err
	}
	if err := store.SaveIndex(idx); err != nil {
		return models.OutcomeKept, err
	}
	log.Debug().Str("file", name).Msg("kept")
	return models.OutcomeKept, nil
}

// moveTo relocates path into a bucket. A same-named file already in the bucket
// counts as a successful move.
func (c *Classifier) moveTo(path, folder, bucket string, outcome models.Outcome, log zerolog.Logger) (models.Outcome, error) {
	_, err := fileutil.MoveToDir(path, filepath.Join(folder, bucket))
	if errors.Is(err, fileutil.ErrMoveCollision) {
		log.Debug().Str("file", filepath.Base(path)).Str("bucket", bucket).Msg("already in bucket, discarded")
		return outcome, nil
	}
	if err != nil {
		return models.OutcomeIgnored, err
	}
	return outcome, nil
}

func (c *Classifier) finish(report *models.Report, store Store, log zerolog.Logger) *models.Report {
	report.FinishedAt = time.Now()
	if err := store.RecordRun(report); err != nil {
		log.Warn().Err(err).Msg("failed to record run history")
	}
	log.Info().
		Int("scanned", report.Scanned).
		Int("kept", report.Kept).
		Int("duplicates", report.Duplicates).
		Int("mismatches", report.Mismatches).
		Int("errors", report.Errors).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg(report.Summary())
	return report
}
