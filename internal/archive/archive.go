// Package archive keeps a folder in sync with the wallpaper blog: it walks every
// day since the last visit, downloads what was published, then triages the folder.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bingarchiver/internal/download"
	"bingarchiver/internal/models"
	"bingarchiver/internal/triage"
)

// DefaultStart is the first day the blog published wallpapers.
var DefaultStart = time.Date(2012, 11, 25, 0, 0, 0, 0, time.Local)

// LinkSource lists the image URLs of one day
type LinkSource interface {
	LinksForDate(ctx context.Context, day time.Time) []string
}

// Fetcher downloads a set of URLs into a folder
type Fetcher interface {
	Batch(ctx context.Context, urls []string, folder string) download.Result
}

// Triager classifies the images of a folder
type Triager interface {
	Run(folder string, store triage.Store) (*models.Report, error)
}

// Store persists the last finished day alongside the triage index
type Store interface {
	triage.Store
	LastScannedDate() (time.Time, bool, error)
	SetLastScannedDate(day time.Time) error
}

// Result summarises one archive run
type Result struct {
	From      time.Time
	To        time.Time
	Days      int
	Links     int
	Downloads download.Result
	Triage    *models.Report
}

// Archiver drives a full update of one folder
type Archiver struct {
	source  LinkSource
	fetcher Fetcher
	triager Triager
	start   time.Time
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures an Archiver
type Option func(*Archiver)

// WithStart sets the day used when the folder has never been archived
func WithStart(day time.Time) Option {
	return func(a *Archiver) {
		if !day.IsZero() {
			a.start = civil(day)
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(a *Archiver) {
		a.log = log
	}
}

// New creates an Archiver
func New(source LinkSource, fetcher Fetcher, triager Triager, opts ...Option) *Archiver {
	a := &Archiver{
		source:  source,
		fetcher: fetcher,
		triager: triager,
		start:   DefaultStart,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run downloads every day from the last recorded one through today, then triages
// folder. Each day is recorded once its downloads are done, so a cancelled run
// resumes where it stopped; cancellation skips the triage.
func (a *Archiver) Run(ctx context.Context, folder string, store Store) (*Result, error) {
	from := a.start
	last, ok, err := store.LastScannedDate()
	if err != nil {
		a.log.Warn().Err(err).Msg("could not read last scanned date, starting from the beginning")
	} else if ok {
		from = civil(last)
	}
	today := civil(a.now())

	res := &Result{From: from, To: today}
	a.log.Info().
		Str("from", from.Format(time.DateOnly)).
		Str("to", today.Format(time.DateOnly)).
		Msg("archiving")

	for day := from; !day.After(today); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		links := a.source.LinksForDate(ctx, day)
		a.log.Info().Str("date", day.Format(time.DateOnly)).Int("links", len(links)).Msg("day scanned")

		dl := a.fetcher.Batch(ctx, links, folder)
		res.Days++
		res.Links += len(links)
		res.Downloads.Downloaded += dl.Downloaded
		res.Downloads.Existing += dl.Existing
		res.Downloads.Failed += dl.Failed

		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := store.SetLastScannedDate(day); err != nil {
			return res, fmt.Errorf("failed to record %s: %w", day.Format(time.DateOnly), err)
		}
	}

	if err := store.SetLastScannedDate(today); err != nil {
		return res, fmt.Errorf("failed to record %s: %w", today.Format(time.DateOnly), err)
	}

	report, err := a.triager.Run(folder, store)
	res.Triage = report
	return res, err
}

// civil returns local midnight of t's calendar day.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}
