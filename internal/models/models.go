package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
)

// ImageInfo holds the fingerprint and metadata for an indexed image
type ImageInfo struct {
	Path        string                    `json:"path"`
	Fingerprint *goimagehash.ExtImageHash `json:"-"`
	Width       int                       `json:"width"`
	Height      int                       `json:"height"`
	Format      string                    `json:"format"`
	FileSize    int64                     `json:"file_size"`
	ModTime     time.Time                 `json:"mod_time"`
	HasExif     bool                      `json:"has_exif"`
}

// Resolution returns the image size in the WxH form used for bucket names
func (i *ImageInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// Outcome is the terminal triage decision for one image
type Outcome int

const (
	OutcomeSkipped Outcome = iota // already indexed
	OutcomeIgnored                // not an image
	OutcomeKept
	OutcomeDuplicate
	OutcomeMismatch
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeKept:
		return "kept"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeMismatch:
		return "resolution-mismatch"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Size is an expected image resolution. The zero value means no constraint.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether no size constraint is set
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses a WxH string such as "1920x1200". An empty string yields the zero Size.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Size{}, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q, expected WxH", s)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return Size{}, fmt.Errorf("invalid size %q, expected WxH", s)
	}
	return Size{Width: width, Height: height}, nil
}

// Report holds the per-outcome tallies of one triage run
type Report struct {
	RunID      string    `json:"run_id"`
	Folder     string    `json:"folder"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scanned    int       `json:"scanned"`
	Skipped    int       `json:"skipped"`
	Ignored    int       `json:"ignored"`
	Kept       int       `json:"kept"`
	Duplicates int       `json:"duplicates"`
	Mismatches int       `json:"mismatches"`
	Errors     int       `json:"errors"`
}

// Add records one outcome
func (r *Report) Add(o Outcome) {
	switch o {
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeIgnored:
		r.Ignored++
	case OutcomeKept:
		r.Kept++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeMismatch:
		r.Mismatches++
	case OutcomeError:
		r.Errors++
	}
}

// Moved returns the number of files relocated into a bucket
func (r *Report) Moved() int {
	return r.Duplicates + r.Mismatches + r.Errors
}

// Summary returns the end-of-run summary line
func (r *Report) Summary() string {
	return fmt.Sprintf("Duplication removal: %d duplicates, %d unexpected resolution, %d invalid images",
		r.Duplicates, r.Mismatches, r.Errors)
}
