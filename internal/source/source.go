// Package source finds the wallpaper URLs published on the iorise blog for a given day.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "http://www.iorise.com"
	userAgent      = "bingarchiver/1.0"
)

// DefaultFormatChange is the first day whose page links the images directly.
var DefaultFormatChange = time.Date(2014, 10, 8, 0, 0, 0, 0, time.Local)

// LinkSource resolves the image links of one archive day
type LinkSource struct {
	client       *http.Client
	baseURL      string
	formatChange time.Time
	log          zerolog.Logger
}

// Option configures a LinkSource
type Option func(*LinkSource)

// WithHTTPClient sets the HTTP client used for page fetches
func WithHTTPClient(c *http.Client) Option {
	return func(s *LinkSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithBaseURL sets the blog root, e.g. http://www.iorise.com
func WithBaseURL(u string) Option {
	return func(s *LinkSource) {
		if u != "" {
			s.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithFormatChange sets the first day that uses the direct-link layout
func WithFormatChange(day time.Time) Option {
	return func(s *LinkSource) {
		if !day.IsZero() {
			s.formatChange = day
		}
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *LinkSource) {
		s.log = log
	}
}

// New creates a LinkSource
func New(opts ...Option) *LinkSource {
	s := &LinkSource{
		client:       &http.Client{Timeout: 30 * time.Second},
		baseURL:      DefaultBaseURL,
		formatChange: DefaultFormatChange,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DayPageURL returns the archive page listing the posts of day.
func (s *LinkSource) DayPageURL(day time.Time) string {
	return fmt.Sprintf("%s/blog/?m=%s", s.baseURL, day.Format("20060102"))
}

// LinksForDate returns the image URLs published on day. Unreachable pages are
// logged and contribute no links.
func (s *LinkSource) LinksForDate(ctx context.Context, day time.Time) []string {
	dayURL := s.DayPageURL(day)
	if s.directLinks(day) {
		return s.fetchLinks(ctx, dayURL, ExtractImageLinks)
	}

	var links []string
	for _, page := range s.fetchLinks(ctx, dayURL, ExtractAttachmentLinks) {
		if ctx.Err() != nil {
			break
		}
		links = append(links, s.fetchLinks(ctx, page, ExtractImageLinks)...)
	}
	return links
}

// directLinks compares calendar days so the time of day and zone of either value do not matter.
func (s *LinkSource) directLinks(day time.Time) bool {
	return day.Format(time.DateOnly) >= s.formatChange.Format(time.DateOnly)
}

func (s *LinkSource) fetchLinks(ctx context.Context, pageURL string, extract func(io.Reader) []string) []string {
	s.log.Debug().Str("url", pageURL).Msg("fetching page")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("url", pageURL).Msg("could not fetch page")
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("url", pageURL).Msg("could not fetch page")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.log.Warn().Int("status", resp.StatusCode).Str("url", pageURL).Msg("could not fetch page")
		return nil
	}
	return extract(resp.Body)
}
