// Package download fetches wallpapers into the archive folder.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"bingarchiver/internal/fileutil"
)

// ErrDownload matches every *Error
var ErrDownload = errors.New("download failed")

// Error describes a failed fetch of one URL
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrDownload }

// retryable reports whether another attempt could succeed. Transport failures,
// client timeouts included, always qualify.
func (e *Error) retryable() bool {
	if e.StatusCode != 0 {
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Result holds the tallies of one batch
type Result struct {
	Downloaded int
	Existing   int
	Failed     int
}

// ProgressFunc is called once per URL when its download has been handled
type ProgressFunc func(done, total int)

// Downloader fetches files over HTTP
type Downloader struct {
	client     *http.Client
	timeout    time.Duration
	workers    int
	retries    int
	delay      time.Duration
	progressFn ProgressFunc
	log        zerolog.Logger
}

// Option configures a Downloader
type Option func(*Downloader)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		if c != nil {
			d.client = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithWorkers sets the number of concurrent downloads
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetries sets how many times a failed download is retried
func WithRetries(n int) Option {
	return func(d *Downloader) {
		if n >= 0 {
			d.retries = n
		}
	}
}

// WithDelay sets the pause a worker takes after each request
func WithDelay(delay time.Duration) Option {
	return func(d *Downloader) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// WithProgress sets a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) {
		d.progressFn = fn
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(d *Downloader) {
		d.log = log
	}
}

// New creates a Downloader
func New(opts ...Option) *Downloader {
	d := &Downloader{
		timeout: 30 * time.Second,
		workers: 4,
		retries: 2,
		delay:   time.Second,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: d.timeout}
	}
	return d
}

// FileName returns the last path segment of rawURL.
func FileName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Download saves rawURL to dest. An existing dest is left alone.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) error {
	if fileutil.FileExists(dest) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Error{URL: rawURL, Err: err}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{URL: rawURL, StatusCode: resp.StatusCode}
	}

	n, err := fileutil.WriteAtomic(dest, resp.Body)
	if err != nil {
		return &Error{URL: rawURL, Err: err}
	}
	d.log.Debug().Str("url", rawURL).Int64("bytes", n).Msg("downloaded")
	return nil
}

// Batch downloads urls into folder on a bounded pool. Failures are logged and
// counted; they never stop the other downloads. Cancelling ctx stops new requests.
func (d *Downloader) Batch(ctx context.Context, urls []string, folder string) Result {
	var (
		mu   sync.Mutex
		res  Result
		done atomic.Int64
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
		if d.progressFn != nil {
			d.progressFn(int(done.Add(1)), len(urls))
		}
	}

	p := pool.New().WithMaxGoroutines(d.workers).WithContext(ctx)
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		name := FileName(u)
		if name == "" {
			d.log.Warn().Str("url", u).Msg("no file name in url")
			count(&res.Failed)
			continue
		}
		dest := filepath.Join(folder, name)
		if seen[dest] || fileutil.FileExists(dest) {
			count(&res.Existing)
			continue
		}
		seen[dest] = true

		p.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				count(&res.Failed)
				return nil
			}
			if err := d.fetch(ctx, u, dest); err != nil {
				d.log.Warn().Err(err).Str("url", u).Msg("download failed")
				count(&res.Failed)
				return nil
			}
			count(&res.Downloaded)
			return nil
		})
	}
	p.Wait()
	return res
}

// fetch downloads with retries on an exponential backoff starting at the politeness
// delay. Only cancellation of ctx, or a response that cannot improve, stops early;
// a request that hit the client timeout is retried.
func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) error {
	attempt := 0
	op := func() error {
		attempt++
		err := d.Download(ctx, rawURL, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var dlErr *Error
		if errors.As(err, &dlErr) && !dlErr.retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.log.Debug().Err(err).Str("url", rawURL).Int("attempt", attempt).Dur("wait", wait).Msg("retrying download")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(d.newBackOff(), ctx), notify); err != nil {
		return err
	}
	d.pause(ctx)
	return nil
}

func (d *Downloader) newBackOff() backoff.BackOff {
	if d.delay <= 0 {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(d.retries))
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.delay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(d.retries))
}

// pause holds the worker for the politeness delay between two downloads.
func (d *Downloader) pause(ctx context.Context) {
	if d.delay <= 0 {
		return
	}
	t := time.NewTimer(d.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
