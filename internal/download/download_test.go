package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://www.iorise.com/blog/wp-content/uploads/2014/10/Falls.jpg", "Falls.jpg"},
		{"http://host/a/b/c.jpeg?size=full", "c.jpeg"},
		{"http://host/", ""},
		{"http://host", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.url), tt.url)
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New()
	assert.Equal(t, 4, d.workers)
	assert.Equal(t, 2, d.retries)
	assert.Equal(t, 30*time.Second, d.client.Timeout)

	d = New(WithWorkers(0), WithRetries(-1), WithDelay(0))
	assert.Equal(t, 4, d.workers)
	assert.Equal(t, 2, d.retries)
	assert.Zero(t, d.delay)
}

func TestDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("jpeg bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.jpg")
	d := New(WithDelay(0))

	require.NoError(t, d.Download(context.Background(), srv.URL+"/a.jpg", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	// Existing destination is not fetched again
	require.NoError(t, d.Download(context.Background(), srv.URL+"/a.jpg", dest))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownload_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.jpg")
	err := New().Download(context.Background(), srv.URL+"/a.jpg", dest)

	require.ErrorIs(t, err, ErrDownload)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, http.StatusNotFound, dlErr.StatusCode)
	assert.False(t, dlErr.retryable())
	assert.NoFileExists(t, dest)
}

func TestDownload_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	err := New().Download(context.Background(), srv.URL+"/a.jpg", filepath.Join(t.TempDir(), "a.jpg"))
	assert.ErrorIs(t, err, ErrDownload)
}

func TestBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, "old.jpg"), []byte("old"), 0o644))

	var calls atomic.Int32
	d := New(WithDelay(0), WithWorkers(2), WithProgress(func(done, total int) {
		calls.Add(1)
		assert.Equal(t, 6, total)
	}))

	res := d.Batch(context.Background(), []string{
		srv.URL + "/a.jpg",
		srv.URL + "/b.jpg",
		srv.URL + "/b.jpg",
		srv.URL + "/old.jpg",
		srv.URL + "/missing.jpg",
		srv.URL + "/",
	}, folder)

	assert.Equal(t, Result{Downloaded: 2, Existing: 2, Failed: 2}, res)
	assert.Equal(t, int32(6), calls.Load())
	assert.FileExists(t, filepath.Join(folder, "a.jpg"))
	assert.FileExists(t, filepath.Join(folder, "b.jpg"))

	data, err := os.ReadFile(filepath.Join(folder, "old.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestBatch_Retries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	folder := t.TempDir()
	res := New(WithDelay(0), WithRetries(2)).Batch(context.Background(), []string{srv.URL + "/a.jpg"}, folder)
	assert.Equal(t, Result{Downloaded: 1}, res)
	assert.Equal(t, int32(3), attempts.Load())

	attempts.Store(-10)
	res = New(WithDelay(0), WithRetries(1)).Batch(context.Background(), []string{srv.URL + "/b.jpg"}, folder)
	assert.Equal(t, Result{Failed: 1}, res)
}

func TestBatch_RetriesAfterTimeout(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(300 * time.Millisecond):
			}
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	folder := t.TempDir()
	d := New(WithDelay(0), WithRetries(2), WithTimeout(100*time.Millisecond))
	res := d.Batch(context.Background(), []string{srv.URL + "/slow.jpg"}, folder)

	assert.Equal(t, Result{Downloaded: 1}, res)
	assert.Equal(t, int32(2), attempts.Load())
	assert.FileExists(t, filepath.Join(folder, "slow.jpg"))
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"server error", &Error{StatusCode: http.StatusBadGateway}, true},
		{"rate limited", &Error{StatusCode: http.StatusTooManyRequests}, true},
		{"not found", &Error{StatusCode: http.StatusNotFound}, false},
		{"client timeout", &Error{Err: context.DeadlineExceeded}, true},
		{"connection reset", &Error{Err: errors.New("connection reset by peer")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.retryable())
		})
	}
}

func TestBatch_Cancelled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(WithDelay(0)).Batch(ctx, []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg"}, t.TempDir())
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, hits.Load())
}
