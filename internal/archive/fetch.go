package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zip"

	"hemicycle.org/internal/obs"
)

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultMaxEntrySize = 64 << 20
	userAgent           = "hemicycle/1 (+open-data indexer)"
)

var (
	// ErrEntryTooLarge is returned for a single entry over the size cap. It
	// does not invalidate the rest of the archive.
	ErrEntryTooLarge = errors.New("archive entry exceeds size limit")
	// ErrConsumed is returned when Entries is ranged over a second time.
	ErrConsumed = errors.New("archive entries already consumed")
)

// FetchError reports a download or archive-level failure.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Doer is the subset of *http.Client used by the fetcher.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads zip archives of JSON records.
type Fetcher struct {
	client       Doer
	tempDir      string
	maxEntrySize int64
	logger       *slog.Logger
}

// Option configures Fetcher.
type Option func(*Fetcher)

// WithClient overrides the HTTP client.
func WithClient(c Doer) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTempDir sets the directory archives are spooled into.
func WithTempDir(dir string) Option {
	return func(f *Fetcher) { f.tempDir = dir }
}

// WithMaxEntrySize caps the decompressed size of a single entry.
func WithMaxEntrySize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxEntrySize = n
		}
	}
}

// New constructs a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Timeout: DefaultTimeout},
		maxEntrySize: DefaultMaxEntrySize,
		logger:       obs.Component("archive"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the archive at rawURL. The body is spooled to a temporary
// file because zip needs random access; entries are then decompressed one at
// a time as the caller ranges over Archive.Entries.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Archive, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(f.tempDir, "hemicycle-*.zip")
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("create spool file: %w", err)}
	}
	n, err := io.Copy(tmp, resp.Body)
	obs.AddArchiveBytes(u.Host, n)
	if err != nil {
		discard(tmp)
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("download: %w", err)}
	}

	zr, err := zip.NewReader(tmp, n)
	if err != nil {
		discard(tmp)
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("open zip: %w", err)}
	}
	f.logger.Info("archive downloaded",
		"url", rawURL,
		"bytes", n,
		"entries", len(zr.File),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Archive{
		url:          rawURL,
		file:         tmp,
		zr:           zr,
		maxEntrySize: f.maxEntrySize,
	}, nil
}

func discard(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}

// Entry is one file of an archive.
type Entry struct {
	Name string
	Data []byte
}

// Archive is a downloaded zip. Its entries can be ranged over once.
type Archive struct {
	url          string
	file         *os.File
	zr           *zip.Reader
	maxEntrySize int64
	used         atomic.Bool
	closed       atomic.Bool
}

// URL returns the source location.
func (a *Archive) URL() string { return a.url }

// Entries yields JSON entries in archive order. Errors wrapping
// ErrEntryTooLarge concern a single entry; a *FetchError means the archive is
// corrupt and iteration should stop.
func (a *Archive) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if a.used.Swap(true) {
			yield(Entry{}, ErrConsumed)
			return
		}
		for _, zf := range a.zr.File {
			if zf.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(zf.Name), ".json") {
				continue
			}
			data, err := a.read(zf)
			if err != nil {
				if !yield(Entry{Name: zf.Name}, err) {
					return
				}
				continue
			}
			if !yield(Entry{Name: zf.Name, Data: data}, nil) {
				return
			}
		}
	}
}

func (a *Archive) read(zf *zip.File) ([]byte, error) {
	if zf.UncompressedSize64 > uint64(a.maxEntrySize) {
		return nil, fmt.Errorf("%s: %w", zf.Name, ErrEntryTooLarge)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, &FetchError{URL: a.url, Err: fmt.Errorf("open %s: %w", zf.Name, err)}
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, a.maxEntrySize+1))
	if err != nil {
		return nil, &FetchError{URL: a.url, Err: fmt.Errorf("read %s: %w", zf.Name, err)}
	}
	if int64(len(data)) > a.maxEntrySize {
		return nil, fmt.Errorf("%s: %w", zf.Name, ErrEntryTooLarge)
	}
	return data, nil
}

// Close releases the spool file.
func (a *Archive) Close() error {
	if a == nil || a.closed.Swap(true) {
		return nil
	}
	err := a.file.Close()
	if rmErr := os.Remove(a.file.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return rmErr
	}
	return err
}
