// Package download fetches generated artifacts to local disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	ErrDownload    = errors.New("download failed")
	ErrUnavailable = errors.New("download capability not configured")
)

// Downloader saves the resource at url as dir/filename and returns the
// absolute path written.
type Downloader interface {
	Download(ctx context.Context, url, dir, filename string) (string, error)
}

// HTTPDownloader implements Downloader over plain HTTP GET.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader creates an HTTPDownloader. A zero timeout means no
// overall deadline; ctx still cancels the transfer.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}}
}

func (d *HTTPDownloader) Download(ctx context.Context, url, dir, filename string) (string, error) {
	if filename == "" || filepath.Base(filename) != filename {
		return "", fmt.Errorf("%w: invalid filename %q", ErrDownload, filename)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", ErrDownload, dir, err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrDownload, absDir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrDownload, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(absDir, filename+".*.part")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: writing %s: %v", ErrDownload, filename, err)
	}

	target := filepath.Join(absDir, filename)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	slog.Info("artifact downloaded", "path", target, "size", humanize.Bytes(uint64(n)))
	return target, nil
}

// Nop is the Downloader used when no download capability is configured. It
// always fails with ErrUnavailable, which the executor records in the job log.
type Nop struct{}

func (Nop) Download(context.Context, string, string, string) (string, error) {
	return "", ErrUnavailable
}

var (
	_ Downloader = (*HTTPDownloader)(nil)
	_ Downloader = Nop{}
)
