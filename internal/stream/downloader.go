package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// ErrDownloadFailed is matched by every DownloadError.
var ErrDownloadFailed = errors.New("segment download failed")

var errEmptyBody = errors.New("empty response body")

// DownloadError is returned once every attempt has failed
type DownloadError struct {
	URI      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempts: %v", e.URI, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailed }

// DownloadConfig bounds the retry loop
type DownloadConfig struct {
	MaxAttempts    int
	RetryInterval  time.Duration
	AttemptTimeout time.Duration
}

// Downloader fetches segments to local files
type Downloader struct {
	client *http.Client
	config DownloadConfig
	logger watchlog.Logger
}

// NewDownloader applies defaults of 10 attempts spaced 1s apart
func NewDownloader(client *http.Client, config DownloadConfig, logger watchlog.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 10
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = time.Second
	}
	if logger == nil {
		logger = watchlog.L()
	}
	return &Downloader{client: client, config: config, logger: logger.Named("downloader")}
}

// Download writes the segment body to dst and returns the byte count. A 200
// with an empty body counts as a failed attempt. Cancellation returns the
// context error, never a DownloadError.
func (d *Downloader) Download(ctx context.Context, seg Segment, dst string) (int64, error) {
	var (
		attempts int
		written  int64
	)

	op := func() error {
		attempts++
		n, err := d.attempt(ctx, seg.URI, dst)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		written = n
		return nil
	}

	notify := func(err error, wait time.Duration) {
		d.logger.Debug("Segment download attempt failed",
			watchlog.String("uri", seg.URI),
			watchlog.Int("attempt", attempts),
			watchlog.Duration("retry_in", wait),
			watchlog.Error(err))
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.config.RetryInterval), uint64(d.config.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, bo, notify)
	if err == nil {
		return written, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	return 0, &DownloadError{URI: seg.URI, Attempts: attempts, Err: err}
}

func (d *Downloader) attempt(ctx context.Context, uri, dst string) (int64, error) {
	if d.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.AttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create %s: %w", dst, err))
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return 0, copyErr
	}
	if closeErr != nil {
		return 0, closeErr
	}
	if n == 0 {
		return 0, errEmptyBody
	}
	return n, nil
}
