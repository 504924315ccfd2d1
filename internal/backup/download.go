package backup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// MaxAssetBytes caps a single downloaded asset. A CDN response past this
	// is treated as malformed and aborted.
	MaxAssetBytes = 20 << 20

	defaultDownloadAttempts = 3
	defaultInitialBackoff   = time.Second
	defaultRequestTimeout   = 60 * time.Second
	downloadUserAgent       = "RestoreBot/1.0"
)

// Downloader fetches binary assets with bounded retries and exponential
// backoff. A zero URL is a no-op success since "no asset" is the common case
// for icons and banners.
type Downloader struct {
	client         *http.Client
	logger         *zap.Logger
	maxAttempts    int
	initialBackoff time.Duration
	maxBytes       int64
}

// DownloaderOption customises a Downloader.
type DownloaderOption func(*Downloader)

// WithHTTPClient substitutes the HTTP client, used by tests and by callers
// that need a tuned transport.
func WithHTTPClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) { d.client = client }
}

// WithRetryPolicy overrides the attempt count and initial backoff delay.
func WithRetryPolicy(attempts int, initial time.Duration) DownloaderOption {
	return func(d *Downloader) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		if initial > 0 {
			d.initialBackoff = initial
		}
	}
}

func NewDownloader(logger *zap.Logger, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:         &http.Client{Timeout: defaultRequestTimeout},
		logger:         logger,
		maxAttempts:    defaultDownloadAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBytes:       MaxAssetBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches url into destPath, creating the parent directory when
// absent. Failures retry with exponential backoff (1s, 2s by default) until
// the attempt budget runs out; the final error is returned to the caller,
// which treats it as "this one asset is missing" and carries on.
func (d *Downloader) Download(ctx context.Context, url, destPath string) error {
	if url == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create asset directory: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := d.fetch(ctx, url, destPath)
		if err != nil {
			d.logger.Warn("asset download failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return backoff.Permanent(fmt.Errorf("asset too large: %d bytes", resp.ContentLength))
	}

	file, err := os.Create(destPath)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create %s: %w", destPath, err))
	}
	defer file.Close()

	written, err := io.Copy(file, io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		os.Remove(destPath)
		return err
	}
	if written > d.maxBytes {
		os.Remove(destPath)
		return backoff.Permanent(fmt.Errorf("asset too large: exceeded %d bytes", d.maxBytes))
	}
	return nil
}
