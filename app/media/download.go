package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 1500 * time.Millisecond
)

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Downloader fetches media files. Limiter is shared by every caller so the
// number of transfers in flight stays bounded process-wide.
type Downloader struct {
	// Log is a logger
	Log logger.Logger

	// Client does the requests
	Client HTTPClient

	// Limiter caps concurrent transfers, one unit per transfer
	Limiter *semaphore.Weighted

	// Retries is the number of attempts per file
	Retries int

	// RetryDelay is the first pause between attempts, doubled after each
	RetryDelay time.Duration

	// UserAgent is sent with every request
	UserAgent string
}

// DownloadAll downloads every item into dir concurrently and returns the
// items that made it, in their original order, with Path and Size set.
// Failed items are logged and left out.
func (d *Downloader) DownloadAll(ctx context.Context, items []e.MediaItem, dir string) []e.MediaItem {
	done := make([]bool, len(items))
	out := make([]e.MediaItem, len(items))

	var g errgroup.Group
	for i, item := range items {
		g.Go(func() error {
			dst := filepath.Join(dir, FileName(i, item.URL))

			size, err := d.Download(ctx, item.URL, dst)
			if err != nil {
				d.Log.Warn("downloading media", "url", item.URL, "error", err)
				return nil
			}

			item.Path = dst
			item.Size = size
			out[i] = item
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	result := make([]e.MediaItem, 0, len(items))
	for i := range items {
		if done[i] {
			result = append(result, out[i])
		}
	}
	return result
}

// Download writes the resource at rawURL to dst, retrying with exponential
// backoff. Client errors other than 408 and 429 are not retried.
func (d *Downloader) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	retries := d.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.RetryDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultRetryDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	var size int64
	attempt := 0
	op := func() error {
		attempt++
		n, err := d.downloadOnce(ctx, rawURL, dst)
		if err != nil {
			return err
		}
		size = n
		return nil
	}

	notify := func(err error, wait time.Duration) {
		d.Log.Debug("download attempt failed", "url", rawURL, "attempt", attempt, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries-1)), ctx), notify)
	if err != nil {
		_ = removeIfExists(dst)
		return 0, fmt.Errorf("downloading after %d attempts: %w", attempt, err)
	}

	return size, nil
}

func (d *Downloader) downloadOnce(ctx context.Context, rawURL, dst string) (int64, error) {
	if d.Limiter != nil {
		if err := d.Limiter.Acquire(ctx, 1); err != nil {
			return 0, backoff.Permanent(err)
		}
		defer d.Limiter.Release(1)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	res, err := d.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return 0, fmt.Errorf("doing request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", res.StatusCode)
		if isPermanentStatus(res.StatusCode) {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("creating file: %w", err))
	}

	n, err := io.Copy(f, res.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = removeIfExists(dst)
		return 0, fmt.Errorf("writing file: %w", err)
	}

	return n, nil
}

func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// FileName derives a file name from the URL basename, prefixed with the item
// index so items with equal basenames never collide.
func FileName(index int, rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = u.Path
	}
	name = unsafeNameRe.ReplaceAllString(path.Base(name), "_")
	if name == "" || name == "." || name == "/" || name == "_" {
		name = "media"
	}
	return strconv.Itoa(index) + "_" + name
}

