package links

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

var (
	postURLRe = regexp.MustCompile(
		`(?i)https?://(?:(?:(?:www|mobile)\.)?(?:twitter|x|fxtwitter|vxtwitter|fixupx|fixvx)\.com/\S+?/status(?:es)?/\d+|t\.co/[A-Za-z0-9]+)`,
	)
	statusRe = regexp.MustCompile(`(?i)/status(?:es)?/(\d+)`)

	hosts = []string{"x.com", "twitter.com", "t.co/"}
)

const defaultResolveTimeout = 15 * time.Second

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Extractor finds post ids in free text. Shortened links are resolved over
// HTTP, all of them at once.
type Extractor struct {
	// Log is a logger
	Log logger.Logger

	// Client follows redirects of shortened links
	Client HTTPClient

	// ResolveTimeout bounds a single redirect resolution
	ResolveTimeout time.Duration

	// UserAgent is sent with resolution requests
	UserAgent string
}

// MayContainLinks is a cheap prefilter for incoming messages.
func MayContainLinks(text string) bool {
	lower := strings.ToLower(text)
	for _, h := range hosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// Extract returns the unique post ids found in text, in order of first
// appearance. Links that cannot be resolved are skipped.
func (x *Extractor) Extract(ctx context.Context, text string) []e.PostID {
	urls := postURLRe.FindAllString(text, -1)
	if len(urls) == 0 {
		return nil
	}

	resolved := make([]e.PostID, len(urls))

	var g errgroup.Group
	for i, u := range urls {
		if id, ok := postIDFromURL(u); ok {
			resolved[i] = id
			continue
		}

		g.Go(func() error {
			id, err := x.resolve(ctx, u)
			if err != nil {
				x.Log.Warn("resolving short link", "url", u, "error", err)
				return nil
			}
			resolved[i] = id
			return nil
		})
	}
	_ = g.Wait()

	return dedupe(resolved)
}

func (x *Extractor) resolve(ctx context.Context, shortURL string) (e.PostID, error) {
	timeout := x.ResolveTimeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	if x.UserAgent != "" {
		req.Header.Set("User-Agent", x.UserAgent)
	}

	res, err := x.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("doing request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		_ = res.Body.Close()
	}()

	if res.Request == nil || res.Request.URL == nil {
		return "", fmt.Errorf("response has no final url")
	}

	final := res.Request.URL.String()
	id, ok := postIDFromURL(final)
	if !ok {
		return "", fmt.Errorf("final url %q is not a post", final)
	}

	return id, nil
}

func postIDFromURL(u string) (e.PostID, bool) {
	m := statusRe.FindStringSubmatch(u)
	if m == nil {
		return "", false
	}
	return e.PostID(m[1]), true
}

func dedupe(ids []e.PostID) []e.PostID {
	seen := make(map[e.PostID]struct{}, len(ids))
	out := make([]e.PostID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
