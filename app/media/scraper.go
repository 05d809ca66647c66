package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	e "nuclight.org/xmedia-tg-bot/pkg/entities"
)

const (
	DefaultScrapeAPIURL = "https://api.vxtwitter.com"

	requiredContainer = "mp4"
	maxScrapeBody     = 4 << 20
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Scraper reads post metadata from a vxtwitter compatible API.
type Scraper struct {
	// BaseURL is the API root, DefaultScrapeAPIURL when empty
	BaseURL string

	// Client does the requests
	Client HTTPClient

	// UserAgent is sent with every request
	UserAgent string
}

type scrapeResponse struct {
	TweetURL       string        `json:"tweetURL"`
	UserName       string        `json:"user_name"`
	UserScreenName string        `json:"user_screen_name"`
	Text           string        `json:"text"`
	MediaExtended  []scrapeMedia `json:"media_extended"`
}

type scrapeMedia struct {
	Type     string          `json:"type"`
	URL      string          `json:"url"`
	Variants []scrapeVariant `json:"variants"`
}

type scrapeVariant struct {
	URL         string `json:"url"`
	Bitrate     int    `json:"bitrate"`
	ContentType string `json:"content_type"`
}

// Scrape fetches the post. A non-200 answer or a post without usable media
// is reported as ErrNoMedia; the post metadata is still returned in the
// latter case so callers can use its text.
func (s *Scraper) Scrape(ctx context.Context, id e.PostID) (*e.Post, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = DefaultScrapeAPIURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/i/status/"+id.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	res, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape api status %d: %w", res.StatusCode, e.ErrNoMedia)
	}

	var body scrapeResponse
	err = json.NewDecoder(io.LimitReader(res.Body, maxScrapeBody)).Decode(&body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	post := body.toPost(id)
	if len(post.Media) == 0 {
		return post, fmt.Errorf("post %s: %w", id, e.ErrNoMedia)
	}

	return post, nil
}

func (r scrapeResponse) toPost(id e.PostID) *e.Post {
	post := &e.Post{
		ID:           id,
		URL:          r.TweetURL,
		AuthorName:   r.UserName,
		AuthorHandle: r.UserScreenName,
		Text:         r.Text,
	}
	if post.URL == "" {
		post.URL = id.URL()
	}

	for _, m := range r.MediaExtended {
		item := e.MediaItem{
			Kind: e.MediaKind(m.Type),
			URL:  m.URL,
		}

		switch item.Kind {
		case e.MediaKindImage:
		case e.MediaKindVideo, e.MediaKindGIF:
			for _, v := range m.Variants {
				item.Variants = append(item.Variants, e.Variant{
					URL:         v.URL,
					Bitrate:     v.Bitrate,
					ContentType: v.ContentType,
				})
			}
			if best, ok := BestVariant(item.Variants, requiredContainer); ok {
				item.URL = best.URL
			}
		default:
			continue
		}

		if item.URL == "" {
			continue
		}
		post.Media = append(post.Media, item)
	}

	return post
}

// BestVariant picks the highest bitrate variant whose content type ends
// with container.
func BestVariant(variants []e.Variant, container string) (e.Variant, bool) {
	var (
		best  e.Variant
		found bool
	)
	for _, v := range variants {
		if v.URL == "" || !strings.HasSuffix(strings.ToLower(v.ContentType), container) {
			continue
		}
		if !found || v.Bitrate > best.Bitrate {
			best = v
			found = true
		}
	}
	return best, found
}
