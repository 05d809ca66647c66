package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) FetchVideo(_ context.Context, id e.PostID, dir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, id.String()+".mp4")
	return path, os.WriteFile(path, []byte("video"), 0o644)
}

type fakeScraper struct {
	post  *e.Post
	err   error
	calls int
}

func (f *fakeScraper) Scrape(context.Context, e.PostID) (*e.Post, error) {
	f.calls++
	return f.post, f.err
}

type fakeDownloader struct {
	fail map[string]bool
}

func (f *fakeDownloader) DownloadAll(_ context.Context, items []e.MediaItem, dir string) []e.MediaItem {
	var out []e.MediaItem
	for i, item := range items {
		if f.fail[item.URL] {
			continue
		}
		item.Path = filepath.Join(dir, fmt.Sprintf("%d", i))
		item.Size = 1
		out = append(out, item)
	}
	return out
}

func scrapedPost() *e.Post {
	return &e.Post{
		ID:         "1",
		URL:        "https://x.com/u/status/1",
		AuthorName: "U",
		Text:       "text",
		Media: []e.MediaItem{
			{Kind: e.MediaKindImage, URL: "img1"},
			{Kind: e.MediaKindImage, URL: "img2"},
		},
	}
}

func TestAcquirer_PrimaryPath(t *testing.T) {
	primary := &fakeFetcher{}
	scraper := &fakeScraper{post: scrapedPost()}
	a := &Acquirer{Log: logger.Discard(), Primary: primary, Scraper: scraper, Downloader: &fakeDownloader{}}

	res, err := a.Acquire(context.Background(), "1", t.TempDir())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if !res.FromPrimary {
		t.Error("FromPrimary = false, want true")
	}
	if len(res.Items) != 1 || res.Items[0].Kind != e.MediaKindVideo || res.Items[0].Size != int64(len("video")) {
		t.Errorf("items = %+v, want one video", res.Items)
	}
	if scraper.calls != 0 {
		t.Errorf("scraper called %d times, want 0", scraper.calls)
	}
}

func TestAcquirer_FallsBackToScrape(t *testing.T) {
	tests := []struct {
		name       string
		primaryErr error
	}{
		{name: "timeout", primaryErr: fmt.Errorf("running yt-dlp: %w", e.ErrTimeout)},
		{name: "no video", primaryErr: fmt.Errorf("yt-dlp: %w", e.ErrNoMedia)},
		{name: "other failure", primaryErr: errors.New("exit status 1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeFetcher{err: tt.primaryErr}
			scraper := &fakeScraper{post: scrapedPost()}
			a := &Acquirer{Log: logger.Discard(), Primary: primary, Scraper: scraper, Downloader: &fakeDownloader{}}

			res, err := a.Acquire(context.Background(), "1", t.TempDir())
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}

			if primary.calls != 1 || scraper.calls != 1 {
				t.Errorf("calls primary=%d scraper=%d, want 1 and 1", primary.calls, scraper.calls)
			}
			if res.FromPrimary {
				t.Error("FromPrimary = true, want false")
			}
			if len(res.Items) != 2 {
				t.Errorf("items = %d, want 2", len(res.Items))
			}
			if res.Post.Text != "text" {
				t.Errorf("post text = %q", res.Post.Text)
			}
		})
	}
}

func TestAcquirer_NoMedia(t *testing.T) {
	tests := []struct {
		name    string
		scraper *fakeScraper
		fail    map[string]bool
	}{
		{
			name:    "scrape finds nothing",
			scraper: &fakeScraper{err: fmt.Errorf("status 404: %w", e.ErrNoMedia)},
		},
		{
			name:    "every download fails",
			scraper: &fakeScraper{post: scrapedPost()},
			fail:    map[string]bool{"img1": true, "img2": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Acquirer{
				Log:        logger.Discard(),
				Primary:    &fakeFetcher{err: e.ErrNoMedia},
				Scraper:    tt.scraper,
				Downloader: &fakeDownloader{fail: tt.fail},
			}

			_, err := a.Acquire(context.Background(), "1", t.TempDir())
			if !errors.Is(err, e.ErrNoMedia) {
				t.Errorf("error = %v, want ErrNoMedia", err)
			}
		})
	}
}

func TestAcquirer_PartialDownloads(t *testing.T) {
	a := &Acquirer{
		Log:        logger.Discard(),
		Scraper:    &fakeScraper{post: scrapedPost()},
		Downloader: &fakeDownloader{fail: map[string]bool{"img1": true}},
	}

	res, err := a.Acquire(context.Background(), "1", t.TempDir())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].URL != "img2" {
		t.Errorf("items = %+v, want only img2", res.Items)
	}
}

func TestAcquirer_Describe(t *testing.T) {
	tests := []struct {
		name    string
		scraper *fakeScraper
		wantErr bool
	}{
		{name: "with media", scraper: &fakeScraper{post: scrapedPost()}},
		{name: "text only", scraper: &fakeScraper{post: &e.Post{ID: "1", Text: "text"}, err: e.ErrNoMedia}},
		{name: "api down", scraper: &fakeScraper{err: fmt.Errorf("status 503: %w", e.ErrNoMedia)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Acquirer{Log: logger.Discard(), Scraper: tt.scraper}

			post, err := a.Describe(context.Background(), "1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && post.Text != "text" {
				t.Errorf("text = %q", post.Text)
			}
		})
	}
}
