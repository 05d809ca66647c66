package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

type VideoFetcher interface {
	FetchVideo(ctx context.Context, id e.PostID, dir string) (string, error)
}

type PostScraper interface {
	Scrape(ctx context.Context, id e.PostID) (*e.Post, error)
}

type ItemsDownloader interface {
	DownloadAll(ctx context.Context, items []e.MediaItem, dir string) []e.MediaItem
}

// Result is what was acquired for one post. Items all have Path set.
type Result struct {
	Post        *e.Post
	Items       []e.MediaItem
	FromPrimary bool
}

// Acquirer gets the media of a post into a directory: yt-dlp first, the
// scrape API plus direct downloads as a fallback.
type Acquirer struct {
	// Log is a logger
	Log logger.Logger

	// Primary fetches a single video; optional
	Primary VideoFetcher

	// Scraper reads post metadata and media URLs
	Scraper PostScraper

	// Downloader fetches scraped media URLs
	Downloader ItemsDownloader
}

// Acquire returns ErrNoMedia (wrapped) when neither path produced a file.
func (a *Acquirer) Acquire(ctx context.Context, id e.PostID, dir string) (*Result, error) {
	log := a.Log.With("post_id", id)

	if a.Primary != nil {
		res, err := a.acquirePrimary(ctx, id, dir)
		if err == nil {
			log.Debug("video fetched with yt-dlp", "path", res.Items[0].Path, "size", res.Items[0].Size)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, e.ErrNoMedia) {
			log.Debug("yt-dlp found no video, falling back to scrape", "error", err)
		} else {
			log.Warn("yt-dlp failed, falling back to scrape", "error", err)
		}
	}

	post, err := a.Scraper.Scrape(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("scraping post: %w", err)
	}

	items := a.Downloader.DownloadAll(ctx, post.Media, dir)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(items) == 0 {
		return &Result{Post: post}, fmt.Errorf("downloading %d media items: %w", len(post.Media), e.ErrNoMedia)
	}

	if len(items) < len(post.Media) {
		log.Warn("some media items were not downloaded", "downloaded", len(items), "total", len(post.Media))
	}

	return &Result{Post: post, Items: items}, nil
}

func (a *Acquirer) acquirePrimary(ctx context.Context, id e.PostID, dir string) (*Result, error) {
	path, err := a.Primary.FetchVideo(ctx, id, dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("checking video file: %w", err)
	}

	return &Result{
		Post: &e.Post{ID: id, URL: id.URL()},
		Items: []e.MediaItem{{
			Kind: e.MediaKindVideo,
			Path: path,
			Size: info.Size(),
		}},
		FromPrimary: true,
	}, nil
}

// Describe fetches post metadata only. A post without media still yields
// its text.
func (a *Acquirer) Describe(ctx context.Context, id e.PostID) (*e.Post, error) {
	post, err := a.Scraper.Scrape(ctx, id)
	if post != nil && (err == nil || errors.Is(err, e.ErrNoMedia)) {
		return post, nil
	}
	if err == nil {
		err = e.ErrNoMedia
	}
	return nil, fmt.Errorf("describing post: %w", err)
}
