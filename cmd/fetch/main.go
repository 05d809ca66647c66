package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/semaphore"
	"nuclight.org/xmedia-tg-bot/app/links"
	"nuclight.org/xmedia-tg-bot/app/media"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

var opts struct {
	OutputDir      string        `long:"output" env:"OUTPUT_DIR" default:"./files" description:"output directory, one subdirectory per post"`
	Workers        int           `long:"workers" default:"3" description:"number of posts fetched at once"`
	Concurrency    int64         `long:"download-concurrency" env:"DOWNLOAD_CONCURRENCY" default:"4" description:"concurrent media downloads"`
	XCookies       string        `long:"x-cookies" env:"X_COOKIES" description:"cookies file passed to yt-dlp"`
	YTDLPPath      string        `long:"ytdlp-path" env:"YTDLP_PATH" default:"yt-dlp" description:"yt-dlp executable"`
	YTDLPTimeout   time.Duration `long:"ytdlp-timeout" env:"YTDLP_TIMEOUT" default:"180s" description:"hard limit for one yt-dlp run"`
	YTDLPExtraArgs string        `long:"ytdlp-extra-args" env:"YTDLP_EXTRA_ARGS" description:"extra yt-dlp arguments, shell quoted"`
	NoYTDLP        bool          `long:"no-ytdlp" description:"use only the scrape api"`
	ScrapeAPIURL   string        `long:"scrape-api-url" env:"SCRAPE_API_URL" default:"https://api.vxtwitter.com" description:"post scrape api root"`
	LogLevel       string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn, error"`
}

var (
	wg         sync.WaitGroup
	downloaded int64
	noMedia    int64
	failed     int64
)

func main() {
	args, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.NewLogger(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Minute}

	extractor := &links.Extractor{Log: log, Client: client}
	ids := extractor.Extract(ctx, strings.Join(args, " "))
	if len(ids) == 0 {
		log.Info("no post links in arguments")
		os.Exit(0)
	}

	log.Info("posts to fetch", "count", len(ids))

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		log.Error("creating output directory", "error", err)
		os.Exit(1)
	}

	extraArgs, err := shellwords.Parse(opts.YTDLPExtraArgs)
	if err != nil {
		log.Error("parsing yt-dlp extra args", "error", err)
		os.Exit(1)
	}

	acquirer := &media.Acquirer{
		Log:     log,
		Scraper: &media.Scraper{BaseURL: opts.ScrapeAPIURL, Client: client},
		Downloader: &media.Downloader{
			Log:     log,
			Client:  client,
			Limiter: semaphore.NewWeighted(max(1, opts.Concurrency)),
		},
	}
	if !opts.NoYTDLP {
		acquirer.Primary = &media.YTDLP{
			Log:         log,
			Path:        opts.YTDLPPath,
			Timeout:     opts.YTDLPTimeout,
			CookiesFile: opts.XCookies,
			ExtraArgs:   extraArgs,
		}
	}

	idChan := make(chan e.PostID, len(ids))
	for _, id := range ids {
		idChan <- id
	}
	close(idChan)

	for range max(1, opts.Workers) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range idChan {
				if ctx.Err() != nil {
					return
				}
				fetch(ctx, log, acquirer, id)
			}
		}()
	}

	wg.Wait()

	log.Info("done",
		"downloaded", atomic.LoadInt64(&downloaded),
		"no_media", atomic.LoadInt64(&noMedia),
		"failed", atomic.LoadInt64(&failed),
	)
}

func fetch(ctx context.Context, log logger.Logger, acquirer *media.Acquirer, id e.PostID) {
	log = log.With("post_id", id)

	dir := filepath.Join(opts.OutputDir, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("creating post directory", "error", err)
		atomic.AddInt64(&failed, 1)
		return
	}

	res, err := acquirer.Acquire(ctx, id, dir)
	switch {
	case errors.Is(err, e.ErrNoMedia):
		log.Info("post has no media")
		atomic.AddInt64(&noMedia, 1)
		_ = os.Remove(dir)
		return
	case err != nil:
		log.Error("acquiring media", "error", err)
		atomic.AddInt64(&failed, 1)
		return
	}

	for _, item := range res.Items {
		log.Info("saved", "kind", item.Kind, "path", item.Path, "size", item.Size)
	}
	atomic.AddInt64(&downloaded, 1)
}
