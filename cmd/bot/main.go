package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"nuclight.org/xmedia-tg-bot/app/delivery"
	"nuclight.org/xmedia-tg-bot/app/links"
	"nuclight.org/xmedia-tg-bot/app/media"
	"nuclight.org/xmedia-tg-bot/app/queue"
	"nuclight.org/xmedia-tg-bot/app/services"
	"nuclight.org/xmedia-tg-bot/app/storage"
	"nuclight.org/xmedia-tg-bot/app/telegram"
	"nuclight.org/xmedia-tg-bot/app/uploader"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

var opts struct {
	BotToken  string `long:"bot-token" env:"BOT_TOKEN" required:"true" description:"telegram bot api token"`
	AdminID   int64  `long:"admin-id" env:"ADMIN_ID" description:"telegram user id allowed to see /stats"`
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./db/xmedia.sqlite" description:"path to the sqlite database file"`
	OutputDir string `long:"output-dir" env:"OUTPUT_DIR" default:"./downloads" description:"directory for temporary post workspaces"`
	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn, error"`
	SentryDSN string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, reporting is off when empty"`

	MaxFileSize         int64         `long:"max-file-size" env:"MAX_FILE_SIZE" default:"52428800" description:"largest video sent through the bot api, in bytes"`
	DownloadConcurrency int64         `long:"download-concurrency" env:"DOWNLOAD_CONCURRENCY" default:"4" description:"concurrent media downloads across all chats"`
	DownloadRetries     int           `long:"download-retries" env:"DOWNLOAD_RETRIES" default:"3" description:"attempts per media download"`
	ProgressLinger      time.Duration `long:"progress-linger" env:"PROGRESS_LINGER" default:"5s" description:"how long the final progress message stays"`
	SendRate            float64       `long:"send-rate" env:"SEND_RATE" default:"25" description:"bot api requests per second"`
	UserAgent           string        `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36" description:"user agent for outgoing http requests"`

	XCookies       string        `long:"x-cookies" env:"X_COOKIES" description:"cookies file passed to yt-dlp"`
	YTDLPPath      string        `long:"ytdlp-path" env:"YTDLP_PATH" default:"yt-dlp" description:"yt-dlp executable"`
	YTDLPTimeout   time.Duration `long:"ytdlp-timeout" env:"YTDLP_TIMEOUT" default:"180s" description:"hard limit for one yt-dlp run"`
	YTDLPExtraArgs string        `long:"ytdlp-extra-args" env:"YTDLP_EXTRA_ARGS" description:"extra yt-dlp arguments, shell quoted"`
	ScrapeAPIURL   string        `long:"scrape-api-url" env:"SCRAPE_API_URL" default:"https://api.vxtwitter.com" description:"post scrape api root"`

	UploaderAppID   int    `long:"uploader-app-id" env:"UPLOADER_APP_ID" description:"telegram app id for the upload channel client"`
	UploaderAppHash string `long:"uploader-app-hash" env:"UPLOADER_APP_HASH" description:"telegram app hash for the upload channel client"`
	UploaderSession string `long:"uploader-session" env:"UPLOADER_SESSION" description:"session file of the upload channel client"`
	UploadChannel   string `long:"upload-channel" env:"UPLOAD_CHANNEL" description:"channel username or link for oversized videos"`
}

var Revision = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.NewLogger(level)
	log.Info("starting bot", "revision", Revision)

	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     opts.SentryDSN,
			Release: Revision,
		})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := run(log); err != nil {
		log.Error("bot stopped", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, dir := range []string{opts.OutputDir, filepath.Dir(opts.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		return fmt.Errorf("creating sqlite3 database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	api, err := tgbotapi.NewBotAPI(opts.BotToken)
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	sender := &telegram.Sender{
		Log:     log,
		Bot:     api,
		Limiter: rate.NewLimiter(rate.Limit(opts.SendRate), max(1, int(opts.SendRate))),
	}

	deliverer := &delivery.Deliverer{
		Log:         log,
		Messenger:   sender,
		MaxFileSize: opts.MaxFileSize,
		AlbumSize:   delivery.DefaultAlbumSize,
	}

	if opts.UploaderAppID != 0 && opts.UploaderAppHash != "" && opts.UploaderSession != "" && opts.UploadChannel != "" {
		up := &uploader.MTProto{
			Log:         log,
			AppID:       opts.UploaderAppID,
			AppHash:     opts.UploaderAppHash,
			SessionPath: opts.UploaderSession,
			BotToken:    opts.BotToken,
			Channel:     opts.UploadChannel,
		}
		if err := up.Start(ctx); err != nil {
			return fmt.Errorf("starting upload channel client: %w", err)
		}
		defer func() {
			if err := up.Stop(); err != nil {
				log.Error("stopping upload channel client", "error", err)
			}
		}()
		deliverer.Uploader = up
	} else {
		log.Warn("upload channel is not configured, oversized videos will not be delivered")
	}

	extraArgs, err := shellwords.Parse(opts.YTDLPExtraArgs)
	if err != nil {
		return fmt.Errorf("parsing yt-dlp extra args: %w", err)
	}

	apiClient := &http.Client{Timeout: 30 * time.Second}
	downloadClient := &http.Client{Timeout: 10 * time.Minute}

	acquirer := &media.Acquirer{
		Log: log,
		Primary: &media.YTDLP{
			Log:         log,
			Path:        opts.YTDLPPath,
			Timeout:     opts.YTDLPTimeout,
			CookiesFile: opts.XCookies,
			ExtraArgs:   extraArgs,
			UserAgent:   opts.UserAgent,
		},
		Scraper: &media.Scraper{
			BaseURL:   opts.ScrapeAPIURL,
			Client:    apiClient,
			UserAgent: opts.UserAgent,
		},
		Downloader: &media.Downloader{
			Log:       log,
			Client:    downloadClient,
			Limiter:   semaphore.NewWeighted(max(1, opts.DownloadConcurrency)),
			Retries:   opts.DownloadRetries,
			UserAgent: opts.UserAgent,
		},
	}

	posts := &services.PostSrv{
		Log:       log,
		OutputDir: opts.OutputDir,
		Acquirer:  acquirer,
		Deliverer: deliverer,
	}

	dispatcher := &queue.Dispatcher{
		Log:            log,
		Processor:      posts,
		Settings:       db,
		Messenger:      sender,
		ProgressLinger: opts.ProgressLinger,
	}

	bot := &telegram.Client{
		Log:       log,
		Bot:       api,
		Sender:    sender,
		AdminID:   opts.AdminID,
		StatsPath: opts.OutputDir,
		Links: &links.Extractor{
			Log:       log,
			Client:    apiClient,
			UserAgent: opts.UserAgent,
		},
		Queue: dispatcher,
		Users: db,
	}

	err = bot.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}

	<-ctx.Done()
	log.Info("stopping bot", "queue", dispatcher.Stats())

	bot.Wait()
	dispatcher.Wait()

	return nil
}
