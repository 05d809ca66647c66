package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

// MaxFileSize is the largest document a client may upload.
const MaxFileSize = 2000 << 20

const defaultFloodRetries = 3

// MTProto posts videos that are too large for the Bot API into a channel,
// using a separate MTProto session.
type MTProto struct {
	// Log is a logger
	Log logger.Logger

	// AppID and AppHash identify the Telegram application
	AppID   int
	AppHash string

	// SessionPath is the session file; it must hold an authorized session
	// unless BotToken is set
	SessionPath string

	// BotToken authorizes a fresh session as the bot
	BotToken string

	// Channel is the destination, a username or a t.me link
	Channel string

	// FloodRetries bounds attempts when Telegram asks to wait
	FloodRetries int

	stop   func() error
	up     *uploader.Uploader
	sender *message.Sender
	peer   tg.InputPeerClass
}

// Start connects in the background, checks authorization and resolves the
// destination channel once.
func (u *MTProto) Start(ctx context.Context) error {
	if u.FloodRetries <= 0 {
		u.FloodRetries = defaultFloodRetries
	}

	client := telegram.NewClient(u.AppID, u.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: u.SessionPath},
	})

	stop, err := bg.Connect(client)
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}

	if err := u.init(ctx, client); err != nil {
		_ = stop()
		return err
	}

	u.stop = stop

	return nil
}

func (u *MTProto) init(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("getting auth status: %w", err)
	}

	if !status.Authorized {
		if u.BotToken == "" {
			return fmt.Errorf("session %s is not authorized", u.SessionPath)
		}
		if _, err := client.Auth().Bot(ctx, u.BotToken); err != nil {
			return fmt.Errorf("authorizing bot: %w", err)
		}
	}

	api := client.API()
	u.up = uploader.NewUploader(api)
	u.sender = message.NewSender(api).WithUploader(u.up)

	peer, err := u.sender.Resolve(u.Channel).AsInputPeer(ctx)
	if err != nil {
		return fmt.Errorf("resolving channel %q: %w", u.Channel, err)
	}
	u.peer = peer

	u.Log.Info("upload channel ready", "channel", u.Channel)

	return nil
}

func (u *MTProto) Stop() error {
	if u.stop == nil {
		return nil
	}
	if err := u.stop(); err != nil {
		return fmt.Errorf("stopping mtproto client: %w", err)
	}
	return nil
}

// UploadVideo uploads the file once and posts it to the channel with an
// HTML caption.
func (u *MTProto) UploadVideo(ctx context.Context, path, caption string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("%s has %d bytes: %w", filepath.Base(path), info.Size(), e.ErrTooLarge)
	}

	log := u.Log.With("path", path, "size", info.Size())
	started := time.Now()

	var file tg.InputFileClass
	err = retryFloodWait(ctx, log, u.FloodRetries, "upload file", func(ctx context.Context) (err error) {
		file, err = u.up.FromPath(ctx, path)
		return err
	})
	if err != nil {
		return fmt.Errorf("uploading file: %w", err)
	}

	doc := message.UploadedDocument(file, html.String(nil, caption)).
		MIME("video/mp4").
		Filename(filepath.Base(path)).
		Video().
		SupportsStreaming()

	err = retryFloodWait(ctx, log, u.FloodRetries, "send media", func(ctx context.Context) error {
		_, err := u.sender.To(u.peer).Media(ctx, doc)
		return err
	})
	if err != nil {
		return fmt.Errorf("sending media: %w", err)
	}

	log.Info("video posted to channel", "took", time.Since(started).Round(time.Millisecond))

	return nil
}

// retryFloodWait runs fn up to attempts times, sleeping for the duration
// Telegram asked for between attempts. Other errors are returned at once.
func retryFloodWait(ctx context.Context, log logger.Logger, attempts int, op string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		wait, ok := tgerr.AsFloodWait(err)
		if !ok || attempt >= attempts {
			return err
		}

		log.Warn("flood wait", "op", op, "wait", wait, "attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
