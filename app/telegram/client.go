package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/xmedia-tg-bot/app/links"
	"nuclight.org/xmedia-tg-bot/app/queue"
	"nuclight.org/xmedia-tg-bot/pkg/besteffort"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
	"nuclight.org/xmedia-tg-bot/pkg/mutex"
)

type LinkExtractor interface {
	Extract(ctx context.Context, text string) []e.PostID
}

type JobQueue interface {
	Enqueue(ctx context.Context, job queue.Job)
	Stats() queue.Stats
}

type UserStore interface {
	AddUser(ctx context.Context, user e.User) error
	GetSettings(ctx context.Context, userID int64) (e.Settings, error)
	SetSetting(ctx context.Context, userID int64, key e.SettingKey, value bool) error
	CountUsers(ctx context.Context) (int, error)
}

// Client receives updates and routes them: commands, button presses and
// messages with links. Each chat has its own lane: updates of one chat are
// handled one after another in arrival order, so its jobs are enqueued in
// that order, while other chats proceed independently.
type Client struct {
	Log    logger.Logger
	Bot    *tgbotapi.BotAPI
	Sender *Sender

	// AdminID is the only user allowed to see /stats
	AdminID int64

	// StatsPath is the directory whose disk usage /stats reports
	StatsPath string

	Links LinkExtractor
	Queue JobQueue
	Users UserStore

	toggles mutex.KeyedMutex[int64]

	lanesMu sync.Mutex
	lanes   map[int64][]tgbotapi.Update

	wg sync.WaitGroup
}

func (c *Client) Start(ctx context.Context) error {
	log := c.Log

	log.Info("bot api ready", "username", c.Bot.Self.UserName)

	_, err := c.Bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false})
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = 60
	updatesConf.AllowedUpdates = []string{"message", "callback_query"}

	updatesChan := c.Bot.GetUpdatesChan(updatesConf)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.route(ctx, updatesChan)
	}()

	return nil
}

// Wait blocks until the update loop and every lane have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) route(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			c.Bot.StopReceivingUpdates()
			return
		case update, ok := <-updatesChan:
			if !ok {
				return
			}
			c.dispatch(ctx, update)
		}
	}
}

// dispatch appends the update to its chat's lane and starts a goroutine for
// the lane unless one is draining it already. It never blocks on handling.
func (c *Client) dispatch(ctx context.Context, update tgbotapi.Update) {
	chatID := chatOf(update)

	c.lanesMu.Lock()
	if c.lanes == nil {
		c.lanes = make(map[int64][]tgbotapi.Update)
	}
	pending, running := c.lanes[chatID]
	c.lanes[chatID] = append(pending, update)
	if !running {
		c.wg.Add(1)
	}
	c.lanesMu.Unlock()

	if !running {
		go func() {
			defer c.wg.Done()
			c.drainLane(ctx, chatID)
		}()
	}
}

// drainLane handles the chat's updates in order. The lane is removed in the
// same critical section that finds it empty, so a concurrent dispatch either
// sees a running lane or starts a new one.
func (c *Client) drainLane(ctx context.Context, chatID int64) {
	for {
		c.lanesMu.Lock()
		pending := c.lanes[chatID]
		if len(pending) == 0 || ctx.Err() != nil {
			delete(c.lanes, chatID)
			c.lanesMu.Unlock()
			if len(pending) > 0 {
				c.Log.Warn("lane stopped with pending updates", "tg_chat_id", chatID, "dropped_updates", len(pending))
			}
			return
		}
		update := pending[0]
		pending[0] = tgbotapi.Update{}
		c.lanes[chatID] = pending[1:]
		c.lanesMu.Unlock()

		err := c.handleUpdate(ctx, update)
		if err != nil {
			c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
			sentry.CurrentHub().Recover(err)
		}
	}()

	if update.CallbackQuery != nil {
		return c.handleCallback(ctx, update.CallbackQuery)
	}

	if update.Message == nil {
		log.Debug("update without message")
		return nil
	}

	if update.Message.From == nil {
		log.Warn("message from is nil")
		return nil
	}

	if update.Message.Chat == nil {
		log.Warn("message chat is nil")
		return nil
	}

	log.Debug(
		"new message",
		"tg_message_id", update.Message.MessageID,
		"tg_user_id", update.Message.From.ID,
		"tg_user_nick", update.Message.From.UserName,
		"tg_chat_id", update.Message.Chat.ID,
		"tg_chat_type", update.Message.Chat.Type,
	)

	if update.Message.IsCommand() {
		err := c.handleCommand(ctx, update.Message)
		if err != nil {
			return fmt.Errorf("handling command %q: %w", update.Message.Command(), err)
		}
		return nil
	}

	text := update.Message.Text
	if text == "" {
		text = update.Message.Caption
	}

	if !links.MayContainLinks(text) {
		return nil
	}

	err := c.handleLinks(ctx, update.Message, text)
	if err != nil {
		return fmt.Errorf("handling links: %w", err)
	}

	return nil
}

func (c *Client) handleLinks(ctx context.Context, msg *tgbotapi.Message, text string) error {
	ids := c.Links.Extract(ctx, text)
	if len(ids) == 0 {
		return nil
	}

	origin := refOfMessage(msg)
	log := c.Log.With("tg_chat_id", origin.ChatID, "tg_message_id", origin.MessageID)

	progress, err := c.Sender.ReplyText(ctx, origin, receivedText(len(ids)), nil)
	if err != nil {
		// the job still runs, only without progress reports
		log.Warn("sending progress message", "error", err)
		progress = e.MessageRef{}
	}

	c.Queue.Enqueue(ctx, queue.Job{
		Origin:   origin,
		PostIDs:  ids,
		Progress: progress,
	})

	log.Info("links received", "posts", len(ids), "tg_user_id", origin.UserID)

	besteffort.Do(ctx, log, "set reaction", func(ctx context.Context) error {
		return c.Sender.React(ctx, origin, workingEmoji)
	})

	return nil
}

func chatOf(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID
	default:
		return 0
	}
}

func refOfMessage(msg *tgbotapi.Message) e.MessageRef {
	ref := refOf(*msg)
	if msg.From != nil {
		ref.UserID = msg.From.ID
	}
	return ref
}

func takeUser(user *tgbotapi.User) e.User {
	return e.User{
		ID:        user.ID,
		FirstName: user.FirstName,
		Username:  user.UserName,
	}
}
