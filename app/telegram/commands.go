package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/sysinfo"
)

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	origin := refOfMessage(msg)

	switch msg.Command() {
	case "start":
		err := c.Users.AddUser(ctx, takeUser(msg.From))
		if err != nil {
			// greeting still makes sense, settings fall back to defaults
			c.Log.Error("adding user", "tg_user_id", msg.From.ID, "error", err)
		}
		return c.reply(ctx, origin, welcomeText, nil)

	case "help":
		return c.reply(ctx, origin, welcomeText, nil)

	case "settings":
		settings, err := c.Users.GetSettings(ctx, msg.From.ID)
		if err != nil {
			return fmt.Errorf("getting settings: %w", err)
		}
		return c.reply(ctx, origin, settingsText, settingsKeyboard(settings))

	case "stats":
		if c.AdminID == 0 || msg.From.ID != c.AdminID {
			c.Log.Info("stats requested by non-admin", "tg_user_id", msg.From.ID)
			return nil
		}
		return c.reply(ctx, origin, c.stats(ctx), nil)

	default:
		c.Log.Debug("unknown command", "command", msg.Command())
		return nil
	}
}

func (c *Client) stats(ctx context.Context) string {
	users, err := c.Users.CountUsers(ctx)
	if err != nil {
		c.Log.Warn("counting users", "error", err)
	}

	host, hostErr := sysinfo.Collect(ctx, c.StatsPath)

	return statsText(users, c.Queue.Stats(), host, hostErr)
}

func (c *Client) reply(ctx context.Context, to e.MessageRef, text string, kb *e.Keyboard) error {
	_, err := c.Sender.ReplyText(ctx, to, text, kb)
	if err != nil {
		return fmt.Errorf("replying: %w", err)
	}
	return nil
}
