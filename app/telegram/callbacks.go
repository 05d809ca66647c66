package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/xmedia-tg-bot/app/delivery"
	"nuclight.org/xmedia-tg-bot/pkg/besteffort"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
)

const toggleDataPrefix = "settings:toggle:"

func parseToggleData(data string) (e.SettingKey, bool) {
	raw, ok := strings.CutPrefix(data, toggleDataPrefix)
	if !ok {
		return "", false
	}
	key, err := e.ParseSettingKey(raw)
	if err != nil {
		return "", false
	}
	return key, true
}

func (c *Client) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		c.Log.Debug("callback without message", "data", cb.Data)
		return c.Sender.AnswerCallback(ctx, cb.ID, "")
	}

	if key, ok := parseToggleData(cb.Data); ok {
		return c.toggleSetting(ctx, cb, key)
	}

	if originID, ok := delivery.ParseDeleteData(cb.Data); ok {
		return c.deletePost(ctx, cb, originID)
	}

	c.Log.Debug("unknown callback data", "data", cb.Data, "tg_user_id", cb.From.ID)

	return c.Sender.AnswerCallback(ctx, cb.ID, "")
}

// toggleSetting flips one setting of the user who pressed the button and
// redraws the keyboard. Presses of one user are serialized so two quick taps
// give two flips.
func (c *Client) toggleSetting(ctx context.Context, cb *tgbotapi.CallbackQuery, key e.SettingKey) error {
	userID := cb.From.ID

	c.toggles.Lock(userID)
	defer c.toggles.Unlock(userID)

	settings, err := c.Users.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("getting settings: %w", err)
	}

	value := !settings.Get(key)

	err = c.Users.SetSetting(ctx, userID, key, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}

	settings.Set(key, value)

	c.Log.Info("setting toggled", "tg_user_id", userID, "key", key, "value", value)

	err = c.Sender.EditKeyboard(ctx, refOf(*cb.Message), settingsKeyboard(settings))
	if err != nil && !errors.Is(err, e.ErrNotModified) {
		c.Log.Warn("redrawing settings keyboard", "error", err)
	}

	return c.Sender.AnswerCallback(ctx, cb.ID, toggleAnswer(value))
}

// deletePost removes the pressed message, the message it replies to and the
// user's message with the link.
func (c *Client) deletePost(ctx context.Context, cb *tgbotapi.CallbackQuery, originID int) error {
	pressed := refOf(*cb.Message)
	log := c.Log.With("tg_chat_id", pressed.ChatID, "tg_user_id", cb.From.ID)

	refs := []e.MessageRef{pressed}
	if reply := cb.Message.ReplyToMessage; reply != nil && reply.MessageID != originID {
		refs = append(refs, e.MessageRef{ChatID: pressed.ChatID, MessageID: reply.MessageID})
	}
	if originID != 0 && originID != pressed.MessageID {
		refs = append(refs, e.MessageRef{ChatID: pressed.ChatID, MessageID: originID})
	}

	for _, ref := range refs {
		besteffort.Do(ctx, log, "delete message", func(ctx context.Context) error {
			return c.Sender.Delete(ctx, ref)
		})
	}

	log.Info("post deleted on request", "messages", len(refs))

	return c.Sender.AnswerCallback(ctx, cb.ID, deletedText)
}
