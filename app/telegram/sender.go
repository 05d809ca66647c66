package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

const (
	maxSendAttempts = 3
	maxRetryAfter   = time.Minute
)

// BotAPI is the part of tgbotapi.BotAPI the sender uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Sender performs outgoing Bot API calls. Every call waits on Limiter first
// and is repeated when Telegram answers with retry_after.
type Sender struct {
	// Log is a logger
	Log logger.Logger

	// Bot does the requests
	Bot BotAPI

	// Limiter paces all outgoing calls; nil means no pacing
	Limiter *rate.Limiter
}

func (s *Sender) ReplyText(ctx context.Context, to e.MessageRef, text string, kb *e.Keyboard) (e.MessageRef, error) {
	msg := tgbotapi.NewMessage(to.ChatID, text)
	msg.ReplyToMessageID = to.MessageID
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if !kb.IsEmpty() {
		msg.ReplyMarkup = toMarkup(kb)
	}

	var sent tgbotapi.Message
	err := s.do(ctx, "sendMessage", func() (err error) {
		sent, err = s.Bot.Send(msg)
		return err
	})
	if err != nil {
		return e.MessageRef{}, err
	}

	return refOf(sent), nil
}

func (s *Sender) ReplyVideo(ctx context.Context, to e.MessageRef, path, caption string, kb *e.Keyboard) (e.MessageRef, error) {
	video := tgbotapi.NewVideo(to.ChatID, tgbotapi.FilePath(path))
	video.ReplyToMessageID = to.MessageID
	video.Caption = caption
	video.ParseMode = tgbotapi.ModeHTML
	video.SupportsStreaming = true
	if !kb.IsEmpty() {
		video.ReplyMarkup = toMarkup(kb)
	}

	var sent tgbotapi.Message
	err := s.do(ctx, "sendVideo", func() (err error) {
		sent, err = s.Bot.Send(video)
		return err
	})
	if err != nil {
		return e.MessageRef{}, err
	}

	return refOf(sent), nil
}

func (s *Sender) ReplyPhotos(ctx context.Context, to e.MessageRef, paths []string, caption string) ([]e.MessageRef, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no photos to send")
	}

	files := make([]interface{}, 0, len(paths))
	for i, p := range paths {
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FilePath(p))
		if i == 0 && caption != "" {
			photo.Caption = caption
			photo.ParseMode = tgbotapi.ModeHTML
		}
		files = append(files, photo)
	}

	group := tgbotapi.NewMediaGroup(to.ChatID, files)
	group.ReplyToMessageID = to.MessageID

	var sent []tgbotapi.Message
	err := s.do(ctx, "sendMediaGroup", func() (err error) {
		sent, err = s.Bot.SendMediaGroup(group)
		return err
	})
	if err != nil {
		return nil, err
	}

	refs := make([]e.MessageRef, len(sent))
	for i, m := range sent {
		refs[i] = refOf(m)
	}
	return refs, nil
}

// EditKeyboard replaces the inline keyboard of a message. It returns
// ErrNotModified when the message already has this keyboard.
func (s *Sender) EditKeyboard(ctx context.Context, ref e.MessageRef, kb *e.Keyboard) error {
	var markup tgbotapi.InlineKeyboardMarkup
	if !kb.IsEmpty() {
		markup = *toMarkup(kb)
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(ref.ChatID, ref.MessageID, markup)

	return s.do(ctx, "editMessageReplyMarkup", func() error {
		_, err := s.Bot.Request(edit)
		return err
	})
}

// EditText replaces the text of a message; an unchanged text is not an error.
func (s *Sender) EditText(ctx context.Context, ref e.MessageRef, text string) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	err := s.do(ctx, "editMessageText", func() error {
		_, err := s.Bot.Request(edit)
		return err
	})
	if errors.Is(err, e.ErrNotModified) {
		return nil
	}
	return err
}

func (s *Sender) Delete(ctx context.Context, ref e.MessageRef) error {
	del := tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)

	return s.do(ctx, "deleteMessage", func() error {
		_, err := s.Bot.Request(del)
		return err
	})
}

type reactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// React sets an emoji reaction on a message. tgbotapi has no config for
// setMessageReaction, so the request is built by hand.
func (s *Sender) React(ctx context.Context, ref e.MessageRef, emoji string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", ref.ChatID)
	params.AddNonZero("message_id", ref.MessageID)
	if err := params.AddInterface("reaction", []reactionType{{Type: "emoji", Emoji: emoji}}); err != nil {
		return fmt.Errorf("encoding reaction: %w", err)
	}

	return s.do(ctx, "setMessageReaction", func() error {
		_, err := s.Bot.MakeRequest("setMessageReaction", params)
		return err
	})
}

// AnswerCallback stops the loading indicator of a pressed button.
func (s *Sender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	answer := tgbotapi.NewCallback(callbackID, text)

	return s.do(ctx, "answerCallbackQuery", func() error {
		_, err := s.Bot.Request(answer)
		return err
	})
}

func (s *Sender) do(ctx context.Context, method string, call func() error) error {
	for attempt := 1; ; attempt++ {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		err := classify(call())
		if err == nil {
			return nil
		}

		wait, ok := retryAfter(err)
		if !ok || attempt >= maxSendAttempts {
			return fmt.Errorf("calling %s: %w", method, err)
		}

		s.Log.Warn("bot api asked to slow down", "method", method, "retry_after", wait, "attempt", attempt)

		select {
		case <-ctx.Done():
			return fmt.Errorf("calling %s: %w", method, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// classify maps "message is not modified" to ErrNotModified.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		return fmt.Errorf("%w: %w", e.ErrNotModified, err)
	}
	return err
}

func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		return 0, false
	}
	return min(time.Duration(apiErr.RetryAfter)*time.Second, maxRetryAfter), true
}

func toMarkup(kb *e.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb.Rows))
	for _, r := range kb.Rows {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func refOf(m tgbotapi.Message) e.MessageRef {
	ref := e.MessageRef{MessageID: m.MessageID}
	if m.Chat != nil {
		ref.ChatID = m.Chat.ID
	}
	return ref
}
