package delivery

import (
	"context"
	"errors"
	"fmt"

	"nuclight.org/xmedia-tg-bot/pkg/besteffort"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

type Messenger interface {
	ReplyText(ctx context.Context, to e.MessageRef, text string, kb *e.Keyboard) (e.MessageRef, error)
	ReplyVideo(ctx context.Context, to e.MessageRef, path, caption string, kb *e.Keyboard) (e.MessageRef, error)
	ReplyPhotos(ctx context.Context, to e.MessageRef, paths []string, caption string) ([]e.MessageRef, error)

	// EditKeyboard returns ErrNotModified when the markup is already in place
	EditKeyboard(ctx context.Context, ref e.MessageRef, kb *e.Keyboard) error
}

type LargeUploader interface {
	UploadVideo(ctx context.Context, path, caption string) error
}

// Deliverer sends acquired media back to the chat the links came from.
type Deliverer struct {
	// Log is a logger
	Log logger.Logger

	// Messenger talks to the originating chat
	Messenger Messenger

	// Uploader takes videos over MaxFileSize; nil disables it
	Uploader LargeUploader

	// MaxFileSize is the largest video sent directly
	MaxFileSize int64

	// AlbumSize is the number of photos per media group
	AlbumSize int
}

// Deliver executes the plan for one post. A failing step does not stop the
// following ones; all step errors are returned joined. ErrNotDelivered is
// returned when no message at all reached the chat.
func (d *Deliverer) Deliver(ctx context.Context, origin e.MessageRef, post *e.Post, items []e.MediaItem, settings e.Settings) error {
	log := d.Log.With("tg_chat_id", origin.ChatID, "post_id", post.ID)

	plan := BuildPlan(post, items, PlanOptions{
		SendText:        settings.SendText,
		MaxFileSize:     d.MaxFileSize,
		AlbumSize:       d.AlbumSize,
		OriginMessageID: origin.MessageID,
	})
	if len(plan.Steps) == 0 {
		return fmt.Errorf("planning delivery: %w", e.ErrNoMedia)
	}

	var (
		errs []error
		last e.MessageRef
	)
	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		ref, err := d.sendStep(ctx, origin, post, step)
		if !ref.IsZero() {
			last = ref
		}
		if err != nil {
			log.Warn("sending step", "step", i, "kind", step.Kind, "error", err)
			errs = append(errs, fmt.Errorf("sending %s: %w", step.Kind, err))
		}
	}

	if last.IsZero() && len(errs) > 0 {
		return fmt.Errorf("%w: %w", e.ErrNotDelivered, errors.Join(errs...))
	}

	if plan.FollowUpText != "" && !last.IsZero() {
		besteffort.Do(ctx, log, "post text reply", func(ctx context.Context) error {
			_, err := d.Messenger.ReplyText(ctx, last, plan.FollowUpText, nil)
			return err
		})
	}

	return errors.Join(errs...)
}

func (d *Deliverer) sendStep(ctx context.Context, origin e.MessageRef, post *e.Post, step Step) (e.MessageRef, error) {
	switch step.Kind {
	case StepAlbum:
		return d.sendAlbum(ctx, origin, step)
	case StepVideo:
		return d.Messenger.ReplyVideo(ctx, origin, step.Items[0].Path, step.Caption, step.Keyboard)
	case StepLargeVideo:
		return d.sendLargeVideo(ctx, origin, post, step)
	default:
		return e.MessageRef{}, fmt.Errorf("unknown step kind: %s", step.Kind)
	}
}

func (d *Deliverer) sendAlbum(ctx context.Context, origin e.MessageRef, step Step) (e.MessageRef, error) {
	paths := make([]string, len(step.Items))
	for i, item := range step.Items {
		paths[i] = item.Path
	}

	refs, err := d.Messenger.ReplyPhotos(ctx, origin, paths, step.Caption)
	if err != nil {
		return e.MessageRef{}, err
	}
	if len(refs) == 0 {
		return e.MessageRef{}, fmt.Errorf("media group returned no messages")
	}

	last := refs[len(refs)-1]
	if step.Keyboard.IsEmpty() {
		return last, nil
	}

	err = d.Messenger.EditKeyboard(ctx, last, step.Keyboard)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, e.ErrNotModified):
		if _, err := d.Messenger.ReplyText(ctx, last, optionsText, step.Keyboard); err != nil {
			return last, fmt.Errorf("sending options reply: %w", err)
		}
		return last, nil
	default:
		return last, fmt.Errorf("attaching keyboard: %w", err)
	}
}

func (d *Deliverer) sendLargeVideo(ctx context.Context, origin e.MessageRef, post *e.Post, step Step) (e.MessageRef, error) {
	item := step.Items[0]

	if d.Uploader == nil {
		ref, err := d.Messenger.ReplyText(ctx, origin, fmt.Sprintf(tooLargeText, formatSize(d.MaxFileSize)), step.Keyboard)
		if err != nil {
			return ref, err
		}
		d.Log.Info("large video not delivered", "path", item.Path, "size", item.Size, "error", e.ErrUploaderDisabled)
		return ref, nil
	}

	// the channel post always credits its source
	caption := step.Caption
	if caption == "" {
		caption = Caption(post)
	}

	err := d.Uploader.UploadVideo(ctx, item.Path, caption)
	if errors.Is(err, e.ErrTooLarge) {
		d.Log.Info("video exceeds the channel limit", "path", item.Path, "size", item.Size)
		return d.Messenger.ReplyText(ctx, origin, hugeText, step.Keyboard)
	}
	if err != nil {
		return e.MessageRef{}, fmt.Errorf("uploading to channel: %w", err)
	}

	return d.Messenger.ReplyText(ctx, origin, uploadedText, step.Keyboard)
}

// NotFound tells the user that nothing could be delivered for the post.
func (d *Deliverer) NotFound(ctx context.Context, origin e.MessageRef, id e.PostID) error {
	_, err := d.Messenger.ReplyText(ctx, origin, notFoundText(id), nil)
	if err != nil {
		return fmt.Errorf("sending not found reply: %w", err)
	}
	return nil
}
