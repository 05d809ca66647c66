package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"nuclight.org/xmedia-tg-bot/app/media"
	"nuclight.org/xmedia-tg-bot/pkg/besteffort"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

// PostSrv handles one post of a job. It creates a fresh workspace directory,
// acquires the media into it and delivers them to the originating chat. The
// workspace is removed when the post is done, whatever the outcome. When
// nothing can be delivered the user is told so; this is not an error unless
// acquisition itself failed for another reason than missing media.
type PostSrv struct {
	// Log is a logger
	Log logger.Logger

	// OutputDir is where workspaces are created
	OutputDir string

	// Acquirer gets media into a workspace
	Acquirer Acquirer

	// Deliverer sends media back to the chat
	Deliverer Deliverer
}

// ProcessPost implements the per-post step of a queued job.
func (s *PostSrv) ProcessPost(ctx context.Context, origin e.MessageRef, id e.PostID, settings e.Settings) error {
	log := s.Log.With("tg_chat_id", origin.ChatID, "post_id", id)

	dir, err := s.createWorkspace()
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Error("removing workspace", "path", dir, "error", rmErr)
		}
	}()

	res, err := s.Acquirer.Acquire(ctx, id, dir)
	if err != nil || res == nil || len(res.Items) == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		notifyErr := s.Deliverer.NotFound(ctx, origin, id)
		if notifyErr != nil {
			log.Warn("sending not found reply", "error", notifyErr)
		}

		if err == nil || errors.Is(err, e.ErrNoMedia) {
			log.Info("no media found", "reason", err)
			return nil
		}
		return fmt.Errorf("acquiring media: %w", err)
	}

	post := res.Post
	if res.FromPrimary && settings.SendText {
		besteffort.Do(ctx, log, "describe post", func(ctx context.Context) error {
			described, err := s.Acquirer.Describe(ctx, id)
			if err != nil {
				return err
			}
			post = described
			return nil
		})
	}

	err = s.Deliverer.Deliver(ctx, origin, post, res.Items, settings)
	if errors.Is(err, e.ErrNotDelivered) && ctx.Err() == nil {
		if notifyErr := s.Deliverer.NotFound(ctx, origin, id); notifyErr != nil {
			log.Warn("sending not found reply", "error", notifyErr)
		}
	}
	if err != nil {
		return fmt.Errorf("delivering media: %w", err)
	}

	return nil
}

func (s *PostSrv) createWorkspace() (string, error) {
	dir := filepath.Join(s.OutputDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

type Acquirer interface {
	Acquire(ctx context.Context, id e.PostID, dir string) (*media.Result, error)
	Describe(ctx context.Context, id e.PostID) (*e.Post, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, origin e.MessageRef, post *e.Post, items []e.MediaItem, settings e.Settings) error
	NotFound(ctx context.Context, origin e.MessageRef, id e.PostID) error
}
