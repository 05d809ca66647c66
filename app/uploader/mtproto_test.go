package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

func TestRetryFloodWait(t *testing.T) {
	floodWait := tgerr.New(420, "FLOOD_WAIT_1")
	other := errors.New("CHAT_WRITE_FORBIDDEN")

	tests := []struct {
		name      string
		errs      []error
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"success", []error{nil}, 3, 1, nil},
		{"flood wait then success", []error{floodWait, nil}, 3, 2, nil},
		{"other error is not retried", []error{other, nil}, 3, 1, other},
		{"attempts exhausted", []error{floodWait, floodWait, nil}, 2, 2, floodWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			err := retryFloodWait(context.Background(), logger.Discard(), tt.attempts, "test", func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryFloodWaitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := retryFloodWait(ctx, logger.Discard(), 3, "test", func(context.Context) error {
		return tgerr.New(420, "FLOOD_WAIT_60")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestUploadVideoChecksFile(t *testing.T) {
	dir := t.TempDir()
	huge := filepath.Join(dir, "huge.mp4")

	f, err := os.Create(huge)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(MaxFileSize + 1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	u := &MTProto{Log: logger.Discard()}

	err = u.UploadVideo(context.Background(), huge, "caption")
	if !errors.Is(err, e.ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}

	err = u.UploadVideo(context.Background(), filepath.Join(dir, "missing.mp4"), "caption")
	if err == nil || errors.Is(err, e.ErrTooLarge) {
		t.Errorf("error = %v, want a stat error", err)
	}
}
