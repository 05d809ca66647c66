// Package besteffort runs side effects whose failure must not change the
// outcome of the surrounding operation.
package besteffort

import (
	"context"
	"errors"

	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

// Do runs fn and logs a failure at warn level. Context cancellation is
// logged at debug level since it only means the process is stopping.
func Do(ctx context.Context, log logger.Logger, op string, fn func(context.Context) error) {
	err := fn(ctx)
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		log.Debug("best-effort operation canceled", "op", op)
		return
	}

	log.Warn("best-effort operation failed", "op", op, "error", err)
}
