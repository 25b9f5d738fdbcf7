package colorcoin

import (
	"context"
	"log/slog"
	"time"

	"github.com/thehobbit85/chromanode/internal/mq"
)

// Start subscribes the rescanner to the tx and block streams and runs
// UpdateBlocks on a ticker as the block-advance fallback, the same
// push-plus-poll shape ChainSync.Start uses for the core tip.
func (r *Rescanner) Start(ctx context.Context, bus mq.Client, pollInterval time.Duration) error {
	if err := r.Subscribe(ctx, bus); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.UpdateBlocks(ctx); err != nil {
				r.logger.Error("colorcoin: update blocks failed", slog.String("err", err.Error()))
			}
		}
	}
}
