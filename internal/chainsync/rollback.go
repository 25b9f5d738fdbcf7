package chainsync

import (
	"context"
	"fmt"

	"github.com/thehobbit85/chromanode/internal/store"
)

// rollbackTo undoes every block above forkHeight in a single storage
// transaction, per spec §4.7's rollback algorithm. The caller must run
// this under SmartLock.ReorgLock.
func (c *ChainSync) rollbackTo(ctx context.Context, forkHeight int32) error {
	return c.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		if err := tx.UnconfirmRowsAbove(ctx, forkHeight); err != nil {
			return fmt.Errorf("rollback: unconfirm rows above %d: %w", forkHeight, err)
		}

		removed, err := tx.DeleteBlocksAbove(ctx, forkHeight)
		if err != nil {
			return fmt.Errorf("rollback: delete blocks above %d: %w", forkHeight, err)
		}
		for _, hash := range removed {
			c.pub.RemoveBlock(tx, hash)
		}
		return nil
	})
}
