package chainsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/retry"
	"github.com/thehobbit85/chromanode/internal/store"
)

// runMempoolReconcile retries reconcileMempoolOnce with a constant 5s
// backoff until it succeeds or ctx is done, per spec §4.7's inner-loop
// failure recovery.
func (c *ChainSync) runMempoolReconcile(ctx context.Context) error {
	return retry.Until(ctx, 5*time.Second, func() error {
		return c.reconcileMempoolOnce(ctx)
	}, func(err error) {
		c.logger.Warn("chainsync: mempool reconcile failed, retrying", slog.String("err", err.Error()))
	})
}

// reconcileMempoolOnce runs one pass of spec §4.7's inner loop: drop
// stored-unconfirmed transactions the node no longer carries, and
// schedule import of node-mempool transactions the store doesn't have
// yet.
func (c *ChainSync) reconcileMempoolOnce(ctx context.Context) error {
	nodeMempool, err := c.node.GetMempoolTxs(ctx)
	if err != nil {
		return fmt.Errorf("mempool reconcile: get node mempool: %w", err)
	}
	nodeSet := make(map[chain.Hash]struct{}, len(nodeMempool))
	for _, id := range nodeMempool {
		nodeSet[id] = struct{}{}
	}

	var storedUnconfirmed []chain.Hash
	err = c.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		ids, err := tx.UnconfirmedTxIDs(ctx)
		storedUnconfirmed = ids
		return err
	})
	if err != nil {
		return fmt.Errorf("mempool reconcile: get stored unconfirmed: %w", err)
	}
	storedSet := make(map[chain.Hash]struct{}, len(storedUnconfirmed))
	for _, id := range storedUnconfirmed {
		storedSet[id] = struct{}{}
	}

	var toRemove []chain.Hash
	for _, id := range storedUnconfirmed {
		if _, ok := nodeSet[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	if len(toRemove) > 0 {
		err := c.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
			for _, id := range toRemove {
				if _, err := tx.DeleteUnconfirmedTx(ctx, id); err != nil {
					return fmt.Errorf("remove stale mempool tx %s: %w", txIDHex(id), err)
				}
				c.pub.RemoveTx(tx, id, true)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("mempool reconcile: %w", err)
		}
	}

	for _, id := range nodeMempool {
		if _, ok := storedSet[id]; ok {
			continue
		}
		go c.importMempoolTx(ctx, id)
	}

	return nil
}

func (c *ChainSync) importMempoolTx(ctx context.Context, id chain.Hash) {
	raw, err := c.node.GetTx(ctx, id)
	if err != nil {
		c.logger.Error("chainsync: fetch mempool tx failed", slog.String("txid", txIDHex(id)), slog.String("err", err.Error()))
		return
	}
	if _, _, err := c.txImporter.Import(ctx, raw); err != nil {
		c.logger.Error("chainsync: import mempool tx failed", slog.String("txid", txIDHex(id)), slog.String("err", err.Error()))
	}
}
