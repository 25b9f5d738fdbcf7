// Package blockimport implements BlockImporter (spec §4.6): importing
// one confirmed block's header, transactions and history rows under a
// single storage transaction, upgrading any previously-unconfirmed
// transactions it contains in place.
package blockimport

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/thehobbit85/chromanode/internal/address"
	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store"
)

// maxParallelism bounds the per-tx/per-input fan-out inside one block
// import, per the batch fan-out pattern of spec §9.
const maxParallelism = 16

// Importer is BlockImporter.
type Importer struct {
	storage store.Storage
	lock    *smartlock.SmartLock
	pub     *events.Publisher
	mainnet bool
}

func New(storage store.Storage, lock *smartlock.SmartLock, pub *events.Publisher, mainnet bool) *Importer {
	return &Importer{storage: storage, lock: lock, pub: pub, mainnet: mainnet}
}

func txIDHex(h chain.Hash) string { return hex.EncodeToString(h[:]) }

// Import inserts block at height, confirming or inserting every
// transaction it carries and resolving its inputs, then emits the
// confirm events in the order specified by spec §4.6. The caller
// asserts stored_latest.hash == block.Header.PrevHash before calling;
// this function does not re-check it.
func (im *Importer) Import(ctx context.Context, block *chain.Block, height int32) error {
	keys := make([]string, 0, len(block.Txs)+1)
	keys = append(keys, txIDHex(block.Hash))
	for _, tx := range block.Txs {
		keys = append(keys, txIDHex(tx.TxID))
		for _, p := range tx.ParentIDs() {
			keys = append(keys, txIDHex(p))
		}
	}

	return im.lock.WithLock(ctx, keys, func() error {
		return im.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
			return im.importLocked(ctx, tx, block, height)
		})
	})
}

func (im *Importer) importLocked(ctx context.Context, tx store.Tx, block *chain.Block, height int32) error {
	if err := tx.InsertBlock(ctx, store.BlockRow{
		Height: height,
		Hash:   block.Hash,
		Header: block.Header,
		TxIDs:  block.TxIDs(),
	}); err != nil {
		return fmt.Errorf("blockimport: insert block %s: %w", txIDHex(block.Hash), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelism)

	for _, t := range block.Txs {
		t := t
		g.Go(func() error {
			return im.importTx(gctx, tx, t, block.Hash, height)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(maxParallelism)
	for _, t := range block.Txs {
		t := t
		g.Go(func() error {
			return im.spendInputs(gctx, tx, t, block.Hash, height)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	im.pub.BroadcastBlock(tx, block.Hash, height)
	im.pub.AddBlock(tx, block.Hash)

	return nil
}

func (im *Importer) importTx(ctx context.Context, tx store.Tx, t *chain.Tx, blockHash chain.Hash, height int32) error {
	_, err := tx.GetTx(ctx, t.TxID)
	switch err {
	case nil:
		addrs, err := tx.ConfirmHistoryRowsForTx(ctx, t.TxID, height)
		if err != nil {
			return fmt.Errorf("blockimport: confirm history for %s: %w", txIDHex(t.TxID), err)
		}
		if _, err := tx.UpsertConfirmedTx(ctx, t.TxID, t.Raw, height); err != nil {
			return fmt.Errorf("blockimport: confirm tx %s: %w", txIDHex(t.TxID), err)
		}
		for _, addr := range addrs {
			im.pub.BroadcastAddress(tx, addr, t.TxID, &blockHash, &height)
		}

	case store.ErrTxNotFound:
		if _, err := tx.UpsertConfirmedTx(ctx, t.TxID, t.Raw, height); err != nil {
			return fmt.Errorf("blockimport: insert confirmed tx %s: %w", txIDHex(t.TxID), err)
		}
		for idx, out := range t.Outputs {
			addrs := address.Extract(out.PkScript, im.mainnet)
			for _, addr := range addrs {
				h := height
				row := store.HistoryRow{
					Address:     addr,
					TxID:        t.TxID,
					OutputIndex: uint32(idx),
					Value:       out.Value,
					Script:      out.PkScript,
					Height:      &h,
				}
				if err := tx.InsertHistoryRow(ctx, row); err != nil {
					return fmt.Errorf("blockimport: history row %s:%d: %w", txIDHex(t.TxID), idx, err)
				}
				im.pub.BroadcastAddress(tx, addr, t.TxID, &blockHash, &height)
			}
		}

	default:
		return fmt.Errorf("blockimport: lookup %s: %w", txIDHex(t.TxID), err)
	}

	im.pub.BroadcastTx(tx, t.TxID, &blockHash, &height)
	im.pub.AddTx(tx, t.TxID, false)
	return nil
}

func (im *Importer) spendInputs(ctx context.Context, tx store.Tx, t *chain.Tx, blockHash chain.Hash, height int32) error {
	for _, in := range t.Inputs {
		if in.PreviousOutPoint.IsCoinbase() {
			continue
		}

		h := height
		addrs, err := tx.SpendHistoryRow(ctx, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index, t.TxID, &h)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return fmt.Errorf("blockimport: spend %s:%d: %w", txIDHex(in.PreviousOutPoint.Hash), in.PreviousOutPoint.Index, err)
		}
		for _, addr := range addrs {
			im.pub.BroadcastAddress(tx, addr, t.TxID, &blockHash, &height)
		}
	}
	return nil
}
