package colorcoin

import (
	"context"
	"fmt"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

// UpdateBlocks runs spec §4.9's update_blocks: catch the rescan
// frontier up to the core indexer's tip, rolling back first if the
// core chain has reorged past the frontier, then reconcile the
// unconfirmed side.
func (r *Rescanner) UpdateBlocks(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateBlocks(ctx)
}

func (r *Rescanner) updateBlocks(ctx context.Context) error {
	for {
		frontier, err := r.scannedBlocks(ctx)
		if err != nil {
			return fmt.Errorf("colorcoin: read scanned blocks: %w", err)
		}
		heightS, hashS := latestFrontier(frontier)

		core, err := r.storage.Latest(ctx)
		if err != nil {
			return fmt.Errorf("colorcoin: read core tip: %w", err)
		}

		if heightS == core.Height && hashS == core.Hash {
			return r.reconcileUnconfirmed(ctx)
		}

		heightR, err := r.walkBackToForkPoint(ctx, frontier, heightS, hashS, core)
		if err != nil {
			return fmt.Errorf("colorcoin: walk back frontier: %w", err)
		}

		if heightR < heightS {
			if err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
				return tx.UnconfirmColorScannedAbove(ctx, heightR)
			}); err != nil {
				return fmt.Errorf("colorcoin: unconfirm scanned above %d: %w", heightR, err)
			}
		}

		if err := r.confirmNextBlock(ctx, heightR+1); err != nil {
			return fmt.Errorf("colorcoin: confirm block %d: %w", heightR+1, err)
		}
	}
}

// scannedBlocks returns the confirmed color-scanned height→blockhash
// mappings, the rescanner's own view of which core blocks it has
// caught up to.
func (r *Rescanner) scannedBlocks(ctx context.Context) (map[int32]chain.Hash, error) {
	var out map[int32]chain.Hash
	err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		m, err := tx.ConfirmedColorScannedBlocks(ctx)
		out = m
		return err
	})
	return out, err
}

func latestFrontier(frontier map[int32]chain.Hash) (int32, chain.Hash) {
	height := chain.NoHeight
	for h := range frontier {
		if h > height {
			height = h
		}
	}
	if height == chain.NoHeight {
		return chain.NoHeight, chain.ZeroHash
	}
	return height, frontier[height]
}

// walkBackToForkPoint finds the highest height at or below heightS
// where the rescanner's recorded blockhash agrees with the core
// chain's block at that height, per spec §4.9 step 2.
func (r *Rescanner) walkBackToForkPoint(ctx context.Context, frontier map[int32]chain.Hash, heightS int32, hashS chain.Hash, core chain.Tip) (int32, error) {
	height := heightS
	hash := hashS

	if height >= core.Height {
		height = core.Height
		h, ok := frontier[height]
		if !ok {
			return r.walkBackUnrecorded(ctx, frontier, height-1)
		}
		hash = h
	}

	for height >= 0 {
		row, err := r.coreBlockAt(ctx, height)
		if err != nil {
			return 0, err
		}
		if row.Hash == hash {
			return height, nil
		}
		height--
		h, ok := frontier[height]
		if !ok {
			return r.walkBackUnrecorded(ctx, frontier, height)
		}
		hash = h
	}
	return chain.NoHeight, nil
}

// walkBackUnrecorded continues the walk-back when the rescanner never
// recorded a mapping at a height (no tx in that block was scanned),
// falling back to treating an unrecorded height as already aligned
// with the core chain, since there is nothing there to disagree with.
func (r *Rescanner) walkBackUnrecorded(ctx context.Context, frontier map[int32]chain.Hash, height int32) (int32, error) {
	for height >= 0 {
		if hash, ok := frontier[height]; ok {
			row, err := r.coreBlockAt(ctx, height)
			if err != nil {
				return 0, err
			}
			if row.Hash == hash {
				return height, nil
			}
		} else {
			return height, nil
		}
		height--
	}
	return chain.NoHeight, nil
}

func (r *Rescanner) coreBlockAt(ctx context.Context, height int32) (*store.BlockRow, error) {
	var row *store.BlockRow
	err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		rr, err := tx.BlockAt(ctx, height)
		row = rr
		return err
	})
	return row, err
}

// confirmNextBlock scans every txid of the core block at height
// (idempotently, via addTx), then confirms the whole set under that
// block's hash/height in one pass, per spec §4.9 step 4.
func (r *Rescanner) confirmNextBlock(ctx context.Context, height int32) error {
	block, err := r.coreBlockAt(ctx, height)
	if err != nil {
		return err
	}

	r.addTxs(ctx, block.TxIDs)

	return r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		for _, txid := range block.TxIDs {
			if err := tx.UpsertColorScanned(ctx, store.ColorScannedRow{
				TxID:      txid,
				BlockHash: &block.Hash,
				Height:    &height,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// reconcileUnconfirmed runs spec §4.9's final step: after confirmed
// rescanning has caught up, reconcile the unconfirmed side against the
// core indexer's unconfirmed transactions.
func (r *Rescanner) reconcileUnconfirmed(ctx context.Context) error {
	var scanned, core []chain.Hash
	err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		s, err := tx.UnconfirmedColorScannedTxIDs(ctx)
		if err != nil {
			return err
		}
		c, err := tx.UnconfirmedTxIDs(ctx)
		if err != nil {
			return err
		}
		scanned, core = s, c
		return nil
	})
	if err != nil {
		return fmt.Errorf("colorcoin: read unconfirmed sets: %w", err)
	}

	coreSet := toSet(core)
	scannedSet := toSet(scanned)

	var removeOnly, addOnly []chain.Hash
	for _, id := range scanned {
		if _, ok := coreSet[id]; !ok {
			removeOnly = append(removeOnly, id)
		}
	}
	for _, id := range core {
		if _, ok := scannedSet[id]; !ok {
			addOnly = append(addOnly, id)
		}
	}

	r.removeTxs(ctx, removeOnly)
	r.addTxs(ctx, addOnly)
	return nil
}

func toSet(ids []chain.Hash) map[chain.Hash]struct{} {
	set := make(map[chain.Hash]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
