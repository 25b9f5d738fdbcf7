package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

// memTx mutates its parent Memory's maps directly. A single
// ExecuteTransaction call can fan work for one transaction out across
// several goroutines (blockimport's per-tx/per-input batches), so
// every method takes its own mutex rather than relying on Memory.mu,
// which is only held for the duration of the whole transaction body.
type memTx struct {
	m  *Memory
	mu sync.Mutex

	onCommit []func()
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

func (t *memTx) InsertBlock(_ context.Context, row store.BlockRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m.blocks[row.Height]; ok {
		return fmt.Errorf("storetest: block at height %d already exists", row.Height)
	}
	t.m.blocks[row.Height] = row
	return nil
}

func (t *memTx) BlockAt(_ context.Context, height int32) (*store.BlockRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.m.blocks[height]
	if !ok {
		return nil, store.ErrBlockNotFound
	}
	return &row, nil
}

func (t *memTx) DeleteBlocksAbove(_ context.Context, h int32) ([]chain.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []int32
	for height := range t.m.blocks {
		if height > h {
			removed = append(removed, height)
		}
	}
	// highest first
	for i := 0; i < len(removed); i++ {
		for j := i + 1; j < len(removed); j++ {
			if removed[j] > removed[i] {
				removed[i], removed[j] = removed[j], removed[i]
			}
		}
	}

	hashes := make([]chain.Hash, 0, len(removed))
	for _, height := range removed {
		hashes = append(hashes, t.m.blocks[height].Hash)
		delete(t.m.blocks, height)
	}
	return hashes, nil
}

func (t *memTx) GetTx(_ context.Context, txid chain.Hash) (*store.TxRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.m.transactions[txid]
	if !ok {
		return nil, store.ErrTxNotFound
	}
	return &row, nil
}

func (t *memTx) ExistingParents(_ context.Context, ids []chain.Hash) (map[chain.Hash]struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := make(map[chain.Hash]struct{})
	for _, id := range ids {
		if _, ok := t.m.transactions[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (t *memTx) InsertUnconfirmedTx(_ context.Context, txid chain.Hash, raw []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.transactions[txid] = store.TxRow{TxID: txid, Raw: raw}
	return nil
}

func (t *memTx) UpsertConfirmedTx(_ context.Context, txid chain.Hash, raw []byte, height int32) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := height
	if row, ok := t.m.transactions[txid]; ok {
		row.Height = &h
		t.m.transactions[txid] = row
		return true, nil
	}
	t.m.transactions[txid] = store.TxRow{TxID: txid, Raw: raw, Height: &h}
	return false, nil
}

func (t *memTx) InsertHistoryRow(_ context.Context, row store.HistoryRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.history[historyKey{row.Address, row.TxID, row.OutputIndex}] = row
	return nil
}

func (t *memTx) ConfirmHistoryRowsForTx(_ context.Context, txid chain.Hash, height int32) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := height
	var addrs []string
	for k, row := range t.m.history {
		if k.TxID == txid {
			row.Height = &h
			t.m.history[k] = row
			addrs = append(addrs, row.Address)
		}
	}
	return addrs, nil
}

func (t *memTx) SpendHistoryRow(_ context.Context, prevTxID chain.Hash, prevIndex uint32, spenderTxID chain.Hash, spenderHeight *int32) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var addrs []string
	for k, row := range t.m.history {
		if k.TxID == prevTxID && k.OutputIndex == prevIndex {
			id := spenderTxID
			row.InputTxID = &id
			row.InputHeight = spenderHeight
			t.m.history[k] = row
			addrs = append(addrs, row.Address)
		}
	}
	if len(addrs) == 0 {
		return nil, store.ErrNotFound
	}
	return addrs, nil
}

func (t *memTx) DeleteUnconfirmedTx(_ context.Context, txid chain.Hash) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var addrs []string
	for k, row := range t.m.history {
		if k.TxID == txid || (row.InputTxID != nil && *row.InputTxID == txid) {
			addrs = append(addrs, row.Address)
		}
		if row.InputTxID != nil && *row.InputTxID == txid {
			row.InputTxID = nil
			row.InputHeight = nil
			t.m.history[k] = row
		}
	}
	for k := range t.m.history {
		if k.TxID == txid {
			delete(t.m.history, k)
		}
	}
	if row, ok := t.m.transactions[txid]; ok && row.Height == nil {
		delete(t.m.transactions, txid)
	}
	return addrs, nil
}

func (t *memTx) UnconfirmRowsAbove(_ context.Context, h int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, row := range t.m.transactions {
		if row.Height != nil && *row.Height > h {
			row.Height = nil
			t.m.transactions[id] = row
		}
	}
	for k, row := range t.m.history {
		if row.Height != nil && *row.Height > h {
			row.Height = nil
		}
		if row.InputHeight != nil && *row.InputHeight > h {
			row.InputHeight = nil
		}
		t.m.history[k] = row
	}
	return nil
}

func (t *memTx) UnconfirmedTxIDs(_ context.Context) ([]chain.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []chain.Hash
	for id, row := range t.m.transactions {
		if row.Height == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memTx) GetColorScanned(_ context.Context, txid chain.Hash) (*store.ColorScannedRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.m.colorScanned[txid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &row, nil
}

func (t *memTx) UpsertColorScanned(_ context.Context, row store.ColorScannedRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.colorScanned[row.TxID] = row
	return nil
}

func (t *memTx) DeleteColorScanned(_ context.Context, txid chain.Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m.colorScanned, txid)
	return nil
}

func (t *memTx) UnconfirmColorScannedAbove(_ context.Context, h int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, row := range t.m.colorScanned {
		if row.Height != nil && *row.Height > h {
			row.Height = nil
			row.BlockHash = nil
			t.m.colorScanned[id] = row
		}
	}
	return nil
}

func (t *memTx) UnconfirmedColorScannedTxIDs(_ context.Context) ([]chain.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []chain.Hash
	for id, row := range t.m.colorScanned {
		if row.Height == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

func (t *memTx) InsertColorDefinition(_ context.Context, row store.ColorDefinitionRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.colorDefinition[row.ID] = row
	return nil
}

func (t *memTx) FindColorDefinitionByPattern(_ context.Context, pattern string) (*store.ColorDefinitionRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, row := range t.m.colorDefinition {
		if ok, _ := filepath.Match(pattern, id); ok {
			r := row
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) DeleteColorDefinition(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m.colorDefinition, id)
	return nil
}

func (t *memTx) ConfirmedColorScannedBlocks(_ context.Context) (map[int32]chain.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int32]chain.Hash)
	for _, row := range t.m.colorScanned {
		if row.Height != nil && row.BlockHash != nil {
			out[*row.Height] = *row.BlockHash
		}
	}
	return out, nil
}
