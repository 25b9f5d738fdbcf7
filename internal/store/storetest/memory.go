// Package storetest provides an in-memory store.Storage used by unit
// tests across the synchronizer packages, standing in for
// internal/store/postgres the way the pack's in-memory
// store/postgresql test doubles stand in for a live database.
package storetest

import (
	"context"
	"sync"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

// Memory is an in-memory store.Storage. ExecuteTransaction serializes
// whole transaction bodies the same way real usage is serialized by
// SmartLock; within one body, memTx itself tolerates the concurrent
// per-tx fan-out blockimport and tximport run against it.
type Memory struct {
	mu sync.Mutex

	blocks          map[int32]store.BlockRow
	transactions    map[chain.Hash]store.TxRow
	history         map[historyKey]store.HistoryRow
	colorScanned    map[chain.Hash]store.ColorScannedRow
	colorDefinition map[string]store.ColorDefinitionRow
}

type historyKey struct {
	Address     string
	TxID        chain.Hash
	OutputIndex uint32
}

var _ store.Storage = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		blocks:          make(map[int32]store.BlockRow),
		transactions:    make(map[chain.Hash]store.TxRow),
		history:         make(map[historyKey]store.HistoryRow),
		colorScanned:    make(map[chain.Hash]store.ColorScannedRow),
		colorDefinition: make(map[string]store.ColorDefinitionRow),
	}
}

func (m *Memory) Latest(_ context.Context) (chain.Tip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *store.BlockRow
	for h, row := range m.blocks {
		if best == nil || h > best.Height {
			r := row
			best = &r
		}
	}
	if best == nil {
		return chain.Tip{Hash: chain.ZeroHash, Height: chain.NoHeight}, nil
	}
	return chain.Tip{Hash: best.Hash, Height: best.Height}, nil
}

func (m *Memory) BlockGaps(_ context.Context, heightRange int) ([]store.BlockGap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *store.BlockRow
	for h, row := range m.blocks {
		if best == nil || h > best.Height {
			r := row
			best = &r
		}
	}
	if best == nil {
		return nil, nil
	}
	tip := chain.Tip{Hash: best.Hash, Height: best.Height}

	from := tip.Height - int32(heightRange)
	if from < 0 {
		from = 0
	}

	var gaps []store.BlockGap
	for h := from; h <= tip.Height; h++ {
		if _, ok := m.blocks[h]; !ok {
			gaps = append(gaps, store.BlockGap{Height: h})
		}
	}
	return gaps, nil
}

func (m *Memory) ExecuteTransaction(ctx context.Context, body func(store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.clone()
	tx := &memTx{m: m}

	if err := body(tx); err != nil {
		m.restore(snapshot)
		return err
	}

	for _, fn := range tx.onCommit {
		fn()
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

type snapshot struct {
	blocks          map[int32]store.BlockRow
	transactions    map[chain.Hash]store.TxRow
	history         map[historyKey]store.HistoryRow
	colorScanned    map[chain.Hash]store.ColorScannedRow
	colorDefinition map[string]store.ColorDefinitionRow
}

func (m *Memory) clone() snapshot {
	s := snapshot{
		blocks:       make(map[int32]store.BlockRow, len(m.blocks)),
		transactions: make(map[chain.Hash]store.TxRow, len(m.transactions)),
		history:      make(map[historyKey]store.HistoryRow, len(m.history)),
		colorScanned: make(map[chain.Hash]store.ColorScannedRow, len(m.colorScanned)),
	}
	for k, v := range m.blocks {
		s.blocks[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.history {
		s.history[k] = v
	}
	for k, v := range m.colorScanned {
		s.colorScanned[k] = v
	}
	s.colorDefinition = make(map[string]store.ColorDefinitionRow, len(m.colorDefinition))
	for k, v := range m.colorDefinition {
		s.colorDefinition[k] = v
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.blocks = s.blocks
	m.transactions = s.transactions
	m.history = s.history
	m.colorScanned = s.colorScanned
	m.colorDefinition = s.colorDefinition
}
