package chainsync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/libsv/go-bt/v2/bscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehobbit85/chromanode/internal/blockimport"
	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/orphan"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store"
	"github.com/thehobbit85/chromanode/internal/store/storetest"
	"github.com/thehobbit85/chromanode/internal/tximport"
)

type recordingBus struct{ published []string }

func (b *recordingBus) Publish(channel string, _ []byte) error {
	b.published = append(b.published, channel)
	return nil
}
func (b *recordingBus) Listen(string, func([]byte)) error { return nil }
func (b *recordingBus) Close() error                      { return nil }

type fakeNode struct {
	blocks  map[int32]*chain.Block
	latest  int32
	txs     map[chain.Hash]*chain.Tx
	mempool []chain.Hash
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		blocks: make(map[int32]*chain.Block),
		txs:    make(map[chain.Hash]*chain.Tx),
	}
}

func (n *fakeNode) GetLatest(context.Context) (chain.Tip, error) {
	b := n.blocks[n.latest]
	return chain.Tip{Hash: b.Hash, Height: n.latest}, nil
}

func (n *fakeNode) GetBlock(_ context.Context, height int32) (*chain.Block, error) {
	b, ok := n.blocks[height]
	if !ok {
		return nil, store.ErrBlockNotFound
	}
	return b, nil
}

func (n *fakeNode) GetBlockByHash(context.Context, chain.Hash) (*chain.Block, error) {
	return nil, store.ErrBlockNotFound
}

func (n *fakeNode) GetTx(_ context.Context, txid chain.Hash) (*chain.Tx, error) {
	tx, ok := n.txs[txid]
	if !ok {
		return nil, store.ErrTxNotFound
	}
	return tx, nil
}

func (n *fakeNode) GetMempoolTxs(context.Context) ([]chain.Hash, error) {
	return n.mempool, nil
}

func hashWithSeed(seed byte) chain.Hash {
	var raw [32]byte
	raw[0] = seed
	return chain.Hash(raw)
}

func newBlock(seed byte, prev chain.Hash, txs ...*chain.Tx) *chain.Block {
	return &chain.Block{
		Hash:   hashWithSeed(seed),
		Header: chain.BlockHeader{PrevHash: prev},
		Txs:    txs,
	}
}

func newHarness(t *testing.T) (*ChainSync, *fakeNode, *storetest.Memory, *recordingBus) {
	t.Helper()
	mem := storetest.New()
	lock := smartlock.New()
	reg := orphan.New()
	bus := &recordingBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := events.New(bus, logger)
	txImp := tximport.New(mem, lock, reg, pub, true, logger)
	blockImp := blockimport.New(mem, lock, pub, true)
	fn := newFakeNode()
	cs := New(mem, fn, lock, pub, txImp, blockImp, reg, logger)
	return cs, fn, mem, bus
}

// TestRunBlockImport_LinearAdvance covers scenario S1: catching the
// stored tip up to the node's across more than one block with no
// forking.
func TestRunBlockImport_LinearAdvance(t *testing.T) {
	cs, fn, mem, _ := newHarness(t)

	genesis := newBlock(1, chain.ZeroHash)
	block1 := newBlock(2, genesis.Hash)
	fn.blocks[0] = genesis
	fn.blocks[1] = block1
	fn.latest = 1

	require.NoError(t, cs.RunBlockImport(context.Background()))

	tip, err := mem.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, block1.Hash, tip.Hash)
	assert.Equal(t, int32(1), tip.Height)
}

// TestRunBlockImport_ReorgRollsBackAndReimports covers scenario S2: the
// node's chain replaces the stored tip with a different block at the
// same height and extends one further; the old tip's block is rolled
// back before the new one is imported.
func TestRunBlockImport_ReorgRollsBackAndReimports(t *testing.T) {
	cs, fn, mem, bus := newHarness(t)

	genesis := newBlock(1, chain.ZeroHash)
	oldTip := newBlock(2, genesis.Hash)
	fn.blocks[0] = genesis
	fn.blocks[1] = oldTip
	fn.latest = 1
	require.NoError(t, cs.RunBlockImport(context.Background()))

	tip, err := mem.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, oldTip.Hash, tip.Hash)

	newTip1 := newBlock(3, genesis.Hash)
	newTip2 := newBlock(4, newTip1.Hash)
	fn.blocks[1] = newTip1
	fn.blocks[2] = newTip2
	fn.latest = 2

	require.NoError(t, cs.RunBlockImport(context.Background()))

	tip, err = mem.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newTip2.Hash, tip.Hash)
	assert.Equal(t, int32(2), tip.Height)

	assert.Contains(t, bus.published, events.ChannelRemoveBlock)
}

// TestReconcileMempoolOnce covers scenario S4: a stored-unconfirmed
// transaction absent from the node's mempool is removed, and a
// node-mempool transaction the store doesn't have yet is imported.
func TestReconcileMempoolOnce(t *testing.T) {
	cs, fn, mem, bus := newHarness(t)

	staleTxID := hashWithSeed(0xAA)
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		return tx.InsertUnconfirmedTx(context.Background(), staleTxID, []byte{0xAA})
	}))

	keptTxID := hashWithSeed(0xBB)
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		return tx.InsertUnconfirmedTx(context.Background(), keptTxID, []byte{0xBB})
	}))

	script := []byte{bscript.OpTRUE}
	newTxID := hashWithSeed(0xCC)
	fn.txs[newTxID] = &chain.Tx{
		TxID:    newTxID,
		Raw:     []byte{0xCC},
		Outputs: []chain.TxOut{{Value: 1000, PkScript: script}},
		Inputs: []chain.TxIn{{
			PreviousOutPoint: chain.OutPoint{Hash: chain.ZeroHash, Index: chain.CoinbasePrevIndex},
		}},
	}
	fn.mempool = []chain.Hash{keptTxID, newTxID}

	require.NoError(t, cs.reconcileMempoolOnce(context.Background()))

	err := mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetTx(context.Background(), staleTxID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrTxNotFound)

	err = mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetTx(context.Background(), keptTxID)
		return err
	})
	assert.NoError(t, err)

	assert.Contains(t, bus.published, events.ChannelRemoveTx)

	deadline := time.After(time.Second)
	for {
		err := mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
			_, err := tx.GetTx(context.Background(), newTxID)
			return err
		})
		if err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("new mempool tx was never imported")
		case <-time.After(time.Millisecond):
		}
	}
}
