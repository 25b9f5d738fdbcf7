package blockimport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bt/v2/bscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store"
	"github.com/thehobbit85/chromanode/internal/store/storetest"
)

type recordingBus struct {
	published []string
	payloads  map[string][][]byte
}

func (b *recordingBus) Publish(channel string, payload []byte) error {
	b.published = append(b.published, channel)
	if b.payloads == nil {
		b.payloads = make(map[string][][]byte)
	}
	b.payloads[channel] = append(b.payloads[channel], payload)
	return nil
}
func (b *recordingBus) Listen(string, func([]byte)) error { return nil }
func (b *recordingBus) Close() error                      { return nil }

func newTestImporter(t *testing.T) (*Importer, *storetest.Memory, *recordingBus) {
	t.Helper()
	mem := storetest.New()
	lock := smartlock.New()
	bus := &recordingBus{}
	pub := events.New(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	im := New(mem, lock, pub, true)
	return im, mem, bus
}

func p2trueScript(t *testing.T) []byte {
	t.Helper()
	return []byte{bscript.OpTRUE}
}

func p2pkhScript(t *testing.T) []byte {
	t.Helper()
	priv, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)
	s, err := bscript.NewP2PKHFromPubKeyEC(priv.PubKey())
	require.NoError(t, err)
	return *s
}

func nonStandardScript(t *testing.T) []byte {
	t.Helper()
	s := []byte{bscript.OpFALSE, bscript.OpRETURN}
	data := []byte("not an address")
	s = append(s, byte(len(data)))
	s = append(s, data...)
	return s
}

func hashWithSeed(seed byte) chain.Hash {
	var raw [32]byte
	raw[0] = seed
	return chain.Hash(raw)
}

func coinbaseInputTx(t *testing.T, seed byte, script []byte) *chain.Tx {
	t.Helper()
	return &chain.Tx{
		TxID:    hashWithSeed(seed),
		Raw:     []byte{seed},
		Outputs: []chain.TxOut{{Value: 5000, PkScript: script}},
		Inputs: []chain.TxIn{{
			PreviousOutPoint: chain.OutPoint{Hash: chain.ZeroHash, Index: chain.CoinbasePrevIndex},
		}},
	}
}

func testBlock(t *testing.T, seed byte, txs ...*chain.Tx) *chain.Block {
	t.Helper()
	return &chain.Block{
		Hash:   hashWithSeed(seed),
		Header: chain.BlockHeader{},
		Txs:    txs,
	}
}

// TestImport_UnconfirmedTxUpgradedToConfirmed exercises spec scenario
// S5: a transaction already stored unconfirmed (e.g. seen first in the
// mempool) gets confirmed in place when the block that carries it is
// imported, and its history rows pick up the block's height.
func TestImport_UnconfirmedTxUpgradedToConfirmed(t *testing.T) {
	im, mem, bus := newTestImporter(t)

	script := p2trueScript(t)
	tx := coinbaseInputTx(t, 1, script)

	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(storeTx store.Tx) error {
		if err := storeTx.InsertUnconfirmedTx(context.Background(), tx.TxID, tx.Raw); err != nil {
			return err
		}
		return storeTx.InsertHistoryRow(context.Background(), store.HistoryRow{
			Address:     "unconfirmed-addr",
			TxID:        tx.TxID,
			OutputIndex: 0,
			Value:       5000,
			Script:      script,
		})
	}))

	block := testBlock(t, 2, tx)
	require.NoError(t, im.Import(context.Background(), block, 100))

	var row *store.TxRow
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(storeTx store.Tx) error {
		r, err := storeTx.GetTx(context.Background(), tx.TxID)
		row = r
		return err
	}))
	require.NotNil(t, row)
	require.NotNil(t, row.Height)
	assert.Equal(t, int32(100), *row.Height)

	assert.Contains(t, bus.published, events.ChannelBroadcastTx)
	assert.Contains(t, bus.published, events.ChannelBroadcastAddr)
	assert.Contains(t, bus.published, events.ChannelBroadcastBlock)
}

// TestImport_UnrecognizedScriptProducesTxButNoHistoryRow covers the
// boundary case where an output's script carries no recognizable
// address: the transaction row is still created, but no history row
// is written for that output.
func TestImport_UnrecognizedScriptProducesTxButNoHistoryRow(t *testing.T) {
	im, mem, bus := newTestImporter(t)

	tx := coinbaseInputTx(t, 9, nonStandardScript(t))
	block := testBlock(t, 1, tx)

	require.NoError(t, im.Import(context.Background(), block, 100))

	var row *store.TxRow
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(storeTx store.Tx) error {
		r, err := storeTx.GetTx(context.Background(), tx.TxID)
		row = r
		return err
	}))
	require.NotNil(t, row)
	require.NotNil(t, row.Height)

	assert.NotContains(t, bus.published, events.ChannelBroadcastAddr)
	assert.Contains(t, bus.published, events.ChannelBroadcastTx)
}

// TestImport_SpendBroadcastsSpendingBlockHashAndHeight covers the
// input-spend side of confirmed-block import: when a block's tx spends
// a previously confirmed output, the address broadcast for that spend
// must carry the spending block's own hash/height, not an empty one.
func TestImport_SpendBroadcastsSpendingBlockHashAndHeight(t *testing.T) {
	im, _, bus := newTestImporter(t)

	fundingScript := p2pkhScript(t)
	funding := coinbaseInputTx(t, 1, fundingScript)
	fundingBlock := testBlock(t, 2, funding)
	require.NoError(t, im.Import(context.Background(), fundingBlock, 100))

	spend := &chain.Tx{
		TxID: hashWithSeed(3),
		Raw:  []byte{3},
		Inputs: []chain.TxIn{{
			PreviousOutPoint: chain.OutPoint{Hash: funding.TxID, Index: 0},
		}},
	}
	spendBlock := testBlock(t, 4, spend)
	require.NoError(t, im.Import(context.Background(), spendBlock, 101))

	var spendPayload *events.BroadcastAddressPayload
	for _, raw := range bus.payloads[events.ChannelBroadcastAddr] {
		var p events.BroadcastAddressPayload
		require.NoError(t, json.Unmarshal(raw, &p))
		if p.BlockHeight != nil && *p.BlockHeight == 101 {
			spendPayload = &p
		}
	}

	require.NotNil(t, spendPayload, "expected a broadcastaddress payload for the spending block")
	require.NotNil(t, spendPayload.BlockHeight)
	assert.Equal(t, int32(101), *spendPayload.BlockHeight)
	assert.Equal(t, hex.EncodeToString(spendBlock.Hash[:]), spendPayload.BlockHash)
}
