package colorcoin

import (
	"context"
	"io"
	"log/slog"
	"testing"

	bt "github.com/libsv/go-bt/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
	"github.com/thehobbit85/chromanode/internal/store/storetest"
)

// rawTx returns a minimal but genuinely decodable serialized
// transaction, since Rescanner.fetchTx round-trips through
// chain.DecodeTx rather than accepting placeholder bytes.
func rawTx(t *testing.T) []byte {
	t.Helper()
	return bt.NewTx().Bytes()
}

type fakeDefinition struct {
	scanned []chain.Hash
	removed []chain.Hash
	mint    func(raw *chain.Tx) (string, bool)
}

func (d *fakeDefinition) Name() string { return "fake" }

func (d *fakeDefinition) FullScanTx(_ context.Context, raw *chain.Tx, _ func(context.Context, chain.Hash) (*chain.Tx, error)) error {
	d.scanned = append(d.scanned, raw.TxID)
	return nil
}

func (d *fakeDefinition) RemoveColorValues(_ context.Context, txid chain.Hash) error {
	d.removed = append(d.removed, txid)
	return nil
}

func (d *fakeDefinition) IDPattern(txid chain.Hash) string { return txIDHex(txid) + ":*" }

func (d *fakeDefinition) MintedDefinitionID(raw *chain.Tx) (string, bool) {
	if d.mint == nil {
		return "", false
	}
	return d.mint(raw)
}

func hashWithSeed(seed byte) chain.Hash {
	var raw [32]byte
	raw[0] = seed
	return chain.Hash(raw)
}

func insertBlock(t *testing.T, mem *storetest.Memory, height int32, hash chain.Hash, txids ...chain.Hash) {
	t.Helper()
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		return tx.InsertBlock(context.Background(), store.BlockRow{Height: height, Hash: hash, TxIDs: txids})
	}))
}

func newTestRescanner(t *testing.T, defs ...Definition) (*Rescanner, *storetest.Memory) {
	t.Helper()
	mem := storetest.New()
	r := New(mem, defs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r, mem
}

func TestAddTxs_ScansOnceAndRecordsUnconfirmed(t *testing.T) {
	def := &fakeDefinition{}
	r, mem := newTestRescanner(t, def)

	txid := hashWithSeed(1)
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		return tx.InsertUnconfirmedTx(context.Background(), txid, rawTx(t))
	}))

	r.AddTxs(context.Background(), []chain.Hash{txid})
	assert.Len(t, def.scanned, 1)

	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		scanned, err := tx.GetColorScanned(context.Background(), txid)
		require.NoError(t, err)
		assert.Nil(t, scanned.Height)
		return nil
	}))

	// a second AddTxs call must not re-scan.
	r.AddTxs(context.Background(), []chain.Hash{txid})
	assert.Len(t, def.scanned, 1)
}

// TestRemoveTxs_DropsMintedDefinitionByIDInsteadOfRemovingValues covers
// spec §4.9's remove_txs branch (a): when a definition was minted by
// the removed txid, the class's indexed definition is looked up via
// IDPattern and dropped by id, and RemoveColorValues is never called.
func TestRemoveTxs_DropsMintedDefinitionByIDInsteadOfRemovingValues(t *testing.T) {
	def := &fakeDefinition{
		mint: func(raw *chain.Tx) (string, bool) { return txIDHex(raw.TxID) + ":definition", true },
	}
	r, mem := newTestRescanner(t, def)

	raw := rawTx(t)
	decoded, decErr := chain.DecodeTx(raw)
	require.NoError(t, decErr)
	txid := decoded.TxID
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		return tx.InsertUnconfirmedTx(context.Background(), txid, raw)
	}))

	r.AddTxs(context.Background(), []chain.Hash{txid})

	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.FindColorDefinitionByPattern(context.Background(), def.IDPattern(txid))
		return err
	}))

	r.RemoveTxs(context.Background(), []chain.Hash{txid})

	assert.Empty(t, def.removed, "RemoveColorValues must not run once the minted definition was found and dropped by id")

	err := mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.FindColorDefinitionByPattern(context.Background(), def.IDPattern(txid))
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetColorScanned(context.Background(), txid)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveTxs_DropsRowAndNotifiesDefinitions(t *testing.T) {
	def := &fakeDefinition{}
	r, mem := newTestRescanner(t, def)

	txid := hashWithSeed(2)
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		return tx.UpsertColorScanned(context.Background(), store.ColorScannedRow{TxID: txid})
	}))

	r.RemoveTxs(context.Background(), []chain.Hash{txid})
	assert.Equal(t, []chain.Hash{txid}, def.removed)

	err := mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetColorScanned(context.Background(), txid)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestUpdateBlocks_ReorgUnconfirmsAboveForkHeight covers scenario S6: the
// rescanner is caught up to height 5 on a chain that then gets rolled
// back to height 3; the next UpdateBlocks pass must null out every
// color-scanned row above height 3 before it resumes advancing.
func TestUpdateBlocks_ReorgUnconfirmsAboveForkHeight(t *testing.T) {
	r, mem := newTestRescanner(t)

	var hashes [6]chain.Hash
	for h := int32(0); h <= 5; h++ {
		hashes[h] = hashWithSeed(byte(h + 1))
		insertBlock(t, mem, h, hashes[h])
	}

	for h := int32(0); h <= 5; h++ {
		txid := hashWithSeed(byte(100 + h))
		hh := h
		require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
			if _, err := tx.UpsertConfirmedTx(context.Background(), txid, []byte{byte(100 + hh)}, hh); err != nil {
				return err
			}
			return tx.UpsertColorScanned(context.Background(), store.ColorScannedRow{
				TxID: txid, BlockHash: &hashes[hh], Height: &hh,
			})
		}))
	}

	// reorg: core storage rolls back to height 3 and gets a new block 4,
	// unconfirming the core transaction rows above the fork point the
	// same way ChainSync's rollback does.
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		if _, err := tx.DeleteBlocksAbove(context.Background(), 3); err != nil {
			return err
		}
		return tx.UnconfirmRowsAbove(context.Background(), 3)
	}))
	newHash4 := hashWithSeed(200)
	newTxID4 := hashWithSeed(201)
	insertBlock(t, mem, 4, newHash4, newTxID4)
	require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.UpsertConfirmedTx(context.Background(), newTxID4, []byte{201}, 4)
		return err
	}))

	require.NoError(t, r.updateBlocks(context.Background()))

	var rows []*store.ColorScannedRow
	for h := int32(0); h <= 5; h++ {
		txid := hashWithSeed(byte(100 + h))
		require.NoError(t, mem.ExecuteTransaction(context.Background(), func(tx store.Tx) error {
			row, err := tx.GetColorScanned(context.Background(), txid)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		}))
	}

	for h, row := range rows {
		if h <= 3 {
			assert.NotNilf(t, row.Height, "height %d row should still be confirmed", h)
		} else {
			assert.Nilf(t, row.Height, "height %d row should have been unconfirmed by the reorg", h)
		}
	}
}
