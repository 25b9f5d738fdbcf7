package tximport

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/libsv/go-bt/v2/bscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/orphan"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store/storetest"
)

type recordingBus struct{ published []string }

func (b *recordingBus) Publish(channel string, _ []byte) error {
	b.published = append(b.published, channel)
	return nil
}
func (b *recordingBus) Listen(string, func([]byte)) error { return nil }
func (b *recordingBus) Close() error                      { return nil }

func newTestImporter(t *testing.T) (*Importer, *storetest.Memory) {
	t.Helper()
	mem := storetest.New()
	lock := smartlock.New()
	reg := orphan.New()
	pub := events.New(&recordingBus{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	im := New(mem, lock, reg, pub, true, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return im, mem
}

func simpleTx(t *testing.T, seed byte, parents ...chain.Hash) *chain.Tx {
	t.Helper()

	script := []byte{bscript.OpTRUE}

	tx := &chain.Tx{
		Raw:     []byte{seed},
		Outputs: []chain.TxOut{{Value: 1000, PkScript: script}},
	}
	for _, p := range parents {
		tx.Inputs = append(tx.Inputs, chain.TxIn{PreviousOutPoint: chain.OutPoint{Hash: p, Index: 0}})
	}
	if len(parents) == 0 {
		tx.Inputs = append(tx.Inputs, chain.TxIn{PreviousOutPoint: chain.OutPoint{Hash: chain.ZeroHash, Index: chain.CoinbasePrevIndex}})
	}

	var raw [32]byte
	raw[0] = seed
	tx.TxID = chain.Hash(raw)
	return tx
}

func TestImport_CoinbaseExcludedFromParents(t *testing.T) {
	im, mem := newTestImporter(t)
	tx := simpleTx(t, 1)

	outcome, missing, err := im.Import(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, Imported, outcome)
	assert.Empty(t, missing)

	row, err := mem.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, row.Empty())
}

func TestImport_AlreadyPresent(t *testing.T) {
	im, _ := newTestImporter(t)
	tx := simpleTx(t, 1)

	_, _, err := im.Import(context.Background(), tx)
	require.NoError(t, err)

	outcome, _, err := im.Import(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, outcome)
}

func TestImport_DeferredWhenParentMissing(t *testing.T) {
	im, _ := newTestImporter(t)

	var parentID [32]byte
	parentID[0] = 0xAA
	child := simpleTx(t, 2, chain.Hash(parentID))

	outcome, missing, err := im.Import(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, Deferred, outcome)
	require.Len(t, missing, 1)
	assert.Equal(t, chain.Hash(parentID), missing[0])
}

func TestImport_ChildResolvesAfterParentArrives(t *testing.T) {
	im, _ := newTestImporter(t)

	parent := simpleTx(t, 3)
	child := simpleTx(t, 4, parent.TxID)

	outcome, _, err := im.Import(context.Background(), child)
	require.NoError(t, err)
	require.Equal(t, Deferred, outcome)
	assert.True(t, im.orphans.Pending(txIDHex(child.TxID)))

	outcome, _, err = im.Import(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, Imported, outcome)

	resolved := im.orphans.Resolve(txIDHex(parent.TxID))
	require.Equal(t, []string{txIDHex(child.TxID)}, resolved)

	outcome, _, err = im.Import(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, Imported, outcome)
}
