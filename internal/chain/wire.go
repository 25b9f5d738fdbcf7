package chain

import (
	"bytes"

	bt "github.com/libsv/go-bt/v2"
	"github.com/libsv/go-p2p/wire"
)

// DecodeTx parses a raw Bitcoin transaction as returned by the node's
// RPC (getrawtransaction's hex field) into the synchronizer's own Tx
// shape, via the same github.com/libsv/go-bt/v2 decode the teacher
// uses in blocktx/peer_handler.go (bt.NewTx/tx.ReadFrom).
func DecodeTx(raw []byte) (*Tx, error) {
	msg, err := bt.NewTxFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return FromWireTx(msg, raw)
}

// FromWireTx converts a decoded bt.Tx into the package's Tx, keeping
// the original raw bytes alongside the parsed fields since storage
// persists the raw transaction verbatim (spec §3, Transaction row's
// raw_tx field).
//
// bt.Tx.TxIDBytes/Input.PreviousTxID return big-endian (reversed
// display order) bytes, per peer_handler.go's own comment on
// tx.TxIDBytes(); bt.ReverseBytes flips them back to the internal,
// storage-order bytes this package's Hash uses everywhere else.
func FromWireTx(msg *bt.Tx, raw []byte) (*Tx, error) {
	txid, err := NewHash(bt.ReverseBytes(msg.TxIDBytes()))
	if err != nil {
		return nil, err
	}

	t := &Tx{
		TxID:     *txid,
		Raw:      raw,
		Version:  int32(msg.Version),
		LockTime: msg.LockTime,
	}

	t.Inputs = make([]TxIn, len(msg.Inputs))
	for i, in := range msg.Inputs {
		prevHash, err := NewHash(bt.ReverseBytes(in.PreviousTxID()))
		if err != nil {
			return nil, err
		}
		var sigScript []byte
		if in.UnlockingScript != nil {
			sigScript = *in.UnlockingScript
		}
		t.Inputs[i] = TxIn{
			PreviousOutPoint: OutPoint{
				Hash:  *prevHash,
				Index: in.PreviousTxOutIndex,
			},
			SignatureScript: sigScript,
			Sequence:        in.SequenceNumber,
		}
	}

	t.Outputs = make([]TxOut, len(msg.Outputs))
	for i, out := range msg.Outputs {
		var pkScript []byte
		if out.LockingScript != nil {
			pkScript = *out.LockingScript
		}
		t.Outputs[i] = TxOut{Value: int64(out.Satoshis), PkScript: pkScript}
	}

	return t, nil
}

// DecodeHeader parses an 80-byte Bitcoin block header as returned by
// the node's RPC (getblockheader's hex form).
func DecodeHeader(raw []byte) (BlockHeader, error) {
	var h wire.BlockHeader
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return BlockHeader{}, err
	}
	return FromWireHeader(&h), nil
}

func FromWireHeader(h *wire.BlockHeader) BlockHeader {
	return BlockHeader{
		Version:    h.Version,
		PrevHash:   Hash(h.PrevBlock),
		MerkleRoot: Hash(h.MerkleRoot),
		Timestamp:  uint32(h.Timestamp.Unix()),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}
