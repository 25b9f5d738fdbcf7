// Package chain holds the wire-level domain types shared by every
// synchronizer component: hashes, block headers, blocks and
// transactions as received from the node, independent of how they end
// up stored. Grounded on blocktx/peer_handler.go's wire-decode stack
// (github.com/libsv/go-p2p/chaincfg/chainhash, github.com/libsv/go-bt/v2),
// the libraries the teacher actually imports for this.
package chain

import (
	"github.com/libsv/go-p2p/chaincfg/chainhash"
)

// Hash is a 32-byte block or transaction identifier.
type Hash = chainhash.Hash

// NewHash builds a Hash from a byte slice in internal (not
// reversed-hex-display) byte order, as stored in the database.
func NewHash(b []byte) (*Hash, error) {
	return chainhash.NewHash(b)
}

// ChainhashFromStr parses a hash from the big-endian display-order hex
// string every Bitcoin RPC call takes and returns.
func ChainhashFromStr(s string) (*Hash, error) {
	return chainhash.NewHashFromStr(s)
}

// ChainhashString renders a hash in the same big-endian display order
// Bitcoin RPC calls expect.
func ChainhashString(h Hash) string {
	return h.String()
}

// HashSize is the length in bytes of a Hash.
const HashSize = chainhash.HashSize

// ZeroHash is the all-zero hash used as the coinbase's previous
// transaction id and as the "no block" previous-hash of height -1.
var ZeroHash = Hash{}

// CoinbasePrevIndex is the previous-output index carried by a coinbase
// input; together with an all-zero previous hash it marks an input as
// not being a real spend.
const CoinbasePrevIndex = 0xFFFFFFFF

// NoHeight marks an unconfirmed row or an empty chain tip.
const NoHeight int32 = -1

// Tip identifies a chain tip: either the node's or the store's.
type Tip struct {
	Hash   Hash
	Height int32
}

// Empty reports whether the tip represents an empty chain.
func (t Tip) Empty() bool {
	return t.Height == NoHeight
}

// BlockHeader is the 80-byte Bitcoin block header.
type BlockHeader struct {
	Version    int32
	PrevHash   Hash
	MerkleRoot Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// OutPoint references a previous transaction's output.
type OutPoint struct {
	Hash  Hash
	Index uint32
}

// IsCoinbase reports whether this outpoint is the synthetic input of a
// coinbase transaction rather than a real spend.
func (o OutPoint) IsCoinbase() bool {
	return o.Hash == ZeroHash && o.Index == CoinbasePrevIndex
}

// TxIn is a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

// TxOut is a transaction output.
type TxOut struct {
	Value        int64
	PkScript     []byte
}

// Tx is a full transaction as received from the node, either loose
// (mempool) or as part of a block.
type Tx struct {
	TxID     Hash
	Raw      []byte
	Version  int32
	LockTime uint32
	Inputs   []TxIn
	Outputs  []TxOut
}

// ParentIDs returns the set of txids this transaction spends from,
// excluding the coinbase input.
func (t *Tx) ParentIDs() []Hash {
	parents := make([]Hash, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.PreviousOutPoint.IsCoinbase() {
			continue
		}
		parents = append(parents, in.PreviousOutPoint.Hash)
	}
	return parents
}

// Block is a full confirmed block: header plus the transactions it
// carries, in wire order.
type Block struct {
	Hash   Hash
	Header BlockHeader
	Txs    []*Tx
}

// TxIDs returns the ids of the block's transactions in wire order.
func (b *Block) TxIDs() []Hash {
	ids := make([]Hash, len(b.Txs))
	for i, tx := range b.Txs {
		ids[i] = tx.TxID
	}
	return ids
}
