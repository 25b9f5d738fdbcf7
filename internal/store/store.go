// Package store defines the relational storage contract consumed by
// the synchronizer (spec §6): a narrow execute_query/execute_transaction
// facade over whatever connection pool the deployment wires in,
// grounded on the pack's blocktx/store.BlocktxStore and
// store.Storage shapes but cut down to exactly the operations
// TxImporter, BlockImporter, ChainSync and ColorRescanner need.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/thehobbit85/chromanode/internal/chain"
)

var (
	ErrNotFound          = errors.New("store: row not found")
	ErrBlockNotFound     = errors.New("store: block not found")
	ErrTxNotFound        = errors.New("store: transaction not found")
	ErrHeightGap         = errors.New("store: block height is not contiguous with the stored tip")
	ErrAlreadyConfirmed  = errors.New("store: transaction already confirmed")
	ErrNoTransaction     = errors.New("store: no transaction in progress")
)

// BlockRow is the persisted shape of the Block row entity (spec §3).
type BlockRow struct {
	Height int32
	Hash   chain.Hash
	Header chain.BlockHeader
	TxIDs  []chain.Hash
}

// TxRow is the persisted shape of the Transaction row entity. Height
// is nil for an unconfirmed transaction.
type TxRow struct {
	TxID   chain.Hash
	Raw    []byte
	Height *int32
}

// Confirmed reports whether the row carries a height.
func (t TxRow) Confirmed() bool { return t.Height != nil }

// HistoryRow is the persisted shape of the per-address History row
// entity: one row per (address, txid, output index), mutated in place
// when the output is later spent.
type HistoryRow struct {
	Address      string
	TxID         chain.Hash
	OutputIndex  uint32
	Value        int64
	Script       []byte
	Height       *int32
	InputTxID    *chain.Hash
	InputHeight  *int32
}

// ColorScannedRow tracks which transactions have been rescanned for
// colored-coin data (spec §3/§4.9). BlockHash and Height are both nil
// for an unconfirmed scan, and both set for a confirmed one.
type ColorScannedRow struct {
	TxID      chain.Hash
	BlockHash *chain.Hash
	Height    *int32
}

// ColorDefinitionRow is a color-definition minted by some transaction,
// indexed by its class-specific identifier string (spec §4.9's
// remove_txs: "look up a color definition whose identifier string
// matches the definition class's per-tx pattern").
type ColorDefinitionRow struct {
	ID    string
	Class string
}

// BlockGap describes a missing block height discovered while walking
// the stored chain, mirroring the pack's store.BlockGap.
type BlockGap struct {
	Height int32
}

// Tx is a single database transaction body handle. Its typed methods
// run statements within it; OnCommit registers a callback that fires only
// once the enclosing ExecuteTransaction call commits successfully —
// this is the commit-outbox hook EventPublisher relies on for
// transactional event publication (spec §4.3/§9).
type Tx interface {
	// InsertBlock inserts the block row, failing if the height
	// already exists.
	InsertBlock(ctx context.Context, row BlockRow) error

	// BlockAt returns the stored block at height, or ErrBlockNotFound.
	BlockAt(ctx context.Context, height int32) (*BlockRow, error)

	// DeleteBlocksAbove deletes every block row with height > h and
	// returns the hashes that were removed, highest first.
	DeleteBlocksAbove(ctx context.Context, h int32) ([]chain.Hash, error)

	// GetTx returns the transaction row for txid, or ErrTxNotFound.
	GetTx(ctx context.Context, txid chain.Hash) (*TxRow, error)

	// ExistingParents filters ids down to the ones that already have a
	// transaction row.
	ExistingParents(ctx context.Context, ids []chain.Hash) (map[chain.Hash]struct{}, error)

	// InsertUnconfirmedTx inserts a new transaction row with Height
	// nil.
	InsertUnconfirmedTx(ctx context.Context, txid chain.Hash, raw []byte) error

	// UpsertConfirmedTx inserts a new transaction row already bound to
	// height, or — if a row already exists as unconfirmed —
	// confirms it in place. Returns true if the row was pre-existing.
	UpsertConfirmedTx(ctx context.Context, txid chain.Hash, raw []byte, height int32) (preExisting bool, err error)

	// InsertHistoryRow inserts a fresh history row for a newly seen
	// output.
	InsertHistoryRow(ctx context.Context, row HistoryRow) error

	// ConfirmHistoryRowsForTx sets height on every history row
	// produced by txid and returns the addresses touched.
	ConfirmHistoryRowsForTx(ctx context.Context, txid chain.Hash, height int32) ([]string, error)

	// SpendHistoryRow marks every history row for the (prevTxID,
	// prevIndex) output as spent by spenderTxID and returns the
	// addresses touched. Returns ErrNotFound if no such output is
	// indexed.
	SpendHistoryRow(ctx context.Context, prevTxID chain.Hash, prevIndex uint32, spenderTxID chain.Hash, spenderHeight *int32) (addresses []string, err error)

	// DeleteUnconfirmedTx removes the unconfirmed transaction row and
	// its producer history rows, and nulls the input_* fields of any
	// history row it had spent. Returns the addresses touched.
	DeleteUnconfirmedTx(ctx context.Context, txid chain.Hash) ([]string, error)

	// UnconfirmRowsAbove downgrades every transaction/history row with
	// height > h back to unconfirmed, per the rollback algorithm of
	// spec §4.7.
	UnconfirmRowsAbove(ctx context.Context, h int32) error

	// UnconfirmedTxIDs returns every transaction row with Height nil.
	UnconfirmedTxIDs(ctx context.Context) ([]chain.Hash, error)

	// GetColorScanned returns the color-scanned row for txid, or
	// ErrNotFound.
	GetColorScanned(ctx context.Context, txid chain.Hash) (*ColorScannedRow, error)

	// UpsertColorScanned inserts or updates a color-scanned row.
	UpsertColorScanned(ctx context.Context, row ColorScannedRow) error

	// DeleteColorScanned removes the color-scanned row for txid.
	DeleteColorScanned(ctx context.Context, txid chain.Hash) error

	// UnconfirmColorScannedAbove nulls blockhash/height on every
	// color-scanned row with height > h.
	UnconfirmColorScannedAbove(ctx context.Context, h int32) error

	// UnconfirmedColorScannedTxIDs returns every color-scanned row
	// currently unconfirmed.
	UnconfirmedColorScannedTxIDs(ctx context.Context) ([]chain.Hash, error)

	// ConfirmedColorScannedBlocks returns the height/blockhash of every
	// block that has at least one confirmed color-scanned row, the
	// "color-scanned block mappings" ColorRescanner.UpdateBlocks walks
	// back through to find its fork point.
	ConfirmedColorScannedBlocks(ctx context.Context) (map[int32]chain.Hash, error)

	// InsertColorDefinition indexes a definition minted by some
	// transaction under id, so a later remove_txs pass can find it by
	// pattern and drop it by id (spec §4.9).
	InsertColorDefinition(ctx context.Context, row ColorDefinitionRow) error

	// FindColorDefinitionByPattern returns the first indexed
	// definition whose id matches pattern (a '*'-wildcard glob, e.g.
	// "epobc:<txid>:*:0"), or ErrNotFound.
	FindColorDefinitionByPattern(ctx context.Context, pattern string) (*ColorDefinitionRow, error)

	// DeleteColorDefinition removes the indexed definition by id.
	DeleteColorDefinition(ctx context.Context, id string) error

	// OnCommit registers fn to run after the enclosing
	// ExecuteTransaction call commits. Registrations are invoked in
	// order; none run if the transaction rolls back.
	OnCommit(fn func())
}

// Storage is the relational store collaborator (spec §6): statement
// execution outside of a transaction, and a transactional body runner
// that commits or rolls back on every exit path.
type Storage interface {
	// Latest returns the chain cursor derived from the max-height
	// block row, or Tip{ZeroHash, NoHeight} on an empty store.
	Latest(ctx context.Context) (chain.Tip, error)

	// BlockGaps reports missing heights within the last heightRange
	// blocks below the stored tip.
	BlockGaps(ctx context.Context, heightRange int) ([]BlockGap, error)

	// ExecuteTransaction runs body with a fresh Tx, committing on a
	// nil return and rolling back otherwise; OnCommit callbacks fire
	// only after a successful commit.
	ExecuteTransaction(ctx context.Context, body func(Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// RetentionWindow is a 28-day retention period. BlockGaps does not
// read it; its lookback is the heightRange argument.
const RetentionWindow = 28 * 24 * time.Hour
