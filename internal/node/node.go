// Package node defines the Bitcoin node collaborator consumed by
// ChainSync (spec §6): get_latest/get_block/get_tx/get_mempool_txs plus
// the tx/block event source, generalized from the pack's
// blocktx.ProcessorBitcoinI RPC surface and internal/metamorph's ZMQ
// event wiring.
package node

import (
	"context"

	"github.com/thehobbit85/chromanode/internal/chain"
)

// Client is the node RPC collaborator.
type Client interface {
	GetLatest(ctx context.Context) (chain.Tip, error)
	GetBlock(ctx context.Context, height int32) (*chain.Block, error)
	GetBlockByHash(ctx context.Context, hash chain.Hash) (*chain.Block, error)
	GetTx(ctx context.Context, txid chain.Hash) (*chain.Tx, error)
	GetMempoolTxs(ctx context.Context) ([]chain.Hash, error)
}

// EventSource delivers the node's tx/block push notifications (spec
// §4.8). Handlers run on the source's own goroutine and must not
// block it for long.
type EventSource interface {
	SubscribeTx(handler func(chain.Hash)) error
	SubscribeBlock(handler func()) error
	Close() error
}
