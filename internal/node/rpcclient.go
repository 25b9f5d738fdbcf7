package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ordishs/go-bitcoin"

	"github.com/thehobbit85/chromanode/internal/chain"
)

// RPCClient implements Client over github.com/ordishs/go-bitcoin's
// JSON-RPC wrapper, the same client the pack's blocktx.Processor and
// internal/node_client package drive against a bitcoind-compatible
// node.
type RPCClient struct {
	rpc *bitcoin.Bitcoind
}

// Dial opens a JSON-RPC connection to host:port.
func Dial(host string, port int, user, pass string, useSSL bool) (*RPCClient, error) {
	rpc, err := bitcoin.New(host, port, user, pass, useSSL)
	if err != nil {
		return nil, fmt.Errorf("node: dial: %w", err)
	}
	return &RPCClient{rpc: rpc}, nil
}

func (c *RPCClient) GetLatest(_ context.Context) (chain.Tip, error) {
	hashHex, err := c.rpc.GetBestBlockHash()
	if err != nil {
		return chain.Tip{}, fmt.Errorf("node: get best block hash: %w", err)
	}

	info, err := c.rpc.GetBlock(hashHex)
	if err != nil {
		return chain.Tip{}, fmt.Errorf("node: get latest block: %w", err)
	}

	hash, err := reversedHexToHash(hashHex)
	if err != nil {
		return chain.Tip{}, err
	}

	return chain.Tip{Hash: *hash, Height: int32(info.Height)}, nil
}

func (c *RPCClient) GetBlock(ctx context.Context, height int32) (*chain.Block, error) {
	hashHex, err := c.rpc.GetBlockHash(int(height))
	if err != nil {
		return nil, fmt.Errorf("node: get block hash at %d: %w", height, err)
	}

	hash, err := reversedHexToHash(hashHex)
	if err != nil {
		return nil, err
	}

	return c.getBlockByHashHex(ctx, hashHex, *hash)
}

func (c *RPCClient) GetBlockByHash(ctx context.Context, hash chain.Hash) (*chain.Block, error) {
	return c.getBlockByHashHex(ctx, hashToReversedHex(hash), hash)
}

func (c *RPCClient) getBlockByHashHex(ctx context.Context, hashHex string, hash chain.Hash) (*chain.Block, error) {
	info, err := c.rpc.GetBlock(hashHex)
	if err != nil {
		return nil, fmt.Errorf("node: get block %s: %w", hashHex, err)
	}

	headerHex, err := c.rpc.GetBlockHeaderHex(hashHex)
	if err != nil {
		return nil, fmt.Errorf("node: get block header %s: %w", hashHex, err)
	}

	headerBytes, err := hex.DecodeString(*headerHex)
	if err != nil {
		return nil, fmt.Errorf("node: decode block header %s: %w", hashHex, err)
	}

	header, err := chain.DecodeHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("node: parse block header %s: %w", hashHex, err)
	}

	txs := make([]*chain.Tx, 0, len(info.Tx))
	for _, txidHex := range info.Tx {
		txid, err := reversedHexToHash(txidHex)
		if err != nil {
			return nil, err
		}
		tx, err := c.GetTx(ctx, *txid)
		if err != nil {
			return nil, fmt.Errorf("node: fetch tx %s in block %s: %w", txidHex, hashHex, err)
		}
		txs = append(txs, tx)
	}

	return &chain.Block{Hash: hash, Header: header, Txs: txs}, nil
}

func (c *RPCClient) GetTx(_ context.Context, txid chain.Hash) (*chain.Tx, error) {
	raw, err := c.rpc.GetRawTransaction(hashToReversedHex(txid))
	if err != nil {
		return nil, fmt.Errorf("node: get raw transaction: %w", err)
	}

	rawBytes, err := hex.DecodeString(raw.Hex)
	if err != nil {
		return nil, fmt.Errorf("node: decode raw transaction hex: %w", err)
	}

	return chain.DecodeTx(rawBytes)
}

func (c *RPCClient) GetMempoolTxs(_ context.Context) ([]chain.Hash, error) {
	raw, err := c.rpc.GetRawMempool(false)
	if err != nil {
		return nil, fmt.Errorf("node: get raw mempool: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("node: decode raw mempool: %w", err)
	}

	out := make([]chain.Hash, 0, len(ids))
	for _, idHex := range ids {
		h, err := reversedHexToHash(idHex)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

// reversedHexToHash parses a big-endian display-order hash string
// (what every Bitcoin RPC takes and returns) into our internal,
// little-endian byte order Hash.
func reversedHexToHash(s string) (*chain.Hash, error) {
	h, err := chain.ChainhashFromStr(s)
	if err != nil {
		return nil, fmt.Errorf("node: parse hash %q: %w", s, err)
	}
	return h, nil
}

func hashToReversedHex(h chain.Hash) string {
	return chain.ChainhashString(h)
}
