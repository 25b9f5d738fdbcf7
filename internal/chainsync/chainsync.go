// Package chainsync implements ChainSync (spec §4.7): the top-level
// state machine that advances the stored tip to the node's, detects
// and rolls back reorgs, and reconciles the mempool once caught up.
//
// RunBlockImport is serialized to one in-flight call: a second
// concurrent call attaches to the first's result instead of starting
// its own pass, grounded on the pack's always-one-in-flight block
// processing (internal/blocktx.Processor never runs two block
// processing passes concurrently), expressed here with a small
// per-call latch rather than the pack's goroutine-and-channel
// plumbing, since there's only ever one method to serialize.
package chainsync

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thehobbit85/chromanode/internal/blockimport"
	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/node"
	"github.com/thehobbit85/chromanode/internal/orphan"
	"github.com/thehobbit85/chromanode/internal/retry"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store"
	"github.com/thehobbit85/chromanode/internal/tximport"
)

// ChainSync is the tip-advance driver.
type ChainSync struct {
	storage       store.Storage
	node          node.Client
	lock          *smartlock.SmartLock
	pub           *events.Publisher
	txImporter    *tximport.Importer
	blockImporter *blockimport.Importer
	orphans       *orphan.Registry
	logger        *slog.Logger

	mu      sync.Mutex
	current *inflightRun
}

type inflightRun struct {
	done chan struct{}
	err  error
}

func New(
	storage store.Storage,
	nodeClient node.Client,
	lock *smartlock.SmartLock,
	pub *events.Publisher,
	txImporter *tximport.Importer,
	blockImporter *blockimport.Importer,
	orphans *orphan.Registry,
	logger *slog.Logger,
) *ChainSync {
	return &ChainSync{
		storage:       storage,
		node:          nodeClient,
		lock:          lock,
		pub:           pub,
		txImporter:    txImporter,
		blockImporter: blockImporter,
		orphans:       orphans,
		logger:        logger,
	}
}

func txIDHex(h chain.Hash) string { return hex.EncodeToString(h[:]) }

// Start subscribes to the node's push notifications (spec §4.8) and
// runs a periodic fallback trigger so the tip still advances if a push
// notification is ever dropped. It blocks until ctx is done.
func (c *ChainSync) Start(ctx context.Context, src node.EventSource, pollInterval time.Duration) error {
	if err := src.SubscribeBlock(func() {
		go c.triggerBlockImport(ctx)
	}); err != nil {
		return fmt.Errorf("chainsync: subscribe block: %w", err)
	}
	if err := src.SubscribeTx(func(txid chain.Hash) {
		go c.triggerTxImport(ctx, txid)
	}); err != nil {
		return fmt.Errorf("chainsync: subscribe tx: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			go c.triggerBlockImport(ctx)
		}
	}
}

func (c *ChainSync) triggerBlockImport(ctx context.Context) {
	if err := c.RunBlockImport(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("chainsync: block import run failed", slog.String("err", err.Error()))
	}
}

func (c *ChainSync) triggerTxImport(ctx context.Context, txid chain.Hash) {
	raw, err := c.node.GetTx(ctx, txid)
	if err != nil {
		c.logger.Error("chainsync: fetch pushed tx failed", slog.String("txid", txIDHex(txid)), slog.String("err", err.Error()))
		return
	}
	if _, _, err := c.txImporter.Import(ctx, raw); err != nil {
		c.logger.Error("chainsync: import pushed tx failed", slog.String("txid", txIDHex(txid)), slog.String("err", err.Error()))
	}
}

// RunBlockImport runs one catch-up pass: advance the stored tip to the
// node's, then reconcile the mempool. A call arriving while a pass is
// already running waits for it and shares its result instead of
// starting a second one.
func (c *ChainSync) RunBlockImport(ctx context.Context) error {
	c.mu.Lock()
	if run := c.current; run != nil {
		c.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run := &inflightRun{done: make(chan struct{})}
	c.current = run
	c.mu.Unlock()

	run.err = c.runBlockImport(ctx)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	close(run.done)

	return run.err
}

func (c *ChainSync) runBlockImport(ctx context.Context) error {
	nodeLatest, err := c.node.GetLatest(ctx)
	if err != nil {
		return fmt.Errorf("chainsync: get node latest: %w", err)
	}

	storedLatest, err := c.storage.Latest(ctx)
	if err != nil {
		return fmt.Errorf("chainsync: get stored latest: %w", err)
	}

	for storedLatest.Hash != nodeLatest.Hash {
		next, err := c.advance(ctx, storedLatest)
		if err != nil {
			c.logger.Error("chainsync: advance failed, refreshing stored tip", slog.String("err", err.Error()))
			refreshed, rerr := c.refreshStoredLatest(ctx)
			if rerr != nil {
				return rerr
			}
			storedLatest = refreshed
			continue
		}
		storedLatest = next

		if nodeLatest.Height == storedLatest.Height {
			nodeLatest, err = c.node.GetLatest(ctx)
			if err != nil {
				return fmt.Errorf("chainsync: refresh node latest: %w", err)
			}
		}
	}

	return c.runMempoolReconcile(ctx)
}

// advance imports exactly one block on top of storedLatest, walking
// back through stored blocks to find the fork point and rolling back
// first if the node's chain has diverged, per spec §4.7's outer loop
// body.
func (c *ChainSync) advance(ctx context.Context, storedLatest chain.Tip) (chain.Tip, error) {
	local := storedLatest
	var candidate *chain.Block

	for {
		next, err := c.node.GetBlock(ctx, local.Height+1)
		if err != nil {
			return chain.Tip{}, fmt.Errorf("chainsync: get node block at %d: %w", local.Height+1, err)
		}
		if local.Hash == next.Header.PrevHash {
			candidate = next
			break
		}
		row, err := c.blockAt(ctx, local.Height-1)
		if err != nil {
			return chain.Tip{}, fmt.Errorf("chainsync: walk back to height %d: %w", local.Height-1, err)
		}
		local = chain.Tip{Hash: row.Hash, Height: row.Height}
	}

	if local.Hash != storedLatest.Hash {
		forkHeight := local.Height
		if err := c.lock.ReorgLock(ctx, func() error {
			return c.rollbackTo(ctx, forkHeight)
		}); err != nil {
			return chain.Tip{}, fmt.Errorf("chainsync: rollback to height %d: %w", forkHeight, err)
		}
		refreshed, err := c.storage.Latest(ctx)
		if err != nil {
			return chain.Tip{}, fmt.Errorf("chainsync: refresh tip after rollback: %w", err)
		}
		local = refreshed
	}

	height := local.Height + 1
	if err := c.blockImporter.Import(ctx, candidate, height); err != nil {
		return chain.Tip{}, fmt.Errorf("chainsync: import block %s: %w", txIDHex(candidate.Hash), err)
	}

	for _, t := range candidate.Txs {
		for _, childHex := range c.orphans.Resolve(txIDHex(t.TxID)) {
			go c.resolveOrphan(ctx, childHex)
		}
	}

	return chain.Tip{Hash: candidate.Hash, Height: height}, nil
}

// resolveOrphan fetches and imports a transaction whose last missing
// parent just confirmed, per the "resolve orphans" step of spec §4.7.
func (c *ChainSync) resolveOrphan(ctx context.Context, txidHex string) {
	raw, err := hex.DecodeString(txidHex)
	if err != nil {
		c.logger.Error("chainsync: decode orphan txid", slog.String("txid", txidHex), slog.String("err", err.Error()))
		return
	}
	id, err := chain.NewHash(raw)
	if err != nil {
		c.logger.Error("chainsync: orphan txid not a hash", slog.String("txid", txidHex), slog.String("err", err.Error()))
		return
	}
	tx, err := c.node.GetTx(ctx, *id)
	if err != nil {
		c.logger.Error("chainsync: fetch orphan tx failed", slog.String("txid", txidHex), slog.String("err", err.Error()))
		return
	}
	if _, _, err := c.txImporter.Import(ctx, tx); err != nil {
		c.logger.Error("chainsync: import orphan tx failed", slog.String("txid", txidHex), slog.String("err", err.Error()))
	}
}

func (c *ChainSync) blockAt(ctx context.Context, height int32) (*store.BlockRow, error) {
	var row *store.BlockRow
	err := c.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		r, err := tx.BlockAt(ctx, height)
		row = r
		return err
	})
	return row, err
}

// refreshStoredLatest retries storage.Latest with a constant 1s
// backoff until it succeeds or ctx is done, per spec §4.7's outer-loop
// failure recovery.
func (c *ChainSync) refreshStoredLatest(ctx context.Context) (chain.Tip, error) {
	var tip chain.Tip
	err := retry.Until(ctx, time.Second, func() error {
		t, err := c.storage.Latest(ctx)
		if err != nil {
			return err
		}
		tip = t
		return nil
	}, func(err error) {
		c.logger.Warn("chainsync: refresh stored tip failed, retrying", slog.String("err", err.Error()))
	})
	return tip, err
}
