// Package colorcoin implements ColorRescanner (spec §4.9): the
// colored-coin metadata layer maintained on top of the core indexer's
// transaction store, driven by the addtx/removetx/addblock/removeblock
// event stream and its own reorg-aware block-advance pass.
package colorcoin

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

// Rescanner is ColorRescanner. AddTxs, RemoveTxs and UpdateBlocks share
// one mutex (spec §4.9/§5: a single shared lock rather than SmartLock's
// per-key fairness).
type Rescanner struct {
	storage store.Storage
	defs    []Definition
	logger  *slog.Logger

	mu sync.Mutex
}

func New(storage store.Storage, defs []Definition, logger *slog.Logger) *Rescanner {
	return &Rescanner{storage: storage, defs: defs, logger: logger}
}

func txIDHex(h chain.Hash) string { return hex.EncodeToString(h[:]) }

// AddTxs runs spec §4.9's add_txs: scan and record every txid not
// already tracked. Per-tx errors are logged; siblings still run.
func (r *Rescanner) AddTxs(ctx context.Context, txids []chain.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addTxs(ctx, txids)
}

func (r *Rescanner) addTxs(ctx context.Context, txids []chain.Hash) {
	for _, id := range txids {
		if err := r.addTx(ctx, id); err != nil {
			r.logger.Error("colorcoin: add tx failed", slog.String("txid", txIDHex(id)), slog.String("err", err.Error()))
		}
	}
}

func (r *Rescanner) addTx(ctx context.Context, id chain.Hash) error {
	already, err := r.isScanned(ctx, id)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	raw, err := r.fetchTx(ctx, id)
	if err != nil {
		return err
	}

	minted := make(map[string]string, len(r.defs))
	for _, def := range r.defs {
		if err := def.FullScanTx(ctx, raw, r.fetchTx); err != nil {
			r.logger.Error("colorcoin: full scan failed",
				slog.String("txid", txIDHex(id)), slog.String("definition", def.Name()), slog.String("err", err.Error()))
			continue
		}
		if defID, ok := def.MintedDefinitionID(raw); ok {
			minted[defID] = def.Name()
		}
	}

	return r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		for defID, class := range minted {
			if err := tx.InsertColorDefinition(ctx, store.ColorDefinitionRow{ID: defID, Class: class}); err != nil {
				return err
			}
		}
		return tx.UpsertColorScanned(ctx, store.ColorScannedRow{TxID: id})
	})
}

// RemoveTxs runs spec §4.9's remove_txs: unwind every registered
// definition class's bookkeeping for each txid still tracked, then
// drop its color-scanned row.
func (r *Rescanner) RemoveTxs(ctx context.Context, txids []chain.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeTxs(ctx, txids)
}

func (r *Rescanner) removeTxs(ctx context.Context, txids []chain.Hash) {
	for _, id := range txids {
		if err := r.removeTx(ctx, id); err != nil {
			r.logger.Error("colorcoin: remove tx failed", slog.String("txid", txIDHex(id)), slog.String("err", err.Error()))
		}
	}
}

func (r *Rescanner) removeTx(ctx context.Context, id chain.Hash) error {
	present, err := r.isScanned(ctx, id)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	for _, def := range r.defs {
		if err := r.removeDefinitionOrValues(ctx, def, id); err != nil {
			r.logger.Error("colorcoin: remove color values failed",
				slog.String("txid", txIDHex(id)), slog.String("definition", def.Name()), slog.String("err", err.Error()))
		}
	}

	return r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		return tx.DeleteColorScanned(ctx, id)
	})
}

// removeDefinitionOrValues is spec §4.9's remove_txs branch for one
// definition class: (a) if a definition minted by id is indexed under
// this class's IDPattern, drop it by id; (b) otherwise remove the
// color-values def recorded for id. Which pattern to look up is the
// per-class polymorphic part (def.IDPattern); the lookup-and-dispatch
// itself is common across every class.
func (r *Rescanner) removeDefinitionOrValues(ctx context.Context, def Definition, id chain.Hash) error {
	pattern := def.IDPattern(id)

	var found *store.ColorDefinitionRow
	err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		row, err := tx.FindColorDefinitionByPattern(ctx, pattern)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = row
		return tx.DeleteColorDefinition(ctx, row.ID)
	})
	if err != nil {
		return err
	}
	if found != nil {
		return nil
	}

	return def.RemoveColorValues(ctx, id)
}

func (r *Rescanner) isScanned(ctx context.Context, id chain.Hash) (bool, error) {
	var present bool
	err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		_, err := tx.GetColorScanned(ctx, id)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		present = true
		return nil
	})
	return present, err
}

// fetchTx decodes a transaction from the core indexer's transaction
// table, per §4.9's "fetch the raw transaction from the core
// transaction table".
func (r *Rescanner) fetchTx(ctx context.Context, id chain.Hash) (*chain.Tx, error) {
	var row *store.TxRow
	err := r.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
		rr, err := tx.GetTx(ctx, id)
		row = rr
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain.DecodeTx(row.Raw)
}
