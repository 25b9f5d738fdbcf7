// Package tximport implements TxImporter (spec §4.4): importing a
// single unconfirmed transaction into storage, deferring it through
// OrphanRegistry when its parents aren't known yet.
package tximport

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/thehobbit85/chromanode/internal/address"
	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/orphan"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store"
)

// Outcome is the result of importing one transaction.
type Outcome int

const (
	Imported Outcome = iota
	AlreadyPresent
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Imported:
		return "imported"
	case AlreadyPresent:
		return "already_present"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Importer is TxImporter.
type Importer struct {
	storage store.Storage
	lock    *smartlock.SmartLock
	orphans *orphan.Registry
	pub     *events.Publisher
	mainnet bool
	logger  *slog.Logger
}

func New(storage store.Storage, lock *smartlock.SmartLock, orphans *orphan.Registry, pub *events.Publisher, mainnet bool, logger *slog.Logger) *Importer {
	return &Importer{storage: storage, lock: lock, orphans: orphans, pub: pub, mainnet: mainnet, logger: logger}
}

func txIDHex(h chain.Hash) string { return hex.EncodeToString(h[:]) }

// Import runs the algorithm of spec §4.4. On a Deferred outcome, Import
// itself registers the tx and its missing parents with OrphanRegistry
// after the storage transaction ends (the registry is pure in-memory
// and not itself transactional), and also returns the missing parent
// txids.
func (im *Importer) Import(ctx context.Context, raw *chain.Tx) (Outcome, []chain.Hash, error) {
	parents := raw.ParentIDs()

	keys := make([]string, 0, len(parents)+1)
	keys = append(keys, txIDHex(raw.TxID))
	for _, p := range parents {
		keys = append(keys, txIDHex(p))
	}

	var outcome Outcome
	var missing []chain.Hash

	err := im.lock.WithLock(ctx, keys, func() error {
		txErr := im.storage.ExecuteTransaction(ctx, func(tx store.Tx) error {
			o, m, err := im.importLocked(ctx, tx, raw, parents)
			outcome, missing = o, m
			return err
		})
		if txErr != nil {
			return txErr
		}
		if outcome == Deferred {
			missingIDs := make([]string, len(missing))
			for i, m := range missing {
				missingIDs[i] = txIDHex(m)
			}
			im.orphans.MarkOrphan(txIDHex(raw.TxID), missingIDs)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return outcome, missing, nil
}

func (im *Importer) importLocked(ctx context.Context, tx store.Tx, raw *chain.Tx, parents []chain.Hash) (Outcome, []chain.Hash, error) {
	if _, err := tx.GetTx(ctx, raw.TxID); err == nil {
		return AlreadyPresent, nil, nil
	} else if err != store.ErrTxNotFound {
		return 0, nil, fmt.Errorf("tximport: lookup %s: %w", txIDHex(raw.TxID), err)
	}

	existing, err := tx.ExistingParents(ctx, parents)
	if err != nil {
		return 0, nil, fmt.Errorf("tximport: existing parents of %s: %w", txIDHex(raw.TxID), err)
	}

	var missing []chain.Hash
	for _, p := range parents {
		if _, ok := existing[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return Deferred, missing, nil
	}

	if err := tx.InsertUnconfirmedTx(ctx, raw.TxID, raw.Raw); err != nil {
		return 0, nil, fmt.Errorf("tximport: insert %s: %w", txIDHex(raw.TxID), err)
	}

	for _, in := range raw.Inputs {
		if in.PreviousOutPoint.IsCoinbase() {
			continue
		}
		addrs, err := tx.SpendHistoryRow(ctx, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index, raw.TxID, nil)
		if err != nil && err != store.ErrNotFound {
			return 0, nil, fmt.Errorf("tximport: spend %s:%d: %w", txIDHex(in.PreviousOutPoint.Hash), in.PreviousOutPoint.Index, err)
		}
		for _, addr := range addrs {
			im.pub.BroadcastAddress(tx, addr, raw.TxID, nil, nil)
		}
	}

	for idx, out := range raw.Outputs {
		addrs := address.Extract(out.PkScript, im.mainnet)
		for _, addr := range addrs {
			row := store.HistoryRow{
				Address:     addr,
				TxID:        raw.TxID,
				OutputIndex: uint32(idx),
				Value:       out.Value,
				Script:      out.PkScript,
			}
			if err := tx.InsertHistoryRow(ctx, row); err != nil {
				return 0, nil, fmt.Errorf("tximport: history row %s:%d: %w", txIDHex(raw.TxID), idx, err)
			}
			im.pub.BroadcastAddress(tx, addr, raw.TxID, nil, nil)
		}
	}

	im.pub.BroadcastTx(tx, raw.TxID, nil, nil)
	im.pub.AddTx(tx, raw.TxID, true)

	return Imported, nil, nil
}
