package colorcoin

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/thehobbit85/chromanode/internal/chain"
)

// EPOBC is the "Enhanced Padded Order-Based Coloring" definition
// class. The scan/removal routines themselves belong to the
// colored-coin data library this component invokes (spec §4.9's
// "explicitly out of scope" note); this type only carries the
// per-class identifier pattern and the dispatch shape, expressed as a
// method rather than a type switch per the REDESIGN guidance of §9.
type EPOBC struct {
	// Scan and Remove are injected so the external colored-coin
	// library's actual scan/removal routines can be wired in without
	// this package depending on that library's types.
	Scan   func(ctx context.Context, raw *chain.Tx, getTx func(context.Context, chain.Hash) (*chain.Tx, error)) error
	Remove func(ctx context.Context, txid chain.Hash) error

	// Mint reports whether raw mints an epobc color definition, the
	// detection step the external library owns (it alone knows the
	// padding/order-based encoding that distinguishes a definition
	// mint from a value transfer). nil means this class never mints
	// definitions, so remove_txs always falls through to RemoveColorValues.
	Mint func(raw *chain.Tx) bool
}

func (e *EPOBC) Name() string { return "epobc" }

func (e *EPOBC) FullScanTx(ctx context.Context, raw *chain.Tx, getTx func(context.Context, chain.Hash) (*chain.Tx, error)) error {
	if e.Scan == nil {
		return nil
	}
	return e.Scan(ctx, raw, getTx)
}

func (e *EPOBC) RemoveColorValues(ctx context.Context, txid chain.Hash) error {
	if e.Remove == nil {
		return nil
	}
	return e.Remove(ctx, txid)
}

// IDPattern matches cc-wallet's epobc color definition identifier
// template: "epobc:{txid}:<number>:0".
func (e *EPOBC) IDPattern(txid chain.Hash) string {
	return fmt.Sprintf("epobc:%s:*:0", hex.EncodeToString(txid[:]))
}

// MintedDefinitionID reports the id a definition minted by raw would
// be indexed under. Serial number 0 is the only one this package can
// name without the external library's padding-code arithmetic; real
// deployments with more than one color per genesis tx need a richer
// Mint hook to supply the serial.
func (e *EPOBC) MintedDefinitionID(raw *chain.Tx) (string, bool) {
	if e.Mint == nil || !e.Mint(raw) {
		return "", false
	}
	return fmt.Sprintf("epobc:%s:0:0", hex.EncodeToString(raw.TxID[:])), true
}
