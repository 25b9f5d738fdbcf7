package colorcoin

import (
	"context"

	"github.com/thehobbit85/chromanode/internal/chain"
)

// Definition is one registered colored-coin metadata library, treated
// as an external collaborator per spec §4.9/§9: this package only owns
// the scan frontier and dispatch, never the color-value format itself.
type Definition interface {
	// FullScanTx inspects raw and records whatever color metadata it
	// carries. getTx resolves a parent transaction by id when the scan
	// needs to walk back through the spend graph.
	FullScanTx(ctx context.Context, raw *chain.Tx, getTx func(context.Context, chain.Hash) (*chain.Tx, error)) error

	// RemoveColorValues undoes FullScanTx's bookkeeping for txid when
	// txid did not mint a color definition — Rescanner only calls this
	// once it has already checked IDPattern against the indexed
	// definitions and found no match (spec §4.9's remove_txs branch b).
	RemoveColorValues(ctx context.Context, txid chain.Hash) error

	// IDPattern is this definition class's per-tx identifier pattern,
	// used to recognize a definition minted by txid (spec §4.9's
	// remove_txs branch a). For epobc this is "epobc:{txid}:<number>:0".
	IDPattern(txid chain.Hash) string

	// MintedDefinitionID reports the identifier a definition minted by
	// raw would be indexed under, if raw mints one at all. Rescanner
	// records this alongside FullScanTx so a later remove_txs pass can
	// find it again via IDPattern.
	MintedDefinitionID(raw *chain.Tx) (id string, ok bool)

	// Name identifies the definition class in logs.
	Name() string
}
