package postgres

import (
	"context"
	"errors"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

func (t *txImpl) InsertHistoryRow(ctx context.Context, row store.HistoryRow) error {
	var inputTxID []byte
	if row.InputTxID != nil {
		inputTxID = row.InputTxID[:]
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO history (address, txid, output_index, value, script, height, input_txid, input_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, row.Address, row.TxID[:], row.OutputIndex, row.Value, row.Script, row.Height, inputTxID, row.InputHeight)
	if err != nil {
		return errors.Join(errors.New("postgres: insert history row"), err)
	}
	return nil
}

// ConfirmHistoryRowsForTx implements the history half of upgrading a
// previously-unconfirmed transaction to confirmed (spec §4.6 step 2):
// set height on every row this txid produced, returning the addresses
// touched so the caller can emit one broadcastaddress per row.
func (t *txImpl) ConfirmHistoryRowsForTx(ctx context.Context, txid chain.Hash, height int32) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		UPDATE history SET height = $2 WHERE txid = $1 RETURNING address
	`, txid[:], height)
	if err != nil {
		return nil, errors.Join(errors.New("postgres: confirm history rows"), err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// SpendHistoryRow updates every history row for the referenced output,
// recording who spent it. spenderHeight is nil when the spender is
// still unconfirmed. An output normally carries one address row, but
// bare multisig outputs index under several.
func (t *txImpl) SpendHistoryRow(ctx context.Context, prevTxID chain.Hash, prevIndex uint32, spenderTxID chain.Hash, spenderHeight *int32) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		UPDATE history SET input_txid = $3, input_height = $4
		WHERE txid = $1 AND output_index = $2
		RETURNING address
	`, prevTxID[:], prevIndex, spenderTxID[:], spenderHeight)
	if err != nil {
		return nil, errors.Join(errors.New("postgres: spend history row"), err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, store.ErrNotFound
	}
	return addrs, nil
}
