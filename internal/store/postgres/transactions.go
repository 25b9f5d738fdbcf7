package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

func (t *txImpl) GetTx(ctx context.Context, txid chain.Hash) (*store.TxRow, error) {
	var raw []byte
	var height sql.NullInt32

	row := t.tx.QueryRowContext(ctx, `SELECT raw_tx, height FROM transactions WHERE txid = $1`, txid[:])
	if err := row.Scan(&raw, &height); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTxNotFound
		}
		return nil, errors.Join(errors.New("postgres: get tx"), err)
	}

	out := &store.TxRow{TxID: txid, Raw: raw}
	if height.Valid {
		h := height.Int32
		out.Height = &h
	}
	return out, nil
}

func (t *txImpl) ExistingParents(ctx context.Context, ids []chain.Hash) (map[chain.Hash]struct{}, error) {
	found := make(map[chain.Hash]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	args := make([][]byte, len(ids))
	for i, id := range ids {
		args[i] = id[:]
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT txid FROM transactions WHERE txid = ANY($1)`, pq.ByteaArray(args))
	if err != nil {
		return nil, errors.Join(errors.New("postgres: existing parents"), err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		h, err := chain.NewHash(raw)
		if err != nil {
			return nil, err
		}
		found[*h] = struct{}{}
	}
	return found, rows.Err()
}

func (t *txImpl) InsertUnconfirmedTx(ctx context.Context, txid chain.Hash, raw []byte) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (txid, raw_tx, height) VALUES ($1, $2, NULL)
	`, txid[:], raw)
	if err != nil {
		return errors.Join(errors.New("postgres: insert unconfirmed tx"), err)
	}
	return nil
}

func (t *txImpl) UpsertConfirmedTx(ctx context.Context, txid chain.Hash, raw []byte, height int32) (bool, error) {
	var existed bool
	row := t.tx.QueryRowContext(ctx, `SELECT true FROM transactions WHERE txid = $1`, txid[:])
	if err := row.Scan(&existed); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.Join(errors.New("postgres: upsert confirmed tx: check existing"), err)
	}

	if existed {
		_, err := t.tx.ExecContext(ctx, `UPDATE transactions SET height = $2 WHERE txid = $1`, txid[:], height)
		if err != nil {
			return true, errors.Join(errors.New("postgres: confirm existing tx"), err)
		}
		return true, nil
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (txid, raw_tx, height) VALUES ($1, $2, $3)
	`, txid[:], raw, height)
	if err != nil {
		return false, errors.Join(errors.New("postgres: insert confirmed tx"), err)
	}
	return false, nil
}

func (t *txImpl) UnconfirmedTxIDs(ctx context.Context) ([]chain.Hash, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT txid FROM transactions WHERE height IS NULL`)
	if err != nil {
		return nil, errors.Join(errors.New("postgres: unconfirmed txids"), err)
	}
	defer rows.Close()

	var out []chain.Hash
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		h, err := chain.NewHash(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func (t *txImpl) DeleteUnconfirmedTx(ctx context.Context, txid chain.Hash) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT DISTINCT address FROM history WHERE txid = $1 OR input_txid = $1`, txid[:])
	if err != nil {
		return nil, errors.Join(errors.New("postgres: delete unconfirmed tx: touched addresses"), err)
	}
	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return nil, err
		}
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE history SET input_txid = NULL, input_height = NULL WHERE input_txid = $1
	`, txid[:]); err != nil {
		return nil, errors.Join(errors.New("postgres: delete unconfirmed tx: unspend"), err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM history WHERE txid = $1`, txid[:]); err != nil {
		return nil, errors.Join(errors.New("postgres: delete unconfirmed tx: history"), err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE txid = $1 AND height IS NULL`, txid[:]); err != nil {
		return nil, errors.Join(errors.New("postgres: delete unconfirmed tx: transaction row"), err)
	}

	return addrs, nil
}

// UnconfirmRowsAbove implements the transaction/history half of the
// rollback algorithm (spec §4.7): downgrade every row above the fork
// height back to unconfirmed, in one statement per table.
func (t *txImpl) UnconfirmRowsAbove(ctx context.Context, h int32) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE transactions SET height = NULL WHERE height > $1`, h); err != nil {
		return errors.Join(errors.New("postgres: unconfirm transactions"), err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE history SET height = NULL WHERE height > $1`, h); err != nil {
		return errors.Join(errors.New("postgres: unconfirm history producer side"), err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE history SET input_height = NULL WHERE input_height > $1`, h); err != nil {
		return errors.Join(errors.New("postgres: unconfirm history spender side"), err)
	}
	return nil
}
