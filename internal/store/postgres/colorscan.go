package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

func (t *txImpl) GetColorScanned(ctx context.Context, txid chain.Hash) (*store.ColorScannedRow, error) {
	var blockhash []byte
	var height sql.NullInt32

	row := t.tx.QueryRowContext(ctx, `SELECT blockhash, height FROM color_scanned WHERE txid = $1`, txid[:])
	if err := row.Scan(&blockhash, &height); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(errors.New("postgres: get color scanned"), err)
	}

	out := &store.ColorScannedRow{TxID: txid}
	if height.Valid {
		h := height.Int32
		out.Height = &h
	}
	if blockhash != nil {
		bh, err := chain.NewHash(blockhash)
		if err != nil {
			return nil, err
		}
		out.BlockHash = bh
	}
	return out, nil
}

func (t *txImpl) UpsertColorScanned(ctx context.Context, row store.ColorScannedRow) error {
	var blockhash []byte
	if row.BlockHash != nil {
		blockhash = row.BlockHash[:]
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO color_scanned (txid, blockhash, height) VALUES ($1, $2, $3)
		ON CONFLICT (txid) DO UPDATE SET blockhash = EXCLUDED.blockhash, height = EXCLUDED.height
	`, row.TxID[:], blockhash, row.Height)
	if err != nil {
		return errors.Join(errors.New("postgres: upsert color scanned"), err)
	}
	return nil
}

func (t *txImpl) DeleteColorScanned(ctx context.Context, txid chain.Hash) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM color_scanned WHERE txid = $1`, txid[:]); err != nil {
		return errors.Join(errors.New("postgres: delete color scanned"), err)
	}
	return nil
}

// UnconfirmColorScannedAbove implements rescanner rollback (spec §4.9
// step 3): null blockhash/height on every row above the rollback
// point so the next pass re-derives their confirmation state.
func (t *txImpl) UnconfirmColorScannedAbove(ctx context.Context, h int32) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE color_scanned SET blockhash = NULL, height = NULL WHERE height > $1
	`, h)
	if err != nil {
		return errors.Join(errors.New("postgres: unconfirm color scanned"), err)
	}
	return nil
}

func (t *txImpl) UnconfirmedColorScannedTxIDs(ctx context.Context) ([]chain.Hash, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT txid FROM color_scanned WHERE height IS NULL`)
	if err != nil {
		return nil, errors.Join(errors.New("postgres: unconfirmed color scanned txids"), err)
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

func (t *txImpl) InsertColorDefinition(ctx context.Context, row store.ColorDefinitionRow) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO color_definitions (id, class) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, row.ID, row.Class)
	if err != nil {
		return errors.Join(errors.New("postgres: insert color definition"), err)
	}
	return nil
}

// FindColorDefinitionByPattern matches pattern's '*' wildcards via SQL
// LIKE, translating them to '%' the way the rest of this package
// leaves SQL-specific concerns to the postgres layer alone.
func (t *txImpl) FindColorDefinitionByPattern(ctx context.Context, pattern string) (*store.ColorDefinitionRow, error) {
	like := strings.ReplaceAll(pattern, "*", "%")

	var row store.ColorDefinitionRow
	err := t.tx.QueryRowContext(ctx, `SELECT id, class FROM color_definitions WHERE id LIKE $1 LIMIT 1`, like).
		Scan(&row.ID, &row.Class)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(errors.New("postgres: find color definition"), err)
	}
	return &row, nil
}

func (t *txImpl) DeleteColorDefinition(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM color_definitions WHERE id = $1`, id); err != nil {
		return errors.Join(errors.New("postgres: delete color definition"), err)
	}
	return nil
}

func (t *txImpl) ConfirmedColorScannedBlocks(ctx context.Context) (map[int32]chain.Hash, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT height, blockhash FROM color_scanned WHERE height IS NOT NULL
	`)
	if err != nil {
		return nil, errors.Join(errors.New("postgres: confirmed color scanned blocks"), err)
	}
	defer rows.Close()

	out := make(map[int32]chain.Hash)
	for rows.Next() {
		var height int32
		var raw []byte
		if err := rows.Scan(&height, &raw); err != nil {
			return nil, err
		}
		h, err := chain.NewHash(raw)
		if err != nil {
			return nil, err
		}
		out[height] = *h
	}
	return out, rows.Err()
}
