package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

func encodeTxIDs(ids []chain.Hash) []byte {
	buf := make([]byte, 0, len(ids)*chain.HashSize)
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeTxIDs(b []byte) ([]chain.Hash, error) {
	if len(b)%chain.HashSize != 0 {
		return nil, fmt.Errorf("postgres: txids blob has invalid length %d", len(b))
	}
	out := make([]chain.Hash, 0, len(b)/chain.HashSize)
	for i := 0; i < len(b); i += chain.HashSize {
		h, err := chain.NewHash(b[i : i+chain.HashSize])
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

func encodeHeader(h chain.BlockHeader) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, h.Version)
	buf.Write(h.PrevHash[:])
	buf.Write(h.MerkleRoot[:])
	_ = binary.Write(buf, binary.LittleEndian, h.Timestamp)
	_ = binary.Write(buf, binary.LittleEndian, h.Bits)
	_ = binary.Write(buf, binary.LittleEndian, h.Nonce)
	return buf.Bytes()
}

func decodeHeader(b []byte) (chain.BlockHeader, error) {
	var h chain.BlockHeader
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, err
	}
	if _, err := r.Read(h.PrevHash[:]); err != nil {
		return h, err
	}
	if _, err := r.Read(h.MerkleRoot[:]); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Timestamp); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Bits); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Nonce); err != nil {
		return h, err
	}
	return h, nil
}

func (t *txImpl) InsertBlock(ctx context.Context, row store.BlockRow) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO blocks (height, hash, header, txids) VALUES ($1, $2, $3, $4)
	`, row.Height, row.Hash[:], encodeHeader(row.Header), encodeTxIDs(row.TxIDs))
	if err != nil {
		return errors.Join(errors.New("postgres: insert block"), err)
	}
	return nil
}

func (t *txImpl) BlockAt(ctx context.Context, height int32) (*store.BlockRow, error) {
	var hash, header, txids []byte
	row := t.tx.QueryRowContext(ctx, `SELECT hash, header, txids FROM blocks WHERE height = $1`, height)
	if err := row.Scan(&hash, &header, &txids); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBlockNotFound
		}
		return nil, errors.Join(errors.New("postgres: block at height"), err)
	}

	h, err := chain.NewHash(hash)
	if err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(header)
	if err != nil {
		return nil, err
	}
	ids, err := decodeTxIDs(txids)
	if err != nil {
		return nil, err
	}

	return &store.BlockRow{Height: height, Hash: *h, Header: hdr, TxIDs: ids}, nil
}

// DeleteBlocksAbove implements the block-row half of the rollback
// algorithm of spec §4.7: select, then delete, every block row with
// height > h, returning the removed hashes highest-first so the
// caller can emit removeblock events in the right order.
func (t *txImpl) DeleteBlocksAbove(ctx context.Context, h int32) ([]chain.Hash, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT hash FROM blocks WHERE height > $1 ORDER BY height DESC`, h)
	if err != nil {
		return nil, errors.Join(errors.New("postgres: select stale blocks"), err)
	}

	var hashes []chain.Hash
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, err
		}
		hash, err := chain.NewHash(raw)
		if err != nil {
			rows.Close()
			return nil, err
		}
		hashes = append(hashes, *hash)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > $1`, h); err != nil {
		return nil, errors.Join(errors.New("postgres: delete stale blocks"), err)
	}

	return hashes, nil
}
