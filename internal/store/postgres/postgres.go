// Package postgres implements store.Storage over database/sql and
// lib/pq, adapted from the pack's blocktx/store/postgresql package:
// same sql.DB connection-pool shape, same
// errors.Join(sentinel, cause) error style, same QueryRowContext-based
// upsert pattern — generalized from ARC's block-confirmation schema to
// this indexer's block/transaction/history/color-scanned schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	"github.com/thehobbit85/chromanode/internal/chain"
	"github.com/thehobbit85/chromanode/internal/store"
)

const driverName = "postgres"

// Postgres is a store.Storage backed by a Postgres database.
type Postgres struct {
	db  *sql.DB
	now func() string
}

// New opens a connection pool against dsn and verifies connectivity.
func New(dsn string, idleConns, maxOpenConns int) (*Postgres, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxIdleConns(idleConns)
	db.SetMaxOpenConns(maxOpenConns)

	p := &Postgres{db: db}

	if err := p.Ping(context.Background()); err != nil {
		return nil, errors.Join(errors.New("postgres: initial ping failed"), err)
	}

	return p, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Schema is the DDL this package expects to already be applied by the
// deployment's migration tooling (spec §6 treats the schema as
// external); it is exported so a bootstrap command or integration test
// can apply it directly against a scratch database.
const Schema = `
CREATE TABLE IF NOT EXISTS blocks (
	height     INTEGER PRIMARY KEY,
	hash       BYTEA NOT NULL UNIQUE,
	header     BYTEA NOT NULL,
	txids      BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	txid   BYTEA PRIMARY KEY,
	raw_tx BYTEA NOT NULL,
	height INTEGER NULL REFERENCES blocks(height)
);
CREATE INDEX IF NOT EXISTS transactions_height_idx ON transactions(height);

CREATE TABLE IF NOT EXISTS history (
	address      TEXT NOT NULL,
	txid         BYTEA NOT NULL,
	output_index INTEGER NOT NULL,
	value        BIGINT NOT NULL,
	script       BYTEA NOT NULL,
	height       INTEGER NULL,
	input_txid   BYTEA NULL,
	input_height INTEGER NULL,
	PRIMARY KEY (address, txid, output_index)
);
CREATE INDEX IF NOT EXISTS history_txid_idx ON history(txid);
CREATE INDEX IF NOT EXISTS history_input_txid_idx ON history(input_txid);
CREATE INDEX IF NOT EXISTS history_height_idx ON history(height);
CREATE INDEX IF NOT EXISTS history_input_height_idx ON history(input_height);

CREATE TABLE IF NOT EXISTS color_scanned (
	txid      BYTEA PRIMARY KEY,
	blockhash BYTEA NULL,
	height    INTEGER NULL
);
CREATE INDEX IF NOT EXISTS color_scanned_height_idx ON color_scanned(height);

CREATE TABLE IF NOT EXISTS color_definitions (
	id    TEXT PRIMARY KEY,
	class TEXT NOT NULL
);
`

// Latest derives the chain cursor from the max-height block row.
func (p *Postgres) Latest(ctx context.Context) (chain.Tip, error) {
	var height sql.NullInt32
	var hash []byte

	row := p.db.QueryRowContext(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`)
	if err := row.Scan(&height, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chain.Tip{Hash: chain.ZeroHash, Height: chain.NoHeight}, nil
		}
		return chain.Tip{}, fmt.Errorf("postgres: latest: %w", err)
	}

	h, err := chain.NewHash(hash)
	if err != nil {
		return chain.Tip{}, fmt.Errorf("postgres: latest: %w", err)
	}
	return chain.Tip{Hash: *h, Height: height.Int32}, nil
}

// BlockGaps reports heights missing from the contiguous range
// [tip.Height-heightRange, tip.Height].
func (p *Postgres) BlockGaps(ctx context.Context, heightRange int) ([]store.BlockGap, error) {
	tip, err := p.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if tip.Empty() {
		return nil, nil
	}

	from := tip.Height - int32(heightRange)
	if from < 0 {
		from = 0
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT h FROM generate_series($1::int, $2::int) AS h
		WHERE h NOT IN (SELECT height FROM blocks)
		ORDER BY h
	`, from, tip.Height)
	if err != nil {
		return nil, fmt.Errorf("postgres: block gaps: %w", err)
	}
	defer rows.Close()

	var gaps []store.BlockGap
	for rows.Next() {
		var h int32
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("postgres: block gaps: scan: %w", err)
		}
		gaps = append(gaps, store.BlockGap{Height: h})
	}
	return gaps, rows.Err()
}

// ExecuteTransaction runs body against a fresh *sql.Tx, committing on
// a nil return and rolling back otherwise. OnCommit callbacks queued
// by body only run once Commit has returned nil — this is the
// commit-outbox EventPublisher depends on.
func (p *Postgres) ExecuteTransaction(ctx context.Context, body func(store.Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	tx := &txImpl{tx: sqlTx, ctx: ctx}

	if err := body(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}

	for _, fn := range tx.onCommit {
		fn()
	}

	return nil
}

type txImpl struct {
	tx       *sql.Tx
	ctx      context.Context
	mu       sync.Mutex
	onCommit []func()
}

func (t *txImpl) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}
