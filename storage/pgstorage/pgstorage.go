// Package pgstorage provides the Postgres-backed block storages used in
// production deployments. The schema is created on first connect.
package pgstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nethermindeth/rollup-bridge/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS base_ledger_blocks (
	slot       BIGINT PRIMARY KEY,
	block_time BIGINT NOT NULL,
	tx_count   INT    NOT NULL
);
CREATE TABLE IF NOT EXISTS rollup_blocks (
	slot         BIGINT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	hash         BYTEA  NOT NULL,
	parent_hash  BYTEA  NOT NULL,
	block_time   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_ranges (
	id        BIGSERIAL PRIMARY KEY,
	from_slot BIGINT NOT NULL,
	to_slot   BIGINT NOT NULL
);`

// Connect opens a pool against the given connection string and ensures the
// schema exists.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return pool, nil
}

// BaseLedgerStorage is the Postgres BaseLedgerBlockStorage.
type BaseLedgerStorage struct {
	pool *pgxpool.Pool
}

func NewBaseLedgerStorage(pool *pgxpool.Pool) *BaseLedgerStorage {
	return &BaseLedgerStorage{pool: pool}
}

func (s *BaseLedgerStorage) PutBlock(ctx context.Context, block *storage.BaseLedgerBlock) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO base_ledger_blocks (slot, block_time, tx_count) VALUES ($1, $2, $3)
		 ON CONFLICT (slot) DO UPDATE SET block_time = $2, tx_count = $3`,
		int64(block.Slot), int64(block.Timestamp), block.TxCount)
	return err
}

func (s *BaseLedgerStorage) LastSlot(ctx context.Context) (*uint64, error) {
	var slot int64
	err := s.pool.QueryRow(ctx, `SELECT slot FROM base_ledger_blocks ORDER BY slot DESC LIMIT 1`).Scan(&slot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := uint64(slot)
	return &u, nil
}

func (s *BaseLedgerStorage) Prune(ctx context.Context, beforeSlot uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM base_ledger_blocks WHERE slot < $1`, int64(beforeSlot))
	return err
}

// RollupStorage is the Postgres RollupBlockStorage.
type RollupStorage struct {
	pool *pgxpool.Pool
}

func NewRollupStorage(pool *pgxpool.Pool) *RollupStorage {
	return &RollupStorage{pool: pool}
}

func (s *RollupStorage) SchedulePending(ctx context.Context, params storage.ProducerParams) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_ranges (from_slot, to_slot) VALUES ($1, $2)`,
		int64(params.FromSlot), int64(params.ToSlot))
	return err
}

func (s *RollupStorage) PendingBlocks(ctx context.Context) (*storage.ProducerParams, error) {
	var from, to int64
	err := s.pool.QueryRow(ctx,
		`SELECT from_slot, to_slot FROM pending_ranges ORDER BY id ASC LIMIT 1`).Scan(&from, &to)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.ProducerParams{FromSlot: uint64(from), ToSlot: uint64(to)}, nil
}

// CommitProduced stores the produced blocks and retires the matching head
// pending range in one transaction. A report for a range that is not the
// current head leaves storage untouched.
func (s *RollupStorage) CommitProduced(ctx context.Context, params storage.ProducerParams, blocks storage.ProducedBlocks) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id, from, to int64
	err = tx.QueryRow(ctx,
		`SELECT id, from_slot, to_slot FROM pending_ranges ORDER BY id ASC LIMIT 1 FOR UPDATE`).Scan(&id, &from, &to)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if uint64(from) != params.FromSlot || uint64(to) != params.ToSlot {
		return nil
	}
	for _, block := range blocks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rollup_blocks (slot, block_number, hash, parent_hash, block_time)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (slot) DO UPDATE SET block_number = $2, hash = $3, parent_hash = $4, block_time = $5`,
			int64(block.Slot), int64(block.BlockNumber), block.Hash.Bytes(), block.ParentHash.Bytes(), int64(block.Timestamp)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pending_ranges WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *RollupStorage) MaxProducedSlot(ctx context.Context) (*uint64, error) {
	var slot int64
	err := s.pool.QueryRow(ctx, `SELECT slot FROM rollup_blocks ORDER BY slot DESC LIMIT 1`).Scan(&slot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := uint64(slot)
	return &u, nil
}
