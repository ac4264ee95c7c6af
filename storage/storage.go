package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrStorage is a sentinel for storage failures. The in-memory and Postgres
// storages return backend errors as they are and do not wrap them with it.
var ErrStorage = errors.New("storage error")

// BaseLedgerBlock is the indexed form of one base-ledger block: its slot,
// its second-granularity timestamp, and the number of rollup transactions
// recovered from the rollup program's instructions in that block.
type BaseLedgerBlock struct {
	Slot      uint64
	Timestamp uint64
	TxCount   int
}

// IndexedBlock is the notification payload emitted for every stored
// base-ledger block carrying rollup activity.
type IndexedBlock struct {
	Slot         uint64
	Timestamp    uint64
	Transactions types.Transactions
}

// ProducerParams describes a contiguous range of base-ledger slots whose
// rollup blocks have not been produced yet.
type ProducerParams struct {
	FromSlot uint64 `json:"fromSlot"`
	ToSlot   uint64 `json:"toSlot"`
}

// ProducedBlock is one rollup block reported back by the external producer.
type ProducedBlock struct {
	Slot        uint64      `json:"slot"`
	BlockNumber uint64      `json:"blockNumber"`
	Hash        common.Hash `json:"hash"`
	ParentHash  common.Hash `json:"parentHash"`
	Timestamp   uint64      `json:"timestamp"`
}

// ProducedBlocks is the producer's answer to one ProducerParams range.
type ProducedBlocks []ProducedBlock

// BaseLedgerBlockStorage persists indexed base-ledger blocks.
type BaseLedgerBlockStorage interface {
	// PutBlock stores one indexed block, overwriting any previous entry
	// for the slot.
	PutBlock(ctx context.Context, block *BaseLedgerBlock) error

	// LastSlot returns the highest stored slot, or nil when the storage
	// holds nothing.
	LastSlot(ctx context.Context) (*uint64, error)

	// Prune drops blocks older than the given slot.
	Prune(ctx context.Context, beforeSlot uint64) error
}

// RollupBlockStorage persists produced rollup blocks and the queue of
// pending production ranges consumed by the external producer.
type RollupBlockStorage interface {
	// SchedulePending appends a production range. Ranges are served to the
	// producer strictly in scheduling order.
	SchedulePending(ctx context.Context, params ProducerParams) error

	// PendingBlocks returns the oldest un-produced range, or nil when no
	// production is outstanding. Repeated calls without an intervening
	// matching CommitProduced return the same range.
	PendingBlocks(ctx context.Context) (*ProducerParams, error)

	// CommitProduced atomically stores the produced blocks and retires the
	// pending range, provided params matches the range PendingBlocks
	// currently returns. A non-matching or absent range is a no-op.
	CommitProduced(ctx context.Context, params ProducerParams, blocks ProducedBlocks) error

	// MaxProducedSlot returns the highest slot any produced block covers,
	// or nil when nothing has been produced.
	MaxProducedSlot(ctx context.Context) (*uint64, error)
}
