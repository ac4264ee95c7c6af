package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nethermindeth/rollup-bridge/storage"
)

// collisionOffsetMs is added once per consecutive base-ledger block sharing
// the same second-granularity timestamp, so the millisecond timestamps
// handed to the engine stay strictly monotonic. Downstream consumers
// reject non-monotonic blocks; changing this value changes the chain.
const collisionOffsetMs = 400

// ForkChoice is the slice of the engine client the advancer needs.
type ForkChoice interface {
	AdvanceRollupState(ctx context.Context, txs types.Transactions, timestampMs uint64) error
}

// Advancer consumes indexed base-ledger blocks and advances the rollup
// state on the execution engine, one engine call per block.
type Advancer struct {
	engine ForkChoice

	lastTimestamp uint64
	haveTimestamp bool
	offsetMs      uint64
}

func NewAdvancer(engine ForkChoice) *Advancer {
	return &Advancer{engine: engine}
}

// Run drains the block channel until it closes or the context ends.
func (a *Advancer) Run(ctx context.Context, blocks <-chan *storage.IndexedBlock) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			ts := a.adjustedTimestamp(block.Timestamp)
			if err := a.engine.AdvanceRollupState(ctx, block.Transactions, ts); err != nil {
				log.Warn("Failed to advance rollup state", "slot", block.Slot, "err", err)
				continue
			}
			log.Debug("Advanced rollup state", "slot", block.Slot, "txs", len(block.Transactions), "timestamp", ts)
		}
	}
}

// adjustedTimestamp converts a second-granularity block timestamp to
// milliseconds, accumulating a per-collision offset while consecutive
// blocks share a second and resetting it when the second changes.
func (a *Advancer) adjustedTimestamp(blockTimestamp uint64) uint64 {
	if a.haveTimestamp && blockTimestamp == a.lastTimestamp {
		a.offsetMs += collisionOffsetMs
	} else {
		a.offsetMs = 0
	}
	a.lastTimestamp = blockTimestamp
	a.haveTimestamp = true
	return blockTimestamp*1000 + a.offsetMs
}
