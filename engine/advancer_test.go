package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nethermindeth/rollup-bridge/storage"
)

type advanceCall struct {
	txCount     int
	timestampMs uint64
}

type fakeForkChoice struct {
	calls chan advanceCall
}

func (f *fakeForkChoice) AdvanceRollupState(ctx context.Context, txs types.Transactions, timestampMs uint64) error {
	f.calls <- advanceCall{txCount: len(txs), timestampMs: timestampMs}
	return nil
}

func TestAdjustedTimestamp(t *testing.T) {
	tests := []struct {
		name       string
		timestamps []uint64
		want       []uint64
	}{
		{
			name:       "no collisions",
			timestamps: []uint64{100, 101, 102},
			want:       []uint64{100000, 101000, 102000},
		},
		{
			name:       "collision run accumulates offsets",
			timestamps: []uint64{100, 100, 100, 101},
			want:       []uint64{100000, 100400, 100800, 101000},
		},
		{
			name:       "offset resets per second",
			timestamps: []uint64{100, 100, 101, 101, 102},
			want:       []uint64{100000, 100400, 101000, 101400, 102000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdvancer(nil)
			for i, ts := range tt.timestamps {
				assert.Equal(t, tt.want[i], a.adjustedTimestamp(ts), "timestamp %d", i)
			}
		})
	}
}

func TestAdvancerRun(t *testing.T) {
	fork := &fakeForkChoice{calls: make(chan advanceCall, 8)}
	a := NewAdvancer(fork)

	blocks := make(chan *storage.IndexedBlock, 4)
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- a.Run(ctx, blocks) }()

	blocks <- &storage.IndexedBlock{Slot: 1, Timestamp: 100, Transactions: make(types.Transactions, 2)}
	blocks <- &storage.IndexedBlock{Slot: 2, Timestamp: 100, Transactions: make(types.Transactions, 1)}

	first := <-fork.calls
	assert.Equal(t, 2, first.txCount)
	assert.Equal(t, uint64(100000), first.timestampMs)

	second := <-fork.calls
	assert.Equal(t, 1, second.txCount)
	assert.Equal(t, uint64(100400), second.timestampMs)

	close(blocks)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("advancer did not stop on channel closure")
	}
}
