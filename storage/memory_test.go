package storage

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBaseLedgerStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBaseLedgerStorage()

	last, err := s.LastSlot(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.PutBlock(ctx, &BaseLedgerBlock{Slot: 5, Timestamp: 100}))
	require.NoError(t, s.PutBlock(ctx, &BaseLedgerBlock{Slot: 9, Timestamp: 103}))
	require.NoError(t, s.PutBlock(ctx, &BaseLedgerBlock{Slot: 7, Timestamp: 101}))

	last, err = s.LastSlot(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint64(9), *last)

	require.NoError(t, s.Prune(ctx, 8))
	assert.Len(t, s.blocks, 1)

	// Pruning never lowers the high-water mark.
	last, err = s.LastSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), *last)
}

func TestMemoryRollupStoragePendingContract(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRollupStorage()

	pending, err := s.PendingBlocks(ctx)
	require.NoError(t, err)
	assert.Nil(t, pending)

	first := ProducerParams{FromSlot: 100, ToSlot: 110}
	second := ProducerParams{FromSlot: 111, ToSlot: 115}
	require.NoError(t, s.SchedulePending(ctx, first))
	require.NoError(t, s.SchedulePending(ctx, second))

	// getPendingBlocks is idempotent until a matching commit.
	for i := 0; i < 3; i++ {
		pending, err = s.PendingBlocks(ctx)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, first, *pending)
	}

	blocks := ProducedBlocks{
		{Slot: 105, BlockNumber: 1, Hash: common.HexToHash("0x01")},
		{Slot: 110, BlockNumber: 2, Hash: common.HexToHash("0x02")},
	}
	require.NoError(t, s.CommitProduced(ctx, first, blocks))

	pending, err = s.PendingBlocks(ctx)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, second, *pending)

	max, err := s.MaxProducedSlot(ctx)
	require.NoError(t, err)
	require.NotNil(t, max)
	assert.Equal(t, uint64(110), *max)
}

func TestMemoryRollupStorageStaleCommitIgnored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRollupStorage()

	head := ProducerParams{FromSlot: 100, ToSlot: 110}
	require.NoError(t, s.SchedulePending(ctx, head))

	// A report for a range that is not the current head is a no-op.
	stale := ProducerParams{FromSlot: 90, ToSlot: 99}
	require.NoError(t, s.CommitProduced(ctx, stale, ProducedBlocks{{Slot: 95}}))

	pending, err := s.PendingBlocks(ctx)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, head, *pending)

	max, err := s.MaxProducedSlot(ctx)
	require.NoError(t, err)
	assert.Nil(t, max)

	// A matching report retires the head; a repeat with nothing
	// outstanding is silently accepted.
	require.NoError(t, s.CommitProduced(ctx, head, ProducedBlocks{{Slot: 105}}))
	require.NoError(t, s.CommitProduced(ctx, head, ProducedBlocks{{Slot: 105}}))
}
