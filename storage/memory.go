package storage

import (
	"context"
	"sync"
)

// MemoryBaseLedgerStorage is the in-memory BaseLedgerBlockStorage used in
// tests and single-process deployments.
type MemoryBaseLedgerStorage struct {
	mu     sync.RWMutex
	blocks map[uint64]*BaseLedgerBlock
	last   *uint64
}

func NewMemoryBaseLedgerStorage() *MemoryBaseLedgerStorage {
	return &MemoryBaseLedgerStorage{blocks: make(map[uint64]*BaseLedgerBlock)}
}

func (s *MemoryBaseLedgerStorage) PutBlock(ctx context.Context, block *BaseLedgerBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[block.Slot] = block
	if s.last == nil || block.Slot > *s.last {
		slot := block.Slot
		s.last = &slot
	}
	return nil
}

func (s *MemoryBaseLedgerStorage) LastSlot(ctx context.Context) (*uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil, nil
	}
	slot := *s.last
	return &slot, nil
}

func (s *MemoryBaseLedgerStorage) Prune(ctx context.Context, beforeSlot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slot := range s.blocks {
		if slot < beforeSlot {
			delete(s.blocks, slot)
		}
	}
	return nil
}

// MemoryRollupStorage is the in-memory RollupBlockStorage.
type MemoryRollupStorage struct {
	mu          sync.RWMutex
	pending     []ProducerParams
	produced    map[uint64]ProducedBlock
	maxProduced *uint64
}

func NewMemoryRollupStorage() *MemoryRollupStorage {
	return &MemoryRollupStorage{produced: make(map[uint64]ProducedBlock)}
}

func (s *MemoryRollupStorage) SchedulePending(ctx context.Context, params ProducerParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, params)
	return nil
}

func (s *MemoryRollupStorage) PendingBlocks(ctx context.Context) (*ProducerParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.pending) == 0 {
		return nil, nil
	}
	head := s.pending[0]
	return &head, nil
}

func (s *MemoryRollupStorage) CommitProduced(ctx context.Context, params ProducerParams, blocks ProducedBlocks) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 || s.pending[0] != params {
		// Stale report for a range no longer outstanding.
		return nil
	}
	for _, block := range blocks {
		s.produced[block.Slot] = block
		if s.maxProduced == nil || block.Slot > *s.maxProduced {
			slot := block.Slot
			s.maxProduced = &slot
		}
	}
	s.pending = s.pending[1:]
	return nil
}

func (s *MemoryRollupStorage) MaxProducedSlot(ctx context.Context) (*uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.maxProduced == nil {
		return nil, nil
	}
	slot := *s.maxProduced
	return &slot, nil
}
