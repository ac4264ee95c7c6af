// Package indexer scans the base ledger for rollup activity, persists
// reconstructed blocks, and exposes the admin and block-production RPC
// surfaces consumed by external orchestrators and producers.
package indexer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/gagliardetto/solana-go"

	"github.com/nethermindeth/rollup-bridge/storage"
)

var (
	indexedSlotGauge    = metrics.NewRegisteredGauge("indexer/slot", nil)
	indexedTxCounter    = metrics.NewRegisteredCounter("indexer/transactions", nil)
	scanFailureCounter  = metrics.NewRegisteredCounter("indexer/scan/failures", nil)
	scheduledRangeCount = metrics.NewRegisteredCounter("indexer/ranges/scheduled", nil)
)

// Config carries the scan-loop knobs.
type Config struct {
	// StartSlot is the first slot to scan; nil means the ledger tip at
	// startup.
	StartSlot *uint64

	// EndSlot bounds a recovery scan; ignored by the continuous loop.
	EndSlot *uint64

	// BatchSize caps how many slots one tick loads.
	BatchSize uint64

	// MaxSlotHistory bounds retained base-ledger blocks; nil keeps all.
	MaxSlotHistory *uint64

	// ScanInterval paces the continuous loop.
	ScanInterval time.Duration
}

// Service is the indexer: a cursor over base-ledger slots that stores
// every block, recovers rollup transactions from the rollup program's
// instructions, schedules production ranges, and announces indexed blocks
// on a feed.
type Service struct {
	ledger  BaseLedgerClient
	program solana.PublicKey
	base    storage.BaseLedgerBlockStorage
	rollup  storage.RollupBlockStorage
	cfg     Config

	started   atomic.Bool
	blockFeed event.Feed
}

func NewService(ledger BaseLedgerClient, program solana.PublicKey, base storage.BaseLedgerBlockStorage, rollup storage.RollupBlockStorage, cfg Config) *Service {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 400 * time.Millisecond
	}
	return &Service{ledger: ledger, program: program, base: base, rollup: rollup, cfg: cfg}
}

// Started reports whether at least one scan cycle completed.
func (s *Service) Started() bool {
	return s.started.Load()
}

// SubscribeBlocks delivers every indexed block carrying rollup activity.
func (s *Service) SubscribeBlocks(ch chan<- *storage.IndexedBlock) event.Subscription {
	return s.blockFeed.Subscribe(ch)
}

// Run scans continuously from the configured start slot.
func (s *Service) Run(ctx context.Context) error {
	cursor, err := s.startSlot(ctx)
	if err != nil {
		return err
	}
	log.Info("Indexer starting", "slot", cursor)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		tip, err := s.ledger.Slot(ctx)
		if err != nil {
			scanFailureCounter.Inc(1)
			log.Warn("Failed to read base ledger slot", "err", err)
			continue
		}
		next, err := s.scanRange(ctx, cursor, tip)
		if err != nil {
			scanFailureCounter.Inc(1)
			log.Warn("Scan cycle failed", "from", cursor, "err", err)
			continue
		}
		cursor = next
		if !s.started.Load() {
			s.started.Store(true)
			log.Info("Indexer started")
		}
		s.prune(ctx, cursor)
	}
}

// RunRecovery scans the bounded window once and returns.
func (s *Service) RunRecovery(ctx context.Context) error {
	cursor, err := s.startSlot(ctx)
	if err != nil {
		return err
	}
	end := cursor
	if s.cfg.EndSlot != nil {
		end = *s.cfg.EndSlot
	}
	log.Info("Recovery scan starting", "from", cursor, "to", end)
	for cursor <= end {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		next, err := s.scanRange(ctx, cursor, end)
		if err != nil {
			return err
		}
		if next == cursor {
			break
		}
		cursor = next
	}
	log.Info("Recovery scan finished", "to", end)
	return nil
}

func (s *Service) startSlot(ctx context.Context) (uint64, error) {
	if s.cfg.StartSlot != nil {
		return *s.cfg.StartSlot, nil
	}
	return s.ledger.Slot(ctx)
}

// scanRange loads [from, min(tip, from+batch-1)], stores every block, and
// schedules one production range covering the slots with rollup activity.
// It returns the next cursor position; a fetch failure stops the pass so
// the failed slot is retried on the next tick.
func (s *Service) scanRange(ctx context.Context, from, tip uint64) (uint64, error) {
	if from > tip {
		return from, nil
	}
	to := tip
	if limit := from + s.cfg.BatchSize - 1; to > limit {
		to = limit
	}
	var (
		activeFrom uint64
		activeTo   uint64
		haveActive bool
	)
	cursor := from
	for slot := from; slot <= to; slot++ {
		block, err := s.ledger.Block(ctx, slot)
		if err != nil {
			return cursor, err
		}
		cursor = slot + 1
		if block == nil {
			// Skipped slot, nothing to store.
			continue
		}
		txs := s.rollupTxs(block)
		if err := s.base.PutBlock(ctx, &storage.BaseLedgerBlock{
			Slot:      slot,
			Timestamp: block.Timestamp,
			TxCount:   len(txs),
		}); err != nil {
			return slot, err
		}
		indexedSlotGauge.Update(int64(slot))
		if len(txs) == 0 {
			continue
		}
		indexedTxCounter.Inc(int64(len(txs)))
		if !haveActive {
			activeFrom, haveActive = slot, true
		}
		activeTo = slot
		s.blockFeed.Send(&storage.IndexedBlock{
			Slot:         slot,
			Timestamp:    block.Timestamp,
			Transactions: txs,
		})
	}
	if haveActive {
		params := storage.ProducerParams{FromSlot: activeFrom, ToSlot: activeTo}
		if err := s.rollup.SchedulePending(ctx, params); err != nil {
			return cursor, err
		}
		scheduledRangeCount.Inc(1)
		log.Debug("Scheduled production range", "from", activeFrom, "to", activeTo)
	}
	return cursor, nil
}

// rollupTxs recovers the signed rollup transactions wrapped in the rollup
// program's instructions, in block order. Instructions that do not decode
// as a typed transaction are ignored.
func (s *Service) rollupTxs(block *LedgerBlock) types.Transactions {
	var txs types.Transactions
	for _, ledgerTx := range block.Transactions {
		for _, inst := range ledgerTx.Message.Instructions {
			program, err := ledgerTx.Message.Program(inst.ProgramIDIndex)
			if err != nil || !program.Equals(s.program) {
				continue
			}
			tx := new(types.Transaction)
			if err := tx.UnmarshalBinary(inst.Data); err != nil {
				log.Debug("Undecodable rollup instruction", "slot", block.Slot, "err", err)
				continue
			}
			txs = append(txs, tx)
		}
	}
	return txs
}

func (s *Service) prune(ctx context.Context, cursor uint64) {
	if s.cfg.MaxSlotHistory == nil || cursor <= *s.cfg.MaxSlotHistory {
		return
	}
	if err := s.base.Prune(ctx, cursor-*s.cfg.MaxSlotHistory); err != nil {
		log.Warn("Failed to prune base ledger storage", "err", err)
	}
}
