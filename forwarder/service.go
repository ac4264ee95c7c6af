// Package forwarder composes the pending-transaction poller and the
// mempool into the long-running forwarding service.
package forwarder

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nethermindeth/rollup-bridge/engine"
	"github.com/nethermindeth/rollup-bridge/mempool"
)

// snapshotBuffer decouples the poller from snapshot application; the
// update loop drains far faster than the poll interval.
const snapshotBuffer = 16

// Service pulls txpool snapshots from the execution engine and feeds them
// to the mempool. Termination of either subordinate terminates the whole
// service with an error naming it.
type Service struct {
	poller *engine.PendingTxsPoller
	pool   *mempool.Mempool
}

func New(poller *engine.PendingTxsPoller, pool *mempool.Mempool) *Service {
	return &Service{poller: poller, pool: pool}
}

// Run blocks until a subordinate exits or the context ends.
func (s *Service) Run(ctx context.Context) error {
	defer s.pool.Close()

	g, ctx := errgroup.WithContext(ctx)
	snapshots := make(chan *engine.TxPoolContent, snapshotBuffer)

	g.Go(func() error {
		err := s.poller.Run(ctx, snapshots)
		if err == nil {
			err = errors.New("unexpected return")
		}
		return fmt.Errorf("pending txs poller exited: %w", err)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("mempool update loop exited: %w", ctx.Err())
			case content := <-snapshots:
				s.pool.Update(ctx, content)
			}
		}
	})
	return g.Wait()
}
