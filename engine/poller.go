package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	snapshotCounter    = metrics.NewRegisteredCounter("engine/poller/snapshots", nil)
	snapshotErrCounter = metrics.NewRegisteredCounter("engine/poller/errors", nil)
)

// PoolReader is the slice of the engine client the poller needs.
type PoolReader interface {
	TxPoolContent(ctx context.Context) (*TxPoolContent, error)
}

// PendingTxsPoller periodically pulls txpool_content snapshots from the
// execution engine and pushes every successfully parsed one onto an output
// channel. Malformed or failed responses are logged and skipped; the loop
// only stops with its context.
type PendingTxsPoller struct {
	reader   PoolReader
	interval time.Duration
}

func NewPendingTxsPoller(reader PoolReader, interval time.Duration) *PendingTxsPoller {
	return &PendingTxsPoller{reader: reader, interval: interval}
}

func (p *PendingTxsPoller) Run(ctx context.Context, out chan<- *TxPoolContent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		content, err := p.reader.TxPoolContent(ctx)
		if err != nil {
			snapshotErrCounter.Inc(1)
			log.Warn("Failed to fetch txpool content", "err", err)
			continue
		}
		snapshotCounter.Inc(1)
		select {
		case out <- content:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
