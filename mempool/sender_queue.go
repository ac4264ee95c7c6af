package mempool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/nethermindeth/rollup-bridge/engine"
)

const (
	// batchSize caps how many queued items one drain pass picks up.
	batchSize = 100

	// submitRetries is how many times a failed submission is retried
	// before the queue gives up and drops itself.
	submitRetries = 5

	// queueBuffer is the capacity of a sender queue's input channel. The
	// registry dedups on hash, so at most one item per pool transaction
	// ever enters the channel; the buffer is never full in practice.
	queueBuffer = 512
)

// retryBaseDelay is the first retry delay; it doubles after every failed
// attempt.
var retryBaseDelay = 2 * time.Second

var errMalformedTx = errors.New("malformed pool transaction")

var (
	submitRetryCounter   = metrics.NewRegisteredCounter("mempool/submit/retries", nil)
	submitFailedCounter  = metrics.NewRegisteredCounter("mempool/submit/failed", nil)
	submitSuccessCounter = metrics.NewRegisteredCounter("mempool/submit/success", nil)
)

// SubmissionClient delivers one signed rollup transaction to the base
// ledger and confirms acceptance.
type SubmissionClient interface {
	Submit(ctx context.Context, sender common.Address, hash common.Hash, tx *types.Transaction) error
}

type queueItem struct {
	nonce uint64
	tx    *engine.PoolTx
}

// senderQueue is the long-lived task enforcing strict nonce order for one
// sender. It drains its input channel in batches, submits in ascending
// nonce order, and signals its own drop on idle timeout, channel closure,
// or retry exhaustion.
type senderQueue struct {
	addr   common.Address
	ch     chan queueItem
	done   chan struct{}
	client SubmissionClient
	ttl    time.Duration
	dropCh chan<- *senderQueue
}

func newSenderQueue(ctx context.Context, addr common.Address, client SubmissionClient, ttl time.Duration, dropCh chan<- *senderQueue) *senderQueue {
	q := &senderQueue{
		addr:   addr,
		ch:     make(chan queueItem, queueBuffer),
		done:   make(chan struct{}),
		client: client,
		ttl:    ttl,
		dropCh: dropCh,
	}
	go q.run(ctx)
	return q
}

func (q *senderQueue) run(ctx context.Context) {
	defer close(q.done)

	buffered := make(map[uint64]*engine.PoolTx)
	var (
		lastProcessed uint64
		hasProcessed  bool
	)
	for {
		items, alive := q.recvBatch(ctx)
		if !alive || len(items) == 0 {
			q.signalDrop()
			return
		}
		// Newest advertisement wins on duplicate nonce: the engine's view
		// is authoritative.
		for _, item := range items {
			buffered[item.nonce] = item.tx
		}
		nonces := make([]uint64, 0, len(buffered))
		for nonce := range buffered {
			nonces = append(nonces, nonce)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

		for _, nonce := range nonces {
			tx := buffered[nonce]
			delete(buffered, nonce)

			if hasProcessed && nonce <= lastProcessed {
				log.Warn("Skipping already processed transaction", "sender", q.addr, "nonce", nonce, "hash", tx.Hash)
				continue
			}
			err := q.submitWithRetries(ctx, tx)
			switch {
			case err == nil:
				lastProcessed, hasProcessed = nonce, true
			case errors.Is(err, errMalformedTx):
				// Fatal for this transaction only; no retry, move on to
				// the next nonce.
				log.Warn("Dropping malformed transaction", "sender", q.addr, "nonce", nonce, "hash", tx.Hash, "err", err)
			default:
				log.Warn("Failed to send transaction, dropping sender queue", "sender", q.addr, "hash", tx.Hash, "err", err)
				q.signalDrop()
				return
			}
		}
	}
}

// recvBatch blocks up to the idle TTL for the first item, then grabs
// whatever else is immediately available up to batchSize. A false second
// return means the queue should exit: idle timeout, closed channel, or
// context end.
func (q *senderQueue) recvBatch(ctx context.Context) ([]queueItem, bool) {
	idle := time.NewTimer(q.ttl)
	defer idle.Stop()

	var items []queueItem
	select {
	case <-ctx.Done():
		return nil, false
	case <-idle.C:
		return nil, false
	case item, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		items = append(items, item)
	}
	for len(items) < batchSize {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return items, true
			}
			items = append(items, item)
		default:
			return items, true
		}
	}
	return items, true
}

// submitWithRetries reassembles the signed transaction and pushes it to the
// base ledger, retrying with exponential backoff. Composition and send
// failures share the retry path.
func (q *senderQueue) submitWithRetries(ctx context.Context, tx *engine.PoolTx) error {
	signed, err := tx.SignedTransaction()
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedTx, err)
	}
	var (
		retriesLeft = submitRetries
		delay       = retryBaseDelay
	)
	for {
		if err := q.client.Submit(ctx, q.addr, tx.Hash, signed); err == nil {
			submitSuccessCounter.Inc(1)
			log.Info("Transaction executed on rollup", "sender", q.addr, "hash", tx.Hash)
			return nil
		} else {
			log.Warn("Failed to send transaction", "sender", q.addr, "hash", tx.Hash, "err", err)
		}
		if retriesLeft == 0 {
			submitFailedCounter.Inc(1)
			return fmt.Errorf("no retries left for %s", tx.Hash)
		}
		retriesLeft--
		submitRetryCounter.Inc(1)
		log.Info("Retrying transaction", "sender", q.addr, "hash", tx.Hash, "in", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

func (q *senderQueue) signalDrop() {
	select {
	case q.dropCh <- q:
	default:
		log.Warn("Failed to signal sender queue drop", "sender", q.addr)
	}
}
