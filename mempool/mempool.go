// Package mempool forwards the execution engine's pending transactions to
// the base ledger, preserving per-sender nonce order while letting
// distinct senders proceed in parallel.
package mempool

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/nethermindeth/rollup-bridge/engine"
)

var (
	knownTxGauge         = metrics.NewRegisteredGauge("mempool/known", nil)
	admittedTxCounter    = metrics.NewRegisteredCounter("mempool/admitted", nil)
	duplicateTxCounter   = metrics.NewRegisteredCounter("mempool/duplicate", nil)
	droppedSenderCounter = metrics.NewRegisteredCounter("mempool/senders/dropped", nil)
)

type txOrigin struct {
	sender common.Address
	nonce  uint64
}

// Mempool is the registry of live per-sender queues plus the global set of
// known transaction hashes. Snapshots are diffed against the known set and
// fresh entries fanned out to the owning queue; admitted hashes are evicted
// again after the mempool TTL so transactions that vanish from the engine
// without executing can be re-advertised.
type Mempool struct {
	mu      sync.Mutex
	known   map[common.Hash]txOrigin
	senders map[common.Address]*senderQueue

	client     SubmissionClient
	senderTTL  time.Duration
	mempoolTTL time.Duration

	dropCh chan *senderQueue
	quit   chan struct{}
}

func New(client SubmissionClient, senderTTL, mempoolTTL time.Duration) *Mempool {
	m := &Mempool{
		known:      make(map[common.Hash]txOrigin),
		senders:    make(map[common.Address]*senderQueue),
		client:     client,
		senderTTL:  senderTTL,
		mempoolTTL: mempoolTTL,
		dropCh:     make(chan *senderQueue, 128),
		quit:       make(chan struct{}),
	}
	go m.dropLoop()
	return m
}

// Update applies one engine snapshot: queued entries first, then pending,
// matching the advertisement order of the engine. Hashes admitted by this
// snapshot are scheduled for eviction after the mempool TTL.
func (m *Mempool) Update(ctx context.Context, content *engine.TxPoolContent) {
	m.mu.Lock()
	var fresh []common.Hash
	for sender, txs := range content.Queued {
		for _, tx := range txs {
			if m.addTx(ctx, sender, uint64(tx.Nonce), tx) {
				fresh = append(fresh, tx.Hash)
			}
		}
	}
	for sender, txs := range content.Pending {
		for _, tx := range txs {
			if m.addTx(ctx, sender, uint64(tx.Nonce), tx) {
				fresh = append(fresh, tx.Hash)
			}
		}
	}
	knownTxGauge.Update(int64(len(m.known)))
	m.mu.Unlock()

	if len(fresh) > 0 {
		time.AfterFunc(m.mempoolTTL, func() { m.forget(fresh) })
	}
}

// addTx admits one transaction under the registry lock. It returns false
// without side effects for an already known hash, and rolls the admission
// back when the owning queue turns out to be dead.
func (m *Mempool) addTx(ctx context.Context, sender common.Address, nonce uint64, tx *engine.PoolTx) bool {
	if _, known := m.known[tx.Hash]; known {
		duplicateTxCounter.Inc(1)
		return false
	}
	m.known[tx.Hash] = txOrigin{sender: sender, nonce: nonce}

	q, ok := m.senders[sender]
	if !ok {
		q = newSenderQueue(ctx, sender, m.client, m.senderTTL, m.dropCh)
		m.senders[sender] = q
	}
	select {
	case <-q.done:
		// The queue exited between lookup and send. Roll back; the next
		// snapshot re-advertises through a fresh queue.
		delete(m.senders, sender)
		delete(m.known, tx.Hash)
		close(q.ch)
		log.Warn("Failed to enqueue transaction to dead sender queue", "sender", sender, "hash", tx.Hash)
		return false
	case q.ch <- queueItem{nonce: nonce, tx: tx}:
		admittedTxCounter.Inc(1)
		return true
	}
}

// forget evicts hashes whose mempool TTL elapsed.
func (m *Mempool) forget(hashes []common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range hashes {
		delete(m.known, h)
	}
	knownTxGauge.Update(int64(len(m.known)))
}

// dropLoop deregisters queues that signaled their own exit. Together with
// the addTx rollback it is the only path removing a sender from the
// registry. The identity check keeps a drop signal from an old queue from
// tearing down a newer queue registered under the same address.
func (m *Mempool) dropLoop() {
	for {
		select {
		case <-m.quit:
			return
		case q := <-m.dropCh:
			m.mu.Lock()
			if current, ok := m.senders[q.addr]; ok && current == q {
				delete(m.senders, q.addr)
				droppedSenderCounter.Inc(1)
				log.Info("Removed sender queue", "sender", q.addr)
			}
			m.mu.Unlock()
		}
	}
}

// Close stops the drop handler. Live sender queues wind down on their own
// idle TTL.
func (m *Mempool) Close() {
	close(m.quit)
}

// knownCount reports the current size of the known set.
func (m *Mempool) knownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.known)
}

// senderCount reports the number of live sender queues.
func (m *Mempool) senderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.senders)
}
