package mempool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecvBatchIdleTimeout(t *testing.T) {
	q := &senderQueue{ch: make(chan queueItem, 4), ttl: 20 * time.Millisecond}

	start := time.Now()
	items, alive := q.recvBatch(context.Background())
	assert.False(t, alive)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRecvBatchDrainsAvailable(t *testing.T) {
	q := &senderQueue{ch: make(chan queueItem, 8), ttl: time.Second}
	for i := 0; i < 3; i++ {
		q.ch <- queueItem{nonce: uint64(i)}
	}

	items, alive := q.recvBatch(context.Background())
	assert.True(t, alive)
	assert.Len(t, items, 3)
}

func TestRecvBatchClosedChannel(t *testing.T) {
	q := &senderQueue{ch: make(chan queueItem, 4), ttl: time.Second}
	close(q.ch)

	items, alive := q.recvBatch(context.Background())
	assert.False(t, alive)
	assert.Empty(t, items)
}

func TestSubmitWithRetriesBackoff(t *testing.T) {
	withFastRetries(t)
	client := newFakeSubmitter()
	key, addr := newTestKey(t)
	tx := newPoolTx(t, key, 0)
	client.failTimes(tx.Hash, -1)

	q := &senderQueue{addr: addr, client: client, ttl: time.Second}
	err := q.submitWithRetries(context.Background(), tx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errMalformedTx))
	assert.Len(t, client.submissions(), 1+submitRetries)
}

func TestSubmitWithRetriesRecovers(t *testing.T) {
	withFastRetries(t)
	client := newFakeSubmitter()
	key, addr := newTestKey(t)
	tx := newPoolTx(t, key, 0)
	client.failTimes(tx.Hash, 2)

	q := &senderQueue{addr: addr, client: client, ttl: time.Second}
	require.NoError(t, q.submitWithRetries(context.Background(), tx))
	assert.Len(t, client.submissions(), 3)
}

func TestSubmitWithRetriesMalformed(t *testing.T) {
	client := newFakeSubmitter()
	key, addr := newTestKey(t)
	tx := newPoolTx(t, key, 0)
	tx.R, tx.S, tx.V = nil, nil, nil

	q := &senderQueue{addr: addr, client: client, ttl: time.Second}
	err := q.submitWithRetries(context.Background(), tx)
	require.ErrorIs(t, err, errMalformedTx)
	assert.Empty(t, client.submissions(), "malformed transactions must not reach the submission client")
}

func TestQueueSkipsProcessedNonce(t *testing.T) {
	withFastRetries(t)
	client := newFakeSubmitter()
	key, addr := newTestKey(t)
	dropCh := make(chan *senderQueue, 1)
	q := newSenderQueue(context.Background(), addr, client, time.Second, dropCh)

	first := newPoolTx(t, key, 0)
	q.ch <- queueItem{nonce: 0, tx: first}
	require.Eventually(t, func() bool {
		return len(client.submissions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The engine re-advertises nonce 0 alongside nonce 1; only nonce 1
	// may be submitted.
	q.ch <- queueItem{nonce: 0, tx: first}
	q.ch <- queueItem{nonce: 1, tx: newPoolTx(t, key, 1)}
	require.Eventually(t, func() bool {
		return len(client.submissions()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	calls := client.submissions()
	assert.Equal(t, uint64(0), calls[0].nonce)
	assert.Equal(t, uint64(1), calls[1].nonce)
}

func TestQueueMalformedContinuesWithNextNonce(t *testing.T) {
	withFastRetries(t)
	client := newFakeSubmitter()
	key, addr := newTestKey(t)
	dropCh := make(chan *senderQueue, 1)
	q := newSenderQueue(context.Background(), addr, client, time.Second, dropCh)

	bad := newPoolTx(t, key, 0)
	bad.R, bad.S, bad.V = nil, nil, nil
	good := newPoolTx(t, key, 1)
	q.ch <- queueItem{nonce: 0, tx: bad}
	q.ch <- queueItem{nonce: 1, tx: good}

	require.Eventually(t, func() bool {
		return len(client.submissions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, good.Hash, client.submissions()[0].hash)

	select {
	case q := <-dropCh:
		t.Fatalf("queue %s dropped on malformed transaction", q.addr)
	default:
	}
}

func TestQueueSignalsDropOnIdle(t *testing.T) {
	client := newFakeSubmitter()
	_, addr := newTestKey(t)
	dropCh := make(chan *senderQueue, 1)
	q := newSenderQueue(context.Background(), addr, client, 20*time.Millisecond, dropCh)

	select {
	case dropped := <-dropCh:
		assert.Same(t, q, dropped)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not signal drop on idle TTL")
	}
	select {
	case <-q.done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not terminate")
	}
}

func TestQueueSignalsDropOnClosedChannel(t *testing.T) {
	client := newFakeSubmitter()
	_, addr := newTestKey(t)
	dropCh := make(chan *senderQueue, 1)
	q := newSenderQueue(context.Background(), addr, client, time.Minute, dropCh)
	close(q.ch)

	select {
	case dropped := <-dropCh:
		assert.Equal(t, addr, dropped.addr)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not signal drop on channel closure")
	}
}
