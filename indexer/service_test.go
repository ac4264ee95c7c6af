package indexer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nethermindeth/rollup-bridge/storage"
)

// fakeLedger serves a fixed set of blocks under a fixed tip.
type fakeLedger struct {
	mu     sync.Mutex
	tip    uint64
	blocks map[uint64]*LedgerBlock
}

func (f *fakeLedger) Slot(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeLedger) Block(ctx context.Context, slot uint64) (*LedgerBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocks[slot], nil
}

func testProgram() solana.PublicKey {
	return solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
}

func signedRollupTx(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	recipient := common.HexToAddress("0x1234567890123456789012345678901234567890")
	return types.MustSignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(1000000000),
		Gas:       21000,
		To:        &recipient,
		Value:     big.NewInt(1),
	})
}

// ledgerTxWith wraps marshaled rollup transactions into a base-ledger
// transaction invoking the given program, one instruction per payload.
func ledgerTxWith(t *testing.T, program solana.PublicKey, ethTxs ...*types.Transaction) *solana.Transaction {
	t.Helper()
	payer := solana.NewWallet().PublicKey()
	instructions := make([]solana.Instruction, 0, len(ethTxs))
	for _, ethTx := range ethTxs {
		payload, err := ethTx.MarshalBinary()
		require.NoError(t, err)
		instructions = append(instructions, solana.NewInstruction(program, solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
		}, payload))
	}
	tx, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(payer))
	require.NoError(t, err)
	return tx
}

func TestRecoveryScanIndexesRange(t *testing.T) {
	program := testProgram()
	ethTx := signedRollupTx(t, 0)
	ledger := &fakeLedger{
		tip: 110,
		blocks: map[uint64]*LedgerBlock{
			100: {Slot: 100, Timestamp: 1000},
			101: {Slot: 101, Timestamp: 1001, Transactions: []*solana.Transaction{ledgerTxWith(t, program, ethTx)}},
			// 102 skipped by the ledger
			103: {Slot: 103, Timestamp: 1003},
		},
	}
	base := storage.NewMemoryBaseLedgerStorage()
	rollup := storage.NewMemoryRollupStorage()

	start, end := uint64(100), uint64(103)
	svc := NewService(ledger, program, base, rollup, Config{
		StartSlot: &start,
		EndSlot:   &end,
		BatchSize: 2,
	})

	blocks := make(chan *storage.IndexedBlock, 4)
	sub := svc.SubscribeBlocks(blocks)
	defer sub.Unsubscribe()

	require.NoError(t, svc.RunRecovery(context.Background()))

	last, err := base.LastSlot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint64(103), *last)

	pending, err := rollup.PendingBlocks(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, uint64(101), pending.FromSlot)
	assert.Equal(t, uint64(101), pending.ToSlot)

	select {
	case indexed := <-blocks:
		assert.Equal(t, uint64(101), indexed.Slot)
		require.Len(t, indexed.Transactions, 1)
		assert.Equal(t, ethTx.Hash(), indexed.Transactions[0].Hash())
	case <-time.After(2 * time.Second):
		t.Fatal("no indexed block announced")
	}
}

func TestRunSetsStartedFlag(t *testing.T) {
	program := testProgram()
	ledger := &fakeLedger{
		tip: 11,
		blocks: map[uint64]*LedgerBlock{
			10: {Slot: 10, Timestamp: 500},
			11: {Slot: 11, Timestamp: 501},
		},
	}
	base := storage.NewMemoryBaseLedgerStorage()
	rollup := storage.NewMemoryRollupStorage()

	start := uint64(10)
	svc := NewService(ledger, program, base, rollup, Config{
		StartSlot:    &start,
		ScanInterval: 5 * time.Millisecond,
	})
	require.False(t, svc.Started())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, svc.Started, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	last, err := base.LastSlot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, uint64(11), *last)
}

func TestRollupTxsIgnoresForeignPrograms(t *testing.T) {
	program := testProgram()
	other := solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
	ethTx := signedRollupTx(t, 1)

	svc := NewService(nil, program, nil, nil, Config{})
	block := &LedgerBlock{
		Slot: 7,
		Transactions: []*solana.Transaction{
			ledgerTxWith(t, other, ethTx),
			ledgerTxWith(t, program, ethTx),
		},
	}
	txs := svc.rollupTxs(block)
	require.Len(t, txs, 1)
	assert.Equal(t, ethTx.Hash(), txs[0].Hash())
}
