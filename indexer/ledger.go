package indexer

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Base-ledger error codes for slots that will never yield a block.
const (
	codeSlotSkipped      = -32007
	codeSlotNotAvailable = -32009
)

// LedgerBlock is one fetched base-ledger block in the narrow form the
// scanner consumes.
type LedgerBlock struct {
	Slot         uint64
	Timestamp    uint64
	Transactions []*solana.Transaction
}

// BaseLedgerClient reads slots and blocks from the base ledger. Block
// returns (nil, nil) for slots the ledger skipped.
type BaseLedgerClient interface {
	Slot(ctx context.Context) (uint64, error)
	Block(ctx context.Context, slot uint64) (*LedgerBlock, error)
}

type rpcLedgerClient struct {
	rpc        *solrpc.Client
	commitment solrpc.CommitmentType
}

// NewLedgerClient wraps a base-ledger RPC endpoint as a BaseLedgerClient.
func NewLedgerClient(url string, commitment solrpc.CommitmentType) BaseLedgerClient {
	return &rpcLedgerClient{rpc: solrpc.New(url), commitment: commitment}
}

func (c *rpcLedgerClient) Slot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, c.commitment)
}

func (c *rpcLedgerClient) Block(ctx context.Context, slot uint64) (*LedgerBlock, error) {
	maxVersion := uint64(0)
	res, err := c.rpc.GetBlockWithOpts(ctx, slot, &solrpc.GetBlockOpts{
		Commitment:                     c.commitment,
		TransactionDetails:             solrpc.TransactionDetailsFull,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code == codeSlotSkipped || rpcErr.Code == codeSlotNotAvailable) {
			return nil, nil
		}
		return nil, err
	}
	block := &LedgerBlock{Slot: slot}
	if res.BlockTime != nil {
		block.Timestamp = uint64(res.BlockTime.Time().Unix())
	}
	for _, meta := range res.Transactions {
		tx, err := meta.GetTransaction()
		if err != nil {
			continue
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}
