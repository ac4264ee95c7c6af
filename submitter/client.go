// Package submitter delivers composed rollup transactions to the base
// ledger through an ordered pool of RPC endpoints with failover.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
)

// ErrSubmissionFailed is returned when every configured endpoint rejected
// the transaction.
var ErrSubmissionFailed = errors.New("failed to send transaction")

const (
	confirmPollInterval = 400 * time.Millisecond
	confirmTimeout      = 30 * time.Second
)

// ledgerRPC is the slice of the base-ledger RPC client an endpoint uses.
// *solrpc.Client satisfies it.
type ledgerRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment solrpc.CommitmentType) (*solrpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solrpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solrpc.GetSignatureStatusesResult, error)
}

// Endpoint is one base-ledger RPC connection with its own payer pool.
// Composition binds a payer and a recent blockhash from this endpoint, so
// composed transactions cannot be replayed against a different endpoint.
type Endpoint struct {
	url        string
	rpc        ledgerRPC
	payers     []solana.PrivateKey
	nextPayer  atomic.Uint64
	commitment solrpc.CommitmentType
}

// Config wires a submission client.
type Config struct {
	// Endpoints are tried strictly in order on every submission.
	Endpoints []string

	// Commitment is the confirmation level submissions wait for.
	Commitment solrpc.CommitmentType

	// Rollups maps chain id to the rollup program account on the base
	// ledger.
	Rollups map[uint64]solana.PublicKey

	// Payers fund submissions; rotated round-robin inside an endpoint.
	Payers []solana.PrivateKey
}

// Client is the submission client shared by all sender queues. It holds no
// per-submission state and is safe for concurrent use.
type Client struct {
	endpoints []*Endpoint
	program   solana.PublicKey
	chainID   uint64
}

// NewClient builds a client submitting to the rollup program registered
// for chainID.
func NewClient(cfg Config, chainID uint64) (*Client, error) {
	program, ok := cfg.Rollups[chainID]
	if !ok {
		return nil, fmt.Errorf("no rollup program registered for chain id %d", chainID)
	}
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no base ledger endpoints configured")
	}
	if len(cfg.Payers) == 0 {
		return nil, errors.New("no payers configured")
	}
	endpoints := make([]*Endpoint, len(cfg.Endpoints))
	for i, url := range cfg.Endpoints {
		endpoints[i] = &Endpoint{
			url:        url,
			rpc:        solrpc.New(url),
			payers:     cfg.Payers,
			commitment: cfg.Commitment,
		}
		log.Info("Initialized base ledger RPC client", "endpoint", url)
	}
	return &Client{endpoints: endpoints, program: program, chainID: chainID}, nil
}

// Submit composes and confirms the signed rollup transaction against the
// first endpoint that accepts it. Endpoints are tried in configuration
// order; any composition or confirmation error moves on to the next one.
func (c *Client) Submit(ctx context.Context, sender common.Address, hash common.Hash, tx *types.Transaction) error {
	for _, ep := range c.endpoints {
		bundle, payer, err := ep.compose(ctx, c.program, tx)
		if err != nil {
			log.Warn("Failed to compose transaction", "sender", sender, "hash", hash, "endpoint", ep.url, "err", err)
			continue
		}
		if err := ep.sendAndConfirm(ctx, bundle, payer); err != nil {
			log.Warn("Failed to send transaction", "sender", sender, "hash", hash, "endpoint", ep.url, "err", err)
			continue
		}
		log.Info("Transaction executed on base ledger", "sender", sender, "hash", hash, "endpoint", ep.url)
		return nil
	}
	return ErrSubmissionFailed
}

// compose wraps the marshaled signed transaction into a base-ledger
// transaction invoking the rollup program, funded by the endpoint's next
// payer and anchored to its latest blockhash.
func (ep *Endpoint) compose(ctx context.Context, program solana.PublicKey, tx *types.Transaction) (*solana.Transaction, solana.PrivateKey, error) {
	payload, err := tx.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	payer := ep.payers[ep.nextPayer.Add(1)%uint64(len(ep.payers))]
	recent, err := ep.rpc.GetLatestBlockhash(ctx, ep.commitment)
	if err != nil {
		return nil, nil, err
	}
	inst := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer.PublicKey(), true, true),
	}, payload)
	bundle, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return nil, nil, err
	}
	return bundle, payer, nil
}

// sendAndConfirm submits the bundle and polls signature statuses until the
// endpoint's commitment level is reached.
func (ep *Endpoint) sendAndConfirm(ctx context.Context, bundle *solana.Transaction, payer solana.PrivateKey) error {
	if _, err := bundle.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	}); err != nil {
		return err
	}
	sig, err := ep.rpc.SendTransactionWithOpts(ctx, bundle, solrpc.TransactionOpts{
		PreflightCommitment: ep.commitment,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation timed out for %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
		statuses, err := ep.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			log.Debug("Failed to fetch signature status", "signature", sig, "err", err)
			continue
		}
		if len(statuses.Value) == 0 || statuses.Value[0] == nil {
			continue
		}
		status := statuses.Value[0]
		if status.Err != nil {
			return fmt.Errorf("transaction %s failed on base ledger: %v", sig, status.Err)
		}
		if confirmed(status.ConfirmationStatus, ep.commitment) {
			return nil
		}
	}
}

// confirmed reports whether the observed confirmation status satisfies the
// requested commitment.
func confirmed(status solrpc.ConfirmationStatusType, commitment solrpc.CommitmentType) bool {
	switch commitment {
	case solrpc.CommitmentFinalized:
		return status == solrpc.ConfirmationStatusFinalized
	case solrpc.CommitmentConfirmed:
		return status == solrpc.ConfirmationStatusConfirmed || status == solrpc.ConfirmationStatusFinalized
	default:
		return status != ""
	}
}
