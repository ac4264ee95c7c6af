package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

var (
	errMissingSignature = errors.New("transaction has no signature values")
	errMissingGasPrice  = errors.New("transaction has no gas price")
	errMissingFeeCap    = errors.New("transaction has no fee cap")
)

// PoolTx is a single pending transaction as advertised by the execution
// engine's txpool_content endpoint. The field set matches the standard
// Ethereum JSON transaction encoding.
type PoolTx struct {
	Hash      common.Hash     `json:"hash"`
	From      common.Address  `json:"from"`
	Nonce     hexutil.Uint64  `json:"nonce"`
	To        *common.Address `json:"to"`
	Value     *hexutil.Big    `json:"value"`
	Gas       hexutil.Uint64  `json:"gas"`
	GasPrice  *hexutil.Big    `json:"gasPrice,omitempty"`
	GasFeeCap *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	GasTipCap *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Input     hexutil.Bytes   `json:"input"`
	Type      hexutil.Uint64  `json:"type"`
	ChainID   *hexutil.Big    `json:"chainId,omitempty"`

	AccessList types.AccessList `json:"accessList,omitempty"`

	V *hexutil.Big `json:"v"`
	R *hexutil.Big `json:"r"`
	S *hexutil.Big `json:"s"`
}

// TxPoolContent is the result member of a txpool_content response: two
// sender-keyed maps of nonce (decimal string) to transaction. Pending
// entries are contiguous from the sender's current nonce, queued entries
// are gapped.
type TxPoolContent struct {
	Pending map[common.Address]map[string]*PoolTx `json:"pending"`
	Queued  map[common.Address]map[string]*PoolTx `json:"queued"`
}

// Len returns the total number of transactions across both maps.
func (c *TxPoolContent) Len() int {
	n := 0
	for _, txs := range c.Pending {
		n += len(txs)
	}
	for _, txs := range c.Queued {
		n += len(txs)
	}
	return n
}

// SignedTransaction reassembles the signed typed transaction from the pool
// representation. A nil error guarantees the result carries the advertised
// signature triple and can be re-encoded for submission.
func (tx *PoolTx) SignedTransaction() (*types.Transaction, error) {
	if tx.V == nil || tx.R == nil || tx.S == nil {
		return nil, errMissingSignature
	}
	v, r, s := (*big.Int)(tx.V), (*big.Int)(tx.R), (*big.Int)(tx.S)
	if err := checkFee256(tx.Value, tx.GasPrice, tx.GasFeeCap, tx.GasTipCap); err != nil {
		return nil, err
	}
	value := new(big.Int)
	if tx.Value != nil {
		value = (*big.Int)(tx.Value)
	}

	var inner types.TxData
	switch uint8(tx.Type) {
	case types.LegacyTxType:
		if tx.GasPrice == nil {
			return nil, errMissingGasPrice
		}
		inner = &types.LegacyTx{
			Nonce:    uint64(tx.Nonce),
			GasPrice: (*big.Int)(tx.GasPrice),
			Gas:      uint64(tx.Gas),
			To:       tx.To,
			Value:    value,
			Data:     tx.Input,
			V:        v,
			R:        r,
			S:        s,
		}
	case types.AccessListTxType:
		if tx.GasPrice == nil {
			return nil, errMissingGasPrice
		}
		inner = &types.AccessListTx{
			ChainID:    (*big.Int)(tx.ChainID),
			Nonce:      uint64(tx.Nonce),
			GasPrice:   (*big.Int)(tx.GasPrice),
			Gas:        uint64(tx.Gas),
			To:         tx.To,
			Value:      value,
			Data:       tx.Input,
			AccessList: tx.AccessList,
			V:          v,
			R:          r,
			S:          s,
		}
	case types.DynamicFeeTxType:
		if tx.GasFeeCap == nil || tx.GasTipCap == nil {
			return nil, errMissingFeeCap
		}
		inner = &types.DynamicFeeTx{
			ChainID:    (*big.Int)(tx.ChainID),
			Nonce:      uint64(tx.Nonce),
			GasTipCap:  (*big.Int)(tx.GasTipCap),
			GasFeeCap:  (*big.Int)(tx.GasFeeCap),
			Gas:        uint64(tx.Gas),
			To:         tx.To,
			Value:      value,
			Data:       tx.Input,
			AccessList: tx.AccessList,
			V:          v,
			R:          r,
			S:          s,
		}
	default:
		return nil, fmt.Errorf("unsupported transaction type %d", uint64(tx.Type))
	}
	return types.NewTx(inner), nil
}

// checkFee256 rejects monetary fields that do not fit 256 bits, the same
// bound the execution layer enforces on pool admission.
func checkFee256(fields ...*hexutil.Big) error {
	for _, f := range fields {
		if f == nil {
			continue
		}
		if _, overflow := uint256.FromBig((*big.Int)(f)); overflow {
			return fmt.Errorf("monetary field exceeds 256 bits: %v", (*big.Int)(f))
		}
	}
	return nil
}
