package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang-jwt/jwt/v4"
)

// Client talks to the execution engine over two endpoints: the public HTTP
// endpoint serving txpool queries and the authenticated engine endpoint
// used to advance rollup state.
type Client struct {
	pool   *rpc.Client
	engine *rpc.Client
}

// Dial connects the public endpoint only. The engine endpoint stays nil;
// AdvanceRollupState must not be called on such a client.
func Dial(ctx context.Context, httpAddr string) (*Client, error) {
	pool, err := rpc.DialContext(ctx, httpAddr)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool}, nil
}

// DialWithEngine connects both the public endpoint and the JWT-secured
// engine endpoint.
func DialWithEngine(ctx context.Context, httpAddr, engineAddr string, jwtSecret []byte) (*Client, error) {
	pool, err := rpc.DialContext(ctx, httpAddr)
	if err != nil {
		return nil, err
	}
	engine, err := rpc.DialOptions(ctx, engineAddr, rpc.WithHTTPAuth(NewJWTAuth(jwtSecret)))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Client{pool: pool, engine: engine}, nil
}

// NewJWTAuth issues a fresh HS256 bearer token per request, carrying only
// an issued-at claim, the scheme the engine endpoint authenticates.
func NewJWTAuth(secret []byte) rpc.HTTPAuth {
	return func(h http.Header) error {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iat": jwt.NewNumericDate(time.Now()),
		})
		signed, err := token.SignedString(secret)
		if err != nil {
			return err
		}
		h.Set("Authorization", "Bearer "+signed)
		return nil
	}
}

// TxPoolContent fetches the engine's current pending and queued
// transaction sets.
func (c *Client) TxPoolContent(ctx context.Context) (*TxPoolContent, error) {
	var content TxPoolContent
	if err := c.pool.CallContext(ctx, &content, "txpool_content"); err != nil {
		return nil, err
	}
	return &content, nil
}

// AdvanceRollupState pushes a batch of executed transactions and the
// millisecond timestamp of their containing base-ledger block through the
// engine's fork-choice surface, extending the rollup chain by one block.
func (c *Client) AdvanceRollupState(ctx context.Context, txs types.Transactions, timestampMs uint64) error {
	encoded := make([]hexutil.Bytes, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return err
		}
		encoded[i] = raw
	}
	return c.engine.CallContext(ctx, nil, "engine_advanceRollupState", encoded, hexutil.Uint64(timestampMs))
}

// Close tears down both connections.
func (c *Client) Close() {
	c.pool.Close()
	if c.engine != nil {
		c.engine.Close()
	}
}
