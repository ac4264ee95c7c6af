package indexer

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/nethermindeth/rollup-bridge/storage"
)

// AdminAPI answers sync-state queries. An orchestrator combines the three
// methods to decide whether RPC reads may be served.
type AdminAPI struct {
	base    storage.BaseLedgerBlockStorage
	rollup  storage.RollupBlockStorage
	started func() bool
}

func NewAdminAPI(base storage.BaseLedgerBlockStorage, rollup storage.RollupBlockStorage, started func() bool) *AdminAPI {
	return &AdminAPI{base: base, rollup: rollup, started: started}
}

// InSync reports whether the base-ledger storage holds at least one slot
// and the indexer completed its first scan cycle.
func (api *AdminAPI) InSync(ctx context.Context) (bool, error) {
	last, err := api.base.LastSlot(ctx)
	if err != nil {
		return false, err
	}
	return last != nil && api.started(), nil
}

// LastSolanaStorageSlot returns the highest indexed base-ledger slot, or
// nil when nothing is indexed.
func (api *AdminAPI) LastSolanaStorageSlot(ctx context.Context) (*uint64, error) {
	return api.base.LastSlot(ctx)
}

// LastEthereumStorageSlot returns the highest slot a produced rollup block
// covers, or nil when nothing has been produced.
func (api *AdminAPI) LastEthereumStorageSlot(ctx context.Context) (*uint64, error) {
	return api.rollup.MaxProducedSlot(ctx)
}

// ProducerAPI is the block-production coordination contract polled by the
// out-of-process producer.
type ProducerAPI struct {
	rollup storage.RollupBlockStorage
}

func NewProducerAPI(rollup storage.RollupBlockStorage) *ProducerAPI {
	return &ProducerAPI{rollup: rollup}
}

// GetPendingBlocks returns the oldest un-produced range. It is idempotent:
// the same range is returned until a matching BlocksProduced commits it.
func (api *ProducerAPI) GetPendingBlocks(ctx context.Context) (*storage.ProducerParams, error) {
	return api.rollup.PendingBlocks(ctx)
}

// BlocksProduced commits the producer's result for the given range and
// advances the pending queue. A report for a range that is no longer
// outstanding is ignored.
func (api *ProducerAPI) BlocksProduced(ctx context.Context, params storage.ProducerParams, blocks storage.ProducedBlocks) error {
	return api.rollup.CommitProduced(ctx, params, blocks)
}

// RPCServer serves the admin and producer namespaces over HTTP.
type RPCServer struct {
	rpc  *rpc.Server
	http *http.Server
	ln   net.Listener
}

// StartRPC registers the given APIs and starts serving on addr.
func StartRPC(addr string, apis []rpc.API) (*RPCServer, error) {
	srv := rpc.NewServer()
	for _, api := range apis {
		if err := srv.RegisterName(api.Namespace, api.Service); err != nil {
			srv.Stop()
			return nil, err
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		srv.Stop()
		return nil, err
	}
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("Admin RPC server failed", "err", err)
		}
	}()
	log.Info("Admin RPC server started", "addr", ln.Addr())
	return &RPCServer{rpc: srv, http: httpSrv, ln: ln}, nil
}

// Addr returns the bound listen address.
func (s *RPCServer) Addr() string {
	return s.ln.Addr().String()
}

// Stop closes the HTTP listener and the RPC service registry.
func (s *RPCServer) Stop() {
	s.http.Close()
	s.rpc.Stop()
}
