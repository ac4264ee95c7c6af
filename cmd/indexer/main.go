// indexer scans the base ledger for rollup activity, advances the
// execution engine's state, and serves the admin and block-production
// RPC surfaces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nethermindeth/rollup-bridge/config"
	"github.com/nethermindeth/rollup-bridge/engine"
	"github.com/nethermindeth/rollup-bridge/indexer"
	"github.com/nethermindeth/rollup-bridge/storage"
	"github.com/nethermindeth/rollup-bridge/storage/pgstorage"
)

const configEnvVar = "INDEXER_CONFIG"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the config file",
}

func main() {
	app := &cli.App{
		Name:    "indexer",
		Usage:   "base ledger indexer and block production coordinator",
		Version: config.Version,
		Flags:   []cli.Flag{configFlag},
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("Indexer exited", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))

	path, err := config.ResolvePath(cliCtx.String(configFlag.Name), configEnvVar)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("parse program id: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, rollup, err := buildStorages(ctx, cfg)
	if err != nil {
		return err
	}
	ledger := indexer.NewLedgerClient(cfg.BaseLedger.RPCURLs[0], cfg.Commitment())
	service := indexer.NewService(ledger, program, base, rollup, indexer.Config{
		StartSlot:      cfg.StartSlot,
		EndSlot:        cfg.EndSlot,
		BatchSize:      cfg.BlockLoaderBatchSize,
		MaxSlotHistory: cfg.MaxSlotHistory,
	})

	if cfg.Mode == config.ModeRecovery {
		return service.RunRecovery(ctx)
	}

	secret, err := cfg.JWTSecret()
	if err != nil {
		return err
	}
	engineClient, err := engine.DialWithEngine(ctx, cfg.Engine.HTTPAddr, cfg.Engine.EngineAddr, secret)
	if err != nil {
		return fmt.Errorf("dial execution engine: %w", err)
	}
	defer engineClient.Close()

	rpcServer, err := indexer.StartRPC(cfg.AdminListen, []rpc.API{
		{Namespace: "admin", Service: indexer.NewAdminAPI(base, rollup, service.Started)},
		{Namespace: "producer", Service: indexer.NewProducerAPI(rollup)},
	})
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	blocks := make(chan *storage.IndexedBlock, 64)
	sub := service.SubscribeBlocks(blocks)
	defer sub.Unsubscribe()
	advancer := engine.NewAdvancer(engineClient)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fmt.Errorf("indexer exited: %w", service.Run(ctx))
	})
	g.Go(func() error {
		return fmt.Errorf("state advance loop exited: %w", advancer.Run(ctx, blocks))
	})

	log.Info("Starting indexer", "chain", cfg.ChainID, "admin", cfg.AdminListen)
	return g.Wait()
}

func buildStorages(ctx context.Context, cfg *config.Config) (storage.BaseLedgerBlockStorage, storage.RollupBlockStorage, error) {
	if cfg.Storage.PostgresURL == "" {
		return storage.NewMemoryBaseLedgerStorage(), storage.NewMemoryRollupStorage(), nil
	}
	pool, err := pgstorage.Connect(ctx, cfg.Storage.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	return pgstorage.NewBaseLedgerStorage(pool), pgstorage.NewRollupStorage(pool), nil
}
