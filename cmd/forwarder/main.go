// forwarder pulls pending transactions from the execution engine and
// submits them, in per-sender nonce order, to the rollup program on the
// base ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	"github.com/nethermindeth/rollup-bridge/config"
	"github.com/nethermindeth/rollup-bridge/engine"
	"github.com/nethermindeth/rollup-bridge/forwarder"
	"github.com/nethermindeth/rollup-bridge/mempool"
	"github.com/nethermindeth/rollup-bridge/submitter"
)

const configEnvVar = "FORWARDER_CONFIG"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the config file",
}

func main() {
	app := &cli.App{
		Name:    "forwarder",
		Usage:   "mempool forwarder for the rollup bridge",
		Version: config.Version,
		Flags:   []cli.Flag{configFlag},
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("Forwarder exited", "err", err)
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

	client, err := buildSubmitter(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineClient, err := engine.Dial(ctx, cfg.Engine.HTTPAddr)
	if err != nil {
		return fmt.Errorf("dial execution engine: %w", err)
	}
	defer engineClient.Close()

	poller := engine.NewPendingTxsPoller(engineClient, cfg.Engine.PollInterval.Std())
	pool := mempool.New(client, cfg.SenderTTL.Std(), cfg.MempoolTTL.Std())
	service := forwarder.New(poller, pool)

	log.Info("Starting forwarder", "chain", cfg.ChainID, "engine", cfg.Engine.HTTPAddr)
	return service.Run(ctx)
}

func buildSubmitter(cfg *config.Config) (*submitter.Client, error) {
	program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse program id: %w", err)
	}
	var payers []solana.PrivateKey
	for _, keyPath := range cfg.PayersFor(cfg.ChainID) {
		payer, err := solana.PrivateKeyFromSolanaKeygenFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read payer keypair %s: %w", keyPath, err)
		}
		payers = append(payers, payer)
	}
	return submitter.NewClient(submitter.Config{
		Endpoints:  cfg.BaseLedger.RPCURLs,
		Commitment: cfg.Commitment(),
		Rollups:    map[uint64]solana.PublicKey{cfg.ChainID: program},
		Payers:     payers,
	}, cfg.ChainID)
}
