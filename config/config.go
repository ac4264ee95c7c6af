// Package config loads the YAML configuration shared by the bridge
// binaries.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	solrpc "github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

// Version of the bridge binaries.
const Version = "0.3.0"

// Service modes.
const (
	ModeIndexer  = "indexer"
	ModeRecovery = "recovery"
)

// Duration parses YAML strings like "500ms" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PayerConfig names one funding keypair. An empty ChainIDs list funds
// every rollup.
type PayerConfig struct {
	Keypair  string   `yaml:"keypair"`
	ChainIDs []uint64 `yaml:"chain_ids"`
}

// BaseLedgerConfig locates the base-ledger RPC endpoints.
type BaseLedgerConfig struct {
	RPCURLs    []string `yaml:"rpc_urls"`
	Commitment string   `yaml:"commitment"`
}

// EngineConfig locates the execution engine.
type EngineConfig struct {
	HTTPAddr      string   `yaml:"http_addr"`
	EngineAddr    string   `yaml:"engine_addr"`
	JWTSecretPath string   `yaml:"jwt_secret"`
	PollInterval  Duration `yaml:"poll_interval"`
}

// StorageConfig selects the storage backend. An empty Postgres URL selects
// the in-memory variant.
type StorageConfig struct {
	PostgresURL string `yaml:"postgres_url"`
}

// Config is the hierarchical configuration consumed by both binaries.
type Config struct {
	Mode       string           `yaml:"mode"`
	ChainID    uint64           `yaml:"chain_id"`
	ProgramID  string           `yaml:"program_id"`
	BaseLedger BaseLedgerConfig `yaml:"base_ledger"`
	Payers     []PayerConfig    `yaml:"payers"`
	Engine     EngineConfig     `yaml:"engine"`

	AdminListen string `yaml:"admin_listen"`
	ProxyListen string `yaml:"proxy_listen"`

	MempoolTTL Duration `yaml:"mempool_ttl"`
	SenderTTL  Duration `yaml:"sender_ttl"`

	StartSlot            *uint64 `yaml:"start_slot"`
	EndSlot              *uint64 `yaml:"end_slot"`
	BlockLoaderBatchSize uint64  `yaml:"block_loader_batch_size"`
	MaxSlotHistory       *uint64 `yaml:"max_slot_history"`

	Storage StorageConfig `yaml:"storage"`
}

// Load reads and validates the config at path, applying defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeIndexer
	}
	if c.BaseLedger.Commitment == "" {
		c.BaseLedger.Commitment = string(solrpc.CommitmentConfirmed)
	}
	if c.MempoolTTL == 0 {
		c.MempoolTTL = Duration(60 * time.Second)
	}
	if c.SenderTTL == 0 {
		c.SenderTTL = Duration(30 * time.Second)
	}
	if c.Engine.PollInterval == 0 {
		c.Engine.PollInterval = Duration(500 * time.Millisecond)
	}
	if c.BlockLoaderBatchSize == 0 {
		c.BlockLoaderBatchSize = 32
	}
}

func (c *Config) validate() error {
	if c.Mode != ModeIndexer && c.Mode != ModeRecovery {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if c.ProgramID == "" {
		return errors.New("program_id is required")
	}
	if len(c.BaseLedger.RPCURLs) == 0 {
		return errors.New("base_ledger.rpc_urls is required")
	}
	if c.Mode == ModeRecovery && (c.StartSlot == nil || c.EndSlot == nil) {
		return errors.New("recovery mode requires start_slot and end_slot")
	}
	return nil
}

// Commitment converts the configured commitment string.
func (c *Config) Commitment() solrpc.CommitmentType {
	return solrpc.CommitmentType(c.BaseLedger.Commitment)
}

// PayersFor returns the keypair paths funding the given chain id.
func (c *Config) PayersFor(chainID uint64) []string {
	var paths []string
	for _, payer := range c.Payers {
		if len(payer.ChainIDs) == 0 {
			paths = append(paths, payer.Keypair)
			continue
		}
		for _, id := range payer.ChainIDs {
			if id == chainID {
				paths = append(paths, payer.Keypair)
				break
			}
		}
	}
	return paths
}

// JWTSecret reads and decodes the hex-encoded engine secret.
func (c *Config) JWTSecret() ([]byte, error) {
	raw, err := os.ReadFile(c.Engine.JWTSecretPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt secret: %w", err)
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")
	secret, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode jwt secret: %w", err)
	}
	return secret, nil
}

// ResolvePath returns the config path from the CLI value or the named
// environment variable.
func ResolvePath(flagValue, envVar string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if fromEnv := os.Getenv(envVar); fromEnv != "" {
		return fromEnv, nil
	}
	return "", fmt.Errorf("config file path not found: pass --config or set %s", envVar)
}
