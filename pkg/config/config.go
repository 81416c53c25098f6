package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/canopy-network/balancex/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Chain is one EVM network the service can read balances on.
type Chain struct {
	ID       uint64 `yaml:"id"`
	Name     string `yaml:"name"`
	RPC      string `yaml:"rpc"`
	Fallback string `yaml:"fallback"`
}

// Token mirrors balances.Token in the config file.
type Token struct {
	Address  string `yaml:"token"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
	Force    bool   `yaml:"force"`
}

// Wallet is the owner tracked at boot. Optional.
type Wallet struct {
	Address string `yaml:"address"`
	ChainID uint64 `yaml:"chainId"`
}

// File is the on-disk layout.
type File struct {
	Chains []Chain            `yaml:"chains"`
	Tokens map[uint64][]Token `yaml:"tokens"`
	Wallet Wallet             `yaml:"wallet"`
}

// Config is the full service configuration (file + environment).
type Config struct {
	File

	Addr string

	RPCTimeout time.Duration
	RPCRPS     int
	RPCBurst   int

	// FixedChainID overrides the wallet chain when non zero.
	FixedChainID uint64
	UseWorker    bool
	DiscardStale bool

	RefreshCron    string
	RefreshTimeout time.Duration

	RedisEnabled bool
}

// Load reads CONFIG_PATH (default config.yaml) and the environment.
// A missing file is not an error; the service then starts with no chains.
func Load() (*Config, error) {
	path := utils.Env("CONFIG_PATH", "config.yaml")

	var f File
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if f, err = Parse(raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	return &Config{
		File:           f,
		Addr:           utils.Env("ADDR", ":3003"),
		RPCTimeout:     utils.EnvDuration("RPC_TIMEOUT", 15*time.Second),
		RPCRPS:         utils.EnvInt("RPC_RPS", 20),
		RPCBurst:       utils.EnvInt("RPC_BURST", 40),
		FixedChainID:   utils.EnvUint64("BALANCES_CHAIN_ID", 0),
		UseWorker:      utils.EnvBool("BALANCES_WORKER", true),
		DiscardStale:   utils.EnvBool("BALANCES_DISCARD_STALE", false),
		RefreshCron:    utils.Env("REFRESH_CRON", "0 */1 * * * *"),
		RefreshTimeout: utils.EnvDuration("REFRESH_TIMEOUT", 50*time.Second),
		RedisEnabled:   utils.EnvBool("REDIS_ENABLED", false),
	}, nil
}

// Parse decodes and validates a config file body.
func Parse(raw []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, err
	}
	seen := map[uint64]bool{}
	for i, c := range f.Chains {
		if c.ID == 0 {
			return File{}, fmt.Errorf("chains[%d]: id is required", i)
		}
		if c.RPC == "" {
			return File{}, fmt.Errorf("chains[%d]: rpc is required", i)
		}
		if seen[c.ID] {
			return File{}, fmt.Errorf("chains[%d]: duplicated id %d", i, c.ID)
		}
		seen[c.ID] = true
	}
	return f, nil
}
