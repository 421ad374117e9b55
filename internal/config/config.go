// Package config loads and validates the run policy from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/privatekey7/evm-farmer-pro/internal/engine"
	"github.com/privatekey7/evm-farmer-pro/internal/registry"
)

type Delays struct {
	TxMinSeconds     int `yaml:"tx_min_seconds"`
	TxMaxSeconds     int `yaml:"tx_max_seconds"`
	WalletMinSeconds int `yaml:"wallet_min_seconds"`
	WalletMaxSeconds int `yaml:"wallet_max_seconds"`
}

type Config struct {
	Mode            string   `yaml:"mode"`
	TargetChains    []string `yaml:"target_chains"`
	ExcludedChains  []string `yaml:"excluded_chains"`
	ExcludedWallets []string `yaml:"excluded_wallets"`
	IncludeEthereum bool     `yaml:"include_ethereum"`
	StablePercent   int      `yaml:"stable_percent"`
	Slippage        string   `yaml:"slippage"`

	KeysFile     string `yaml:"keys_file"`
	BalancesFile string `yaml:"balances_file"`

	RelayURL    string `yaml:"relay_url"`
	RelayAPIKey string `yaml:"relay_api_key"`

	JournalPath     string `yaml:"journal_path"`
	JournalLockPath string `yaml:"journal_lock_path"`

	Delays Delays `yaml:"delays"`

	LogLevel           string `yaml:"log_level"`
	LogIntervalSeconds int    `yaml:"log_interval_seconds"`
}

func Default() Config {
	return Config{
		Mode:            string(engine.ModeConsolidate),
		StablePercent:   50,
		Slippage:        "50",
		KeysFile:        "keys.txt",
		BalancesFile:    "balances.json",
		RelayURL:        "https://api.relay.link",
		JournalPath:     "data/journal.db",
		JournalLockPath: "data/journal.lock",
		Delays: Delays{
			TxMinSeconds:     30,
			TxMaxSeconds:     60,
			WalletMinSeconds: 120,
			WalletMaxSeconds: 300,
		},
		LogLevel:           "info",
		LogIntervalSeconds: 2,
	}
}

// Load builds the effective config: defaults, then the YAML file,
// then environment variables. A missing file is fine when path is
// empty; a named file must exist.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		cfg.RelayAPIKey = v
	}
	if v := os.Getenv("FARMER_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("FARMER_KEYS_FILE"); v != "" {
		cfg.KeysFile = v
	}
	if v := os.Getenv("FARMER_BALANCES_FILE"); v != "" {
		cfg.BalancesFile = v
	}
	if v := os.Getenv("FARMER_TARGET_CHAINS"); v != "" {
		parts := strings.Split(v, ",")
		chains := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				chains = append(chains, p)
			}
		}
		cfg.TargetChains = chains
	}
}

// Validate refuses to start a run on a broken policy.
func (c *Config) Validate() error {
	switch engine.Mode(c.Mode) {
	case engine.ModeConsolidate, engine.ModeSwapOnly, engine.ModeStableFix:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}

	if engine.Mode(c.Mode) == engine.ModeConsolidate && len(c.TargetChains) == 0 {
		return fmt.Errorf("config: consolidate mode needs at least one target chain")
	}
	for _, tag := range c.TargetChains {
		if _, ok := registry.ByTag(tag); !ok {
			return fmt.Errorf("config: unknown target chain %q", tag)
		}
	}
	for _, tag := range c.ExcludedChains {
		if _, ok := registry.ByTag(tag); !ok {
			return fmt.Errorf("config: unknown excluded chain %q", tag)
		}
	}

	for _, addr := range c.ExcludedWallets {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: excluded wallet %q is not an address", addr)
		}
	}

	if c.StablePercent < 1 || c.StablePercent > 99 {
		return fmt.Errorf("config: stable_percent %d out of range 1..99", c.StablePercent)
	}

	if strings.TrimSpace(c.KeysFile) == "" {
		return fmt.Errorf("config: keys_file is required")
	}

	if c.Delays.TxMaxSeconds < c.Delays.TxMinSeconds || c.Delays.WalletMaxSeconds < c.Delays.WalletMinSeconds {
		return fmt.Errorf("config: delay maximums must not be below minimums")
	}
	return nil
}

// Pipeline converts the policy into the engine's runtime config.
func (c *Config) Pipeline() engine.Config {
	excluded := make(map[common.Address]bool, len(c.ExcludedWallets))
	for _, addr := range c.ExcludedWallets {
		excluded[common.HexToAddress(addr)] = true
	}
	targets := make([]string, 0, len(c.TargetChains))
	for _, tag := range c.TargetChains {
		targets = append(targets, strings.ToLower(strings.TrimSpace(tag)))
	}
	excludedChains := make(map[string]bool, len(c.ExcludedChains))
	for _, tag := range c.ExcludedChains {
		excludedChains[strings.ToLower(strings.TrimSpace(tag))] = true
	}
	return engine.Config{
		Mode:            engine.Mode(c.Mode),
		TargetChains:    targets,
		Excluded:        excluded,
		ExcludedChains:  excludedChains,
		IncludeEthereum: c.IncludeEthereum,
		StablePercent:   c.StablePercent,
		Slippage:        c.Slippage,
		TxDelayMin:      time.Duration(c.Delays.TxMinSeconds) * time.Second,
		TxDelayMax:      time.Duration(c.Delays.TxMaxSeconds) * time.Second,
		WalletDelayMin:  time.Duration(c.Delays.WalletMinSeconds) * time.Second,
		WalletDelayMax:  time.Duration(c.Delays.WalletMaxSeconds) * time.Second,
	}
}

// LogInterval is the sink throttle window.
func (c *Config) LogInterval() time.Duration {
	if c.LogIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.LogIntervalSeconds) * time.Second
}
