package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: consolidate
target_chains: [base, arb]
stable_percent: 40
delays:
  tx_min_seconds: 5
  tx_max_seconds: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TargetChains; len(got) != 2 || got[0] != "base" {
		t.Errorf("TargetChains = %v", got)
	}
	if cfg.StablePercent != 40 {
		t.Errorf("StablePercent = %d", cfg.StablePercent)
	}
	// untouched fields keep their defaults
	if cfg.RelayURL != "https://api.relay.link" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.Delays.WalletMinSeconds != 120 {
		t.Errorf("WalletMinSeconds = %d", cfg.Delays.WalletMinSeconds)
	}
	if cfg.Delays.TxMaxSeconds != 10 {
		t.Errorf("TxMaxSeconds = %d", cfg.Delays.TxMaxSeconds)
	}
}

func TestLoadMissingNamedFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RELAY_API_KEY", "secret-key")
	t.Setenv("FARMER_TARGET_CHAINS", "op, linea")

	path := writeConfig(t, `
mode: consolidate
target_chains: [base]
relay_api_key: from-file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayAPIKey != "secret-key" {
		t.Errorf("RelayAPIKey = %q", cfg.RelayAPIKey)
	}
	if len(cfg.TargetChains) != 2 || cfg.TargetChains[1] != "linea" {
		t.Errorf("TargetChains = %v", cfg.TargetChains)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.TargetChains = []string{"base"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Mode = "drain" }, "unknown mode"},
		{"consolidate without targets", func(c *Config) { c.TargetChains = nil }, "target chain"},
		{"swap-only without targets", func(c *Config) {
			c.Mode = "swap-only"
			c.TargetChains = nil
		}, ""},
		{"unknown target chain", func(c *Config) { c.TargetChains = []string{"solana"} }, "unknown target chain"},
		{"unknown excluded chain", func(c *Config) { c.ExcludedChains = []string{"nope"} }, "unknown excluded chain"},
		{"bad excluded wallet", func(c *Config) { c.ExcludedWallets = []string{"not-an-address"} }, "not an address"},
		{"stable percent too high", func(c *Config) { c.StablePercent = 100 }, "out of range"},
		{"missing keys file", func(c *Config) { c.KeysFile = " " }, "keys_file"},
		{"inverted delays", func(c *Config) { c.Delays.TxMaxSeconds = 1 }, "delay maximums"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestPipelineConversion(t *testing.T) {
	cfg := Default()
	cfg.TargetChains = []string{" Base ", "ARB"}
	cfg.ExcludedWallets = []string{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}

	pc := cfg.Pipeline()
	if pc.TargetChains[0] != "base" || pc.TargetChains[1] != "arb" {
		t.Errorf("TargetChains = %v", pc.TargetChains)
	}
	if len(pc.Excluded) != 1 {
		t.Errorf("Excluded = %v", pc.Excluded)
	}
	if pc.TxDelayMin != 30*time.Second || pc.WalletDelayMax != 5*time.Minute {
		t.Errorf("delays = %v..%v %v..%v", pc.TxDelayMin, pc.TxDelayMax, pc.WalletDelayMin, pc.WalletDelayMax)
	}
}
