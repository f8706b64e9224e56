package params

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var configKeys = []string{
	"FEE_ACCOUNT", "FEE_PERCENT", "CUSTODY_ADDRESS", "CHAIN_ID", "DB_PATH", "DB_IN_MEMORY",
	"API_ADDR", "LOG_FILE", "LOG_LEVEL", "BLOCK_TIME_MS", "MEMPOOL_SIZE", "SEQUENCER_KEY_SEED",
	"CORS_ORIGINS", "ENABLE_TXGEN", "DEVNET_DEPLOYER", "DEVNET_TOKENS",
}

// clearEnv unsets every config key for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeEnvFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadFromEnvFileAndOverrides(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t,
		"FEE_ACCOUNT=0x00000000000000000000000000000000000000fe",
		"FEE_PERCENT=5",
		"BLOCK_TIME_MS=50",
		"CORS_ORIGINS=http://a.test, http://b.test",
		"DEVNET_TOKENS=AAA:Alpha:10,BBB:Beta:20:0x00000000000000000000000000000000000000bb",
	)
	t.Setenv("FEE_PERCENT", "7") // environment wins over the file

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Exchange.FeeAccount != common.HexToAddress("0xfe") {
		t.Errorf("fee account = %s", cfg.Exchange.FeeAccount.Hex())
	}
	if cfg.Exchange.FeePercent != 7 {
		t.Errorf("fee percent = %d, want 7", cfg.Exchange.FeePercent)
	}
	if cfg.Node.BlockTime != 50*time.Millisecond {
		t.Errorf("block time = %v", cfg.Node.BlockTime)
	}
	if len(cfg.Node.CORSOrigins) != 2 || cfg.Node.CORSOrigins[1] != "http://b.test" {
		t.Errorf("cors = %v", cfg.Node.CORSOrigins)
	}
	if len(cfg.Devnet.Tokens) != 2 {
		t.Fatalf("tokens = %+v", cfg.Devnet.Tokens)
	}
	if cfg.Devnet.Tokens[0].Holder != cfg.Devnet.Deployer || cfg.Devnet.Tokens[0].Supply != 10 {
		t.Errorf("token 0 = %+v", cfg.Devnet.Tokens[0])
	}
	if cfg.Devnet.Tokens[1].Holder != common.HexToAddress("0xbb") {
		t.Errorf("token 1 holder = %s", cfg.Devnet.Tokens[1].Holder.Hex())
	}
}

func TestLoadFromEnvReportsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEE_ACCOUNT", "0xnot-an-address")
	t.Setenv("BLOCK_TIME_MS", "fast")

	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, key := range []string{"FEE_ACCOUNT", "BLOCK_TIME_MS"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestDeployerOverrideMovesDefaultHolders(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVNET_DEPLOYER", "0x00000000000000000000000000000000000000d1")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, tok := range cfg.Devnet.Tokens {
		if tok.Holder != common.HexToAddress("0xd1") {
			t.Errorf("%s holder = %s", tok.Symbol, tok.Holder.Hex())
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Exchange.FeeAccount = common.HexToAddress("0xfe")

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing fee account", func(c *Config) { c.Exchange.FeeAccount = common.Address{} }, false},
		{"zero custodian", func(c *Config) { c.Exchange.Custodian = common.Address{} }, false},
		{"fee account is custodian", func(c *Config) { c.Exchange.FeeAccount = c.Exchange.Custodian }, false},
		{"fee over 100", func(c *Config) { c.Exchange.FeePercent = 101 }, false},
		{"zero fee", func(c *Config) { c.Exchange.FeePercent = 0 }, true},
		{"zero block time", func(c *Config) { c.Node.BlockTime = 0 }, false},
		{"bad chain id", func(c *Config) { c.Exchange.ChainID = 0 }, false},
		{"duplicate symbol", func(c *Config) { c.Devnet.Tokens[1].Symbol = c.Devnet.Tokens[0].Symbol }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Devnet.Tokens = append(cfg.Devnet.Tokens[:0:0], valid.Devnet.Tokens...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseTokensRejectsMalformed(t *testing.T) {
	for _, s := range []string{"AAA", "AAA:Alpha:lots", "AAA:Alpha:1:0x12"} {
		if _, err := ParseTokens(s, common.Address{}); err == nil {
			t.Errorf("ParseTokens(%q) succeeded", s)
		}
	}
}
