package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

type Exchange struct {
	FeeAccount common.Address
	FeePercent uint64
	Custodian  common.Address // account that holds deposited tokens
	ChainID    int64
}

type Node struct {
	DBPath   string // empty keeps all state in memory
	APIAddr  string
	LogFile  string
	LogLevel string

	// BlockTime is how often the sequencer drains the mempool.
	// Ticks with an empty mempool do not produce a block.
	BlockTime time.Duration

	SequencerKeySeed string
	MempoolSize      int
	CORSOrigins      []string
	EnableTxGen      bool
}

type Devnet struct {
	Deployer common.Address // token addresses are derived from it
	Tokens   []dex.TokenSpec
}

type Config struct {
	Exchange Exchange
	Node     Node
	Devnet   Devnet
}

var defaultDeployer = common.HexToAddress("0xde00000000000000000000000000000000000001")

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeePercent: 10,
			Custodian:  common.HexToAddress("0xe0c0000000000000000000000000000000000001"),
			ChainID:    1337,
		},
		Node: Node{
			DBPath:           "data/db",
			APIAddr:          ":8080",
			LogFile:          "data/node.log",
			LogLevel:         "info",
			BlockTime:        200 * time.Millisecond,
			SequencerKeySeed: "hyperswap-devnet-sequencer",
			MempoolSize:      10_000,
		},
		Devnet: Devnet{
			Deployer: defaultDeployer,
			Tokens: []dex.TokenSpec{
				{Symbol: "TKA", Name: "Token A", Supply: 1_000_000, Holder: defaultDeployer},
				{Symbol: "TKB", Name: "Token B", Supply: 1_000_000, Holder: defaultDeployer},
			},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	addr := func(key string, dst *common.Address) {
		if v := os.Getenv(key); v != "" {
			a, err := crypto.ParseAddress(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = a
		}
	}

	addr("FEE_ACCOUNT", &cfg.Exchange.FeeAccount)
	addr("CUSTODY_ADDRESS", &cfg.Exchange.Custodian)
	addr("DEVNET_DEPLOYER", &cfg.Devnet.Deployer)

	if v := os.Getenv("FEE_PERCENT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEE_PERCENT: %w", err))
		}
		cfg.Exchange.FeePercent = n
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAIN_ID: %w", err))
		}
		cfg.Exchange.ChainID = n
	}
	if v := os.Getenv("BLOCK_TIME_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BLOCK_TIME_MS: %w", err))
		}
		cfg.Node.BlockTime = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("MEMPOOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MEMPOOL_SIZE: %w", err))
		}
		cfg.Node.MempoolSize = n
	}

	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.SequencerKeySeed = getEnv("SEQUENCER_KEY_SEED", cfg.Node.SequencerKeySeed)
	if v := os.Getenv("DB_IN_MEMORY"); v == "true" {
		cfg.Node.DBPath = ""
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = splitList(v)
	}
	cfg.Node.EnableTxGen = os.Getenv("ENABLE_TXGEN") == "true"

	// default tokens follow an overridden deployer
	for i := range cfg.Devnet.Tokens {
		if cfg.Devnet.Tokens[i].Holder == defaultDeployer {
			cfg.Devnet.Tokens[i].Holder = cfg.Devnet.Deployer
		}
	}
	if v := os.Getenv("DEVNET_TOKENS"); v != "" {
		tokens, err := ParseTokens(v, cfg.Devnet.Deployer)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEVNET_TOKENS: %w", err))
		} else {
			cfg.Devnet.Tokens = tokens
		}
	}

	return cfg, errors.Join(errs...)
}

// ParseTokens reads "SYMBOL:Name:supply[:holder],..." entries.
// A missing holder means the supply is minted to defaultHolder.
func ParseTokens(s string, defaultHolder common.Address) ([]dex.TokenSpec, error) {
	var out []dex.TokenSpec
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("token %q: want SYMBOL:Name:supply[:holder]", entry)
		}
		supply, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("token %q: supply: %w", entry, err)
		}
		tok := dex.TokenSpec{Symbol: parts[0], Name: parts[1], Supply: supply, Holder: defaultHolder}
		if len(parts) == 4 {
			holder, err := crypto.ParseAddress(parts[3])
			if err != nil {
				return nil, fmt.Errorf("token %q: holder: %w", entry, err)
			}
			tok.Holder = holder
		}
		out = append(out, tok)
	}
	return out, nil
}

// Validate rejects configurations the node cannot start with
func (c Config) Validate() error {
	var errs []error
	if c.Exchange.FeeAccount == (common.Address{}) {
		errs = append(errs, errors.New("FEE_ACCOUNT is required"))
	}
	if c.Exchange.Custodian == (common.Address{}) {
		errs = append(errs, errors.New("CUSTODY_ADDRESS must not be zero"))
	}
	if c.Exchange.FeeAccount == c.Exchange.Custodian && c.Exchange.Custodian != (common.Address{}) {
		// the custody account can hold no exchange balance of its own
		errs = append(errs, errors.New("FEE_ACCOUNT must differ from CUSTODY_ADDRESS"))
	}
	if c.Exchange.FeePercent > 100 {
		errs = append(errs, fmt.Errorf("FEE_PERCENT must be at most 100, got %d", c.Exchange.FeePercent))
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID must be positive, got %d", c.Exchange.ChainID))
	}
	if c.Node.BlockTime <= 0 {
		errs = append(errs, fmt.Errorf("BLOCK_TIME_MS must be positive, got %v", c.Node.BlockTime))
	}
	if c.Node.MempoolSize < 0 {
		errs = append(errs, fmt.Errorf("MEMPOOL_SIZE must not be negative, got %d", c.Node.MempoolSize))
	}
	seen := make(map[string]bool)
	for _, t := range c.Devnet.Tokens {
		if t.Symbol == "" || seen[t.Symbol] {
			errs = append(errs, fmt.Errorf("devnet token symbol %q is empty or duplicated", t.Symbol))
		}
		seen[t.Symbol] = true
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
