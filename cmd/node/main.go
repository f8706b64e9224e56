package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- Storage ----
	var db *storage.PebbleStore
	if cfg.Node.DBPath == "" {
		db, err = storage.OpenInMemory()
	} else {
		db, err = storage.NewPebbleStore(cfg.Node.DBPath)
	}
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer db.Close()

	var wal sequencer.WAL = storage.NewNopWAL()
	if cfg.Node.DBPath != "" {
		fw, err := storage.NewFileWAL(filepath.Join(filepath.Dir(cfg.Node.DBPath), "blocks.wal"))
		if err != nil {
			sugar.Fatalw("wal_open_failed", "err", err)
		}
		defer fw.Close()
		wal = fw
	}

	// ---- App: custodial exchange ----
	tokens, err := dex.NewDevnetRegistry(cfg.Devnet.Deployer, cfg.Devnet.Tokens)
	if err != nil {
		sugar.Fatalw("token_registry_failed", "err", err)
	}
	for _, info := range tokens.List() {
		sugar.Infow("token_registered", "symbol", info.Symbol, "address", info.Address.Hex())
	}

	m := metrics.New()
	app, err := dex.NewApp(dex.Config{
		FeeAccount:  cfg.Exchange.FeeAccount,
		FeePercent:  cfg.Exchange.FeePercent,
		Custodian:   cfg.Exchange.Custodian,
		ChainID:     cfg.Exchange.ChainID,
		MempoolSize: cfg.Node.MempoolSize,
	}, tokens, db, sugar, m)
	if errors.Is(err, dex.ErrConfigMismatch) {
		sugar.Fatalw("config_mismatch", "db_path", cfg.Node.DBPath, "err", err)
	}
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	// ---- Sequencer ----
	blsSigner, err := crypto.NewBLSSignerFromSeed(ethCrypto.Keccak256([]byte(cfg.Node.SequencerKeySeed)))
	if err != nil {
		sugar.Fatalw("sequencer_key_failed", "err", err)
	}
	seq, err := sequencer.New(sequencer.Config{BlockTime: cfg.Node.BlockTime}, app, db, blsSigner, util.RealClock{}, wal, sugar)
	if err != nil {
		sugar.Fatalw("sequencer_init_failed", "err", err)
	}
	if int64(seq.Height()) != app.Height() {
		// state is committed before the block is stored, so a crash in between leaves the app ahead
		sugar.Warnw("height_mismatch", "app_height", app.Height(), "block_height", seq.Height())
	}

	sugar.Infow("node_starting",
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"custodian", cfg.Exchange.Custodian.Hex(),
		"height", app.Height(),
		"block_time_ms", cfg.Node.BlockTime.Milliseconds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, db, m, sugar, api.Options{CORSOrigins: cfg.Node.CORSOrigins})
	seq.OnCommit(apiServer.OnCommit)

	go func() {
		if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true
	if cfg.Node.EnableTxGen {
		cancelFeeder, err := dex.StartTxFeeder(ctx, app, dex.DefaultFeederConfig())
		if err != nil {
			sugar.Fatalw("txgen_failed", "err", err)
		}
		defer cancelFeeder()
	} else {
		sugar.Info("txgen_disabled")
	}

	go progress(ctx, app, sugar)

	if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("sequencer_failed", "err", err)
	}
}

// progress logs the committed height every few seconds while it moves
func progress(ctx context.Context, app *dex.App, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h := app.Height(); h != last {
				sugar.Infow("exchange_progress",
					"height", h,
					"blocks_since_last_log", h-last,
					"orders", app.Exchange().OrderCount(),
					"mempool", app.MempoolSize())
				last = h
			}
		}
	}
}
