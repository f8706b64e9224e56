// Package dex is the exchange application driven by the sequencer. It turns
// signed transactions into exchange calls, keeps per-owner nonces and receipts,
// and persists all dirty state once per block.
package dex

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

var (
	ErrConfigMismatch = errors.New("stored exchange config does not match")
	ErrNonceTooLow    = errors.New("nonce already used")
	ErrNotApprovable  = errors.New("token does not accept approvals")
)

type Config struct {
	FeeAccount  common.Address
	FeePercent  uint64
	Custodian   common.Address
	ChainID     int64
	MempoolSize int // 0 = unbounded
}

func (c Config) stored() StoredConfig {
	return StoredConfig{
		FeeAccount: c.FeeAccount,
		FeePercent: c.FeePercent,
		Custodian:  c.Custodian,
		ChainID:    c.ChainID,
	}
}

type App struct {
	mu sync.RWMutex // held exclusively for the whole of FinalizeBlock

	cfg      Config
	store    Store
	tokens   *token.Registry
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	exchange *exchange.Exchange
	recorder *events.Recorder
	clock    *util.ManualClock // block time, the only clock the exchange sees

	nonces      map[common.Address]uint64
	dirtyNonces map[common.Address]struct{}
	height      int64
	appHash     common.Hash

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewApp builds the application and restores persisted state from store.
// On an empty store the configuration and the devnet token genesis are written.
func NewApp(cfg Config, tokens *token.Registry, store Store, logger *zap.SugaredLogger, m *metrics.Metrics) (*App, error) {
	if logger == nil {
		logger = util.NopSugar()
	}
	recorder := &events.Recorder{}
	clock := util.NewManualClock(time.Unix(0, 0))
	ledger := custody.NewLedger(cfg.Custodian, tokens, nil)
	book := orderbook.NewBook()
	ex := exchange.New(exchange.Config{
		FeeAccount: cfg.FeeAccount,
		FeePercent: cfg.FeePercent,
	}, ledger, book, clock, recorder, logger.Named("exchange"))

	a := &App{
		cfg:         cfg,
		store:       store,
		tokens:      tokens,
		mempool:     mempool.NewMempool(cfg.MempoolSize),
		verifier:    transaction.NewVerifier(crypto.DomainFor(cfg.ChainID, cfg.Custodian)),
		exchange:    ex,
		recorder:    recorder,
		clock:       clock,
		nonces:      make(map[common.Address]uint64),
		dirtyNonces: make(map[common.Address]struct{}),
		logger:      logger,
		metrics:     m,
	}
	if err := a.restore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) restore() error {
	snap, err := a.store.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	batch := a.store.NewBatch()
	defer batch.Close()

	want := a.cfg.stored()
	if snap.Config == nil {
		if err := batch.PutConfig(want); err != nil {
			return err
		}
	} else if *snap.Config != want {
		return fmt.Errorf("%w: stored fee account %s percent %d custodian %s chain %d",
			ErrConfigMismatch, snap.Config.FeeAccount.Hex(), snap.Config.FeePercent,
			snap.Config.Custodian.Hex(), snap.Config.ChainID)
	}

	a.exchange.Ledger().Restore(snap.Balances)
	if err := a.exchange.Book().Restore(snap.OrderCount, snap.Orders); err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}
	for owner, n := range snap.Nonces {
		a.nonces[owner] = n
	}
	a.height = snap.Height
	a.appHash = snap.AppHash

	for _, erc := range a.tokens.ERC20s() {
		st, err := a.store.LoadTokenState(erc.Address())
		if err != nil {
			return fmt.Errorf("load token %s: %w", erc.Info().Symbol, err)
		}
		if st.Empty() {
			// genesis mint
			if err := erc.Flush(batch); err != nil {
				return err
			}
			continue
		}
		erc.Restore(st.Balances, st.Allowances)
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}

	a.logger.Infow("app_restored",
		"height", a.height,
		"app_hash", a.appHash.Hex(),
		"orders", snap.OrderCount,
		"balances", len(snap.Balances),
		"accounts", len(snap.Nonces),
	)
	return nil
}

// SubmitTx verifies a signed transaction and admits it to the mempool.
// Nonces are only checked for staleness here; ordering is enforced at execution.
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	act, hash, err := a.verifier.Verify(tx)
	if err != nil {
		return common.Hash{}, err
	}
	meta := act.Header()
	if next := a.Nonce(meta.Owner); meta.Nonce < next {
		return common.Hash{}, fmt.Errorf("%w: got %d, next is %d", ErrNonceTooLow, meta.Nonce, next)
	}
	if _, err := a.mempool.PushRaw(raw); err != nil {
		return common.Hash{}, err
	}
	a.metrics.SetMempoolSize(a.mempool.Len())
	return hash, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	a.metrics.SetMempoolSize(a.mempool.Len())
	return abci.ResponsePrepareProposal{Txs: txs}
}

// ProcessProposal accepts every proposal; invalid transactions fail individually at execution
func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock executes txs in order against the exchange, then writes every
// change of the block in one batch. A persistence error is returned to the
// sequencer and the block must not be considered committed.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	start := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.clock.Set(time.Unix(req.Timestamp, 0))

	results := make([]abci.TxResult, 0, len(req.Txs))
	receipts := make([]Receipt, 0, len(req.Txs))
	seen := make(map[common.Hash]struct{}, len(req.Txs))
	failed := 0
	for i, raw := range req.Txs {
		r, evs, consumed := a.applyTx(raw, req.Height, i)
		results = append(results, abci.TxResult{
			Hash:   r.TxHash,
			OK:     r.Status == StatusSuccess,
			Code:   r.Code,
			Log:    r.Error,
			Events: evs,
		})
		if r.Status != StatusSuccess {
			failed++
		}
		// a rejected replay must not overwrite the receipt of the original
		if !consumed && a.hasReceipt(r.TxHash, seen) {
			continue
		}
		seen[r.TxHash] = struct{}{}
		receipts = append(receipts, r)
	}

	a.height = req.Height
	a.appHash = a.computeStateHash(req.Height, req.Timestamp)

	if err := a.commit(receipts); err != nil {
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("commit block %d: %w", req.Height, err)
	}

	orders := a.exchange.OrderCount()
	a.metrics.ObserveBlock(req.Height, time.Since(start), orders)
	if len(req.Txs) > 0 {
		a.logger.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"failed", failed,
			"orders", orders,
			"app_hash", a.appHash.Hex(),
		)
	}

	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: a.appHash}, nil
}

func (a *App) hasReceipt(h common.Hash, seen map[common.Hash]struct{}) bool {
	if _, ok := seen[h]; ok {
		return true
	}
	_, ok, err := a.store.GetReceipt(h)
	return ok && err == nil
}

func (a *App) commit(receipts []Receipt) error {
	batch := a.store.NewBatch()
	defer batch.Close()

	if err := a.exchange.Ledger().Flush(batch); err != nil {
		return err
	}
	if err := a.exchange.Book().Flush(batch); err != nil {
		return err
	}
	for _, erc := range a.tokens.ERC20s() {
		if err := erc.Flush(batch); err != nil {
			return err
		}
	}
	for owner := range a.dirtyNonces {
		if err := batch.PutNonce(owner, a.nonces[owner]); err != nil {
			return err
		}
	}
	for _, r := range receipts {
		if err := batch.PutReceipt(r); err != nil {
			return err
		}
	}
	if err := batch.PutHeight(a.height, a.appHash); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	a.dirtyNonces = make(map[common.Address]struct{})
	return nil
}

// Nonce returns the next nonce expected from owner
func (a *App) Nonce(owner common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[owner]
}

func (a *App) Height() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

func (a *App) AppHash() common.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appHash
}

// Receipt looks up the outcome of an included transaction
func (a *App) Receipt(h common.Hash) (Receipt, bool, error) {
	return a.store.GetReceipt(h)
}

func (a *App) Exchange() *exchange.Exchange    { return a.exchange }
func (a *App) Tokens() *token.Registry         { return a.tokens }
func (a *App) Config() Config                  { return a.cfg }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }
func (a *App) MempoolSize() int                { return a.mempool.Len() }
