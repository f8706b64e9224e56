package dex

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TxFeederConfig controls devnet traffic generation
type TxFeederConfig struct {
	Interval   time.Duration // how often every idle trader gets a new tx
	NumTraders int
	FundAmount uint64 // whole tokens minted to each trader per token
	OrderSize  uint64 // max whole tokens per order leg
	Seed       int64
}

func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		Interval:   200 * time.Millisecond,
		NumTraders: 8,
		FundAmount: 1_000,
		OrderSize:  10,
		Seed:       1,
	}
}

type trader struct {
	signer *crypto.Signer
	next   uint64 // nonce of the next tx this trader signs
	setup  int    // setup steps done: approve then deposit, per token
}

// TxFeeder plays a set of deterministic traders against an App: each trader
// approves and deposits every token, then makes, fills and cancels orders.
// A trader only signs a new tx once its previous one was executed, so the
// mempool's bucket ordering can never reorder one trader's nonces.
type TxFeeder struct {
	app     *App
	cfg     TxFeederConfig
	tokens  []common.Address
	traders []*trader
	rng     *rand.Rand
}

func NewTxFeeder(app *App, cfg TxFeederConfig) (*TxFeeder, error) {
	infos := app.Tokens().List()
	if len(infos) < 2 {
		return nil, errors.New("txfeeder needs at least two tokens")
	}
	if cfg.NumTraders < 2 {
		cfg.NumTraders = 2
	}
	if cfg.OrderSize == 0 {
		cfg.OrderSize = 1
	}

	f := &TxFeeder{
		app: app,
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, info := range infos {
		f.tokens = append(f.tokens, info.Address)
	}
	for i := 0; i < cfg.NumTraders; i++ {
		s, err := crypto.FromSeed(fmt.Sprintf("devnet-trader-%d", i))
		if err != nil {
			return nil, err
		}
		f.traders = append(f.traders, &trader{signer: s, next: app.Nonce(s.Address())})
	}
	return f, nil
}

// Fund mints FundAmount of every token to every trader
func (f *TxFeeder) Fund() error {
	for _, t := range f.traders {
		for _, tok := range f.tokens {
			if err := f.app.Faucet(tok, t.signer.Address(), f.cfg.FundAmount); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *TxFeeder) Traders() []common.Address {
	out := make([]common.Address, len(f.traders))
	for i, t := range f.traders {
		out[i] = t.signer.Address()
	}
	return out
}

// Step submits at most one transaction per idle trader and returns how many were admitted
func (f *TxFeeder) Step() (int, error) {
	submitted := 0
	for _, t := range f.traders {
		if f.app.Nonce(t.signer.Address()) != t.next {
			continue // previous tx still pending
		}
		act := f.nextAction(t)
		stx, err := f.app.Verifier().Sign(t.signer, act)
		if err != nil {
			return submitted, err
		}
		raw, err := stx.Serialize()
		if err != nil {
			return submitted, err
		}
		if _, err := f.app.SubmitTx(raw); err != nil {
			return submitted, fmt.Errorf("submit %s: %w", act.Type(), err)
		}
		t.next++
		submitted++
	}
	return submitted, nil
}

func (f *TxFeeder) nextAction(t *trader) transaction.Action {
	meta := transaction.Meta{Owner: t.signer.Address(), Nonce: t.next}

	if t.setup < 2*len(f.tokens) {
		tok := f.tokens[t.setup/2]
		approve := t.setup%2 == 0
		t.setup++
		if approve {
			return &transaction.Approve{
				Meta:    meta,
				Token:   tok,
				Spender: f.app.Config().Custodian,
				Amount:  new(uint256.Int).SetAllOne(),
			}
		}
		return &transaction.Deposit{Meta: meta, Token: tok, Amount: f.units(f.cfg.FundAmount / 2)}
	}

	switch r := f.rng.Intn(100); {
	case r < 35:
		if id, ok := f.pickOrder(t, false); ok {
			return &transaction.FillOrder{Meta: meta, OrderID: id}
		}
	case r < 45:
		if id, ok := f.pickOrder(t, true); ok {
			return &transaction.CancelOrder{Meta: meta, OrderID: id}
		}
	}

	i := f.rng.Intn(len(f.tokens))
	j := (i + 1 + f.rng.Intn(len(f.tokens)-1)) % len(f.tokens)
	return &transaction.MakeOrder{
		Meta:       meta,
		TokenGet:   f.tokens[i],
		AmountGet:  f.units(1 + uint64(f.rng.Int63n(int64(f.cfg.OrderSize)))),
		TokenGive:  f.tokens[j],
		AmountGive: f.units(1 + uint64(f.rng.Int63n(int64(f.cfg.OrderSize)))),
	}
}

// pickOrder returns a random open order owned (own=true) or not owned by t
func (f *TxFeeder) pickOrder(t *trader, own bool) (uint64, bool) {
	open := orderbook.StatusOpen
	var ids []uint64
	for _, rec := range f.app.Exchange().Orders(orderbook.Filter{Status: &open}) {
		if (rec.User == t.signer.Address()) == own {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return 0, false
	}
	return ids[f.rng.Intn(len(ids))], true
}

func (f *TxFeeder) units(n uint64) *uint256.Int {
	return token.Units(n, token.DefaultDecimals)
}

// StartTxFeeder funds the traders and feeds transactions until ctx is done
func StartTxFeeder(ctx context.Context, app *App, cfg TxFeederConfig) (context.CancelFunc, error) {
	f, err := NewTxFeeder(app, cfg)
	if err != nil {
		return nil, err
	}
	if err := f.Fund(); err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		startTime := time.Now()
		total := 0
		app.logger.Infow("txfeeder_started", "traders", len(f.traders), "interval", cfg.Interval)

		for {
			select {
			case <-feedCtx.Done():
				app.logger.Infow("txfeeder_stopped",
					"txs", total,
					"elapsed", time.Since(startTime).Round(time.Second),
				)
				return
			case <-ticker.C:
				n, err := f.Step()
				total += n
				if err != nil {
					app.logger.Warnw("txfeeder_submit_failed", "err", err)
				}
			}
		}
	}()
	return cancel, nil
}
