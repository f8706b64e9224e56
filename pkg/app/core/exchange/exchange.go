// Package exchange is the settlement engine. It owns order creation,
// cancellation and fill, and moves funds through the custody ledger.
//
// Every mutating call is serialized on the exchange lock and either fully
// commits or leaves all state as it was.
package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Config is fixed at construction
type Config struct {
	FeeAccount common.Address
	FeePercent uint64
}

type Exchange struct {
	mu sync.RWMutex

	feeAccount common.Address
	feePercent *uint256.Int

	ledger *custody.Ledger
	book   *orderbook.Book
	clock  util.Clock
	sink   events.Sink
	logger *zap.SugaredLogger
}

// New wires the settlement engine over a custody ledger and order book.
// The ledger's deposit and withdraw notifications are routed to sink.
func New(cfg Config, ledger *custody.Ledger, book *orderbook.Book, clock util.Clock, sink events.Sink, logger *zap.SugaredLogger) *Exchange {
	if clock == nil {
		clock = util.RealClock{}
	}
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = util.NopSugar()
	}
	ledger.SetSink(sink)
	return &Exchange{
		feeAccount: cfg.FeeAccount,
		feePercent: uint256.NewInt(cfg.FeePercent),
		ledger:     ledger,
		book:       book,
		clock:      clock,
		sink:       sink,
		logger:     logger,
	}
}

func (e *Exchange) FeeAccount() common.Address { return e.feeAccount }
func (e *Exchange) FeePercent() uint64         { return e.feePercent.Uint64() }

// Deposit pulls amount of tok from caller's wallet into custody
func (e *Exchange) Deposit(caller, tok common.Address, amount *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.ledger.Deposit(tok, caller, amount)
	if err != nil {
		e.logger.Debugw("deposit_rejected", "token", tok.Hex(), "owner", caller.Hex(), "amount", amount.Dec(), "err", err)
		return nil, fmt.Errorf("deposit: %w", err)
	}
	return bal, nil
}

// Withdraw returns amount of tok from custody to caller's wallet
func (e *Exchange) Withdraw(caller, tok common.Address, amount *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.ledger.Withdraw(tok, caller, amount)
	if err != nil {
		e.logger.Debugw("withdraw_rejected", "token", tok.Hex(), "owner", caller.Hex(), "amount", amount.Dec(), "err", err)
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	return bal, nil
}

// MakeOrder records an offer from caller. The balance of tokenGive is checked
// but not reserved; a later withdrawal can make the order unfillable.
func (e *Exchange) MakeOrder(caller, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bal := e.ledger.BalanceOf(tokenGive, caller); bal.Lt(amountGive) {
		e.logger.Debugw("make_order_rejected", "user", caller.Hex(), "token_give", tokenGive.Hex(), "have", bal.Dec(), "need", amountGive.Dec())
		return orderbook.Order{}, fmt.Errorf("make order: %w", ErrInsufficientBalance)
	}

	o := e.book.Create(caller, tokenGet, amountGet, tokenGive, amountGive, e.clock.Now().Unix())
	e.sink.Emit(events.OrderCreated{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet.Clone(),
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive.Clone(),
		Timestamp:  o.Timestamp,
	})
	return o, nil
}

// CancelOrder terminates an open order owned by caller
func (e *Exchange) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.book.Get(id)
	if !ok {
		return fmt.Errorf("cancel order %d: %w", id, ErrOrderNotFound)
	}
	if rec.User != caller {
		return fmt.Errorf("cancel order %d: %w", id, ErrNotOwner)
	}
	switch rec.Status {
	case orderbook.StatusFilled:
		return fmt.Errorf("cancel order %d: %w", id, ErrOrderAlreadyFilled)
	case orderbook.StatusCancelled:
		return fmt.Errorf("cancel order %d: %w", id, ErrOrderCancelled)
	}

	if err := e.book.MarkCancelled(id); err != nil {
		return fmt.Errorf("cancel order %d: %w", id, err)
	}
	e.sink.Emit(events.OrderCancelled{
		ID:         rec.ID,
		User:       rec.User,
		TokenGet:   rec.TokenGet,
		AmountGet:  rec.AmountGet,
		TokenGive:  rec.TokenGive,
		AmountGive: rec.AmountGive,
		Timestamp:  e.clock.Now().Unix(),
	})
	return nil
}

// FillOrder executes order id with caller as taker. The taker pays amountGet
// plus fee in tokenGet and receives amountGive of tokenGive.
func (e *Exchange) FillOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.book.Get(id)
	if !ok {
		return fmt.Errorf("fill order %d: %w", id, ErrOrderNotFound)
	}
	switch rec.Status {
	case orderbook.StatusFilled:
		return fmt.Errorf("fill order %d: %w", id, ErrOrderAlreadyFilled)
	case orderbook.StatusCancelled:
		return fmt.Errorf("fill order %d: %w", id, ErrOrderCancelled)
	}

	fee, err := e.fee(rec.AmountGet)
	if err != nil {
		return fmt.Errorf("fill order %d: %w", id, err)
	}
	if err := e.settle(caller, rec.Order, fee); err != nil {
		e.logger.Debugw("fill_rejected", "order_id", id, "taker", caller.Hex(), "err", err)
		return fmt.Errorf("fill order %d: %w", id, err)
	}
	if err := e.book.MarkFilled(id); err != nil {
		// unreachable: status was checked under the same lock
		panic(fmt.Sprintf("exchange: order %d changed during fill: %v", id, err))
	}

	e.logger.Infow("order_filled",
		"order_id", id,
		"maker", rec.User.Hex(),
		"taker", caller.Hex(),
		"amount_get", rec.AmountGet.Dec(),
		"amount_give", rec.AmountGive.Dec(),
		"fee", fee.Dec(),
	)
	e.sink.Emit(events.OrderFilled{
		ID:         rec.ID,
		Taker:      caller,
		TokenGet:   rec.TokenGet,
		AmountGet:  rec.AmountGet,
		TokenGive:  rec.TokenGive,
		AmountGive: rec.AmountGive,
		Maker:      rec.User,
		Timestamp:  e.clock.Now().Unix(),
	})
	return nil
}

// settle moves all funds for a fill in one custody transaction
func (e *Exchange) settle(taker common.Address, o orderbook.Order, fee *uint256.Int) error {
	total, overflow := new(uint256.Int).AddOverflow(o.AmountGet, fee)
	if overflow {
		return ErrOverflow
	}

	tx := e.ledger.Begin()
	defer tx.Rollback()

	if _, err := tx.Debit(o.TokenGet, taker, total); err != nil {
		return fmt.Errorf("taker %s: %w", o.TokenGet.Hex(), err)
	}
	if _, err := tx.Credit(o.TokenGet, o.User, o.AmountGet); err != nil {
		return err
	}
	if _, err := tx.Credit(o.TokenGet, e.feeAccount, fee); err != nil {
		return err
	}
	if _, err := tx.Debit(o.TokenGive, o.User, o.AmountGive); err != nil {
		return fmt.Errorf("maker %s: %w", o.TokenGive.Hex(), err)
	}
	if _, err := tx.Credit(o.TokenGive, taker, o.AmountGive); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// fee is amountGet * feePercent / 100, truncated
func (e *Exchange) fee(amountGet *uint256.Int) (*uint256.Int, error) {
	return Fee(amountGet, e.feePercent)
}

// Fee computes floor(amount * percent / 100)
func Fee(amount, percent *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(amount, percent)
	if overflow {
		return nil, ErrOverflow
	}
	return prod.Div(prod, uint256.NewInt(100)), nil
}

// TotalBalanceOf returns owner's custodial balance of tok
func (e *Exchange) TotalBalanceOf(tok, owner common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(tok, owner)
}

func (e *Exchange) OrderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Count()
}

func (e *Exchange) IsOrderCancelled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.IsCancelled(id)
}

func (e *Exchange) IsOrderFilled(id uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.IsFilled(id)
}

// Order returns the order record with its status
func (e *Exchange) Order(id uint64) (orderbook.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.book.Get(id)
	if !ok {
		return orderbook.Record{}, ErrOrderNotFound
	}
	return rec, nil
}

// Orders lists orders matching f
func (e *Exchange) Orders(f orderbook.Filter) []orderbook.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.List(f)
}

// Ledger exposes the custody ledger for persistence and hashing
func (e *Exchange) Ledger() *custody.Ledger { return e.ledger }

// Book exposes the order book for persistence and hashing
func (e *Exchange) Book() *orderbook.Book { return e.book }
