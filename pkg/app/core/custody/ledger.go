// Package custody holds per-(token, owner) balances for funds the exchange has custody of.
package custody

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("token transfer failed")
	ErrOverflow            = errors.New("balance overflow")
)

// Key addresses a single custodial balance
type Key struct {
	Token common.Address
	Owner common.Address
}

// Tokens resolves a token address to its ledger
type Tokens interface {
	Lookup(addr common.Address) (token.Ledger, error)
}

// BalanceWriter persists custodial balances
type BalanceWriter interface {
	PutBalance(tok, owner common.Address, amount *uint256.Int) error
}

// Ledger is the custody ledger. Balances live in memory; modified entries are
// tracked and written out by Flush at block boundaries.
type Ledger struct {
	mu        sync.RWMutex
	custodian common.Address // address that holds pooled funds on the token ledgers
	tokens    Tokens
	sink      events.Sink

	balances map[Key]*uint256.Int
	dirty    map[Key]struct{}
}

// NewLedger creates an empty ledger. custodian is the account that receives
// deposited tokens and pays out withdrawals.
func NewLedger(custodian common.Address, tokens Tokens, sink events.Sink) *Ledger {
	if sink == nil {
		sink = events.Discard
	}
	return &Ledger{
		custodian: custodian,
		tokens:    tokens,
		sink:      sink,
		balances:  make(map[Key]*uint256.Int),
		dirty:     make(map[Key]struct{}),
	}
}

// Custodian returns the account holding pooled funds
func (l *Ledger) Custodian() common.Address {
	return l.custodian
}

// SetSink replaces the event sink
func (l *Ledger) SetSink(sink events.Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sink == nil {
		sink = events.Discard
	}
	l.sink = sink
}

// BalanceOf returns the custodial balance, zero if never written
func (l *Ledger) BalanceOf(tok, owner common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(Key{tok, owner})
}

func (l *Ledger) balanceLocked(k Key) *uint256.Int {
	if b, ok := l.balances[k]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Deposit pulls amount of tok from owner into custody using the allowance owner
// granted to the custodian, then credits owner. Nothing changes if the pull fails.
// The custodian cannot deposit: a transfer to itself moves no tokens.
func (l *Ledger) Deposit(tok, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if owner == l.custodian {
		return nil, fmt.Errorf("%w: custodian %s cannot deposit to itself", ErrTransferFailed, owner.Hex())
	}
	ledger, err := l.tokens.Lookup(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	tx := l.Begin()
	defer tx.Rollback()

	bal, err := tx.Credit(tok, owner, amount)
	if err != nil {
		return nil, err
	}
	if err := ledger.TransferFrom(l.custodian, owner, l.custodian, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	tx.Commit()

	l.sink.Emit(events.TokensDeposited{Token: tok, Owner: owner, Amount: amount.Clone(), Balance: bal.Clone()})
	return bal, nil
}

// Withdraw debits owner and sends amount of tok from custody back to owner.
// If the outbound transfer fails the debit is undone.
func (l *Ledger) Withdraw(tok, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if owner == l.custodian {
		return nil, fmt.Errorf("%w: custodian %s cannot withdraw to itself", ErrTransferFailed, owner.Hex())
	}
	tx := l.Begin()
	defer tx.Rollback()

	bal, err := tx.Debit(tok, owner, amount)
	if err != nil {
		return nil, err
	}
	ledger, err := l.tokens.Lookup(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := ledger.Transfer(l.custodian, owner, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	tx.Commit()

	l.sink.Emit(events.TokensWithdrawn{Token: tok, Owner: owner, Amount: amount.Clone(), Balance: bal.Clone()})
	return bal, nil
}

// Total sums every custodial balance held in tok
func (l *Ledger) Total(tok common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := new(uint256.Int)
	for k, b := range l.balances {
		if k.Token == tok {
			sum.Add(sum, b)
		}
	}
	return sum
}

// CheckSolvency verifies the custodian's holding of tok covers every credited balance
func (l *Ledger) CheckSolvency(tok common.Address) error {
	ledger, err := l.tokens.Lookup(tok)
	if err != nil {
		return err
	}
	total := l.Total(tok)
	held := ledger.BalanceOf(l.custodian)
	if held.Lt(total) {
		return fmt.Errorf("custodian holds %s of %s, ledger owes %s", held.Dec(), tok.Hex(), total.Dec())
	}
	return nil
}

// Entry is a single (key, balance) pair
type Entry struct {
	Key     Key
	Balance *uint256.Int
}

// Entries returns all balances sorted by token then owner
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.balances))
	for k, b := range l.balances {
		out = append(out, Entry{Key: k, Balance: b.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Key.Token[:], out[j].Key.Token[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Key.Owner[:], out[j].Key.Owner[:]) < 0
	})
	return out
}

// Flush writes every balance modified since the last flush
func (l *Ledger) Flush(w BalanceWriter) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.dirty {
		if err := w.PutBalance(k.Token, k.Owner, l.balanceLocked(k)); err != nil {
			return fmt.Errorf("flush balance %s/%s: %w", k.Token.Hex(), k.Owner.Hex(), err)
		}
	}
	l.dirty = make(map[Key]struct{})
	return nil
}

// Restore replaces in-memory balances with a loaded snapshot
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[Key]*uint256.Int, len(entries))
	for _, e := range entries {
		l.balances[e.Key] = e.Balance.Clone()
	}
	l.dirty = make(map[Key]struct{})
}
