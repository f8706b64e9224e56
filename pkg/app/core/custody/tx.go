package custody

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type journalEntry struct {
	key  Key
	prev *uint256.Int // nil when the key was absent
}

// Tx groups credits and debits so they apply together or not at all.
// The ledger's write lock is held from Begin until Commit or Rollback, so
// readers never see a partially applied settlement.
//
// Credit and Debit are only reachable through a Tx; callers outside the
// exchange go through Deposit and Withdraw.
type Tx struct {
	l       *Ledger
	journal []journalEntry
	done    bool
}

// Begin opens a settlement transaction
func (l *Ledger) Begin() *Tx {
	l.mu.Lock()
	return &Tx{l: l}
}

// BalanceOf reads a balance including the transaction's pending writes
func (tx *Tx) BalanceOf(tok, owner common.Address) *uint256.Int {
	return tx.l.balanceLocked(Key{tok, owner})
}

// Credit adds amount to (tok, owner) and returns the new balance
func (tx *Tx) Credit(tok, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	k := Key{tok, owner}
	cur := tx.l.balanceLocked(k)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return nil, ErrOverflow
	}
	tx.set(k, next)
	return next.Clone(), nil
}

// Debit subtracts amount from (tok, owner) and returns the new balance
func (tx *Tx) Debit(tok, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	k := Key{tok, owner}
	cur := tx.l.balanceLocked(k)
	if cur.Lt(amount) {
		return nil, ErrInsufficientBalance
	}
	next := new(uint256.Int).Sub(cur, amount)
	tx.set(k, next)
	return next.Clone(), nil
}

func (tx *Tx) set(k Key, v *uint256.Int) {
	prev := tx.l.balances[k]
	tx.journal = append(tx.journal, journalEntry{key: k, prev: prev})
	tx.l.balances[k] = v
}

// Commit keeps the pending writes and releases the ledger
func (tx *Tx) Commit() {
	if tx.done {
		return
	}
	for _, j := range tx.journal {
		tx.l.dirty[j.key] = struct{}{}
	}
	tx.done = true
	tx.l.mu.Unlock()
}

// Rollback undoes pending writes and releases the ledger. No-op after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	for i := len(tx.journal) - 1; i >= 0; i-- {
		j := tx.journal[i]
		if j.prev == nil {
			delete(tx.l.balances, j.key)
		} else {
			tx.l.balances[j.key] = j.prev
		}
	}
	tx.journal = nil
	tx.done = true
	tx.l.mu.Unlock()
}
