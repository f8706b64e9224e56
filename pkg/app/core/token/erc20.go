package token

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const DefaultDecimals = 18

// Writer persists token state (implemented by storage.Batch)
type Writer interface {
	PutTokenBalance(token, owner common.Address, amount *uint256.Int) error
	PutTokenAllowance(token, owner, spender common.Address, amount *uint256.Int) error
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// ERC20 is an in-process fungible token with approve/transferFrom semantics
type ERC20 struct {
	mu sync.RWMutex

	address     common.Address
	name        string
	symbol      string
	decimals    uint8
	totalSupply *uint256.Int

	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int

	dirtyBalances   map[common.Address]struct{}
	dirtyAllowances map[allowanceKey]struct{}
}

// NewERC20 creates a token and mints supply (in whole tokens) to holder
func NewERC20(addr common.Address, name, symbol string, supply uint64, holder common.Address) *ERC20 {
	t := &ERC20{
		address:         addr,
		name:            name,
		symbol:          symbol,
		decimals:        DefaultDecimals,
		totalSupply:     new(uint256.Int),
		balances:        make(map[common.Address]*uint256.Int),
		allowances:      make(map[allowanceKey]*uint256.Int),
		dirtyBalances:   make(map[common.Address]struct{}),
		dirtyAllowances: make(map[allowanceKey]struct{}),
	}
	if supply > 0 {
		t.mint(holder, Units(supply, t.decimals))
	}
	return t
}

// Units converts whole tokens to base units (n * 10^decimals)
func Units(n uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

func (t *ERC20) Info() Info {
	return Info{Address: t.address, Name: t.name, Symbol: t.symbol, Decimals: t.decimals}
}

func (t *ERC20) Address() common.Address { return t.address }

func (t *ERC20) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply.Clone()
}

func (t *ERC20) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceLocked(owner).Clone()
}

func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Holding is one wallet balance
type Holding struct {
	Owner   common.Address
	Balance *uint256.Int
}

// Holdings returns every non-zero wallet balance sorted by owner
func (t *ERC20) Holdings() []Holding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Holding, 0, len(t.balances))
	for owner, b := range t.balances {
		if b.IsZero() {
			continue
		}
		out = append(out, Holding{Owner: owner, Balance: b.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0 })
	return out
}

// Approve sets the amount spender may pull from owner
func (t *ERC20) Approve(owner, spender common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := allowanceKey{owner, spender}
	t.allowances[k] = amount.Clone()
	t.dirtyAllowances[k] = struct{}{}
	return nil
}

func (t *ERC20) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(from, to, amount)
}

// TransferFrom moves amount from `from` to `to`, spending spender's allowance
func (t *ERC20) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := allowanceKey{from, spender}
	allowed, ok := t.allowances[k]
	if !ok {
		allowed = new(uint256.Int)
	}
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s approved %s, need %s", ErrInsufficientAllowance, from.Hex(), allowed.Dec(), amount.Dec())
	}

	if err := t.moveLocked(from, to, amount); err != nil {
		return err
	}

	t.allowances[k] = new(uint256.Int).Sub(allowed, amount)
	t.dirtyAllowances[k] = struct{}{}
	return nil
}

func (t *ERC20) moveLocked(from, to common.Address, amount *uint256.Int) error {
	fromBal := t.balanceLocked(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}

	toBal := t.balanceLocked(to)
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrOverflow
	}

	t.setBalanceLocked(from, new(uint256.Int).Sub(fromBal, amount))
	t.setBalanceLocked(to, newTo)
	return nil
}

// Mint credits amount to `to` and grows the total supply (devnet faucet)
func (t *ERC20) Mint(to common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mint(to, amount)
}

func (t *ERC20) mint(to common.Address, amount *uint256.Int) {
	t.totalSupply.Add(t.totalSupply, amount)
	t.setBalanceLocked(to, new(uint256.Int).Add(t.balanceLocked(to), amount))
}

func (t *ERC20) balanceLocked(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *ERC20) setBalanceLocked(owner common.Address, amount *uint256.Int) {
	t.balances[owner] = amount
	t.dirtyBalances[owner] = struct{}{}
}

// Flush writes every balance and allowance changed since the last flush
func (t *ERC20) Flush(w Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for owner := range t.dirtyBalances {
		if err := w.PutTokenBalance(t.address, owner, t.balanceLocked(owner)); err != nil {
			return fmt.Errorf("flush %s balance: %w", t.symbol, err)
		}
	}
	for k := range t.dirtyAllowances {
		if err := w.PutTokenAllowance(t.address, k.owner, k.spender, t.allowances[k]); err != nil {
			return fmt.Errorf("flush %s allowance: %w", t.symbol, err)
		}
	}

	t.dirtyBalances = make(map[common.Address]struct{})
	t.dirtyAllowances = make(map[allowanceKey]struct{})
	return nil
}

// Restore replaces in-memory state with persisted balances and allowances.
// Total supply is recomputed from balances.
func (t *ERC20) Restore(balances map[common.Address]*uint256.Int, allowances map[common.Address]map[common.Address]*uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances = make(map[common.Address]*uint256.Int, len(balances))
	t.totalSupply = new(uint256.Int)
	for owner, amt := range balances {
		t.balances[owner] = amt.Clone()
		t.totalSupply.Add(t.totalSupply, amt)
	}

	t.allowances = make(map[allowanceKey]*uint256.Int)
	for owner, bySpender := range allowances {
		for spender, amt := range bySpender {
			t.allowances[allowanceKey{owner, spender}] = amt.Clone()
		}
	}

	t.dirtyBalances = make(map[common.Address]struct{})
	t.dirtyAllowances = make(map[allowanceKey]struct{})
}
