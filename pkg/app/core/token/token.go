// Package token describes the fungible-token ledgers the exchange takes custody of.
// The exchange only ever talks to a token through the Ledger capability; the
// ERC20 type in this package is an in-process implementation used on devnet.
package token

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrOverflow              = errors.New("token: amount overflow")
)

// Ledger is the capability the exchange consumes from a token.
// spender/from are explicit because there is no implicit message sender.
type Ledger interface {
	BalanceOf(owner common.Address) *uint256.Int
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Approver is implemented by ledgers that accept allowance changes from the exchange's users
type Approver interface {
	Approve(owner, spender common.Address, amount *uint256.Int) error
}

// Info is the static metadata of a registered token
type Info struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

type entry struct {
	info   Info
	ledger Ledger
}

// Registry resolves token addresses to ledgers
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]entry
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]entry)}
}

// Register adds a token. Returns error if the address is already taken.
func (r *Registry) Register(info Info, ledger Ledger) error {
	if ledger == nil {
		return fmt.Errorf("cannot register nil ledger for %s", info.Address.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[info.Address]; exists {
		return fmt.Errorf("token %s already registered", info.Address.Hex())
	}
	r.tokens[info.Address] = entry{info: info, ledger: ledger}
	return nil
}

// Lookup returns the ledger of a token
func (r *Registry) Lookup(addr common.Address) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return e.ledger, nil
}

// Info returns metadata of a token
func (r *Registry) Info(addr common.Address) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tokens[addr]
	return e.info, ok
}

// List returns all registered tokens sorted by address
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.tokens))
	for _, e := range r.tokens {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// ERC20s returns the in-process tokens, used to flush and restore devnet state
func (r *Registry) ERC20s() []*ERC20 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ERC20
	for _, e := range r.tokens {
		if t, ok := e.ledger.(*ERC20); ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].address.Cmp(out[j].address) < 0
	})
	return out
}
