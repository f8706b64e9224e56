package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

// TokenSpec describes a devnet token minted at genesis
type TokenSpec struct {
	Symbol string
	Name   string
	Supply uint64 // whole tokens
	Holder common.Address
}

// TokenAddress derives the i-th devnet token address the way a contract
// deployed by deployer with nonce i would be addressed.
func TokenAddress(deployer common.Address, i int) common.Address {
	return ethCrypto.CreateAddress(deployer, uint64(i))
}

// NewDevnetRegistry registers one in-process ERC20 per TokenSpec
func NewDevnetRegistry(deployer common.Address, specs []TokenSpec) (*token.Registry, error) {
	reg := token.NewRegistry()
	for i, s := range specs {
		addr := TokenAddress(deployer, i)
		erc := token.NewERC20(addr, s.Name, s.Symbol, s.Supply, s.Holder)
		if err := reg.Register(erc.Info(), erc); err != nil {
			return nil, fmt.Errorf("register %s: %w", s.Symbol, err)
		}
	}
	return reg, nil
}

// Faucet mints whole tokens of a devnet token to an address. The change is
// persisted and hashed with the next block.
func (a *App) Faucet(tok, to common.Address, whole uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, erc := range a.tokens.ERC20s() {
		if erc.Address() == tok {
			erc.Mint(to, token.Units(whole, erc.Info().Decimals))
			a.logger.Debugw("faucet_mint", "token", erc.Info().Symbol, "to", to.Hex(), "amount", whole)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", token.ErrUnknownToken, tok.Hex())
}
