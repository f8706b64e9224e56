package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
)

// Batch buffers one block's writes. Zero balances and allowances are deleted
// rather than stored.
type Batch struct {
	b *pebble.Batch
}

func (b *Batch) putAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return b.b.Delete(key, nil)
	}
	return b.b.Set(key, encodeAmount(amount), nil)
}

func (b *Batch) PutBalance(tok, owner common.Address, amount *uint256.Int) error {
	return b.putAmount(balanceKey(tok, owner), amount)
}

func (b *Batch) PutOrder(rec orderbook.Record) error {
	val, err := encodeJSON(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", rec.ID, err)
	}
	return b.b.Set(orderKey(rec.ID), val, nil)
}

func (b *Batch) PutOrderCount(n uint64) error {
	return b.b.Set([]byte(keyOrderCount), encodeUint64(n), nil)
}

func (b *Batch) PutTokenBalance(tok, owner common.Address, amount *uint256.Int) error {
	return b.putAmount(tokenBalanceKey(tok, owner), amount)
}

func (b *Batch) PutTokenAllowance(tok, owner, spender common.Address, amount *uint256.Int) error {
	return b.putAmount(tokenAllowanceKey(tok, owner, spender), amount)
}

func (b *Batch) PutNonce(owner common.Address, nonce uint64) error {
	return b.b.Set(nonceKey(owner), encodeUint64(nonce), nil)
}

func (b *Batch) PutReceipt(r dex.Receipt) error {
	val, err := encodeJSON(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return b.b.Set(receiptKey(r.TxHash), val, nil)
}

// PutHeight stores height (8 bytes) followed by the app hash
func (b *Batch) PutHeight(height int64, appHash common.Hash) error {
	val := append(encodeUint64(uint64(height)), appHash[:]...)
	return b.b.Set([]byte(keyHeight), val, nil)
}

func (b *Batch) PutConfig(cfg dex.StoredConfig) error {
	val, err := encodeJSON(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return b.b.Set([]byte(keyConfig), val, nil)
}

func (b *Batch) Commit() error {
	return b.b.Commit(pebble.Sync)
}

func (b *Batch) Close() error {
	return b.b.Close()
}

var _ dex.Batch = (*Batch)(nil)
