package dex

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// computeStateHash hashes the full application state in a fixed order:
//  1. height and block timestamp
//  2. custodied balances, sorted by token then owner
//  3. order counter and every order record with its status, by id
//  4. owner nonces, sorted by owner
//  5. devnet token holdings, by token then owner
//
// Must be called with a.mu held.
func (a *App) computeStateHash(height, timestamp int64) common.Hash {
	h := sha256.New()
	w := stateWriter{h: h}

	w.u64(uint64(height))
	w.u64(uint64(timestamp))

	for _, e := range a.exchange.Ledger().Entries() {
		w.addr(e.Key.Token)
		w.addr(e.Key.Owner)
		w.amount(e.Balance)
	}

	book := a.exchange.Book()
	w.u64(book.Count())
	for _, rec := range book.List(orderbook.Filter{}) {
		w.u64(rec.ID)
		w.u64(uint64(rec.Status))
		w.addr(rec.User)
		w.addr(rec.TokenGet)
		w.amount(rec.AmountGet)
		w.addr(rec.TokenGive)
		w.amount(rec.AmountGive)
		w.u64(uint64(rec.Timestamp))
	}

	owners := make([]common.Address, 0, len(a.nonces))
	for owner := range a.nonces {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return bytes.Compare(owners[i][:], owners[j][:]) < 0 })
	for _, owner := range owners {
		w.addr(owner)
		w.u64(a.nonces[owner])
	}

	for _, erc := range a.tokens.ERC20s() {
		w.addr(erc.Address())
		for _, hold := range erc.Holdings() {
			w.addr(hold.Owner)
			w.amount(hold.Balance)
		}
	}

	return common.BytesToHash(h.Sum(nil))
}

type stateWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *stateWriter) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:], v)
	w.h.Write(w.buf[:])
}

func (w *stateWriter) addr(a common.Address) { w.h.Write(a[:]) }

func (w *stateWriter) amount(v *uint256.Int) {
	b := v.Bytes32()
	w.h.Write(b[:])
}
