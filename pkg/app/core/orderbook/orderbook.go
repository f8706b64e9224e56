// Package orderbook owns order records, their status flags and the id sequence.
package orderbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Status uint8

const (
	StatusOpen Status = iota
	StatusCancelled
	StatusFilled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCancelled:
		return "cancelled"
	case StatusFilled:
		return "filled"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Terminal() bool {
	return s != StatusOpen
}

// Order is an offer by User to give AmountGive of TokenGive in exchange for
// AmountGet of TokenGet. Orders are never deleted, only terminated.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (o Order) clone() Order {
	o.AmountGet = o.AmountGet.Clone()
	o.AmountGive = o.AmountGive.Clone()
	return o
}

// Record is the persisted form of an order
type Record struct {
	Order
	Status Status `json:"status"`
}

// Writer persists order records and the id counter
type Writer interface {
	PutOrder(rec Record) error
	PutOrderCount(n uint64) error
}

// Book stores orders by id. Ids are assigned sequentially starting at 1.
type Book struct {
	mu     sync.RWMutex
	count  uint64
	orders map[uint64]*Record

	dirty      map[uint64]struct{}
	countDirty bool
}

func NewBook() *Book {
	return &Book{
		orders: make(map[uint64]*Record),
		dirty:  make(map[uint64]struct{}),
	}
}

// Count returns the number of orders ever created, which is also the highest id
func (b *Book) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Exists reports whether id was ever assigned
func (b *Book) Exists(id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return id != 0 && id <= b.count
}

// Create assigns the next id and records the order as open
func (b *Book) Create(user, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int, ts int64) Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	rec := &Record{
		Order: Order{
			ID:         b.count,
			User:       user,
			TokenGet:   tokenGet,
			AmountGet:  amountGet.Clone(),
			TokenGive:  tokenGive,
			AmountGive: amountGive.Clone(),
			Timestamp:  ts,
		},
		Status: StatusOpen,
	}
	b.orders[rec.ID] = rec
	b.dirty[rec.ID] = struct{}{}
	b.countDirty = true
	return rec.Order.clone()
}

// Get returns the order and its status
func (b *Book) Get(id uint64) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.orders[id]
	if !ok {
		return Record{}, false
	}
	return Record{Order: rec.Order.clone(), Status: rec.Status}, true
}

func (b *Book) Status(id uint64) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if rec, ok := b.orders[id]; ok {
		return rec.Status
	}
	return StatusOpen
}

func (b *Book) IsCancelled(id uint64) bool { return b.Status(id) == StatusCancelled }
func (b *Book) IsFilled(id uint64) bool    { return b.Status(id) == StatusFilled }

// MarkCancelled moves an open order to cancelled
func (b *Book) MarkCancelled(id uint64) error {
	return b.transition(id, StatusCancelled)
}

// MarkFilled moves an open order to filled
func (b *Book) MarkFilled(id uint64) error {
	return b.transition(id, StatusFilled)
}

func (b *Book) transition(id uint64, to Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found", id)
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("order %d already %s", id, rec.Status)
	}
	rec.Status = to
	b.dirty[id] = struct{}{}
	return nil
}

// Filter selects orders for List
type Filter struct {
	User   *common.Address
	Status *Status
	Limit  int
}

// List returns matching orders in id order, stopping after Limit matches
func (b *Book) List(f Filter) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Record, 0)
	for id := uint64(1); id <= b.count; id++ {
		rec, ok := b.orders[id]
		if !ok {
			continue
		}
		if f.User != nil && rec.User != *f.User {
			continue
		}
		if f.Status != nil && rec.Status != *f.Status {
			continue
		}
		out = append(out, Record{Order: rec.Order.clone(), Status: rec.Status})
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Flush writes orders changed since the last flush and the counter if it moved
func (b *Book) Flush(w Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uint64, 0, len(b.dirty))
	for id := range b.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := w.PutOrder(*b.orders[id]); err != nil {
			return fmt.Errorf("flush order %d: %w", id, err)
		}
	}
	if b.countDirty {
		if err := w.PutOrderCount(b.count); err != nil {
			return fmt.Errorf("flush order count: %w", err)
		}
	}
	b.dirty = make(map[uint64]struct{})
	b.countDirty = false
	return nil
}

// Restore replaces the book with persisted records
func (b *Book) Restore(count uint64, records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders := make(map[uint64]*Record, len(records))
	for i := range records {
		rec := records[i]
		if rec.ID == 0 || rec.ID > count {
			return fmt.Errorf("order %d outside counter range %d", rec.ID, count)
		}
		rec.Order = rec.Order.clone()
		orders[rec.ID] = &rec
	}
	b.count = count
	b.orders = orders
	b.dirty = make(map[uint64]struct{})
	b.countDirty = false
	return nil
}
