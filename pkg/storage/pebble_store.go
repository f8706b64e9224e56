package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

// PebbleStore persists application state, receipts and blocks
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// OpenInMemory opens a store backed by an in-memory filesystem
func OpenInMemory() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// get returns a copy of the value, or nil if the key is absent
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ============================================================================
// Application state
// ============================================================================

func (s *PebbleStore) NewBatch() dex.Batch {
	return &Batch{b: s.db.NewBatch()}
}

// LoadSnapshot reads everything the app restores at startup
func (s *PebbleStore) LoadSnapshot() (*dex.Snapshot, error) {
	snap := &dex.Snapshot{Nonces: make(map[common.Address]uint64)}

	raw, err := s.get([]byte(keyConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if raw != nil {
		var cfg dex.StoredConfig
		if err := decodeJSON(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		snap.Config = &cfg
	}

	raw, err = s.get([]byte(keyHeight))
	if err != nil {
		return nil, fmt.Errorf("failed to load height: %w", err)
	}
	if raw != nil {
		if len(raw) != 8+common.HashLength {
			return nil, fmt.Errorf("corrupt height record (%d bytes)", len(raw))
		}
		h, _ := decodeUint64(raw[:8])
		snap.Height = int64(h)
		snap.AppHash = common.BytesToHash(raw[8:])
	}

	raw, err = s.get([]byte(keyOrderCount))
	if err != nil {
		return nil, fmt.Errorf("failed to load order count: %w", err)
	}
	if raw != nil {
		if snap.OrderCount, err = decodeUint64(raw); err != nil {
			return nil, fmt.Errorf("order count: %w", err)
		}
	}

	prefix := []byte(prefixBalance)
	err = s.scan(prefix, func(key, val []byte) error {
		addrs, err := parseAddrs(key, prefix, 2)
		if err != nil {
			return err
		}
		amt, err := decodeAmount(val)
		if err != nil {
			return err
		}
		snap.Balances = append(snap.Balances, custody.Entry{
			Key:     custody.Key{Token: addrs[0], Owner: addrs[1]},
			Balance: amt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}

	err = s.scan([]byte(prefixOrder), func(_, val []byte) error {
		var rec orderbook.Record
		if err := decodeJSON(val, &rec); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	prefix = []byte(prefixNonce)
	err = s.scan(prefix, func(key, val []byte) error {
		addrs, err := parseAddrs(key, prefix, 1)
		if err != nil {
			return err
		}
		n, err := decodeUint64(val)
		if err != nil {
			return err
		}
		snap.Nonces[addrs[0]] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load nonces: %w", err)
	}

	return snap, nil
}

// LoadTokenState reads a devnet token's wallets and allowances
func (s *PebbleStore) LoadTokenState(tok common.Address) (dex.TokenState, error) {
	st := dex.TokenState{
		Balances:   make(map[common.Address]*uint256.Int),
		Allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}

	prefix := tokenBalancePrefix(tok)
	err := s.scan(prefix, func(key, val []byte) error {
		addrs, err := parseAddrs(key, prefix, 1)
		if err != nil {
			return err
		}
		amt, err := decodeAmount(val)
		if err != nil {
			return err
		}
		st.Balances[addrs[0]] = amt
		return nil
	})
	if err != nil {
		return dex.TokenState{}, fmt.Errorf("failed to load token balances: %w", err)
	}

	prefix = tokenAllowancePrefix(tok)
	err = s.scan(prefix, func(key, val []byte) error {
		addrs, err := parseAddrs(key, prefix, 2)
		if err != nil {
			return err
		}
		amt, err := decodeAmount(val)
		if err != nil {
			return err
		}
		bySpender, ok := st.Allowances[addrs[0]]
		if !ok {
			bySpender = make(map[common.Address]*uint256.Int)
			st.Allowances[addrs[0]] = bySpender
		}
		bySpender[addrs[1]] = amt
		return nil
	})
	if err != nil {
		return dex.TokenState{}, fmt.Errorf("failed to load token allowances: %w", err)
	}

	return st, nil
}

func (s *PebbleStore) GetReceipt(h common.Hash) (dex.Receipt, bool, error) {
	raw, err := s.get(receiptKey(h))
	if err != nil || raw == nil {
		return dex.Receipt{}, false, err
	}
	var r dex.Receipt
	if err := decodeJSON(raw, &r); err != nil {
		return dex.Receipt{}, false, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return r, true, nil
}

// ============================================================================
// Blocks
// ============================================================================

func (s *PebbleStore) SaveBlock(b sequencer.Block) error {
	val, err := encodeJSON(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	if err := s.db.Set(blockKey(b.Header.Height), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetBlock(height uint64) (sequencer.Block, bool, error) {
	raw, err := s.get(blockKey(height))
	if err != nil || raw == nil {
		return sequencer.Block{}, false, err
	}
	var b sequencer.Block
	if err := decodeJSON(raw, &b); err != nil {
		return sequencer.Block{}, false, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return b, true, nil
}

// LatestBlock returns the highest stored block
func (s *PebbleStore) LatestBlock() (sequencer.Block, bool, error) {
	prefix := []byte(prefixBlock)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return sequencer.Block{}, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return sequencer.Block{}, false, iter.Error()
	}
	var b sequencer.Block
	if err := decodeJSON(iter.Value(), &b); err != nil {
		return sequencer.Block{}, false, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return b, true, nil
}

var (
	_ dex.Store            = (*PebbleStore)(nil)
	_ sequencer.BlockStore = (*PebbleStore)(nil)
)
