package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

var (
	tokA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokB  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func openTemp(t *testing.T) (*PebbleStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, dir
}

func mustCommit(t *testing.T, b dex.Batch) {
	t.Helper()
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close batch: %v", err)
	}
}

func TestEmptySnapshot(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Config != nil || snap.Height != 0 || snap.OrderCount != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if len(snap.Balances) != 0 || len(snap.Orders) != 0 || len(snap.Nonces) != 0 {
		t.Fatalf("expected no records, got %+v", snap)
	}
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	s, dir := openTemp(t)

	cfg := dex.StoredConfig{FeeAccount: bob, FeePercent: 10, Custodian: alice, ChainID: 1337}
	appHash := common.HexToHash("0xabcdef")
	rec := orderbook.Record{
		Order: orderbook.Order{
			ID:         1,
			User:       alice,
			TokenGet:   tokA,
			AmountGet:  uint256.NewInt(5),
			TokenGive:  tokB,
			AmountGive: uint256.NewInt(7),
			Timestamp:  1700000000,
		},
		Status: orderbook.StatusCancelled,
	}

	b := s.NewBatch()
	steps := []error{
		b.PutConfig(cfg),
		b.PutBalance(tokA, alice, uint256.NewInt(100)),
		b.PutBalance(tokB, bob, uint256.NewInt(42)),
		b.PutOrder(rec),
		b.PutOrderCount(1),
		b.PutNonce(alice, 3),
		b.PutHeight(7, appHash),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	mustCommit(t, b)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Config == nil || *snap.Config != cfg {
		t.Fatalf("config = %+v, want %+v", snap.Config, cfg)
	}
	if snap.Height != 7 || snap.AppHash != appHash {
		t.Fatalf("height/app hash = %d/%s", snap.Height, snap.AppHash.Hex())
	}
	if snap.OrderCount != 1 || len(snap.Orders) != 1 {
		t.Fatalf("orders = %d/%d, want 1/1", snap.OrderCount, len(snap.Orders))
	}
	got := snap.Orders[0]
	if got.ID != 1 || got.Status != orderbook.StatusCancelled || got.User != alice ||
		!got.AmountGet.Eq(uint256.NewInt(5)) || !got.AmountGive.Eq(uint256.NewInt(7)) || got.Timestamp != 1700000000 {
		t.Fatalf("order = %+v", got)
	}
	if len(snap.Balances) != 2 {
		t.Fatalf("balances = %d, want 2", len(snap.Balances))
	}
	for _, e := range snap.Balances {
		switch e.Key.Owner {
		case alice:
			if e.Key.Token != tokA || !e.Balance.Eq(uint256.NewInt(100)) {
				t.Errorf("alice entry = %+v", e)
			}
		case bob:
			if e.Key.Token != tokB || !e.Balance.Eq(uint256.NewInt(42)) {
				t.Errorf("bob entry = %+v", e)
			}
		default:
			t.Errorf("unexpected entry %+v", e)
		}
	}
	if snap.Nonces[alice] != 3 {
		t.Fatalf("alice nonce = %d, want 3", snap.Nonces[alice])
	}
}

func TestZeroBalanceDeleted(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	b := s.NewBatch()
	_ = b.PutBalance(tokA, alice, uint256.NewInt(1))
	mustCommit(t, b)

	b = s.NewBatch()
	_ = b.PutBalance(tokA, alice, new(uint256.Int))
	mustCommit(t, b)

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Balances) != 0 {
		t.Fatalf("zero balance should be removed, got %+v", snap.Balances)
	}
}

func TestUncommittedBatchDiscarded(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	b := s.NewBatch()
	_ = b.PutNonce(alice, 9)
	_ = b.Close()

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := snap.Nonces[alice]; ok {
		t.Fatal("closed batch must not be applied")
	}
}

func TestTokenState(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	b := s.NewBatch()
	_ = b.PutTokenBalance(tokA, alice, uint256.NewInt(10))
	_ = b.PutTokenBalance(tokA, bob, uint256.NewInt(20))
	_ = b.PutTokenAllowance(tokA, alice, bob, uint256.NewInt(5))
	_ = b.PutTokenBalance(tokB, alice, uint256.NewInt(99))
	mustCommit(t, b)

	st, err := s.LoadTokenState(tokA)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Balances) != 2 || !st.Balances[alice].Eq(uint256.NewInt(10)) || !st.Balances[bob].Eq(uint256.NewInt(20)) {
		t.Fatalf("balances = %v", st.Balances)
	}
	if a := st.Allowances[alice][bob]; a == nil || !a.Eq(uint256.NewInt(5)) {
		t.Fatalf("allowance = %v", a)
	}

	empty, err := s.LoadTokenState(common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !empty.Empty() {
		t.Fatalf("unknown token should be empty, got %+v", empty)
	}
}

func TestReceipts(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	env, err := events.Wrap(events.TokensDeposited{Token: tokA, Owner: alice, Amount: uint256.NewInt(1), Balance: uint256.NewInt(1)})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	r := dex.Receipt{
		TxHash: common.HexToHash("0x1234"),
		Height: 3,
		Index:  1,
		Owner:  alice,
		Status: dex.StatusSuccess,
		Events: []events.Envelope{env},
	}
	b := s.NewBatch()
	if err := b.PutReceipt(r); err != nil {
		t.Fatalf("put: %v", err)
	}
	mustCommit(t, b)

	got, ok, err := s.GetReceipt(r.TxHash)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Height != 3 || got.Index != 1 || got.Status != dex.StatusSuccess || len(got.Events) != 1 {
		t.Fatalf("receipt = %+v", got)
	}
	ev, err := events.Unwrap(got.Events[0])
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if dep, ok := ev.(events.TokensDeposited); !ok || dep.Owner != alice {
		t.Fatalf("event = %#v", ev)
	}

	if _, ok, err := s.GetReceipt(common.HexToHash("0xdead")); ok || err != nil {
		t.Fatalf("missing receipt: ok=%v err=%v", ok, err)
	}
}

func TestBlocks(t *testing.T) {
	stores := map[string]sequencer.BlockStore{
		"memory": NewInMemoryBlockStore(),
	}
	ps, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ps.Close()
	stores["pebble"] = ps

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.LatestBlock(); ok || err != nil {
				t.Fatalf("empty store: ok=%v err=%v", ok, err)
			}
			for h := uint64(1); h <= 12; h++ {
				b := sequencer.Block{
					Header: sequencer.Header{Height: h, Time: int64(h)},
					Txs:    [][]byte{[]byte("tx")},
				}
				if err := s.SaveBlock(b); err != nil {
					t.Fatalf("save %d: %v", h, err)
				}
			}
			// 12 > 9 numerically and lexically thanks to zero padding
			latest, ok, err := s.LatestBlock()
			if err != nil || !ok || latest.Header.Height != 12 {
				t.Fatalf("latest = %d ok=%v err=%v", latest.Header.Height, ok, err)
			}
			b, ok, err := s.GetBlock(5)
			if err != nil || !ok || b.Header.Time != 5 || string(b.Txs[0]) != "tx" {
				t.Fatalf("block 5 = %+v ok=%v err=%v", b, ok, err)
			}
			if _, ok, _ := s.GetBlock(99); ok {
				t.Fatal("block 99 should not exist")
			}
		})
	}
}

func TestFileWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := NewFileWAL(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w.Append("commit height=1")
	w.Append("commit height=2")
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[1] != "commit height=2" {
		t.Fatalf("lines = %q", lines)
	}
}

func TestParseAddrs(t *testing.T) {
	prefix := []byte(prefixBalance)
	addrs, err := parseAddrs(balanceKey(tokA, alice), prefix, 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addrs[0] != tokA || addrs[1] != alice {
		t.Fatalf("got %v", addrs)
	}

	for _, key := range []string{"bal:abc", "bal:" + strings.Repeat("0", 40) + "x" + strings.Repeat("0", 40)} {
		if _, err := parseAddrs([]byte(key), prefix, 2); err == nil {
			t.Errorf("expected error for %q", key)
		}
	}
}
