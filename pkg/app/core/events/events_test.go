package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestRecorderOrder(t *testing.T) {
	var r Recorder
	r.Emit(TokensDeposited{Amount: uint256.NewInt(1)})
	r.Emit(OrderCreated{ID: 1})
	r.Emit(OrderFilled{ID: 1})

	got := r.Drain()
	want := []Kind{KindTokensDeposited, KindOrderCreated, KindOrderFilled}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Kind() != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], e.Kind())
		}
	}
	if len(r.Events()) != 0 {
		t.Fatal("drain should reset the recorder")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	maker := common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker := common.HexToAddress("0x2222222222222222222222222222222222222222")
	in := OrderFilled{
		ID:         7,
		Taker:      taker,
		TokenGet:   common.HexToAddress("0xaa"),
		AmountGet:  uint256.NewInt(1000),
		TokenGive:  common.HexToAddress("0xbb"),
		AmountGive: uint256.NewInt(50),
		Maker:      maker,
		Timestamp:  1700000000,
	}
	env, err := Wrap(in)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if env.Type != KindOrderFilled {
		t.Fatalf("expected type OrderFilled, got %s", env.Type)
	}
	out, err := Unwrap(env)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	filled, ok := out.(OrderFilled)
	if !ok {
		t.Fatalf("expected OrderFilled, got %T", out)
	}
	if filled.ID != 7 || filled.Maker != maker || filled.Taker != taker || !filled.AmountGet.Eq(uint256.NewInt(1000)) {
		t.Errorf("unexpected decoded event %+v", filled)
	}
}

func TestUnwrapUnknownKind(t *testing.T) {
	if _, err := Unwrap(Envelope{Type: "Bogus", Data: []byte(`{}`)}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
