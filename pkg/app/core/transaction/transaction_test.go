package transaction

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	tokA = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	tokB = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
)

func newSigner(t *testing.T, seed string) *crypto.Signer {
	t.Helper()
	s, err := crypto.FromSeed(seed)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func actions(owner common.Address) []Action {
	m := Meta{Owner: owner, Nonce: 4}
	return []Action{
		&Approve{Meta: m, Token: tokA, Spender: tokB, Amount: uint256.NewInt(10)},
		&Deposit{Meta: m, Token: tokA, Amount: uint256.NewInt(10)},
		&Withdraw{Meta: m, Token: tokA, Amount: uint256.NewInt(3)},
		&MakeOrder{Meta: m, TokenGet: tokB, AmountGet: uint256.NewInt(1), TokenGive: tokA, AmountGive: uint256.NewInt(2)},
		&CancelOrder{Meta: m, OrderID: 7},
		&FillOrder{Meta: m, OrderID: 7},
	}
}

func TestSignVerifyEveryAction(t *testing.T) {
	alice := newSigner(t, "alice")
	v := NewVerifier(crypto.DefaultDomain())

	for _, a := range actions(alice.Address()) {
		t.Run(string(a.Type()), func(t *testing.T) {
			tx, err := v.Sign(alice, a)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			raw, err := tx.Serialize()
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			parsed, err := ParseTransaction(raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, hash, err := v.Verify(parsed)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if got.Type() != a.Type() || got.Header() != a.Header() {
				t.Errorf("decoded %s %+v, want %s %+v", got.Type(), got.Header(), a.Type(), a.Header())
			}
			want, _ := v.Hash(a)
			if hash != want {
				t.Errorf("hash mismatch")
			}
		})
	}
}

func TestVerifyRejectsForeignSigner(t *testing.T) {
	alice := newSigner(t, "alice")
	mallory := newSigner(t, "mallory")
	v := NewVerifier(crypto.DefaultDomain())

	a := &FillOrder{Meta: Meta{Owner: alice.Address(), Nonce: 0}, OrderID: 1}
	tx, err := v.Sign(mallory, a)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	alice := newSigner(t, "alice")
	v := NewVerifier(crypto.DefaultDomain())
	tx, _ := v.Sign(alice, &Withdraw{Meta: Meta{Owner: alice.Address()}, Token: tokA, Amount: uint256.NewInt(1)})

	tx.Withdraw.Amount = "1000"
	if _, _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	owner := "0x1111111111111111111111111111111111111111"
	tests := []struct {
		name string
		tx   SignedTransaction
	}{
		{"missing type", SignedTransaction{Owner: owner, Signature: "0x00", Deposit: &TransferPayload{}}},
		{"missing signature", SignedTransaction{Type: TxTypeDeposit, Owner: owner, Deposit: &TransferPayload{}}},
		{"missing owner", SignedTransaction{Type: TxTypeDeposit, Signature: "0x00", Deposit: &TransferPayload{}}},
		{"no payload", SignedTransaction{Type: TxTypeDeposit, Owner: owner, Signature: "0x00"}},
		{"wrong payload", SignedTransaction{Type: TxTypeDeposit, Owner: owner, Signature: "0x00", Withdraw: &TransferPayload{}}},
		{"two payloads", SignedTransaction{Type: TxTypeDeposit, Owner: owner, Signature: "0x00", Deposit: &TransferPayload{}, Withdraw: &TransferPayload{}}},
		{"unknown type", SignedTransaction{Type: "mint", Owner: owner, Signature: "0x00", Deposit: &TransferPayload{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tx.Validate(); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestActionRejectsBadFields(t *testing.T) {
	base := func() SignedTransaction {
		return SignedTransaction{
			Type:      TxTypeDeposit,
			Owner:     "0x1111111111111111111111111111111111111111",
			Nonce:     "0",
			Signature: "0x00",
			Deposit:   &TransferPayload{Token: tokA.Hex(), Amount: "5"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*SignedTransaction)
	}{
		{"negative amount", func(tx *SignedTransaction) { tx.Deposit.Amount = "-5" }},
		{"fractional amount", func(tx *SignedTransaction) { tx.Deposit.Amount = "1.5" }},
		{"bad checksum", func(tx *SignedTransaction) { tx.Deposit.Token = "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed" }},
		{"bad nonce", func(tx *SignedTransaction) { tx.Nonce = "x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := base()
			tt.mutate(&tx)
			if _, err := tx.Action(); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}

	tx := base()
	if _, err := tx.Action(); err != nil {
		t.Fatalf("base transaction should decode: %v", err)
	}
}
