package custody

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

var (
	custodian = common.HexToAddress("0xC0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0C0")
	alice     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenAddr = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
)

func tokens(n uint64) *uint256.Int {
	return token.Units(n, token.DefaultDecimals)
}

func setup(t *testing.T) (*Ledger, *token.ERC20, *events.Recorder) {
	t.Helper()
	erc := token.NewERC20(tokenAddr, "Test Token", "TST", 1_000_000, alice)
	reg := token.NewRegistry()
	if err := reg.Register(erc.Info(), erc); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := &events.Recorder{}
	return NewLedger(custodian, reg, rec), erc, rec
}

func TestDepositPullsTokensAndCredits(t *testing.T) {
	l, erc, rec := setup(t)
	amount := tokens(10)
	if err := erc.Approve(alice, custodian, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}

	bal, err := l.Deposit(tokenAddr, alice, amount)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !bal.Eq(amount) {
		t.Errorf("expected balance %s, got %s", amount.Dec(), bal.Dec())
	}
	if !erc.BalanceOf(custodian).Eq(amount) {
		t.Errorf("custodian should hold %s, got %s", amount.Dec(), erc.BalanceOf(custodian).Dec())
	}
	if !erc.BalanceOf(alice).Eq(tokens(999_990)) {
		t.Errorf("alice wallet not debited: %s", erc.BalanceOf(alice).Dec())
	}

	evs := rec.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	dep, ok := evs[0].(events.TokensDeposited)
	if !ok {
		t.Fatalf("expected TokensDeposited, got %T", evs[0])
	}
	if dep.Owner != alice || !dep.Amount.Eq(amount) || !dep.Balance.Eq(amount) {
		t.Errorf("unexpected event %+v", dep)
	}
}

func TestDepositWithoutAllowanceFails(t *testing.T) {
	l, erc, rec := setup(t)

	_, err := l.Deposit(tokenAddr, alice, tokens(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if !l.BalanceOf(tokenAddr, alice).IsZero() {
		t.Error("balance should be unchanged")
	}
	if !erc.BalanceOf(custodian).IsZero() {
		t.Error("custodian should hold nothing")
	}
	if len(rec.Events()) != 0 {
		t.Error("no event expected on failure")
	}
}

func TestDepositUnknownToken(t *testing.T) {
	l, _, _ := setup(t)
	_, err := l.Deposit(common.HexToAddress("0xdead"), alice, tokens(1))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	l, erc, rec := setup(t)
	erc.Approve(alice, custodian, tokens(10))
	if _, err := l.Deposit(tokenAddr, alice, tokens(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	bal, err := l.Withdraw(tokenAddr, alice, tokens(4))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !bal.Eq(tokens(6)) {
		t.Errorf("expected 6 tokens left, got %s", bal.Dec())
	}
	if !erc.BalanceOf(alice).Eq(tokens(999_994)) {
		t.Errorf("alice wallet should be refunded, got %s", erc.BalanceOf(alice).Dec())
	}

	_, err = l.Withdraw(tokenAddr, alice, tokens(7))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.BalanceOf(tokenAddr, alice).Eq(tokens(6)) {
		t.Error("failed withdraw changed balance")
	}
	if n := len(rec.Events()); n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
}

func TestWithdrawRollsBackWhenTransferFails(t *testing.T) {
	l, erc, _ := setup(t)
	erc.Approve(alice, custodian, tokens(5))
	if _, err := l.Deposit(tokenAddr, alice, tokens(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// drain the custodian out from under the ledger
	if err := erc.Transfer(custodian, bob, tokens(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	_, err := l.Withdraw(tokenAddr, alice, tokens(5))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if !l.BalanceOf(tokenAddr, alice).Eq(tokens(5)) {
		t.Errorf("debit should be undone, balance %s", l.BalanceOf(tokenAddr, alice).Dec())
	}
}

func TestTxRollback(t *testing.T) {
	l, _, _ := setup(t)
	seed := l.Begin()
	seed.Credit(tokenAddr, alice, tokens(3))
	seed.Commit()

	tx := l.Begin()
	if _, err := tx.Credit(tokenAddr, bob, tokens(1)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := tx.Debit(tokenAddr, alice, tokens(2)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := tx.Debit(tokenAddr, alice, tokens(2)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	tx.Rollback()
	tx.Rollback()

	if !l.BalanceOf(tokenAddr, alice).Eq(tokens(3)) {
		t.Errorf("alice should be restored, got %s", l.BalanceOf(tokenAddr, alice).Dec())
	}
	if !l.BalanceOf(tokenAddr, bob).IsZero() {
		t.Errorf("bob should be restored, got %s", l.BalanceOf(tokenAddr, bob).Dec())
	}
	if len(l.Entries()) != 1 {
		t.Errorf("rollback should drop never-written keys, have %d entries", len(l.Entries()))
	}
}

func TestCreditOverflow(t *testing.T) {
	l, _, _ := setup(t)
	max := new(uint256.Int).SetAllOne()
	tx := l.Begin()
	if _, err := tx.Credit(tokenAddr, alice, max); err != nil {
		t.Fatalf("credit max: %v", err)
	}
	if _, err := tx.Credit(tokenAddr, alice, uint256.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	tx.Rollback()
}

type memWriter map[Key]*uint256.Int

func (m memWriter) PutBalance(tok, owner common.Address, amount *uint256.Int) error {
	m[Key{tok, owner}] = amount
	return nil
}

func TestFlushAndRestore(t *testing.T) {
	l, erc, _ := setup(t)
	erc.Approve(alice, custodian, tokens(10))
	l.Deposit(tokenAddr, alice, tokens(10))

	w := memWriter{}
	if err := l.Flush(w); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(w) != 1 || !w[Key{tokenAddr, alice}].Eq(tokens(10)) {
		t.Fatalf("unexpected flush contents %v", w)
	}

	again := memWriter{}
	l.Flush(again)
	if len(again) != 0 {
		t.Errorf("second flush should be empty, got %d", len(again))
	}

	restored, _, _ := setup(t)
	restored.Restore(l.Entries())
	if !restored.BalanceOf(tokenAddr, alice).Eq(tokens(10)) {
		t.Errorf("restore lost balance")
	}
}

func TestCheckSolvency(t *testing.T) {
	l, erc, _ := setup(t)
	erc.Approve(alice, custodian, tokens(10))
	l.Deposit(tokenAddr, alice, tokens(10))
	if err := l.CheckSolvency(tokenAddr); err != nil {
		t.Fatalf("expected solvent: %v", err)
	}
	erc.Transfer(custodian, bob, tokens(1))
	if err := l.CheckSolvency(tokenAddr); err == nil {
		t.Fatal("expected insolvency to be reported")
	}
}

func TestCustodianCannotDepositOrWithdraw(t *testing.T) {
	l, erc, rec := setup(t)
	if err := erc.Transfer(alice, custodian, tokens(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := erc.Approve(custodian, custodian, tokens(20)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := l.Deposit(tokenAddr, custodian, tokens(10)); !errors.Is(err, ErrTransferFailed) {
			t.Fatalf("deposit %d: expected ErrTransferFailed, got %v", i, err)
		}
	}
	if !l.BalanceOf(tokenAddr, custodian).IsZero() {
		t.Errorf("custodian credited %s", l.BalanceOf(tokenAddr, custodian).Dec())
	}
	if !erc.BalanceOf(custodian).Eq(tokens(10)) {
		t.Errorf("custodian wallet changed: %s", erc.BalanceOf(custodian).Dec())
	}
	if err := l.CheckSolvency(tokenAddr); err != nil {
		t.Fatalf("expected solvent: %v", err)
	}

	if _, err := l.Withdraw(tokenAddr, custodian, uint256.NewInt(0)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("withdraw: expected ErrTransferFailed, got %v", err)
	}
	if len(rec.Events()) != 0 {
		t.Error("no event expected on failure")
	}
}
