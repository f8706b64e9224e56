package dex

import (
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// Receipt codes for failures that happen before the action runs
const (
	CodeMalformed        = "malformed"
	CodeInvalidSignature = "invalid_signature"
	CodeBadNonce         = "bad_nonce"
	CodeUnknownToken     = "unknown_token"
	CodeNotApprovable    = "not_approvable"
)

// applyTx executes one included transaction. consumed reports whether the
// owner's nonce was used, which is the case whenever the action itself ran.
func (a *App) applyTx(raw []byte, height int64, index int) (r Receipt, evs []events.Event, consumed bool) {
	r = Receipt{
		TxHash: crypto.Keccak256Hash(raw),
		Height: height,
		Index:  index,
		Status: StatusFailed,
		Events: []events.Envelope{},
	}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		r.Code, r.Error = CodeMalformed, err.Error()
		a.logger.Debugw("tx_rejected", "height", height, "index", index, "code", r.Code, "err", err)
		return r, nil, false
	}
	r.Type = tx.Type

	act, hash, err := a.verifier.Verify(tx)
	if err != nil {
		r.Code, r.Error = CodeInvalidSignature, err.Error()
		if errors.Is(err, transaction.ErrMalformed) {
			r.Code = CodeMalformed
		}
		a.logger.Debugw("tx_rejected", "height", height, "index", index, "code", r.Code, "err", err)
		a.metrics.ObserveTx(string(tx.Type), r.Code)
		return r, nil, false
	}

	meta := act.Header()
	r.TxHash, r.Owner, r.Nonce = hash, meta.Owner, meta.Nonce

	if expected := a.nonces[meta.Owner]; meta.Nonce != expected {
		r.Code = CodeBadNonce
		r.Error = "nonce mismatch"
		a.logger.Debugw("tx_rejected",
			"height", height, "index", index, "code", r.Code,
			"owner", meta.Owner.Hex(), "nonce", meta.Nonce, "expected", expected)
		a.metrics.ObserveTx(string(act.Type()), r.Code)
		return r, nil, false
	}
	a.nonces[meta.Owner] = meta.Nonce + 1
	a.dirtyNonces[meta.Owner] = struct{}{}

	orderID, err := a.execute(act)
	evs = a.recorder.Drain()
	if err != nil {
		r.Code, r.Error = errorCode(err), err.Error()
		a.metrics.ObserveTx(string(act.Type()), r.Code)
		return r, nil, true
	}

	r.Status = StatusSuccess
	r.OrderID = orderID
	for _, e := range evs {
		env, err := events.Wrap(e)
		if err != nil {
			// events are plain structs; this only fails on programmer error
			panic(err)
		}
		r.Events = append(r.Events, env)
	}
	a.metrics.ObserveTx(string(act.Type()), StatusSuccess)
	return r, evs, true
}

// execute runs the action against the exchange. Returns the order id for order actions.
func (a *App) execute(act transaction.Action) (uint64, error) {
	switch v := act.(type) {
	case *transaction.Approve:
		l, err := a.tokens.Lookup(v.Token)
		if err != nil {
			return 0, err
		}
		ap, ok := l.(token.Approver)
		if !ok {
			return 0, ErrNotApprovable
		}
		return 0, ap.Approve(v.Owner, v.Spender, v.Amount)

	case *transaction.Deposit:
		_, err := a.exchange.Deposit(v.Owner, v.Token, v.Amount)
		return 0, err

	case *transaction.Withdraw:
		_, err := a.exchange.Withdraw(v.Owner, v.Token, v.Amount)
		return 0, err

	case *transaction.MakeOrder:
		o, err := a.exchange.MakeOrder(v.Owner, v.TokenGet, v.AmountGet, v.TokenGive, v.AmountGive)
		if err != nil {
			return 0, err
		}
		return o.ID, nil

	case *transaction.CancelOrder:
		return v.OrderID, a.exchange.CancelOrder(v.Owner, v.OrderID)

	case *transaction.FillOrder:
		if err := a.exchange.FillOrder(v.Owner, v.OrderID); err != nil {
			return v.OrderID, err
		}
		a.observeFill(v.OrderID)
		return v.OrderID, nil
	}
	return 0, transaction.ErrMalformed
}

func (a *App) observeFill(id uint64) {
	if a.metrics == nil {
		return
	}
	rec, err := a.exchange.Order(id)
	if err != nil {
		return
	}
	fee, err := exchange.Fee(rec.AmountGet, uint256.NewInt(a.exchange.FeePercent()))
	if err != nil {
		return
	}
	a.metrics.ObserveFill(rec.TokenGet.Hex(), !fee.IsZero())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotApprovable):
		return CodeNotApprovable
	case errors.Is(err, exchange.ErrTransferFailed):
		return exchange.Code(err)
	case errors.Is(err, token.ErrUnknownToken):
		return CodeUnknownToken
	}
	return exchange.Code(err)
}
