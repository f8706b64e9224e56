package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TxType names the action a transaction carries
type TxType string

const (
	TxTypeApprove     TxType = "approve"      // ERC20 approve on a devnet token
	TxTypeDeposit     TxType = "deposit"      // pull tokens into custody
	TxTypeWithdraw    TxType = "withdraw"     // return tokens from custody
	TxTypeMakeOrder   TxType = "make_order"   // post an order
	TxTypeCancelOrder TxType = "cancel_order" // cancel own open order
	TxTypeFillOrder   TxType = "fill_order"   // take an open order
)

var ErrMalformed = errors.New("malformed transaction")

// SignedTransaction is the wire envelope. Exactly one payload matching Type is set.
// Amounts are decimal strings in base units.
type SignedTransaction struct {
	Type  TxType `json:"type"`
	Owner string `json:"owner"`
	Nonce string `json:"nonce"`

	Approve     *ApprovePayload   `json:"approve,omitempty"`
	Deposit     *TransferPayload  `json:"deposit,omitempty"`
	Withdraw    *TransferPayload  `json:"withdraw,omitempty"`
	MakeOrder   *MakeOrderPayload `json:"make_order,omitempty"`
	CancelOrder *OrderRefPayload  `json:"cancel_order,omitempty"`
	FillOrder   *OrderRefPayload  `json:"fill_order,omitempty"`

	Signature string `json:"signature"` // 0x-prefixed 65-byte hex
}

type ApprovePayload struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// TransferPayload is used by deposit and withdraw
type TransferPayload struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type MakeOrderPayload struct {
	TokenGet   string `json:"token_get"`
	AmountGet  string `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive string `json:"amount_give"`
}

// OrderRefPayload is used by cancel_order and fill_order
type OrderRefPayload struct {
	OrderID string `json:"order_id"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate checks envelope structure without touching the signature
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if tx.Owner == "" {
		return fmt.Errorf("%w: missing owner", ErrMalformed)
	}

	set := 0
	for _, p := range []bool{
		tx.Approve != nil, tx.Deposit != nil, tx.Withdraw != nil,
		tx.MakeOrder != nil, tx.CancelOrder != nil, tx.FillOrder != nil,
	} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrMalformed, set)
	}

	var ok bool
	switch tx.Type {
	case TxTypeApprove:
		ok = tx.Approve != nil
	case TxTypeDeposit:
		ok = tx.Deposit != nil
	case TxTypeWithdraw:
		ok = tx.Withdraw != nil
	case TxTypeMakeOrder:
		ok = tx.MakeOrder != nil
	case TxTypeCancelOrder:
		ok = tx.CancelOrder != nil
	case TxTypeFillOrder:
		ok = tx.FillOrder != nil
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s requires %s payload", ErrMalformed, tx.Type, tx.Type)
	}
	return nil
}

// ParseTransaction decodes and validates raw mempool bytes
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Action converts the envelope to a typed action
func (tx *SignedTransaction) Action() (Action, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", tx.Owner)
	if err != nil {
		return nil, err
	}
	nonce, err := parseUint("nonce", tx.Nonce)
	if err != nil {
		return nil, err
	}
	meta := Meta{Owner: owner, Nonce: nonce}

	switch tx.Type {
	case TxTypeApprove:
		p := tx.Approve
		a := &Approve{Meta: meta}
		if a.Token, err = parseAddress("token", p.Token); err != nil {
			return nil, err
		}
		if a.Spender, err = parseAddress("spender", p.Spender); err != nil {
			return nil, err
		}
		if a.Amount, err = parseAmount("amount", p.Amount); err != nil {
			return nil, err
		}
		return a, nil

	case TxTypeDeposit, TxTypeWithdraw:
		p := tx.Deposit
		if tx.Type == TxTypeWithdraw {
			p = tx.Withdraw
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		if tx.Type == TxTypeDeposit {
			return &Deposit{Meta: meta, Token: token, Amount: amount}, nil
		}
		return &Withdraw{Meta: meta, Token: token, Amount: amount}, nil

	case TxTypeMakeOrder:
		p := tx.MakeOrder
		a := &MakeOrder{Meta: meta}
		if a.TokenGet, err = parseAddress("token_get", p.TokenGet); err != nil {
			return nil, err
		}
		if a.AmountGet, err = parseAmount("amount_get", p.AmountGet); err != nil {
			return nil, err
		}
		if a.TokenGive, err = parseAddress("token_give", p.TokenGive); err != nil {
			return nil, err
		}
		if a.AmountGive, err = parseAmount("amount_give", p.AmountGive); err != nil {
			return nil, err
		}
		return a, nil

	case TxTypeCancelOrder:
		id, err := parseUint("order_id", tx.CancelOrder.OrderID)
		if err != nil {
			return nil, err
		}
		return &CancelOrder{Meta: meta, OrderID: id}, nil

	case TxTypeFillOrder:
		id, err := parseUint("order_id", tx.FillOrder.OrderID)
		if err != nil {
			return nil, err
		}
		return &FillOrder{Meta: meta, OrderID: id}, nil
	}
	return nil, fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
}

// Envelope builds the wire form of a signed action
func Envelope(a Action, signature []byte) *SignedTransaction {
	m := a.Header()
	tx := &SignedTransaction{
		Type:      a.Type(),
		Owner:     m.Owner.Hex(),
		Nonce:     strconv.FormatUint(m.Nonce, 10),
		Signature: "0x" + common.Bytes2Hex(signature),
	}
	switch v := a.(type) {
	case *Approve:
		tx.Approve = &ApprovePayload{Token: v.Token.Hex(), Spender: v.Spender.Hex(), Amount: v.Amount.Dec()}
	case *Deposit:
		tx.Deposit = &TransferPayload{Token: v.Token.Hex(), Amount: v.Amount.Dec()}
	case *Withdraw:
		tx.Withdraw = &TransferPayload{Token: v.Token.Hex(), Amount: v.Amount.Dec()}
	case *MakeOrder:
		tx.MakeOrder = &MakeOrderPayload{
			TokenGet:   v.TokenGet.Hex(),
			AmountGet:  v.AmountGet.Dec(),
			TokenGive:  v.TokenGive.Hex(),
			AmountGive: v.AmountGive.Dec(),
		}
	case *CancelOrder:
		tx.CancelOrder = &OrderRefPayload{OrderID: strconv.FormatUint(v.OrderID, 10)}
	case *FillOrder:
		tx.FillOrder = &OrderRefPayload{OrderID: strconv.FormatUint(v.OrderID, 10)}
	}
	return tx
}

func parseAddress(field, s string) (common.Address, error) {
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %w", ErrMalformed, field, err)
	}
	return addr, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %w", ErrMalformed, field, s, err)
	}
	return v, nil
}

func parseUint(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformed, field, s)
	}
	return v, nil
}
