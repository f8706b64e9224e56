package transaction

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// Meta is carried by every action: who signed it and their sequence number
type Meta struct {
	Owner common.Address
	Nonce uint64
}

func (m Meta) Header() Meta { return m }

// Action is a decoded transaction that can be hashed as EIP-712 typed data
type Action interface {
	Type() TxType
	Header() Meta
	PrimaryType() string
	Fields() []apitypes.Type
	Message() apitypes.TypedDataMessage
}

var metaFields = []apitypes.Type{
	{Name: "owner", Type: "address"},
	{Name: "nonce", Type: "uint256"},
}

func withMeta(fields ...apitypes.Type) []apitypes.Type {
	return append(append([]apitypes.Type{}, fields...), metaFields...)
}

func (m Meta) message(kv apitypes.TypedDataMessage) apitypes.TypedDataMessage {
	kv["owner"] = m.Owner.Hex()
	kv["nonce"] = strconv.FormatUint(m.Nonce, 10)
	return kv
}

type Approve struct {
	Meta
	Token   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (*Approve) Type() TxType        { return TxTypeApprove }
func (*Approve) PrimaryType() string { return "Approve" }
func (*Approve) Fields() []apitypes.Type {
	return withMeta(
		apitypes.Type{Name: "token", Type: "address"},
		apitypes.Type{Name: "spender", Type: "address"},
		apitypes.Type{Name: "amount", Type: "uint256"},
	)
}
func (a *Approve) Message() apitypes.TypedDataMessage {
	return a.message(apitypes.TypedDataMessage{
		"token":   a.Token.Hex(),
		"spender": a.Spender.Hex(),
		"amount":  a.Amount.Dec(),
	})
}

type Deposit struct {
	Meta
	Token  common.Address
	Amount *uint256.Int
}

func (*Deposit) Type() TxType        { return TxTypeDeposit }
func (*Deposit) PrimaryType() string { return "Deposit" }
func (*Deposit) Fields() []apitypes.Type {
	return withMeta(
		apitypes.Type{Name: "token", Type: "address"},
		apitypes.Type{Name: "amount", Type: "uint256"},
	)
}
func (a *Deposit) Message() apitypes.TypedDataMessage {
	return a.message(apitypes.TypedDataMessage{"token": a.Token.Hex(), "amount": a.Amount.Dec()})
}

type Withdraw struct {
	Meta
	Token  common.Address
	Amount *uint256.Int
}

func (*Withdraw) Type() TxType        { return TxTypeWithdraw }
func (*Withdraw) PrimaryType() string { return "Withdraw" }
func (*Withdraw) Fields() []apitypes.Type {
	return withMeta(
		apitypes.Type{Name: "token", Type: "address"},
		apitypes.Type{Name: "amount", Type: "uint256"},
	)
}
func (a *Withdraw) Message() apitypes.TypedDataMessage {
	return a.message(apitypes.TypedDataMessage{"token": a.Token.Hex(), "amount": a.Amount.Dec()})
}

type MakeOrder struct {
	Meta
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
}

func (*MakeOrder) Type() TxType        { return TxTypeMakeOrder }
func (*MakeOrder) PrimaryType() string { return "MakeOrder" }
func (*MakeOrder) Fields() []apitypes.Type {
	return withMeta(
		apitypes.Type{Name: "tokenGet", Type: "address"},
		apitypes.Type{Name: "amountGet", Type: "uint256"},
		apitypes.Type{Name: "tokenGive", Type: "address"},
		apitypes.Type{Name: "amountGive", Type: "uint256"},
	)
}
func (a *MakeOrder) Message() apitypes.TypedDataMessage {
	return a.message(apitypes.TypedDataMessage{
		"tokenGet":   a.TokenGet.Hex(),
		"amountGet":  a.AmountGet.Dec(),
		"tokenGive":  a.TokenGive.Hex(),
		"amountGive": a.AmountGive.Dec(),
	})
}

type CancelOrder struct {
	Meta
	OrderID uint64
}

func (*CancelOrder) Type() TxType        { return TxTypeCancelOrder }
func (*CancelOrder) PrimaryType() string { return "CancelOrder" }
func (*CancelOrder) Fields() []apitypes.Type {
	return withMeta(apitypes.Type{Name: "orderId", Type: "uint256"})
}
func (a *CancelOrder) Message() apitypes.TypedDataMessage {
	return a.message(apitypes.TypedDataMessage{"orderId": strconv.FormatUint(a.OrderID, 10)})
}

type FillOrder struct {
	Meta
	OrderID uint64
}

func (*FillOrder) Type() TxType        { return TxTypeFillOrder }
func (*FillOrder) PrimaryType() string { return "FillOrder" }
func (*FillOrder) Fields() []apitypes.Type {
	return withMeta(apitypes.Type{Name: "orderId", Type: "uint256"})
}
func (a *FillOrder) Message() apitypes.TypedDataMessage {
	return a.message(apitypes.TypedDataMessage{"orderId": strconv.FormatUint(a.OrderID, 10)})
}
