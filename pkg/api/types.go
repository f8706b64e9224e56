package api

import (
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo is the exchange's configuration and counters
type ExchangeInfo struct {
	FeeAccount  string `json:"feeAccount"`
	FeePercent  uint64 `json:"feePercent"`
	Custodian   string `json:"custodian"` // address that holds deposited tokens
	ChainID     int64  `json:"chainId"`
	OrderCount  uint64 `json:"orderCount"`
	Height      int64  `json:"height"`
	AppHash     string `json:"appHash"`
	MempoolSize int    `json:"mempoolSize"`
}

type TokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// BalanceInfo is a custodied balance. Raw is in base units, Formatted in whole tokens.
type BalanceInfo struct {
	Token     string `json:"token"`
	Owner     string `json:"owner"`
	Symbol    string `json:"symbol,omitempty"`
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

type OrderInfo struct {
	ID         uint64 `json:"id"`
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"` // Unix seconds (block time)
	Status     string `json:"status"`    // "open" | "cancelled" | "filled"
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // next nonce the exchange will accept
}

type SubmitTxResponse struct {
	Status string `json:"status"` // "submitted"
	TxHash string `json:"txHash"`
}

// BlockInfo is a committed block header with its attestation
type BlockInfo struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	Parent    string `json:"parent"`
	Time      int64  `json:"time"`
	TxRoot    string `json:"txRoot"`
	NumTxs    int    `json:"numTxs"`
	AppHash   string `json:"appHash"`
	Proposer  string `json:"proposer"`  // BLS public key, hex
	Signature string `json:"signature"` // BLS signature, hex
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"` // "event", "block", "subscribed", "unsubscribed"
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["events", "account:0x...", "order:7", "blocks"]
}

// EventUpdate carries one exchange event from a committed block
type EventUpdate struct {
	Height int64           `json:"height"`
	TxHash string          `json:"txHash"`
	Event  events.Envelope `json:"event"`
}
