// Package events defines the notifications emitted by successful exchange operations.
// Exactly one event is emitted per successful state-mutating call, in call order.
package events

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Kind string

const (
	KindTokensDeposited Kind = "TokensDeposited"
	KindTokensWithdrawn Kind = "TokensWithdrawn"
	KindOrderCreated    Kind = "OrderCreated"
	KindOrderCancelled  Kind = "OrderCancelled"
	KindOrderFilled     Kind = "OrderFilled"
)

type Event interface {
	Kind() Kind
}

type TokensDeposited struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

type TokensWithdrawn struct {
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

type OrderCreated struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

// OrderCancelled mirrors the order's fields; Timestamp is the time of cancellation
type OrderCancelled struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

type OrderFilled struct {
	ID         uint64         `json:"id"`
	Taker      common.Address `json:"taker"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Maker      common.Address `json:"maker"`
	Timestamp  int64          `json:"timestamp"`
}

func (TokensDeposited) Kind() Kind { return KindTokensDeposited }
func (TokensWithdrawn) Kind() Kind { return KindTokensWithdrawn }
func (OrderCreated) Kind() Kind    { return KindOrderCreated }
func (OrderCancelled) Kind() Kind  { return KindOrderCancelled }
func (OrderFilled) Kind() Kind     { return KindOrderFilled }

// Sink receives events
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps events in emission order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Drain returns recorded events and resets the recorder
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Envelope is the wire form of an event: {"type": "...", "data": {...}}
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func Wrap(e Event) (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: e.Kind(), Data: data}, nil
}

// Unwrap decodes an envelope back into its concrete event type
func Unwrap(env Envelope) (Event, error) {
	var (
		e   Event
		err error
	)
	switch env.Type {
	case KindTokensDeposited:
		var v TokensDeposited
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindTokensWithdrawn:
		var v TokensWithdrawn
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindOrderCreated:
		var v OrderCreated
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindOrderCancelled:
		var v OrderCancelled
		err = json.Unmarshal(env.Data, &v)
		e = v
	case KindOrderFilled:
		var v OrderFilled
		err = json.Unmarshal(env.Data, &v)
		e = v
	default:
		return nil, &UnknownKindError{Kind: env.Type}
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

type UnknownKindError struct{ Kind Kind }

func (e *UnknownKindError) Error() string { return "events: unknown kind " + string(e.Kind) }
