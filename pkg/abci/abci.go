// Package abci defines the boundary between the block producer and the application.
package abci

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult is the outcome of one transaction in a block
type TxResult struct {
	Hash   common.Hash
	OK     bool
	Code   string // empty on success
	Log    string
	Events []events.Event
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   common.Hash // hash of application state after execution
}

// Events flattens every event emitted in the block, in execution order
func (r ResponseFinalizeBlock) Events() []events.Event {
	var out []events.Event
	for _, res := range r.TxResults {
		out = append(out, res.Events...)
	}
	return out
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
