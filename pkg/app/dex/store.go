package dex

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// StoredConfig is written once at genesis. A node refuses to start against a
// database created with a different fee account, fee percent or custodian.
type StoredConfig struct {
	FeeAccount common.Address `json:"feeAccount"`
	FeePercent uint64         `json:"feePercent"`
	Custodian  common.Address `json:"custodian"`
	ChainID    int64          `json:"chainId"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Receipt records what happened to one included transaction
type Receipt struct {
	TxHash  common.Hash        `json:"txHash"`
	Height  int64              `json:"height"`
	Index   int                `json:"index"`
	Type    transaction.TxType `json:"type,omitempty"`
	Owner   common.Address     `json:"owner"`
	Nonce   uint64             `json:"nonce"`
	Status  string             `json:"status"`
	Code    string             `json:"code,omitempty"`
	Error   string             `json:"error,omitempty"`
	OrderID uint64             `json:"orderId,omitempty"`
	Events  []events.Envelope  `json:"events"`
}

// Snapshot is everything needed to rebuild in-memory state at startup,
// except devnet token ledgers which are loaded per token.
type Snapshot struct {
	Height     int64
	AppHash    common.Hash
	Config     *StoredConfig
	Balances   []custody.Entry
	OrderCount uint64
	Orders     []orderbook.Record
	Nonces     map[common.Address]uint64
}

// TokenState is a devnet token's persisted wallets and allowances
type TokenState struct {
	Balances   map[common.Address]*uint256.Int
	Allowances map[common.Address]map[common.Address]*uint256.Int
}

func (s TokenState) Empty() bool {
	return len(s.Balances) == 0 && len(s.Allowances) == 0
}

// Batch collects one block's writes and commits them atomically
type Batch interface {
	custody.BalanceWriter
	orderbook.Writer
	token.Writer
	PutNonce(owner common.Address, nonce uint64) error
	PutReceipt(r Receipt) error
	PutHeight(height int64, appHash common.Hash) error
	PutConfig(cfg StoredConfig) error
	Commit() error
	Close() error
}

// Store is the application's persistence (impl in pkg/storage)
type Store interface {
	NewBatch() Batch
	LoadSnapshot() (*Snapshot, error)
	LoadTokenState(tok common.Address) (TokenState, error)
	GetReceipt(h common.Hash) (Receipt, bool, error)
}
