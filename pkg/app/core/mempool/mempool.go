package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

var ErrFull = errors.New("mempool full")

// Bucket determines drain order within a block.
type Bucket int

const (
	BucketNonOrder Bucket = iota // approve, deposit, withdraw
	BucketCancel                 // cancel_order
	BucketOrder                  // make_order, fill_order
)

func (b Bucket) String() string {
	switch b {
	case BucketNonOrder:
		return "non_order"
	case BucketCancel:
		return "cancel"
	default:
		return "order"
	}
}

// ClassifyRaw buckets a raw transaction by its JSON "type" field.
// Anything unparseable lands in the order bucket and is rejected at apply time.
func ClassifyRaw(b []byte) Bucket {
	if len(b) == 0 || b[0] != '{' {
		return BucketOrder
	}

	var envelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return BucketOrder
	}

	switch envelope.Type {
	case transaction.TxTypeApprove, transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		return BucketNonOrder
	case transaction.TxTypeCancelOrder:
		return BucketCancel
	default:
		return BucketOrder
	}
}

// Mempool keeps three FIFO queues drained in order:
// (1) non-order, (2) cancel, (3) orders.
// Cancels run ahead of fills in the same block so a maker can pull an order
// before it is taken.
type Mempool struct {
	mu       sync.Mutex
	maxTxs   int
	nonOrder [][]byte
	cancel   [][]byte
	orders   [][]byte
}

// NewMempool creates a mempool holding at most maxTxs transactions (0 = unbounded)
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{maxTxs: maxTxs}
}

// PushRaw classifies and enqueues a tx
func (m *Mempool) PushRaw(b []byte) (Bucket, error) {
	cp := append([]byte(nil), b...)
	bucket := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxTxs > 0 && m.lenLocked() >= m.maxTxs {
		return bucket, ErrFull
	}
	switch bucket {
	case BucketNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case BucketCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
	return bucket, nil
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing them from the mempool. maxBytes <= 0 takes everything.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}
