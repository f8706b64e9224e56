package abci

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
)

// MockApp orders transactions like the real app but executes nothing.
// The app hash commits to height and tx count only.
type MockApp struct {
	mu      sync.Mutex
	mempool *mempool.Mempool
	commits int
	txs     int
}

func NewMockApp() *MockApp { return &MockApp{mempool: mempool.NewMempool(0)} }

func (m *MockApp) PushTx(b []byte) error {
	_, err := m.mempool.PushRaw(b)
	return err
}

func (m *MockApp) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	return ResponsePrepareProposal{Txs: m.mempool.SelectForProposal(req.MaxTxBytes)}
}

func (m *MockApp) ProcessProposal(_ RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: true}
}

func (m *MockApp) FinalizeBlock(req RequestFinalizeBlock) (ResponseFinalizeBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	m.txs += len(req.Txs)

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(req.Height))
	binary.BigEndian.PutUint64(buf[8:], uint64(len(req.Txs)))

	results := make([]TxResult, len(req.Txs))
	for i, tx := range req.Txs {
		results[i] = TxResult{Hash: sha256.Sum256(tx), OK: true}
	}
	return ResponseFinalizeBlock{
		TxResults: results,
		AppHash:   common.Hash(sha256.Sum256(buf[:])),
	}, nil
}

func (m *MockApp) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

func (m *MockApp) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs
}
