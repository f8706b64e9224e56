package storage

import (
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

// InMemoryBlockStore keeps blocks in a map; used by tests and throwaway devnets
type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[uint64]sequencer.Block
	latest uint64
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{blocks: make(map[uint64]sequencer.Block)}
}

func (s *InMemoryBlockStore) SaveBlock(b sequencer.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Header.Height] = b
	if b.Header.Height > s.latest {
		s.latest = b.Header.Height
	}
	return nil
}

func (s *InMemoryBlockStore) GetBlock(height uint64) (sequencer.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *InMemoryBlockStore) LatestBlock() (sequencer.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[s.latest]
	return b, ok, nil
}

var _ sequencer.BlockStore = (*InMemoryBlockStore)(nil)
