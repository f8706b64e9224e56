package sequencer

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Header commits to a block's transactions and the state they produced
type Header struct {
	Height  uint64      `json:"height"`
	Parent  common.Hash `json:"parent"`
	Time    int64       `json:"time"` // Unix seconds; the exchange stamps orders with it
	TxRoot  common.Hash `json:"txRoot"`
	NumTxs  int         `json:"numTxs"`
	AppHash common.Hash `json:"appHash"`
}

// Hash covers every header field, AppHash included: the sequencer signs
// after execution, so the attestation binds the resulting state.
func (h Header) Hash() common.Hash {
	hasher := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], h.Height)
	hasher.Write(buf[:])
	hasher.Write(h.Parent[:])
	binary.BigEndian.PutUint64(buf[:], uint64(h.Time))
	hasher.Write(buf[:])
	hasher.Write(h.TxRoot[:])
	binary.BigEndian.PutUint64(buf[:], uint64(h.NumTxs))
	hasher.Write(buf[:])
	hasher.Write(h.AppHash[:])

	return common.BytesToHash(hasher.Sum(nil))
}

// Block is a committed, signed block
type Block struct {
	Header    Header   `json:"header"`
	Txs       [][]byte `json:"txs"`
	Proposer  []byte   `json:"proposer"`  // BLS public key
	Signature []byte   `json:"signature"` // BLS signature over Header.Hash()
}

func (b Block) Hash() common.Hash { return b.Header.Hash() }

// TxRoot hashes the length-prefixed transactions in order
func TxRoot(txs [][]byte) common.Hash {
	hasher := sha256.New()
	var buf [8]byte
	for _, tx := range txs {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
		hasher.Write(buf[:])
		hasher.Write(tx)
	}
	return common.BytesToHash(hasher.Sum(nil))
}

// BlockStore persists committed blocks (impl in pkg/storage)
type BlockStore interface {
	SaveBlock(b Block) error
	GetBlock(height uint64) (Block, bool, error)
	LatestBlock() (Block, bool, error)
}

// WAL records one line per committed block
type WAL interface {
	Append(line string)
}
