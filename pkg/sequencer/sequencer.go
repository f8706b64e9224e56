// Package sequencer produces blocks. It is the single writer: every tick it
// drains the mempool through the application, signs the resulting header
// and stores the block.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

const defaultMaxTxBytes = 1 << 24

type Config struct {
	BlockTime  time.Duration
	MaxTxBytes int64
}

// CommitHook observes each committed block with the app's results
type CommitHook func(b Block, resp abci.ResponseFinalizeBlock)

type Sequencer struct {
	cfg    Config
	app    abci.Application
	store  BlockStore
	signer *crypto.BLSSigner
	clock  util.Clock
	wal    WAL
	logger *zap.SugaredLogger

	hooks []CommitHook

	last Header
}

func New(cfg Config, app abci.Application, store BlockStore, signer *crypto.BLSSigner, clock util.Clock, wal WAL, logger *zap.SugaredLogger) (*Sequencer, error) {
	if cfg.BlockTime <= 0 {
		return nil, fmt.Errorf("block time must be positive, got %v", cfg.BlockTime)
	}
	if cfg.MaxTxBytes <= 0 {
		cfg.MaxTxBytes = defaultMaxTxBytes
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = util.NopSugar()
	}
	s := &Sequencer{
		cfg:    cfg,
		app:    app,
		store:  store,
		signer: signer,
		clock:  clock,
		wal:    wal,
		logger: logger,
	}

	latest, ok, err := store.LatestBlock()
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}
	if ok {
		s.last = latest.Header
	}
	return s, nil
}

// OnCommit registers a hook run after each block is stored
func (s *Sequencer) OnCommit(h CommitHook) {
	s.hooks = append(s.hooks, h)
}

// Height returns the last committed height
func (s *Sequencer) Height() uint64 { return s.last.Height }

// Run produces blocks until ctx is cancelled or a block fails to commit
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Infow("sequencer_started", "block_time", s.cfg.BlockTime, "height", s.last.Height)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("sequencer_stopped", "height", s.last.Height)
			return ctx.Err()
		case <-s.clock.After(s.cfg.BlockTime):
		}

		if _, _, err := s.Step(); err != nil {
			s.logger.Errorw("block_failed", "height", s.last.Height+1, "err", err)
			return err
		}
	}
}

// Step produces at most one block. It returns false when there was nothing to do.
func (s *Sequencer) Step() (Block, bool, error) {
	height := s.last.Height + 1

	prep := s.app.PrepareProposal(abci.RequestPrepareProposal{Height: int64(height), MaxTxBytes: s.cfg.MaxTxBytes})
	if len(prep.Txs) == 0 {
		return Block{}, false, nil
	}
	if resp := s.app.ProcessProposal(abci.RequestProcessProposal{Height: int64(height), Txs: prep.Txs}); !resp.Accept {
		return Block{}, false, fmt.Errorf("height %d: proposal rejected", height)
	}

	ts := s.clock.Now().Unix()
	if ts < s.last.Time {
		ts = s.last.Time
	}

	fin, err := s.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: int64(height), Timestamp: ts, Txs: prep.Txs})
	if err != nil {
		return Block{}, false, fmt.Errorf("height %d: finalize: %w", height, err)
	}

	parent := common.Hash{}
	if s.last.Height > 0 {
		parent = s.last.Hash()
	}
	b := Block{
		Header: Header{
			Height:  height,
			Parent:  parent,
			Time:    ts,
			TxRoot:  TxRoot(prep.Txs),
			NumTxs:  len(prep.Txs),
			AppHash: fin.AppHash,
		},
		Txs: prep.Txs,
	}
	if s.signer != nil {
		h := b.Hash()
		b.Proposer = s.signer.PubkeyBytes()
		b.Signature = s.signer.Sign(h[:])
	}

	if err := s.store.SaveBlock(b); err != nil {
		return Block{}, false, fmt.Errorf("height %d: save block: %w", height, err)
	}
	s.last = b.Header
	if s.wal != nil {
		s.wal.Append(fmt.Sprintf("commit height=%d hash=%s app=%s txs=%d", height, b.Hash().Hex(), fin.AppHash.Hex(), len(prep.Txs)))
	}

	ok := 0
	for _, r := range fin.TxResults {
		if r.OK {
			ok++
		}
	}
	s.logger.Infow("block_committed",
		"height", height,
		"txs", len(prep.Txs),
		"ok", ok,
		"app_hash", fin.AppHash.Hex(),
	)

	for _, h := range s.hooks {
		h(b, fin)
	}
	return b, true, nil
}

// VerifyBlock checks a block's BLS attestation against its embedded proposer key
func VerifyBlock(b Block) error {
	if len(b.Signature) == 0 {
		return fmt.Errorf("block %d is unsigned", b.Header.Height)
	}
	pk, err := crypto.ParseBLSPubKey(b.Proposer)
	if err != nil {
		return err
	}
	h := b.Hash()
	if !crypto.Verify(pk, b.Signature, h[:]) {
		return fmt.Errorf("block %d: bad signature", b.Header.Height)
	}
	return nil
}
