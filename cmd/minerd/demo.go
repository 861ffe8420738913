package main

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethcore-go/sealer/miner"
)

// demoChain is a minimal, entirely in-memory stand-in for the chain
// client (spec.md §1 "out of scope"): enough to let minerd exercise the
// orchestrator's wiring on startup without a real node, peers, or a
// database. It is not a substitute for the chain client contract itself.
type demoChain struct {
	mu       sync.Mutex
	number   uint64
	gasLimit uint64
}

func newDemoChain(gasLimit uint64) *demoChain {
	return &demoChain{gasLimit: gasLimit}
}

func (c *demoChain) ChainInfo() miner.ChainInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return miner.ChainInfo{
		BestNumber:   c.number,
		BestHash:     common.BigToHash(new(big.Int).SetUint64(c.number)),
		BestGasLimit: c.gasLimit,
	}
}

func (c *demoChain) PrepareOpenBlock(author common.Address, gasRange miner.GasRange, extraData []byte) (miner.OpenBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header := &types.Header{
		ParentHash: common.BigToHash(new(big.Int).SetUint64(c.number)),
		Number:     new(big.Int).SetUint64(c.number + 1),
		Difficulty: big.NewInt(1),
		GasLimit:   c.gasLimit,
		Coinbase:   author,
		Extra:      extraData,
	}
	return &demoOpenBlock{header: header}, nil
}

func (c *demoChain) LatestNonce(addr common.Address) uint64 { return 0 }

func (c *demoChain) ImportSealedBlock(block *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.number = block.NumberU64()
	log.Info("Imported sealed block", "number", c.number, "hash", block.Hash())
	return nil
}

func (c *demoChain) BroadcastProposalBlock(block *types.Block) {
	log.Info("Broadcasting proposal block", "number", block.NumberU64(), "hash", block.Hash())
}

func (c *demoChain) BalanceAt(addr common.Address, blockHash common.Hash) (*big.Int, error) {
	return new(big.Int), nil
}

func (c *demoChain) NonceAt(addr common.Address, blockHash common.Hash) (uint64, error) {
	return 0, nil
}

func (c *demoChain) StorageAt(addr common.Address, key common.Hash, blockHash common.Hash) ([]byte, error) {
	return nil, nil
}

func (c *demoChain) CodeAt(addr common.Address, blockHash common.Hash) ([]byte, error) {
	return nil, nil
}

func (c *demoChain) ReceiptsAt(blockHash common.Hash) ([]*types.Receipt, error) {
	return nil, nil
}

func (c *demoChain) TransactionByHash(hash common.Hash) (*types.Transaction, bool) {
	return nil, false
}

type demoOpenBlock struct {
	header   *types.Header
	txs      []*types.Transaction
	balances map[common.Address]*big.Int
}

func (b *demoOpenBlock) Header() *types.Header { return b.header }

// PushTransaction keeps a simple recipient-balance ledger standing in
// for the full state.StateDB a real block builder would track; enough
// to let the pending-state queries exercise their candidate-vs-chain
// fallback (Invariant 4) without running an EVM.
func (b *demoOpenBlock) PushTransaction(tx *types.Transaction) error {
	b.txs = append(b.txs, tx)
	if to := tx.To(); to != nil && tx.Value().Sign() > 0 {
		if b.balances == nil {
			b.balances = make(map[common.Address]*big.Int)
		}
		prev, ok := b.balances[*to]
		if !ok {
			prev = new(big.Int)
		}
		b.balances[*to] = new(big.Int).Add(prev, tx.Value())
	}
	return nil
}

func (b *demoOpenBlock) Close() (miner.ClosedBlock, error) {
	return &demoClosedBlock{header: b.header, txs: b.txs, balances: b.balances}, nil
}

type demoClosedBlock struct {
	header   *types.Header
	txs      []*types.Transaction
	balances map[common.Address]*big.Int
}

func (b *demoClosedBlock) Hash() common.Hash                  { return b.header.Hash() }
func (b *demoClosedBlock) ParentHash() common.Hash            { return b.header.ParentHash }
func (b *demoClosedBlock) Number() uint64                     { return b.header.Number.Uint64() }
func (b *demoClosedBlock) Difficulty() *big.Int               { return b.header.Difficulty }
func (b *demoClosedBlock) Transactions() []*types.Transaction { return b.txs }
func (b *demoClosedBlock) Receipts() []*types.Receipt         { return nil }

func (b *demoClosedBlock) BalanceAt(addr common.Address) (*big.Int, bool) {
	v, ok := b.balances[addr]
	return v, ok
}

// StorageAt and CodeAt have nothing to report: demoOpenBlock never
// executes contract code, so every call falls through to the chain.
func (b *demoClosedBlock) StorageAt(addr common.Address, key common.Hash) ([]byte, bool) {
	return nil, false
}

func (b *demoClosedBlock) CodeAt(addr common.Address) ([]byte, bool) {
	return nil, false
}

func (b *demoClosedBlock) Reopen() (miner.OpenBlock, error) {
	txs := make([]*types.Transaction, len(b.txs))
	copy(txs, b.txs)
	return &demoOpenBlock{header: b.header, txs: txs, balances: b.balances}, nil
}

func (b *demoClosedBlock) Block() *types.Block { return types.NewBlockWithHeader(b.header) }

func (b *demoClosedBlock) Seal(sealFields [][]byte) (*types.Block, error) {
	return b.Block(), nil
}

// demoEngine never seals internally; minerd always runs the
// external-work/notifier path, the common case for a proof-of-work chain.
type demoEngine struct{}

func (demoEngine) SealsInternally() (bool, bool)             { return false, false }
func (demoEngine) GenerateSeal(block *types.Block) miner.SealResult { return miner.SealResult{Kind: miner.SealNone} }
func (demoEngine) VerifySeal(seal [][]byte) bool              { return true }
func (demoEngine) MinTxGas() uint64                           { return 21000 }
func (demoEngine) NonceCap(atBlock uint64) (uint64, bool)     { return 0, false }
