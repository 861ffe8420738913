package miner

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainInfo is the subset of chain-head metadata the orchestrator needs
// on every operation. It is supplied by the chain client, an external
// collaborator per spec.md §1.
type ChainInfo struct {
	BestNumber    uint64
	BestHash      common.Hash
	BestTimestamp uint64
	BestGasLimit  uint64
}

// GasRange is the (floor, ceil) target the block preparer asks the
// chain client to aim for when sizing a fresh open block.
type GasRange struct {
	Floor uint64
	Ceil  uint64
}

// OpenBlock is a candidate block under construction. It is owned
// exclusively by whichever goroutine holds it: the miner never aliases
// an OpenBlock across goroutines (spec.md §9 "Candidate-block
// ownership").
type OpenBlock interface {
	Header() *types.Header
	// PushTransaction attempts to include tx. Errors are one of the
	// sentinels/typed errors in errors.go; see §4.1.2 for the exact
	// branching this error set drives.
	PushTransaction(tx *types.Transaction) error
	Close() (ClosedBlock, error)
}

// ClosedBlock is a candidate block whose transaction list is frozen and
// whose receipts have been computed. It may be reopened: Reopen hands
// back an OpenBlock that can accept more transactions before being
// re-closed (spec.md §3 "Candidate block").
type ClosedBlock interface {
	Hash() common.Hash
	ParentHash() common.Hash
	Number() uint64
	Difficulty() *big.Int
	Transactions() []*types.Transaction
	Receipts() []*types.Receipt

	// BalanceAt, StorageAt and CodeAt expose the candidate's own
	// post-state, computed by whichever block-builder produced this
	// ClosedBlock (an external collaborator per spec.md §1, mirroring
	// the original's `b.block().fields().state`). ok is false only when
	// the builder has nothing recorded for addr/key, in which case the
	// caller falls back to the chain client's latest state (Invariant 4).
	BalanceAt(addr common.Address) (balance *big.Int, ok bool)
	StorageAt(addr common.Address, key common.Hash) (value []byte, ok bool)
	CodeAt(addr common.Address) (code []byte, ok bool)

	Reopen() (OpenBlock, error)
	// Block returns the unsealed block, for handing to the engine's seal
	// generation/verification routines.
	Block() *types.Block
	// Seal finalizes the block with engine-produced seal fields, returning
	// the fully sealed block ready for chain import or broadcast.
	Seal(sealFields [][]byte) (*types.Block, error)
}

// ChainClient is the external collaborator that owns block import,
// state lookup and header access (spec.md §1 "out of scope").
type ChainClient interface {
	ChainInfo() ChainInfo
	PrepareOpenBlock(author common.Address, gasRange GasRange, extraData []byte) (OpenBlock, error)
	LatestNonce(addr common.Address) uint64

	ImportSealedBlock(block *types.Block) error
	BroadcastProposalBlock(block *types.Block)

	// Pending-state fallback queries (spec.md Invariant 4): answered
	// against the chain's latest state when no fresher candidate exists.
	BalanceAt(addr common.Address, blockHash common.Hash) (*big.Int, error)
	NonceAt(addr common.Address, blockHash common.Hash) (uint64, error)
	StorageAt(addr common.Address, key common.Hash, blockHash common.Hash) ([]byte, error)
	CodeAt(addr common.Address, blockHash common.Hash) ([]byte, error)
	ReceiptsAt(blockHash common.Hash) ([]*types.Receipt, error)
	TransactionByHash(hash common.Hash) (*types.Transaction, bool)
}

// SealKind is the tri-state outcome of an engine's internal seal
// attempt, matching spec.md §4.1.3.
type SealKind int

const (
	SealNone SealKind = iota
	SealRegular
	SealProposal
)

// SealResult is what Engine.GenerateSeal returns.
type SealResult struct {
	Kind   SealKind
	Fields [][]byte
}

// Engine is the consensus engine: verification rules, seal
// generation/validation and the address scheme are all external per
// spec.md §1 "out of scope"; only the operations the orchestrator calls
// are declared here.
type Engine interface {
	// SealsInternally is the tri-state contract of spec.md §4.1:
	// (true, true) = seals internally now; (true, false) = can seal
	// internally but not right now; (false, false) = never seals
	// internally (always needs external work).
	SealsInternally() (can bool, value bool)
	GenerateSeal(block *types.Block) SealResult
	VerifySeal(seal [][]byte) bool

	// MinTxGas is the minimum gas any transaction can consume; the block
	// preparer's early-exit (spec.md §4.1.2) uses it instead of a
	// hard-coded constant (SPEC_FULL.md §12, resolving spec.md's second
	// Open Question).
	MinTxGas() uint64
	// NonceCap bounds the nonce the block preparer will accept for any
	// account in the block numbered atBlock (the preparer passes the
	// current best number plus one), or returns (0, false) if this engine
	// applies no cap (SPEC_FULL.md §12's dust-protection supplement).
	NonceCap(atBlock uint64) (cap uint64, ok bool)
}
