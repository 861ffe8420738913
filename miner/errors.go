package miner

import "errors"

// Sentinel errors surfaced by the orchestrator (spec.md §7).
var (
	ErrPowHashInvalid = errors.New("miner: no candidate block for the submitted hash")
	ErrPowInvalid     = errors.New("miner: engine rejected the submitted seal")
)

// BlockGasLimitReachedError is returned by OpenBlock.PushTransaction when
// a transaction would exceed the block's remaining gas (spec.md §7
// Execution/BlockGasLimitReached).
type BlockGasLimitReachedError struct {
	GasLimit uint64
	GasUsed  uint64
	Gas      uint64
}

func (e *BlockGasLimitReachedError) Error() string {
	return "miner: block gas limit reached"
}

// InvalidNonceError is returned by OpenBlock.PushTransaction when a
// transaction's nonce does not match the block-in-progress state
// (spec.md §7 Execution/InvalidNonce). This only arises as a follow-on
// of a prior gas-limit skip and self-heals on the next block.
type InvalidNonceError struct {
	Expected uint64
	Got      uint64
}

func (e *InvalidNonceError) Error() string {
	return "miner: invalid nonce"
}

// ErrAlreadyImported is returned by OpenBlock.PushTransaction for a
// transaction already present in the block (spec.md §7
// Transaction/AlreadyImported): idempotent, not logged as an error.
var ErrAlreadyImported = errors.New("miner: transaction already imported")
