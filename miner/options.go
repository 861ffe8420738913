package miner

import (
	"time"

	"github.com/ethcore-go/sealer/miner/txqueue"
)

// PendingSet configures how the transaction-listing endpoints answer
// (spec.md §6).
type PendingSet int

const (
	AlwaysQueue PendingSet = iota
	AlwaysSealing
	SealingOrElseQueue
)

// Options mirrors spec.md §6 MinerOptions.
type Options struct {
	ForceSealing       bool
	ResealOnExternalTx bool
	ResealOnOwnTx      bool
	ResealMinPeriod    time.Duration
	ResealMaxPeriod    time.Duration
	TxGasLimit         uint64
	TxQueueSize        int
	TxQueueStrategy    txqueue.Strategy
	PendingSet         PendingSet
	WorkQueueSize      int
	EnableResubmission bool
	TxQueueGasLimit    txqueue.GasLimitMode
	TxQueueBanning     txqueue.BanningConfig
	RefuseServiceTx    bool
	NewWorkNotifyURLs  []string
}

// DefaultOptions matches the Rust original's `Default` impl for
// MinerOptions (ethcore/src/miner/miner.rs).
func DefaultOptions() Options {
	return Options{
		ForceSealing:       false,
		ResealOnExternalTx: false,
		ResealOnOwnTx:      true,
		ResealMinPeriod:    2 * time.Second,
		ResealMaxPeriod:    120 * time.Second,
		TxGasLimit:         ^uint64(0),
		TxQueueSize:        1024,
		TxQueueStrategy:    txqueue.GasPriceOnly,
		PendingSet:         AlwaysQueue,
		WorkQueueSize:      20,
		EnableResubmission: true,
		TxQueueGasLimit:    txqueue.GasLimitAuto,
		TxQueueBanning:     txqueue.BanningConfig{Mode: txqueue.BanningDisabled},
		RefuseServiceTx:    false,
	}
}

// SEALING_TIMEOUT_IN_BLOCKS (spec.md §3 Invariant 3, §4.1.1): a work
// request is considered abandoned once no external worker has asked for
// work within this many chain extensions.
const SealingTimeoutInBlocks uint64 = 5
