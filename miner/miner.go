// Package miner implements the block-production orchestrator: it
// coordinates the transaction queue and the sealing-work queue under
// concurrent external events while enforcing the lock order of spec.md
// Invariant 1 (tx_queue → sealing_work → everything else).
package miner

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethcore-go/sealer/miner/gasprice"
	"github.com/ethcore-go/sealer/miner/sealingwork"
	"github.com/ethcore-go/sealer/miner/servicetx"
	"github.com/ethcore-go/sealer/miner/txqueue"
	"github.com/ethcore-go/sealer/miner/worknotify"
)

// sealingState is the sealing-work queue plus its enabled flag, guarded
// by a single exclusive mutex (spec.md §3 "Miner state", §5
// "sealing_work: exclusive mutex").
type sealingState struct {
	mu      sync.Mutex
	enabled bool
	queue   *sealingwork.Queue
}

// Miner is the process-wide orchestrator singleton described by spec.md
// §3. Every exported method acquires the locks it needs in the fixed
// order tx_queue → sealing_work → other. Block preparation, sealing and
// import call the chain client and the engine with both locks released.
// Two kinds of call do run under a lock: the queue's Remove and RemoveOld
// invoke their chain-backed nonce/account oracles while holding the
// tx_queue write lock, and requiresReseal asks the engine's
// SealsInternally while holding sealing_work.
type Miner struct {
	txQueue *txqueue.Queue

	sealing sealingState

	nextAllowedResealMu sync.Mutex
	nextAllowedReseal   time.Time

	nextMandatoryResealMu sync.RWMutex
	nextMandatoryReseal   time.Time

	sealingBlockLastRequestMu sync.Mutex
	sealingBlockLastRequest   uint64

	fieldsMu  sync.RWMutex
	author    common.Address
	extraData []byte
	gasFloor  uint64
	gasCeil   uint64

	notifiersMu sync.RWMutex
	notifiers   []worknotify.Notifier

	// pendingBlockFeed broadcasts each freshly closed candidate that
	// prepareWork adds to the sealing-work history to in-process
	// subscribers (e.g. a local RPC layer caching the pending block),
	// distinct from the out-of-process worknotify posters. Blocks handled
	// by internal sealing are not sent.
	pendingBlockFeed event.Feed

	gasPricer   *gasprice.Pricer
	serviceTx   *servicetx.Policy
	options     Options
	engine      Engine
	client      ChainClient
}

// New builds a Miner wired to client and engine. options.NewWorkNotifyURLs
// is wrapped in worknotify.Dedup posters (spec.md §6 "at most once per
// distinct pow_hash").
func New(client ChainClient, engine Engine, signer types.Signer, pricer *gasprice.Pricer, serviceTx *servicetx.Policy, options Options) *Miner {
	notifiers := make([]worknotify.Notifier, 0, len(options.NewWorkNotifyURLs))
	for _, url := range options.NewWorkNotifyURLs {
		notifiers = append(notifiers, worknotify.NewDedup(worknotify.NewPoster(url)))
	}

	m := &Miner{
		txQueue: txqueue.New(txqueue.Config{
			Signer:          signer,
			MinimalGasPrice: pricer.Current(),
			Limit:           options.TxQueueSize,
			TxGasLimit:      options.TxGasLimit,
			Strategy:        options.TxQueueStrategy,
			Banning:         options.TxQueueBanning,
		}),
		sealing: sealingState{
			queue: sealingwork.New(options.WorkQueueSize),
		},
		nextMandatoryReseal: time.Now().Add(options.ResealMaxPeriod),
		gasPricer:           pricer,
		serviceTx:           serviceTx,
		options:             options,
		engine:              engine,
		client:              client,
		notifiers:           notifiers,
	}
	m.sealing.enabled = engineCanSealInternally(engine) || options.ForceSealing || len(notifiers) > 0
	return m
}

func engineCanSealInternally(engine Engine) bool {
	can, _ := engine.SealsInternally()
	return can
}

// SetAuthor updates the author (coinbase) future candidate blocks are
// built with (SPEC_FULL.md §12, adopted from the original's set_author).
func (m *Miner) SetAuthor(addr common.Address) {
	m.fieldsMu.Lock()
	defer m.fieldsMu.Unlock()
	m.author = addr
}

// SetExtraData updates the extra-data field future candidates carry.
func (m *Miner) SetExtraData(data []byte) {
	m.fieldsMu.Lock()
	defer m.fieldsMu.Unlock()
	m.extraData = data
}

// SetGasRangeTarget updates the (floor, ceil) gas target applied to
// future candidates.
func (m *Miner) SetGasRangeTarget(floor, ceil uint64) {
	m.fieldsMu.Lock()
	defer m.fieldsMu.Unlock()
	m.gasFloor, m.gasCeil = floor, ceil
}

// SetMinimalGasPrice forwards a floor directly to the transaction queue,
// bypassing the gas pricer (SPEC_FULL.md §12).
func (m *Miner) SetMinimalGasPrice(price *uint256.Int) {
	m.txQueue.SetMinimalGasPrice(price)
}

func (m *Miner) headerTarget() (author common.Address, extraData []byte, gasRange GasRange) {
	m.fieldsMu.RLock()
	defer m.fieldsMu.RUnlock()
	return m.author, m.extraData, GasRange{Floor: m.gasFloor, Ceil: m.gasCeil}
}

// ImportExternal verifies and admits externally received transactions
// (spec.md §4.1 import_external). Open question preserved verbatim
// (spec.md §9): a reseal is triggered whenever results is non-empty,
// regardless of whether any individual import actually succeeded.
func (m *Miner) ImportExternal(txs []*types.Transaction) []error {
	results := make([]error, len(txs))
	anySucceeded := false
	for i, tx := range txs {
		_, err := m.txQueue.Add(tx, txqueue.External, nowFunc(), nil, m)
		results[i] = err
		if err == nil {
			anySucceeded = true
		}
	}
	_ = anySucceeded // preserved intentionally unused: see doc comment above

	if len(results) == 0 {
		return results
	}
	if m.options.ResealOnExternalTx && m.txResealAllowed() {
		m.UpdateSealing()
	}
	return results
}

// ImportOwn admits a locally originated transaction (spec.md §4.1
// import_own). Local transactions bypass the gas-price floor and ban
// list.
func (m *Miner) ImportOwn(ptx PendingTransaction) (ImportResult, error) {
	result, err := m.txQueue.Add(ptx.Transaction, txqueue.Local, nowFunc(), ptx.Condition, m)
	if err != nil {
		return result, err
	}

	if m.options.ResealOnOwnTx && m.txResealAllowed() {
		if can, _ := m.engine.SealsInternally(); can {
			m.UpdateSealing()
		} else {
			m.prepareWorkSealingIfAbsent()
		}
	}
	return result, nil
}

// prepareWorkSealingIfAbsent runs prepare-work-sealing only if no
// candidate currently exists (spec.md §4.1 import_own, branch (b)
// "lazily").
func (m *Miner) prepareWorkSealingIfAbsent() {
	m.sealing.mu.Lock()
	_, exists := m.sealing.queue.PeekLast()
	m.sealing.mu.Unlock()
	if !exists {
		m.PrepareWorkSealing()
	}
}

// ChainNewBlocks reacts to a chain-extension notification (spec.md §4.1
// chain_new_blocks). imported and invalid are informational only.
func (m *Miner) ChainNewBlocks(enacted, retracted []*types.Block, imported, invalid []common.Hash) {
	info := m.client.ChainInfo()
	m.txQueue.SetGasLimit(info.BestGasLimit)
	if m.options.TxQueueGasLimit == txqueue.GasLimitAuto {
		m.txQueue.SetTotalGasLimit(info.BestGasLimit * 20)
	}

	m.gasPricer.Recalibrate(m.txQueue.SetMinimalGasPrice)

	for _, block := range retracted {
		for _, tx := range block.Transactions() {
			if _, err := m.txQueue.Add(tx, txqueue.RetractedBlock, nowFunc(), nil, m); err != nil {
				log.Debug("Failed to reinject retracted transaction", "hash", tx.Hash(), "err", err)
			}
		}
	}

	m.txQueue.RemoveOld(func(addr common.Address) (txqueue.AccountSnapshot, error) {
		return m.fetchAccountSnapshot(addr, info.BestHash)
	}, nowFunc())

	if len(enacted) > 0 {
		m.UpdateSealing()
	}

	_ = imported
	_ = invalid
}

// RemovePendingTransaction removes hash from the queue, citing
// Canceled, and returns the prior entry if any existed (spec.md §4.1
// remove_pending_transaction).
func (m *Miner) RemovePendingTransaction(hash common.Hash) (*types.Transaction, bool) {
	entry, ok := m.txQueue.Remove(hash, func(addr common.Address) uint64 {
		return m.client.LatestNonce(addr)
	}, txqueue.Canceled)
	if !ok {
		return nil, false
	}
	return entry.Tx, true
}

// --- txqueue.DetailsProvider ---

func (m *Miner) FetchAccount(addr common.Address) (txqueue.AccountSnapshot, error) {
	return m.fetchAccountSnapshot(addr, m.client.ChainInfo().BestHash)
}

func (m *Miner) fetchAccountSnapshot(addr common.Address, blockHash common.Hash) (txqueue.AccountSnapshot, error) {
	nonce, err := m.client.NonceAt(addr, blockHash)
	if err != nil {
		return txqueue.AccountSnapshot{}, err
	}
	balance, err := m.client.BalanceAt(addr, blockHash)
	if err != nil {
		return txqueue.AccountSnapshot{}, err
	}
	bal, _ := uint256.FromBig(balance)
	return txqueue.AccountSnapshot{Nonce: nonce, Balance: bal}, nil
}

func (m *Miner) EstimateGasRequired(tx *types.Transaction) (uint64, error) {
	return tx.Gas(), nil
}

// SubscribePendingBlock registers ch to receive each freshly closed
// candidate block that prepareWork publishes as work; blocks handled by
// internal sealing are not sent. The returned subscription must be
// closed by the caller when done.
func (m *Miner) SubscribePendingBlock(ch chan<- *types.Block) event.Subscription {
	return m.pendingBlockFeed.Subscribe(ch)
}

func (m *Miner) IsServiceTransactionAcceptable(tx *types.Transaction) bool {
	if m.options.RefuseServiceTx || m.serviceTx == nil {
		return false
	}
	return m.serviceTx.IsServiceTransactionAcceptable(tx)
}
