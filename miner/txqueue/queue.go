package txqueue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
)

// Per-cause counters mirroring the teacher's core/txpool admission
// metrics, renamed to this package's queue/reason vocabulary.
var (
	currentGauge = metrics.NewRegisteredGauge("txqueue/current", nil)
	futureGauge  = metrics.NewRegisteredGauge("txqueue/future", nil)

	replaceCounter     = metrics.NewRegisteredCounter("txqueue/replace", nil)
	underpricedCounter = metrics.NewRegisteredCounter("txqueue/underpriced", nil)
	limitReachedCounter = metrics.NewRegisteredCounter("txqueue/limitreached", nil)
	bannedCounter      = metrics.NewRegisteredCounter("txqueue/banned", nil)
	invalidCounter     = metrics.NewRegisteredCounter("txqueue/invalid", nil)
)

// Strategy selects how top_transactions_at orders candidates across
// accounts. GasPriceOnly ranks purely by gas price; GasFactorAndGasPrice
// additionally rewards transactions that consume less of the queue's
// total gas budget (a cheap anti-spam nudge), matching spec.md §6's
// tx_queue_strategy enum.
type Strategy int

const (
	GasPriceOnly Strategy = iota
	GasFactorAndGasPrice
)

var (
	ErrAlreadyImported    = errors.New("txqueue: already imported")
	ErrReplaceUnderpriced = errors.New("txqueue: replacement transaction underpriced")
	ErrInsufficientGas    = errors.New("txqueue: gas price below minimum")
	ErrInsufficientBalance = errors.New("txqueue: insufficient balance")
	ErrInvalidNonce       = errors.New("txqueue: nonce too low")
	ErrGasLimitExceeded   = errors.New("txqueue: transaction gas above tx_gas_limit")
	ErrBanned             = errors.New("txqueue: sender or recipient is banned")
	ErrLimitReached       = errors.New("txqueue: queue is full")
	ErrNotAllowed         = errors.New("txqueue: zero gas price transaction rejected by service-transaction policy")
)

// GasLimitMode mirrors spec.md §6 GasLimit.
type GasLimitMode int

const (
	GasLimitAuto GasLimitMode = iota
	GasLimitNone
	GasLimitFixed
)

type account struct {
	baseNonce uint64
	balance   *uint256.Int
	byNonce   map[uint64]*Entry
}

func newAccount() *account {
	return &account{byNonce: make(map[uint64]*Entry), balance: new(uint256.Int)}
}

// sortedNonces returns the account's known nonces in ascending order.
func (a *account) sortedNonces() []uint64 {
	out := make([]uint64, 0, len(a.byNonce))
	for n := range a.byNonce {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// readyRun returns the contiguous prefix of transactions starting at
// baseNonce — the "current" (ready) transactions for this account.
func (a *account) readyRun() []*Entry {
	var out []*Entry
	n := a.baseNonce
	for {
		e, ok := a.byNonce[n]
		if !ok {
			break
		}
		out = append(out, e)
		n++
	}
	return out
}

// Queue is the transaction-queue façade. All exported methods are
// thread-safe and individually take the queue's single read/write lock;
// per spec.md Invariant 1, callers (the miner orchestrator) are
// responsible for never holding it across acquisition of the
// sealing-work lock.
type Queue struct {
	mu sync.RWMutex

	signer types.Signer

	byHash   map[common.Hash]*Entry
	accounts map[common.Address]*account

	minimalGasPrice *uint256.Int
	gasLimit        uint64 // current block gas limit, refreshed per head
	totalGasLimitMode GasLimitMode
	totalGasLimit   uint64
	limit           int
	txGasLimit      uint64
	strategy        Strategy

	banning *banList

	localSenders map[common.Address]bool
}

// Config seeds a Queue's initial tunables.
type Config struct {
	Signer          types.Signer
	MinimalGasPrice *uint256.Int
	Limit           int
	TxGasLimit      uint64
	Strategy        Strategy
	Banning         BanningConfig
}

func New(cfg Config) *Queue {
	minGasPrice := cfg.MinimalGasPrice
	if minGasPrice == nil {
		minGasPrice = new(uint256.Int)
	}
	return &Queue{
		signer:          cfg.Signer,
		byHash:          make(map[common.Hash]*Entry),
		accounts:        make(map[common.Address]*account),
		minimalGasPrice: minGasPrice,
		limit:           cfg.Limit,
		txGasLimit:      cfg.TxGasLimit,
		strategy:        cfg.Strategy,
		banning:         newBanList(cfg.Banning),
		localSenders:    make(map[common.Address]bool),
	}
}

// Add admits tx into the queue under the given origin. Local and
// RetractedBlock transactions bypass the gas-price floor and the ban
// list (spec.md §3 "Transaction origin").
func (q *Queue) Add(tx *types.Transaction, origin Origin, insertedAt time.Time, cond *Condition, details DetailsProvider) (ImportResult, error) {
	sender, err := types.Sender(q.signer, tx)
	if err != nil {
		return 0, err
	}

	q.mu.RLock()
	_, duplicate := q.byHash[tx.Hash()]
	q.mu.RUnlock()
	if duplicate {
		return AlreadyImported, ErrAlreadyImported
	}

	if origin != Local && origin != RetractedBlock {
		if err := q.admissionChecks(tx, sender, details); err != nil {
			if err == ErrBanned {
				bannedCounter.Inc(1)
			} else if err == ErrInsufficientGas {
				underpricedCounter.Inc(1)
			}
			return 0, err
		}
	}

	if tx.Gas() > q.txGasLimitSnapshot() {
		return 0, ErrGasLimitExceeded
	}

	snap, _ := details.FetchAccount(sender)

	q.mu.Lock()
	defer q.mu.Unlock()

	if origin == Local {
		q.localSenders[sender] = true
	}

	if tx.Nonce() < snap.Nonce {
		return 0, ErrInvalidNonce
	}

	acc, ok := q.accounts[sender]
	if !ok {
		acc = newAccount()
		q.accounts[sender] = acc
	}
	acc.baseNonce = snap.Nonce
	if snap.Balance != nil {
		acc.balance = snap.Balance
	}

	replaced := false
	if existing, exists := acc.byNonce[tx.Nonce()]; exists {
		if tx.GasPrice().Cmp(existing.Tx.GasPrice()) <= 0 {
			underpricedCounter.Inc(1)
			return 0, ErrReplaceUnderpriced
		}
		delete(q.byHash, existing.Tx.Hash())
		replaceCounter.Inc(1)
		replaced = true
	}

	if q.limit > 0 && len(q.byHash) >= q.limit {
		if dropped := q.evictCheapest(tx); !dropped {
			limitReachedCounter.Inc(1)
			return 0, ErrLimitReached
		}
	}

	entry := &Entry{Tx: tx, Sender: sender, Origin: origin, Condition: cond, InsertedAt: insertedAt}
	acc.byNonce[tx.Nonce()] = entry
	q.byHash[tx.Hash()] = entry

	if tx.Nonce() == acc.baseNonce || q.isContiguous(acc, tx.Nonce()) {
		currentGauge.Inc(1)
		if replaced {
			return Replaced, nil
		}
		return Current, nil
	}
	futureGauge.Inc(1)
	if replaced {
		return Replaced, nil
	}
	return Future, nil
}

func (q *Queue) admissionChecks(tx *types.Transaction, sender common.Address, details DetailsProvider) error {
	if tx.GasPrice().Sign() == 0 {
		if !details.IsServiceTransactionAcceptable(tx) {
			return ErrNotAllowed
		}
	} else {
		q.mu.RLock()
		floor := q.minimalGasPrice
		q.mu.RUnlock()
		if tx.GasPrice().Cmp(floor.ToBig()) < 0 {
			return ErrInsufficientGas
		}
	}
	if q.banning.isBanned(sender) {
		return ErrBanned
	}
	if to := tx.To(); to != nil && q.banning.isBanned(*to) {
		return ErrBanned
	}
	return nil
}

func (q *Queue) txGasLimitSnapshot() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.txGasLimit
}

// isContiguous reports whether nonce completes a contiguous run back to
// acc.baseNonce. Caller holds q.mu.
func (q *Queue) isContiguous(acc *account, nonce uint64) bool {
	for n := acc.baseNonce; n < nonce; n++ {
		if _, ok := acc.byNonce[n]; !ok {
			return false
		}
	}
	return true
}

// evictCheapest drops the globally cheapest future (non-ready) entry if
// it is cheaper than tx, making room for it. Caller holds q.mu for
// writing (it is called from within Add's critical section), so it must
// not re-lock.
func (q *Queue) evictCheapest(tx *types.Transaction) bool {
	var (
		cheapestHash common.Hash
		cheapestAddr common.Address
		cheapestNonce uint64
		cheapestPrice *uint256.Int
		found bool
	)
	for addr, acc := range q.accounts {
		ready := make(map[uint64]bool)
		for _, e := range acc.readyRun() {
			ready[e.Tx.Nonce()] = true
		}
		for nonce, e := range acc.byNonce {
			if ready[nonce] {
				continue // never evict ready transactions to make room for a new one
			}
			price, _ := uint256.FromBig(e.Tx.GasPrice())
			if !found || price.Cmp(cheapestPrice) < 0 {
				found = true
				cheapestPrice = price
				cheapestHash = e.Tx.Hash()
				cheapestAddr = addr
				cheapestNonce = nonce
			}
		}
	}
	if !found {
		return false
	}
	newPrice, _ := uint256.FromBig(tx.GasPrice())
	if newPrice.Cmp(cheapestPrice) <= 0 {
		return false
	}
	delete(q.byHash, cheapestHash)
	delete(q.accounts[cheapestAddr].byNonce, cheapestNonce)
	return true
}

// Ban marks hash's sender (and recipient, for calls) as having offended
// once; it returns true iff this offense crossed the ban threshold.
func (q *Queue) Ban(hash common.Hash) bool {
	q.mu.RLock()
	entry, ok := q.byHash[hash]
	q.mu.RUnlock()
	if !ok {
		return false
	}
	reached := q.banning.offend(entry.Sender)
	if to := entry.Tx.To(); to != nil {
		if q.banning.offend(*to) {
			reached = true
		}
	}
	return reached
}

// Penalize records a lightweight offense against hash's sender without
// necessarily triggering a ban.
func (q *Queue) Penalize(hash common.Hash) {
	q.mu.RLock()
	entry, ok := q.byHash[hash]
	q.mu.RUnlock()
	if !ok {
		return
	}
	q.banning.offend(entry.Sender)
}

// NonceOracle resolves an address's latest canonical nonce, used by
// Remove(Invalid) to reset the sender's base nonce.
type NonceOracle func(addr common.Address) uint64

// Remove deletes hash from the queue, citing reason.
func (q *Queue) Remove(hash common.Hash, nonceOracle NonceOracle, reason RemovalReason) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.byHash[hash]
	if !ok {
		return nil, false
	}
	delete(q.byHash, hash)
	if acc, ok := q.accounts[entry.Sender]; ok {
		delete(acc.byNonce, entry.Tx.Nonce())
		if nonceOracle != nil && reason == Invalid {
			acc.baseNonce = nonceOracle(entry.Sender)
		}
		if len(acc.byNonce) == 0 {
			delete(q.accounts, entry.Sender)
		}
	}
	if reason == Invalid {
		invalidCounter.Inc(1)
	}
	currentGauge.Update(int64(q.countReadyLocked()))
	log.Debug("Removed transaction from queue", "hash", hash, "reason", reason.String())
	return entry, true
}

// AccountOracle resolves an address's latest (nonce, balance) snapshot,
// used by RemoveOld to age the queue against the canonical chain.
type AccountOracle func(addr common.Address) (AccountSnapshot, error)

// RemoveOld drops transactions that are stale relative to the chain's
// current account state: nonce below the account's canonical nonce, or
// cost exceeding its balance.
func (q *Queue) RemoveOld(oracle AccountOracle, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for addr, acc := range q.accounts {
		snap, err := oracle(addr)
		if err != nil {
			continue
		}
		acc.baseNonce = snap.Nonce
		acc.balance = snap.Balance
		for nonce, e := range acc.byNonce {
			if nonce < snap.Nonce {
				delete(acc.byNonce, nonce)
				delete(q.byHash, e.Tx.Hash())
				continue
			}
			cost := txCost(e.Tx)
			if snap.Balance != nil && cost.Cmp(snap.Balance) > 0 {
				delete(acc.byNonce, nonce)
				delete(q.byHash, e.Tx.Hash())
			}
		}
		if len(acc.byNonce) == 0 {
			delete(q.accounts, addr)
		}
	}
	currentGauge.Update(int64(q.countReadyLocked()))
}

// countReadyLocked recomputes the ready-transaction count. Caller holds
// q.mu for writing.
func (q *Queue) countReadyLocked() int {
	n := 0
	for _, acc := range q.accounts {
		n += len(acc.readyRun())
	}
	return n
}

func txCost(tx *types.Transaction) *uint256.Int {
	gas, _ := uint256.FromBig(tx.GasPrice())
	gas = new(uint256.Int).Mul(gas, uint256.NewInt(tx.Gas()))
	value, _ := uint256.FromBig(tx.Value())
	return new(uint256.Int).Add(gas, value)
}

// TopTransactionsAt returns the ordered sequence of ready transactions
// the block preparer should attempt to push, honoring each account's
// optional nonceCap (spec.md §4.1.2's dust-protection cap) and each
// transaction's Condition (spec.md §4.2).
func (q *Queue) TopTransactionsAt(blockNumber, blockTimestamp uint64, nonceCap *uint256.Int) []*types.Transaction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var candidates []*Entry
	for _, acc := range q.accounts {
		for _, e := range acc.readyRun() {
			if nonceCap != nil && uint256.NewInt(e.Tx.Nonce()).Cmp(nonceCap) > 0 {
				break
			}
			if !e.Condition.Satisfied(blockNumber, blockTimestamp) {
				continue
			}
			candidates = append(candidates, e)
		}
	}
	sortByStrategy(candidates, q.strategy)

	out := make([]*types.Transaction, len(candidates))
	for i, e := range candidates {
		out[i] = e.Tx
	}
	return out
}

func sortByStrategy(entries []*Entry, strategy Strategy) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].Tx.GasPrice(), entries[j].Tx.GasPrice()
		if strategy == GasFactorAndGasPrice {
			ui, _ := uint256.FromBig(pi)
			uj, _ := uint256.FromBig(pj)
			fi := new(uint256.Int).Div(ui, uint256.NewInt(entries[i].Tx.Gas()+1))
			fj := new(uint256.Int).Div(uj, uint256.NewInt(entries[j].Tx.Gas()+1))
			if fi.Cmp(fj) != 0 {
				return fi.Cmp(fj) > 0
			}
		}
		return pi.Cmp(pj) > 0
	})
}
