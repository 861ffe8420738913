package txqueue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PendingTransactions returns every ready transaction whose Condition is
// satisfied at (blockNumber, blockTimestamp), in no particular cross-account
// order (callers that need price/nonce order should use TopTransactionsAt).
func (q *Queue) PendingTransactions(blockNumber, blockTimestamp uint64) []*types.Transaction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*types.Transaction
	for _, acc := range q.accounts {
		for _, e := range acc.readyRun() {
			if e.Condition.Satisfied(blockNumber, blockTimestamp) {
				out = append(out, e.Tx)
			}
		}
	}
	return out
}

// PendingHashes returns the hashes of every transaction PendingTransactions
// would return at the given block/timestamp. It is split out so callers
// that only need hashes (e.g. status RPCs) avoid copying full transactions.
func (q *Queue) PendingHashes(blockNumber, blockTimestamp uint64) []common.Hash {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []common.Hash
	for _, acc := range q.accounts {
		for _, e := range acc.readyRun() {
			if e.Condition.Satisfied(blockNumber, blockTimestamp) {
				out = append(out, e.Tx.Hash())
			}
		}
	}
	return out
}

// FutureTransactions returns every transaction that is not yet part of a
// contiguous nonce run from its account's base nonce.
func (q *Queue) FutureTransactions() []*types.Transaction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*types.Transaction
	for _, acc := range q.accounts {
		ready := make(map[uint64]bool)
		for _, e := range acc.readyRun() {
			ready[e.Tx.Nonce()] = true
		}
		for nonce, e := range acc.byNonce {
			if !ready[nonce] {
				out = append(out, e.Tx)
			}
		}
	}
	return out
}

// LocalTransactions returns every transaction admitted with Origin Local.
func (q *Queue) LocalTransactions() []*types.Transaction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*types.Transaction
	for _, e := range q.byHash {
		if e.Origin == Local {
			out = append(out, e.Tx)
		}
	}
	return out
}

// HasLocalPendingTransactions reports whether any ready transaction came
// from a local sender. The reseal policy (spec.md §4.1.1) uses this to
// decide whether to keep sealing alive even without external requests.
func (q *Queue) HasLocalPendingTransactions() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for addr, acc := range q.accounts {
		if !q.localSenders[addr] {
			continue
		}
		if len(acc.readyRun()) > 0 {
			return true
		}
	}
	return false
}

// Find looks a transaction up by hash.
func (q *Queue) Find(hash common.Hash) (*types.Transaction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.Tx, true
}

// LastNonce returns the highest nonce known for addr, whether ready or
// future, so RPC-style "next nonce" queries see in-flight transactions.
func (q *Queue) LastNonce(addr common.Address) (uint64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	acc, ok := q.accounts[addr]
	if !ok || len(acc.byNonce) == 0 {
		return 0, false
	}
	nonces := acc.sortedNonces()
	return nonces[len(nonces)-1], true
}

// Status reports queue occupancy.
func (q *Queue) Status() Status {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s Status
	for _, acc := range q.accounts {
		ready := len(acc.readyRun())
		s.Pending += ready
		s.Future += len(acc.byNonce) - ready
	}
	return s
}
