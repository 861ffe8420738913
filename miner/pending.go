package miner

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethcore-go/sealer/miner/txqueue"
)

// candidate returns the most recent closed candidate block, if its
// header number is newer than callerBestNumber (spec.md Invariant 4 /
// §6's "candidate.header.number > caller_best_block_number" check).
// Otherwise it returns (nil, false): the chain is strictly newer and any
// candidate on hand is stale.
func (m *Miner) candidate(callerBestNumber uint64) (ClosedBlock, bool) {
	m.sealing.mu.Lock()
	last, ok := m.sealing.queue.PeekLast()
	m.sealing.mu.Unlock()
	if !ok {
		return nil, false
	}
	block := last.(ClosedBlock)
	if block.Number() <= callerBestNumber {
		return nil, false
	}
	return block, true
}

// fromPendingBlock resolves a value against the candidate block when
// fresh, falling back to the chain otherwise (spec.md Invariant 4,
// adopted from the original's from_pending_block).
func fromPendingBlock[T any](m *Miner, callerBestNumber uint64, fromCandidate func(ClosedBlock) (T, bool), fromChain func() (T, error)) (T, error) {
	if block, ok := m.candidate(callerBestNumber); ok {
		if v, ok := fromCandidate(block); ok {
			return v, nil
		}
	}
	return fromChain()
}

// Balance answers a balance query under Invariant 4: pending-if-newer,
// else chain.
func (m *Miner) Balance(addr common.Address, callerBestNumber uint64) (*big.Int, error) {
	info := m.client.ChainInfo()
	return fromPendingBlock(m, callerBestNumber, func(block ClosedBlock) (*big.Int, bool) {
		return block.BalanceAt(addr)
	}, func() (*big.Int, error) {
		return m.client.BalanceAt(addr, info.BestHash)
	})
}

// Nonce answers a nonce query. When a candidate newer than
// callerBestNumber exists and the queue holds transactions for addr, the
// answer is one past the highest nonce the queue holds for addr (ready or
// future); it is not read from the candidate's own state. Otherwise it is
// the chain client's nonce at its latest block.
func (m *Miner) Nonce(addr common.Address, callerBestNumber uint64) (uint64, error) {
	info := m.client.ChainInfo()
	if block, ok := m.candidate(callerBestNumber); ok {
		if n, ok := m.txQueue.LastNonce(addr); ok {
			_ = block
			return n + 1, nil
		}
	}
	return m.client.NonceAt(addr, info.BestHash)
}

// StorageAt answers a storage query under Invariant 4.
func (m *Miner) StorageAt(addr common.Address, key common.Hash, callerBestNumber uint64) ([]byte, error) {
	info := m.client.ChainInfo()
	return fromPendingBlock(m, callerBestNumber, func(block ClosedBlock) ([]byte, bool) {
		return block.StorageAt(addr, key)
	}, func() ([]byte, error) {
		return m.client.StorageAt(addr, key, info.BestHash)
	})
}

// Code answers a code query under Invariant 4.
func (m *Miner) Code(addr common.Address, callerBestNumber uint64) ([]byte, error) {
	info := m.client.ChainInfo()
	return fromPendingBlock(m, callerBestNumber, func(block ClosedBlock) ([]byte, bool) {
		return block.CodeAt(addr)
	}, func() ([]byte, error) {
		return m.client.CodeAt(addr, info.BestHash)
	})
}

// PendingReceipts returns the candidate block's receipts if fresh,
// else the chain's receipts for its own latest block.
func (m *Miner) PendingReceipts(callerBestNumber uint64) ([]*types.Receipt, error) {
	info := m.client.ChainInfo()
	if block, ok := m.candidate(callerBestNumber); ok {
		return block.Receipts(), nil
	}
	return m.client.ReceiptsAt(info.BestHash)
}

// PendingReceipt returns a single receipt by transaction hash, searching
// the candidate first (if fresh) then the chain.
func (m *Miner) PendingReceipt(hash common.Hash, callerBestNumber uint64) (*types.Receipt, bool) {
	receipts, err := m.PendingReceipts(callerBestNumber)
	if err != nil {
		return nil, false
	}
	for _, r := range receipts {
		if r.TxHash == hash {
			return r, true
		}
	}
	return nil, false
}

// pendingSetTransactions implements the listing endpoints' common
// PendingSet-policy dispatch (spec.md §6).
func (m *Miner) pendingSetTransactions(blockNumber, blockTimestamp uint64) []*types.Transaction {
	switch m.options.PendingSet {
	case AlwaysSealing:
		if block, ok := m.candidate(blockNumber); ok {
			return block.Transactions()
		}
		return nil
	case SealingOrElseQueue:
		if block, ok := m.candidate(blockNumber); ok {
			return block.Transactions()
		}
		return m.txQueue.PendingTransactions(blockNumber, blockTimestamp)
	default: // AlwaysQueue
		return m.txQueue.PendingTransactions(blockNumber, blockTimestamp)
	}
}

// PendingTransactions implements spec.md §4.1 pending_transactions.
func (m *Miner) PendingTransactions(blockNumber, blockTimestamp uint64) []*types.Transaction {
	return m.pendingSetTransactions(blockNumber, blockTimestamp)
}

// ReadyTransactions implements spec.md §4.1 ready_transactions: the
// ordered sequence a block preparer would pull right now.
func (m *Miner) ReadyTransactions(bestBlock, bestTimestamp uint64) []*types.Transaction {
	return m.txQueue.TopTransactionsAt(bestBlock, bestTimestamp, nil)
}

// PendingTransactionsHashes implements spec.md §4.1 pending_transactions_hashes.
func (m *Miner) PendingTransactionsHashes(blockNumber, blockTimestamp uint64) []common.Hash {
	switch m.options.PendingSet {
	case AlwaysSealing, SealingOrElseQueue:
		if block, ok := m.candidate(blockNumber); ok {
			out := make([]common.Hash, len(block.Transactions()))
			for i, tx := range block.Transactions() {
				out[i] = tx.Hash()
			}
			return out
		}
		if m.options.PendingSet == AlwaysSealing {
			return nil
		}
	}
	return m.txQueue.PendingHashes(blockNumber, blockTimestamp)
}

// LocalTransactions implements spec.md §4.1 local_transactions.
func (m *Miner) LocalTransactions() []*types.Transaction { return m.txQueue.LocalTransactions() }

// FutureTransactions implements spec.md §4.1 future_transactions.
func (m *Miner) FutureTransactions() []*types.Transaction { return m.txQueue.FutureTransactions() }

// LastNonce implements spec.md §4.1 last_nonce.
func (m *Miner) LastNonce(addr common.Address) (uint64, bool) { return m.txQueue.LastNonce(addr) }

// TransactionByHash implements spec.md §4.1 transaction_by_hash, falling
// back to the chain client when the queue no longer has it.
func (m *Miner) TransactionByHash(hash common.Hash) (*types.Transaction, bool) {
	if tx, ok := m.txQueue.Find(hash); ok {
		return tx, true
	}
	return m.client.TransactionByHash(hash)
}

// Status implements spec.md §4.1 status.
func (m *Miner) Status() txqueue.Status { return m.txQueue.Status() }
