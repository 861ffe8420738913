package txqueue

import "github.com/holiman/uint256"

// SetGasLimit records the current block gas limit. Called on every chain
// extension. The value is only stored and reported by GasLimit; Add does
// not check transactions against it (the per-transaction ceiling is
// TxGasLimit).
func (q *Queue) SetGasLimit(limit uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gasLimit = limit
}

func (q *Queue) GasLimit() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.gasLimit
}

// SetTotalGasLimit records the aggregate gas budget for the queue (spec.md
// §6 GasLimit.Auto/Fixed). The value is only stored and reported by
// TotalGasLimit: Add does not sum queued gas or reject transactions
// against it, so admission is bounded by the transaction-count limit and
// the per-transaction TxGasLimit only.
func (q *Queue) SetTotalGasLimit(limit uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.totalGasLimit = limit
}

func (q *Queue) TotalGasLimit() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.totalGasLimit
}

// SetMinimalGasPrice sets the External-origin admission floor. Invoked
// by the gas pricer (spec.md §4.4) whenever it recalibrates.
func (q *Queue) SetMinimalGasPrice(price *uint256.Int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.minimalGasPrice = price
}

func (q *Queue) MinimalGasPrice() *uint256.Int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.minimalGasPrice
}

// SetLimit sets the maximum number of transactions the queue will hold.
func (q *Queue) SetLimit(limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limit = limit
}

func (q *Queue) Limit() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.limit
}

// SetTxGasLimit sets the per-transaction gas ceiling (spec.md §6
// tx_gas_limit).
func (q *Queue) SetTxGasLimit(limit uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.txGasLimit = limit
}

func (q *Queue) TxGasLimit() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.txGasLimit
}
