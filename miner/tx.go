package miner

import (
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethcore-go/sealer/miner/txqueue"
)

// PendingTransaction is a transaction submitted by import_own, optionally
// carrying an inclusion condition (spec.md §3 "Transaction ... A
// *pending transaction* additionally carries an optional *condition*").
type PendingTransaction struct {
	Transaction *types.Transaction
	Condition   *txqueue.Condition
}

// ImportResult re-exports the queue's result enum at the orchestrator
// boundary so callers of Miner don't need to import the txqueue package.
type ImportResult = txqueue.ImportResult

const (
	Current         = txqueue.Current
	Future          = txqueue.Future
	AlreadyImported = txqueue.AlreadyImported
	Replaced        = txqueue.Replaced
)

// nowFunc exists so tests can freeze time; production code always uses
// time.Now via this indirection.
var nowFunc = time.Now
