// Package txqueue implements the transaction-queue façade the miner
// orchestrator drives: admission, banning, price/nonce ordering and
// removal. The internal ordering algorithm is treated as an
// implementation detail behind the operations in this package: callers
// never see more than Add/Ban/Penalize/Remove/RemoveOld/TopTransactionsAt
// and the read-only listings.
package txqueue

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Origin classifies how a transaction entered the queue. Local and
// RetractedBlock transactions bypass the gas-price floor and the ban
// list; External transactions are subject to both.
type Origin int

const (
	External Origin = iota
	Local
	RetractedBlock
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case RetractedBlock:
		return "retracted"
	default:
		return "external"
	}
}

// Condition gates inclusion of a pending transaction on either a block
// number or a timestamp floor, never both.
type Condition struct {
	Block     uint64     // zero means "no block condition"
	Timestamp *time.Time // nil means "no timestamp condition"
}

// Satisfied reports whether the condition admits inclusion at the given
// block number / timestamp.
func (c *Condition) Satisfied(blockNumber uint64, blockTime uint64) bool {
	if c == nil {
		return true
	}
	if c.Block != 0 && blockNumber < c.Block {
		return false
	}
	if c.Timestamp != nil && int64(blockTime) < c.Timestamp.Unix() {
		return false
	}
	return true
}

// ImportResult is the outcome of Add. AlreadyImported is returned
// together with ErrAlreadyImported; with any other error the result
// carries no meaning.
type ImportResult int

const (
	Current ImportResult = iota
	Future
	AlreadyImported
	Replaced
)

func (r ImportResult) String() string {
	switch r {
	case Current:
		return "current"
	case Future:
		return "future"
	case AlreadyImported:
		return "already imported"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// RemovalReason explains why a transaction left the queue.
type RemovalReason int

const (
	Invalid RemovalReason = iota
	Canceled
	Included
)

func (r RemovalReason) String() string {
	switch r {
	case Invalid:
		return "invalid"
	case Canceled:
		return "canceled"
	case Included:
		return "included"
	default:
		return "unknown"
	}
}

// AccountSnapshot is a (nonce, balance) pair obtained from the chain
// client at its latest block.
type AccountSnapshot struct {
	Nonce   uint64
	Balance *uint256.Int
}

// DetailsProvider is consulted by the queue during admission. It is
// supplied by the orchestrator and backed by the chain client.
type DetailsProvider interface {
	FetchAccount(addr common.Address) (AccountSnapshot, error)
	EstimateGasRequired(tx *types.Transaction) (uint64, error)
	IsServiceTransactionAcceptable(tx *types.Transaction) bool
}

// Status summarizes queue occupancy.
type Status struct {
	Pending int
	Future  int
}

// Entry is a transaction plus the metadata the queue tracks about it.
type Entry struct {
	Tx         *types.Transaction
	Sender     common.Address
	Origin     Origin
	Condition  *Condition
	InsertedAt time.Time
}
