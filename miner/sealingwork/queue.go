// Package sealingwork implements the bounded history of closed candidate
// blocks the miner hands out to external workers, grounded on Parity's
// UsingQueue (ethcore/src/miner/miner.rs's `sealing_work.queue` field).
package sealingwork

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Block is the minimal view the sealing-work queue needs of a closed
// candidate block: enough to match seal submissions and notify workers.
// The miner package supplies the concrete block type.
type Block interface {
	Hash() common.Hash
	ParentHash() common.Hash
}

type item struct {
	block  Block
	inUse  bool
}

// Queue is a bounded, ordered history of recently prepared candidate
// blocks plus an "in-use" flag per entry (spec.md §3 "Sealing-work
// queue"). It is not safe to share a *Block across Queue.Push calls: a
// block handed to Push is owned by the Queue until it is popped or
// cloned back out (spec.md §9 "Candidate-block ownership").
type Queue struct {
	mu      sync.Mutex
	items   []item
	maxSize int
}

func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Queue{maxSize: maxSize}
}

// Push appends block to the history, evicting the oldest entry if the
// queue is at capacity.
func (q *Queue) Push(block Block) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item{block: block})
	if len(q.items) > q.maxSize {
		q.items = q.items[len(q.items)-q.maxSize:]
	}
}

// PeekLast returns the most recently pushed block, if any.
func (q *Queue) PeekLast() (Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[len(q.items)-1].block, true
}

// PopIf removes and returns the most recently pushed block if pred
// accepts its parent hash. Used by the block preparer to decide whether
// an existing candidate can be reopened (spec.md §4.1.2).
func (q *Queue) PopIf(pred func(parentHash common.Hash) bool) (Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	last := q.items[len(q.items)-1]
	if !pred(last.block.ParentHash()) {
		return nil, false
	}
	q.items = q.items[:len(q.items)-1]
	return last.block, true
}

// Action selects whether GetUsedIf removes the matched entry or leaves
// it in place for a later resubmission.
type Action int

const (
	Take Action = iota
	Clone
)

// GetUsedIf returns the block matching pred, if it has been marked
// in-use. action Take removes it from the queue; Clone leaves it so a
// second submission can still find it (spec.md §4.1 submit_seal,
// enable_resubmission).
func (q *Queue) GetUsedIf(pred func(b Block) bool, action Action) (Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.items) - 1; i >= 0; i-- {
		it := q.items[i]
		if !it.inUse || !pred(it.block) {
			continue
		}
		if action == Take {
			q.items = append(q.items[:i], q.items[i+1:]...)
		}
		return it.block, true
	}
	return nil, false
}

// MarkLastInUse flags the most recently pushed block as having been
// observed by an external worker.
func (q *Queue) MarkLastInUse() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items[len(q.items)-1].inUse = true
}

// IsAnythingInUse reports whether any entry has been handed out.
func (q *Queue) IsAnythingInUse() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.inUse {
			return true
		}
	}
	return false
}

// Reset discards the entire history, used when sealing disables itself
// (spec.md §4.1.1).
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Len reports the number of blocks currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
