package sealingwork

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeBlock struct {
	hash, parent common.Hash
}

func (b fakeBlock) Hash() common.Hash       { return b.hash }
func (b fakeBlock) ParentHash() common.Hash { return b.parent }

func TestPushEvictsOldestBeyondMaxSize(t *testing.T) {
	q := New(2)
	q.Push(fakeBlock{hash: common.Hash{1}})
	q.Push(fakeBlock{hash: common.Hash{2}})
	q.Push(fakeBlock{hash: common.Hash{3}})

	if q.Len() != 2 {
		t.Fatalf("expected queue bounded to 2 entries, got %d", q.Len())
	}
	last, ok := q.PeekLast()
	if !ok || last.Hash() != (common.Hash{3}) {
		t.Fatalf("expected the most recent block to survive eviction")
	}
}

func TestPopIfMatchesParentHash(t *testing.T) {
	q := New(4)
	q.Push(fakeBlock{hash: common.Hash{1}, parent: common.Hash{0}})

	if _, ok := q.PopIf(func(parent common.Hash) bool { return parent == (common.Hash{9}) }); ok {
		t.Fatalf("expected PopIf to reject a non-matching parent hash")
	}
	block, ok := q.PopIf(func(parent common.Hash) bool { return parent == (common.Hash{0}) })
	if !ok || block.Hash() != (common.Hash{1}) {
		t.Fatalf("expected PopIf to return the matching block")
	}
	if q.Len() != 0 {
		t.Fatalf("expected the queue to be empty after PopIf")
	}
}

func TestGetUsedIfRequiresInUse(t *testing.T) {
	q := New(4)
	q.Push(fakeBlock{hash: common.Hash{1}})

	if _, ok := q.GetUsedIf(func(b Block) bool { return b.Hash() == (common.Hash{1}) }, Take); ok {
		t.Fatalf("expected GetUsedIf to reject a block never marked in-use")
	}
	q.MarkLastInUse()
	block, ok := q.GetUsedIf(func(b Block) bool { return b.Hash() == (common.Hash{1}) }, Take)
	if !ok || block.Hash() != (common.Hash{1}) {
		t.Fatalf("expected GetUsedIf to find the in-use block")
	}
	if q.Len() != 0 {
		t.Fatalf("expected Take to remove the matched entry")
	}
}

func TestGetUsedIfCloneLeavesEntry(t *testing.T) {
	q := New(4)
	q.Push(fakeBlock{hash: common.Hash{1}})
	q.MarkLastInUse()

	if _, ok := q.GetUsedIf(func(b Block) bool { return true }, Clone); !ok {
		t.Fatalf("expected GetUsedIf to find the in-use block")
	}
	if q.Len() != 1 {
		t.Fatalf("expected Clone to leave the entry in place, got len %d", q.Len())
	}
	if !q.IsAnythingInUse() {
		t.Fatalf("expected the entry to remain marked in-use after Clone")
	}
}

func TestResetClearsHistory(t *testing.T) {
	q := New(4)
	q.Push(fakeBlock{hash: common.Hash{1}})
	q.Reset()
	if q.Len() != 0 {
		t.Fatalf("expected Reset to clear the queue")
	}
	if _, ok := q.PeekLast(); ok {
		t.Fatalf("expected PeekLast to find nothing after Reset")
	}
}
