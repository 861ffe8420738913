package worknotify

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []common.Hash
}

func (f *fakeNotifier) Notify(powHash common.Hash, difficulty *big.Int, number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, powHash)
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestDedupForwardsFirstNotifyForHash(t *testing.T) {
	inner := &fakeNotifier{}
	d := NewDedup(inner)

	d.Notify(common.Hash{0x1}, big.NewInt(1), 1)

	if got := inner.callCount(); got != 1 {
		t.Fatalf("expected 1 forwarded call, got %d", got)
	}
}

func TestDedupSuppressesRepeatForSameHash(t *testing.T) {
	inner := &fakeNotifier{}
	d := NewDedup(inner)

	hash := common.Hash{0x1}
	d.Notify(hash, big.NewInt(1), 1)
	d.Notify(hash, big.NewInt(1), 1)
	d.Notify(hash, big.NewInt(2), 2)

	if got := inner.callCount(); got != 1 {
		t.Fatalf("expected repeats of the same pow_hash to be suppressed, got %d calls", got)
	}
}

func TestDedupForwardsDistinctHashesIndependently(t *testing.T) {
	inner := &fakeNotifier{}
	d := NewDedup(inner)

	d.Notify(common.Hash{0x1}, big.NewInt(1), 1)
	d.Notify(common.Hash{0x2}, big.NewInt(1), 2)

	if got := inner.callCount(); got != 2 {
		t.Fatalf("expected distinct pow_hash values to each forward, got %d calls", got)
	}
}

func TestDedupNotifyIsSafeForConcurrentUse(t *testing.T) {
	inner := &fakeNotifier{}
	d := NewDedup(inner)
	hash := common.Hash{0x1}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Notify(hash, big.NewInt(1), 1)
		}()
	}
	wg.Wait()

	if got := inner.callCount(); got != 1 {
		t.Fatalf("expected concurrent Notify calls for one hash to dedup to a single forward, got %d", got)
	}
}
