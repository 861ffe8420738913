package gasprice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestFixedPricerNeverRecalibrates(t *testing.T) {
	p := NewFixed(uint256.NewInt(42))
	called := false
	p.Recalibrate(func(*uint256.Int) { called = true })
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatalf("expected Recalibrate to be a no-op in Fixed mode")
	}
	if p.Current().Uint64() != 42 {
		t.Fatalf("expected Current to stay at the fixed price")
	}
}

func TestCalibratedPricerAppliesFetchedQuote(t *testing.T) {
	done := make(chan *uint256.Int, 1)
	p := NewCalibrated(CalibratedOptions{
		UsdPerTx: 0.0021,
		Period:   0,
		Fetch: func(ctx context.Context) (Quote, error) {
			return Quote{UsdPerEth: 2000}, nil
		},
	}, uint256.NewInt(0))

	p.Recalibrate(func(price *uint256.Int) { done <- price })

	select {
	case price := <-done:
		if price.IsZero() {
			t.Fatalf("expected a nonzero recalibrated price")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for recalibration")
	}
}

func TestCalibratedPricerSwallowsFetchError(t *testing.T) {
	fetchErr := errors.New("oracle unavailable")
	calls := make(chan struct{}, 1)
	p := NewCalibrated(CalibratedOptions{
		UsdPerTx: 0.0021,
		Period:   0,
		Fetch: func(ctx context.Context) (Quote, error) {
			calls <- struct{}{}
			return Quote{}, fetchErr
		},
	}, uint256.NewInt(7))

	setCalled := false
	p.Recalibrate(func(*uint256.Int) { setCalled = true })

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fetch attempt")
	}
	time.Sleep(10 * time.Millisecond)

	if setCalled {
		t.Fatalf("expected set not to be invoked on fetch error")
	}
	if p.Current().Uint64() != 7 {
		t.Fatalf("expected the prior price to remain in effect after a failed fetch")
	}
}

func TestCalibratedPricerRespectsPeriod(t *testing.T) {
	calls := 0
	p := NewCalibrated(CalibratedOptions{
		UsdPerTx: 0.0021,
		Period:   time.Hour,
		Fetch: func(ctx context.Context) (Quote, error) {
			calls++
			return Quote{UsdPerEth: 2000}, nil
		},
	}, uint256.NewInt(5))
	p.lastFetch = time.Now()

	p.Recalibrate(func(*uint256.Int) {})
	time.Sleep(10 * time.Millisecond)

	if calls != 0 {
		t.Fatalf("expected no fetch before Period elapses, got %d calls", calls)
	}
}

func TestWeiPerGasZeroWhenQuoteNonPositive(t *testing.T) {
	if got := weiPerGas(0, 1); !got.IsZero() {
		t.Fatalf("expected zero wei_per_gas for a non-positive usd_per_eth quote, got %v", got)
	}
}
