// Package gasprice implements the miner's gas pricer (spec.md §4.4):
// a fixed floor, or a calibrated one that periodically derives a
// wei-per-gas minimum from an external USD/ETH quote.
package gasprice

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"
)

// Quote is an ETH/USD price point as returned by an external oracle.
type Quote struct {
	UsdPerEth float64
}

// QuoteFetcher fetches a fresh ETH/USD quote. Implementations talk to
// whatever external price feed the node is configured with; failures are
// expected and are logged by the pricer, not propagated.
type QuoteFetcher func(ctx context.Context) (Quote, error)

// CalibratedOptions configures the Calibrated mode (spec.md §4.4).
type CalibratedOptions struct {
	UsdPerTx float64
	Period   time.Duration
	Fetch    QuoteFetcher
}

// Pricer produces the current minimum gas price and, in Calibrated mode,
// asynchronously recalibrates it from an external quote no more often
// than once per Period.
type Pricer struct {
	mu      sync.Mutex
	fixed   *uint256.Int // nil when running in Calibrated mode
	current *uint256.Int

	calibrated *CalibratedOptions
	lastFetch  time.Time

	group singleflight.Group
}

// NewFixed builds a Pricer whose price never changes.
func NewFixed(wei *uint256.Int) *Pricer {
	return &Pricer{fixed: wei, current: wei}
}

// NewCalibrated builds a Pricer that recalibrates from opts.Fetch.
func NewCalibrated(opts CalibratedOptions, initial *uint256.Int) *Pricer {
	return &Pricer{calibrated: &opts, current: initial}
}

// Current returns the presently effective minimum gas price.
func (p *Pricer) Current() *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Recalibrate asynchronously refreshes the price and invokes set with the
// new value on success. It is a no-op in Fixed mode. The fetch is
// fire-and-forget: a failure is logged and the previous price remains in
// effect (spec.md §4.4, §7 "Failures of the external gas-price fetch are
// swallowed").
func (p *Pricer) Recalibrate(set func(*uint256.Int)) {
	if p.calibrated == nil {
		return
	}

	p.mu.Lock()
	due := time.Since(p.lastFetch) >= p.calibrated.Period
	p.mu.Unlock()
	if !due {
		return
	}

	go func() {
		// singleflight collapses concurrent recalibrate calls (e.g. one
		// per chain-extension event arriving in a burst) into a single
		// in-flight fetch per period.
		_, _, _ = p.group.Do("recalibrate", func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			quote, err := p.calibrated.Fetch(ctx)
			if err != nil {
				log.Warn("minimal_gas_price: failed to fetch quote", "err", err)
				return nil, err
			}
			price := weiPerGas(quote.UsdPerEth, p.calibrated.UsdPerTx)

			p.mu.Lock()
			p.current = price
			p.lastFetch = time.Now()
			p.mu.Unlock()

			log.Debug("minimal_gas_price: recalibrated", "wei_per_gas", price)
			if set != nil {
				set(price)
			}
			return nil, nil
		})
	}()
}

// weiPerGas computes wei_per_gas = (1e18 / usd_per_eth) * usd_per_tx / 21000
// per spec.md §4.4, using float64 for the USD-denominated inputs (as the
// original oracle quote itself is floating point) and converting to
// integer wei only at the end.
func weiPerGas(usdPerEth, usdPerTx float64) *uint256.Int {
	if usdPerEth <= 0 {
		return uint256.NewInt(0)
	}
	const weiPerEth = 1e18
	const minTxGas = 21000
	wei := (weiPerEth / usdPerEth) * usdPerTx / minTxGas
	if wei < 0 {
		wei = 0
	}
	bi, _ := new(big.Float).SetFloat64(wei).Int(nil)
	i, _ := uint256.FromBig(bi)
	return i
}
