// Package servicetx implements the service-transaction admission policy
// (spec.md §4.3): whether a zero-gas-price transaction from a certified
// sender may bypass the normal gas-price floor.
package servicetx

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Registry is the external certificate-registry-backed checker a Check
// policy delegates to. It is an out-of-scope collaborator per spec.md §1
// ("Cryptographic account storage and signing" and wire protocols are
// external); only its query shape is specified here.
type Registry interface {
	IsCertified(sender common.Address) (bool, error)
}

// Mode selects between Refuse (reject unconditionally) and Check
// (delegate to a Registry).
type Mode int

const (
	Refuse Mode = iota
	Check
)

// Policy decides whether a zero-gas-price transaction is admissible. It
// is queried only for zero-gas-price transactions; any other transaction
// goes through the queue's normal gas-price floor instead.
type Policy struct {
	mode     Mode
	registry Registry
	signer   types.Signer

	mu    sync.RWMutex
	cache map[common.Address]bool
}

func NewRefuse() *Policy {
	return &Policy{mode: Refuse}
}

func NewCheck(registry Registry, signer types.Signer) *Policy {
	return &Policy{mode: Check, registry: registry, signer: signer, cache: make(map[common.Address]bool)}
}

// IsServiceTransactionAcceptable reports whether tx (known to carry a
// zero gas price) may be admitted. It matches the DetailsProvider shape
// the transaction queue façade consults (spec.md §4.2).
func (p *Policy) IsServiceTransactionAcceptable(tx *types.Transaction) bool {
	if p.mode == Refuse {
		return false
	}

	sender, err := types.Sender(p.signer, tx)
	if err != nil {
		return false
	}

	p.mu.RLock()
	if ok, hit := p.cache[sender]; hit {
		p.mu.RUnlock()
		return ok
	}
	p.mu.RUnlock()

	certified, err := p.registry.IsCertified(sender)
	if err != nil {
		return false
	}

	p.mu.Lock()
	p.cache[sender] = certified
	p.mu.Unlock()
	return certified
}

// InvalidateCache drops any cached certification results, used when the
// client learns the certificate registry's contract state changed.
func (p *Policy) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[common.Address]bool)
}
