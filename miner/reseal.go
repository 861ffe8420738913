package miner

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethcore-go/sealer/miner/worknotify"
)

// requiresReseal implements spec.md §4.1.1: true iff sealing is enabled
// and at least one of (engine seals internally, force sealing, notifiers
// registered, local pending transactions, a worker asked for work within
// SealingTimeoutInBlocks) holds. A false transition from "was enabled"
// disables sealing and resets the sealing-work history.
func (m *Miner) requiresReseal(bestNumber uint64) bool {
	hasLocal := m.txQueue.HasLocalPendingTransactions()

	m.sealing.mu.Lock()
	defer m.sealing.mu.Unlock()

	if !m.sealing.enabled {
		log.Trace("requires_reseal: sealing is disabled")
		return false
	}
	log.Trace("requires_reseal: sealing enabled")

	canSealInternally, _ := m.engine.SealsInternally()

	m.sealingBlockLastRequestMu.Lock()
	lastRequest := m.sealingBlockLastRequest
	m.sealingBlockLastRequestMu.Unlock()

	recentlyRequested := bestNumber <= lastRequest || bestNumber-lastRequest <= SealingTimeoutInBlocks

	keepAlive := canSealInternally ||
		m.options.ForceSealing ||
		len(m.notifiersSnapshot()) > 0 ||
		hasLocal ||
		recentlyRequested

	if !keepAlive {
		log.Trace("Miner sleeping", "best", bestNumber, "lastRequest", lastRequest)
		m.sealing.enabled = false
		m.sealing.queue.Reset()
		return false
	}

	m.nextAllowedResealMu.Lock()
	m.nextAllowedReseal = nowFunc().Add(m.options.ResealMinPeriod)
	m.nextAllowedResealMu.Unlock()
	return true
}

// txResealAllowed implements spec.md §4.1.1 tx_reseal_allowed: the
// minimum-period rate limit on transaction-triggered reseals.
func (m *Miner) txResealAllowed() bool {
	m.nextAllowedResealMu.Lock()
	defer m.nextAllowedResealMu.Unlock()
	return nowFunc().After(m.nextAllowedReseal)
}

func (m *Miner) notifiersSnapshot() []worknotify.Notifier {
	m.notifiersMu.RLock()
	defer m.notifiersMu.RUnlock()
	out := make([]worknotify.Notifier, len(m.notifiers))
	copy(out, m.notifiers)
	return out
}
