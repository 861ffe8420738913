package miner

import (
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ethcore-go/sealer/miner/sealingwork"
	"github.com/ethcore-go/sealer/miner/txqueue"
)

// UpdateSealing implements spec.md §4.1 update_sealing: if a reseal is
// required, prepare a fresh candidate and either seal it internally or
// publish it as external work, depending on the engine's tri-state
// seals-internally answer.
func (m *Miner) UpdateSealing() {
	info := m.client.ChainInfo()
	if !m.requiresReseal(info.BestNumber) {
		return
	}

	block, prevHash := m.prepareBlock()

	can, now := m.engine.SealsInternally()
	switch {
	case can && now:
		if m.sealAndImportInternally(block) {
			return
		}
		m.prepareWork(block, prevHash)
	case can && !now:
		m.prepareWork(block, prevHash)
	default: // never seals internally
		m.prepareWork(block, prevHash)
	}
}

// MapSealingWork implements spec.md §4.1 map_sealing_work: ensures a
// candidate exists, marks it in-use, and invokes f on it. Used by
// external-worker polling.
func (m *Miner) MapSealingWork(f func(ClosedBlock)) bool {
	m.PrepareWorkSealing()

	m.sealing.mu.Lock()
	block, ok := m.sealing.queue.PeekLast()
	if ok {
		m.sealing.queue.MarkLastInUse()
	}
	m.sealing.mu.Unlock()

	if !ok {
		return false
	}
	f(block.(ClosedBlock))
	return true
}

// SubmitSeal implements spec.md §4.1 submit_seal.
func (m *Miner) SubmitSeal(blockHash common.Hash, seal [][]byte) error {
	action := sealingwork.Take
	if m.options.EnableResubmission {
		action = sealingwork.Clone
	}

	m.sealing.mu.Lock()
	block, ok := m.sealing.queue.GetUsedIf(func(b sealingwork.Block) bool {
		return b.Hash() == blockHash
	}, action)
	m.sealing.mu.Unlock()

	if !ok {
		return ErrPowHashInvalid
	}
	closed := block.(ClosedBlock)

	if !m.engine.VerifySeal(seal) {
		return ErrPowInvalid
	}
	sealed, err := closed.Seal(seal)
	if err != nil {
		return ErrPowInvalid
	}
	return m.client.ImportSealedBlock(sealed)
}

// PrepareWorkSealing implements spec.md §4.1.3 prepare_work_sealing: if
// no candidate currently exists, enable sealing and run prepare-block +
// prepare-work; then record the requesting block number so
// requires_reseal can see that an external worker is still asking.
func (m *Miner) PrepareWorkSealing() bool {
	m.sealing.mu.Lock()
	_, haveWork := m.sealing.queue.PeekLast()
	prepareNew := !haveWork
	if prepareNew {
		m.sealing.enabled = true
	}
	m.sealing.mu.Unlock()

	if prepareNew {
		block, prevHash := m.prepareBlock()
		m.prepareWork(block, prevHash)
	}

	best := m.client.ChainInfo().BestNumber
	m.sealingBlockLastRequestMu.Lock()
	if m.sealingBlockLastRequest != best {
		m.sealingBlockLastRequest = best
	}
	m.sealingBlockLastRequestMu.Unlock()

	return prepareNew
}

// prepareBlock implements spec.md §4.1.2: the hot path that assembles a
// closed candidate block from the queue's top transactions atop the
// current head. It holds neither the tx_queue nor the sealing_work lock
// while preparing the open block or pushing transactions into it; the
// final removal of invalid transactions does call the chain client's
// LatestNonce from inside the queue's Remove, under the tx_queue write
// lock.
func (m *Miner) prepareBlock() (ClosedBlock, common.Hash) {
	info := m.client.ChainInfo()

	var nonceCap *uint256.Int
	if cap, ok := m.engine.NonceCap(info.BestNumber + 1); ok {
		nonceCap = uint256.NewInt(cap)
	}
	transactions := m.txQueue.TopTransactionsAt(info.BestNumber, info.BestTimestamp, nonceCap)

	m.sealing.mu.Lock()
	popped, hadPrevious := m.sealing.queue.PopIf(func(parentHash common.Hash) bool {
		return parentHash == info.BestHash
	})
	var lastWorkHash common.Hash
	if last, ok := m.sealing.queue.PeekLast(); ok {
		lastWorkHash = last.(ClosedBlock).Hash()
	}
	m.sealing.mu.Unlock()

	var open OpenBlock
	var err error
	if hadPrevious {
		log.Trace("prepare_block: reopening previous candidate")
		open, err = popped.(ClosedBlock).Reopen()
	}
	if !hadPrevious || err != nil {
		log.Trace("prepare_block: no existing candidate, authoring fresh open block")
		author, extraData, gasRange := m.headerTarget()
		open, err = m.client.PrepareOpenBlock(author, gasRange, extraData)
		if err != nil {
			log.Error("prepare_block: failed to prepare open block", "err", err)
		}
	}

	invalidHashes := mapset.NewThreadUnsafeSet[common.Hash]()
	penalizeHashes := mapset.NewThreadUnsafeSet[common.Hash]()

	minTxGas := m.engine.MinTxGas()
	if minTxGas == 0 {
		minTxGas = 21000
	}
	banningCfg := m.options.TxQueueBanning

	for _, tx := range transactions {
		hash := tx.Hash()
		start := time.Now()
		pushErr := open.PushTransaction(tx)
		took := time.Since(start)

		if banningCfg.Mode == txqueue.BanningEnabled && took > banningCfg.OffendThreshold {
			if m.txQueue.Ban(hash) {
				log.Warn("Detected heavy transaction, banning sender and recipient", "hash", hash)
			} else {
				penalizeHashes.Add(hash)
				log.Debug("Detected heavy transaction, penalizing sender", "hash", hash)
			}
		}

		var gasLimitErr *BlockGasLimitReachedError
		var nonceErr *InvalidNonceError

		switch {
		case pushErr == nil:
			// imported ok
		case errors.As(pushErr, &gasLimitErr):
			log.Debug("Skipping tx: block gas limit reached", "hash", hash)
			if gasLimitErr.Gas > gasLimitErr.GasLimit {
				penalizeHashes.Add(hash)
			}
			if gasLimitErr.GasLimit-gasLimitErr.GasUsed < minTxGas {
				goto doneSelecting
			}
		case errors.As(pushErr, &nonceErr):
			log.Debug("Skipping tx: invalid nonce, self-heals next block", "hash", hash)
		case errors.Is(pushErr, ErrAlreadyImported):
			// ignore silently
		default:
			log.Debug("Error adding transaction to block", "hash", hash, "err", pushErr)
			invalidHashes.Add(hash)
		}
	}
doneSelecting:

	closed, err := open.Close()
	if err != nil {
		log.Error("prepare_block: failed to close candidate", "err", err)
	}

	invalidHashes.Each(func(h common.Hash) bool {
		m.txQueue.Remove(h, func(addr common.Address) uint64 {
			return m.client.LatestNonce(addr)
		}, txqueue.Invalid)
		return false
	})
	penalizeHashes.Each(func(h common.Hash) bool {
		m.txQueue.Penalize(h)
		return false
	})

	return closed, lastWorkHash
}

// prepareWork implements spec.md §4.1.3 prepare_work: pushes the new
// block if its hash differs from the last candidate's, and notifies
// registered workers if it also differs from prevHash.
func (m *Miner) prepareWork(block ClosedBlock, prevHash common.Hash) {
	m.sealing.mu.Lock()
	last, hadLast := m.sealing.queue.PeekLast()
	isRefresh := !hadLast || last.(ClosedBlock).Hash() != block.Hash()
	if isRefresh {
		m.sealing.queue.Push(block)
		if len(m.notifiersSnapshot()) > 0 && block.Hash() != prevHash {
			m.sealing.queue.MarkLastInUse()
		}
	}
	m.sealing.mu.Unlock()

	if !isRefresh {
		return
	}
	m.pendingBlockFeed.Send(block.Block())
	if block.Hash() == prevHash {
		return
	}
	for _, n := range m.notifiersSnapshot() {
		n.Notify(block.Hash(), block.Difficulty(), block.Number())
	}
}

// sealAndImportInternally implements spec.md §4.1.3
// seal_and_import_block_internally.
func (m *Miner) sealAndImportInternally(block ClosedBlock) bool {
	m.nextMandatoryResealMu.RLock()
	deadlinePassed := nowFunc().After(m.nextMandatoryReseal)
	m.nextMandatoryResealMu.RUnlock()

	if len(block.Transactions()) == 0 && !m.options.ForceSealing && !deadlinePassed {
		return false
	}

	result := m.engine.GenerateSeal(block.Block())
	switch result.Kind {
	case SealProposal:
		m.sealing.mu.Lock()
		m.sealing.queue.Push(block)
		m.sealing.queue.MarkLastInUse()
		m.sealing.mu.Unlock()

		sealed, err := block.Seal(result.Fields)
		m.resetMandatoryReseal()
		if err != nil {
			log.Warn("seal failed for internally generated proposal seal", "err", err)
			return false
		}
		m.client.BroadcastProposalBlock(sealed)
		return true
	case SealRegular:
		sealed, err := block.Seal(result.Fields)
		m.resetMandatoryReseal()
		if err != nil {
			log.Warn("seal failed for internally generated seal", "err", err)
			return false
		}
		if err := m.client.ImportSealedBlock(sealed); err != nil {
			log.Warn("failed to import internally sealed block", "err", err)
			return false
		}
		return true
	default:
		return false
	}
}

func (m *Miner) resetMandatoryReseal() {
	m.nextMandatoryResealMu.Lock()
	m.nextMandatoryReseal = nowFunc().Add(m.options.ResealMaxPeriod)
	m.nextMandatoryResealMu.Unlock()
}
