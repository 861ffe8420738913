package miner

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ethcore-go/sealer/miner/gasprice"
	"github.com/ethcore-go/sealer/miner/servicetx"
)

// fakeChainClient is an in-memory ChainClient good enough to drive the
// orchestrator's scenarios without a real blockchain: it tracks a single
// moving head and answers every query against it.
type fakeChainClient struct {
	number    uint64
	timestamp uint64
	gasLimit  uint64
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{gasLimit: 8_000_000}
}

func (c *fakeChainClient) ChainInfo() ChainInfo {
	return ChainInfo{
		BestNumber:    c.number,
		BestHash:      common.BigToHash(new(big.Int).SetUint64(c.number)),
		BestTimestamp: c.timestamp,
		BestGasLimit:  c.gasLimit,
	}
}

func (c *fakeChainClient) PrepareOpenBlock(author common.Address, gasRange GasRange, extraData []byte) (OpenBlock, error) {
	header := &types.Header{
		ParentHash: common.BigToHash(new(big.Int).SetUint64(c.number)),
		Number:     new(big.Int).SetUint64(c.number + 1),
		Difficulty: big.NewInt(1),
		GasLimit:   c.gasLimit,
		Time:       c.timestamp + 1,
		Coinbase:   author,
		Extra:      extraData,
	}
	return &fakeOpenBlock{header: header}, nil
}

func (c *fakeChainClient) LatestNonce(addr common.Address) uint64 { return 0 }

func (c *fakeChainClient) ImportSealedBlock(block *types.Block) error {
	c.number = block.NumberU64()
	c.timestamp = block.Time()
	return nil
}

func (c *fakeChainClient) BroadcastProposalBlock(block *types.Block) {}

func (c *fakeChainClient) BalanceAt(addr common.Address, blockHash common.Hash) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000), nil
}

func (c *fakeChainClient) NonceAt(addr common.Address, blockHash common.Hash) (uint64, error) {
	return 0, nil
}

func (c *fakeChainClient) StorageAt(addr common.Address, key common.Hash, blockHash common.Hash) ([]byte, error) {
	return nil, nil
}

func (c *fakeChainClient) CodeAt(addr common.Address, blockHash common.Hash) ([]byte, error) {
	return nil, nil
}

func (c *fakeChainClient) ReceiptsAt(blockHash common.Hash) ([]*types.Receipt, error) {
	return nil, nil
}

func (c *fakeChainClient) TransactionByHash(hash common.Hash) (*types.Transaction, bool) {
	return nil, false
}

// fakeOpenBlock collects whatever transactions are pushed to it and
// keeps a running balance ledger standing in for the block-builder's
// own post-state (real go-ethereum block builders track this in a
// *state.StateDB; this fake only credits recipients, which is enough to
// exercise Invariant 4's candidate-vs-chain fallback honestly).
type fakeOpenBlock struct {
	header   *types.Header
	txs      []*types.Transaction
	balances map[common.Address]*big.Int
}

func (b *fakeOpenBlock) Header() *types.Header { return b.header }

func (b *fakeOpenBlock) PushTransaction(tx *types.Transaction) error {
	b.txs = append(b.txs, tx)
	if to := tx.To(); to != nil && tx.Value().Sign() > 0 {
		if b.balances == nil {
			b.balances = make(map[common.Address]*big.Int)
		}
		prev, ok := b.balances[*to]
		if !ok {
			prev = new(big.Int)
		}
		b.balances[*to] = new(big.Int).Add(prev, tx.Value())
	}
	return nil
}

func (b *fakeOpenBlock) Close() (ClosedBlock, error) {
	return &fakeClosedBlock{header: b.header, txs: b.txs, balances: b.balances}, nil
}

// fakeClosedBlock is the frozen counterpart; Reopen hands back a fresh
// fakeOpenBlock preloaded with the same transactions, per spec.md §9
// "Candidate-block ownership" (move-out-then-move-in, never aliased).
type fakeClosedBlock struct {
	header   *types.Header
	txs      []*types.Transaction
	balances map[common.Address]*big.Int
}

func (b *fakeClosedBlock) Hash() common.Hash       { return b.header.Hash() }
func (b *fakeClosedBlock) ParentHash() common.Hash { return b.header.ParentHash }
func (b *fakeClosedBlock) Number() uint64          { return b.header.Number.Uint64() }
func (b *fakeClosedBlock) Difficulty() *big.Int    { return b.header.Difficulty }
func (b *fakeClosedBlock) Transactions() []*types.Transaction { return b.txs }
func (b *fakeClosedBlock) Receipts() []*types.Receipt         { return nil }

func (b *fakeClosedBlock) BalanceAt(addr common.Address) (*big.Int, bool) {
	v, ok := b.balances[addr]
	return v, ok
}

// StorageAt and CodeAt genuinely have nothing to report: this fake never
// executes contract code, so no storage or code is ever recorded. Unlike
// BalanceAt, which is wired to real per-push bookkeeping, these fall
// through to the chain client on every call.
func (b *fakeClosedBlock) StorageAt(addr common.Address, key common.Hash) ([]byte, bool) {
	return nil, false
}

func (b *fakeClosedBlock) CodeAt(addr common.Address) ([]byte, bool) {
	return nil, false
}

func (b *fakeClosedBlock) Reopen() (OpenBlock, error) {
	txs := make([]*types.Transaction, len(b.txs))
	copy(txs, b.txs)
	return &fakeOpenBlock{header: b.header, txs: txs, balances: b.balances}, nil
}

func (b *fakeClosedBlock) Block() *types.Block {
	return types.NewBlockWithHeader(b.header)
}

func (b *fakeClosedBlock) Seal(sealFields [][]byte) (*types.Block, error) {
	return b.Block(), nil
}

// fakeEngine is a consensus Engine whose sealing behavior each test
// configures explicitly.
type fakeEngine struct {
	canSealInternally bool
	sealsNow          bool
	genSeal           func(*types.Block) SealResult
}

func (e *fakeEngine) SealsInternally() (bool, bool) { return e.canSealInternally, e.sealsNow }

func (e *fakeEngine) GenerateSeal(block *types.Block) SealResult {
	if e.genSeal != nil {
		return e.genSeal(block)
	}
	return SealResult{Kind: SealNone}
}

func (e *fakeEngine) VerifySeal(seal [][]byte) bool { return true }
func (e *fakeEngine) MinTxGas() uint64              { return 21000 }
func (e *fakeEngine) NonceCap(atBlock uint64) (uint64, bool) { return 0, false }

func newTestMiner(t *testing.T, client *fakeChainClient, engine Engine, opts Options) *Miner {
	t.Helper()
	pricer := gasprice.NewFixed(uint256.NewInt(0))
	return New(client, engine, types.HomesteadSigner{}, pricer, servicetx.NewRefuse(), opts)
}

func signedPricedTx(t *testing.T, nonce uint64, gasPrice int64) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, err := types.SignTx(types.NewTransaction(nonce, common.Address{0x42}, big.NewInt(0), 100000, big.NewInt(gasPrice), nil), types.HomesteadSigner{}, key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

func signedOwnTx(t *testing.T) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data := common.Hex2Bytes("3331600055")
	tx, err := types.SignTx(types.NewContractCreation(0, big.NewInt(0), 100000, big.NewInt(0), data), types.HomesteadSigner{}, key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

// S1 — work-sealing creates a pending block with a fresh miner, no
// accounts, no engine capable of internal sealing.
func TestMapSealingWorkCreatesPendingBlock(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{}
	m := newTestMiner(t, client, engine, DefaultOptions())

	var got ClosedBlock
	ok := m.MapSealingWork(func(b ClosedBlock) { got = b })

	if !ok {
		t.Fatalf("expected MapSealingWork to invoke f")
	}
	if got == nil {
		t.Fatalf("expected a non-nil closed candidate block")
	}
}

// S2 — with enable_resubmission, two submissions against the same
// candidate hash both succeed; the entry stays findable across two chain
// extensions because it was marked in-use when handed out and the
// ten-entry history has room for the candidates prepared since.
func TestSubmitSealResubmissionAcrossExtensions(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{}
	opts := DefaultOptions()
	opts.EnableResubmission = true
	opts.WorkQueueSize = 10
	m := newTestMiner(t, client, engine, opts)

	var hash common.Hash
	ok := m.MapSealingWork(func(b ClosedBlock) { hash = b.Hash() })
	if !ok {
		t.Fatalf("expected an initial candidate to exist")
	}

	// Simulate two chain extensions (e.g. uncles) that don't touch the
	// transaction queue but do advance the head, forcing prepare_block to
	// author fresh candidates on top of it.
	for i := 0; i < 2; i++ {
		client.number++
		enacted := []*types.Block{types.NewBlockWithHeader(&types.Header{Number: new(big.Int).SetUint64(client.number)})}
		m.ChainNewBlocks(enacted, nil, nil, nil)
	}

	if err := m.SubmitSeal(hash, nil); err != nil {
		t.Fatalf("first submission: expected success, got %v", err)
	}
	if err := m.SubmitSeal(hash, nil); err != nil {
		t.Fatalf("second submission: expected success with resubmission enabled, got %v", err)
	}
}

// S3 — own-tx triggers pending block: importing a local transaction with
// an engine that never seals internally produces exactly one candidate
// containing it, and a second prepare-work-sealing call is a no-op.
func TestImportOwnTriggersPendingBlock(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{}
	m := newTestMiner(t, client, engine, DefaultOptions())

	tx := signedOwnTx(t)
	result, err := m.ImportOwn(PendingTransaction{Transaction: tx})
	if err != nil {
		t.Fatalf("ImportOwn: %v", err)
	}
	if result != Current {
		t.Fatalf("expected Current, got %v", result)
	}

	if got := m.PendingTransactions(0, 0); len(got) != 1 {
		t.Fatalf("expected exactly one pending transaction, got %d", len(got))
	}
	if got := m.ReadyTransactions(0, 0); len(got) != 1 {
		t.Fatalf("expected exactly one ready transaction, got %d", len(got))
	}

	if m.PrepareWorkSealing() {
		t.Fatalf("expected prepare_work_sealing to be a no-op once a candidate already exists")
	}
}

// S4 — stale pending block hidden: under AlwaysSealing, a caller whose
// best block is already past the candidate's number sees nothing.
func TestStalePendingBlockHiddenUnderAlwaysSealing(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{}
	opts := DefaultOptions()
	opts.PendingSet = AlwaysSealing
	m := newTestMiner(t, client, engine, opts)

	tx := signedOwnTx(t)
	if _, err := m.ImportOwn(PendingTransaction{Transaction: tx}); err != nil {
		t.Fatalf("ImportOwn: %v", err)
	}

	if got := m.PendingTransactions(0, 0); len(got) != 1 {
		t.Fatalf("expected the fresh candidate's transaction to be visible, got %d", len(got))
	}
	if got := m.PendingTransactions(10, 0); len(got) != 0 {
		t.Fatalf("expected a stale candidate (caller ahead) to be hidden, got %d", len(got))
	}
}

// S5 — external-tx does not reseal by default: with reseal_on_external_tx
// left at its default (false), importing an external transaction creates
// no candidate on its own.
func TestImportExternalDoesNotResealByDefault(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{}
	opts := DefaultOptions()
	if opts.ResealOnExternalTx {
		t.Fatalf("test assumes ResealOnExternalTx defaults to false")
	}
	m := newTestMiner(t, client, engine, opts)

	tx := signedPricedTx(t, 0, 5)
	results := m.ImportExternal([]*types.Transaction{tx})
	if len(results) != 1 || results[0] != nil {
		t.Fatalf("expected the external transaction to be admitted, got %v", results)
	}

	if _, ok := m.sealing.queue.PeekLast(); ok {
		t.Fatalf("expected no candidate to exist before prepare_work_sealing runs")
	}
	if !m.PrepareWorkSealing() {
		t.Fatalf("expected prepare_work_sealing to report that it built a fresh candidate")
	}
}

// S6 — an internally sealing engine produces blocks without any external
// worker ever polling: update_sealing imports directly and leaves no
// candidate behind in the sealing-work history.
func TestInternalSealingEngineProducesBlocksWithoutWorkers(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{
		canSealInternally: true,
		sealsNow:          true,
		genSeal: func(block *types.Block) SealResult {
			return SealResult{Kind: SealRegular}
		},
	}
	m := newTestMiner(t, client, engine, DefaultOptions())

	tx := signedPricedTx(t, 0, 5)
	if results := m.ImportExternal([]*types.Transaction{tx}); len(results) != 1 || results[0] != nil {
		t.Fatalf("expected the transaction to be admitted, got %v", results)
	}

	startNumber := client.ChainInfo().BestNumber
	m.UpdateSealing()

	if got := client.ChainInfo().BestNumber; got != startNumber+1 {
		t.Fatalf("expected the chain head to advance by one, got %d -> %d", startNumber, got)
	}
	if _, ok := m.candidate(0); ok {
		t.Fatalf("expected no candidate block to remain after an internal seal")
	}
}

// Balance resolves against the fresh candidate's own tracked post-state
// when the candidate is newer than the caller, falling back to the
// chain client otherwise (Invariant 4).
func TestBalanceResolvesAgainstFreshCandidate(t *testing.T) {
	client := newFakeChainClient()
	engine := &fakeEngine{}
	m := newTestMiner(t, client, engine, DefaultOptions())

	recipient := common.Address{0x7}
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx, err := types.SignTx(
		types.NewTransaction(0, recipient, big.NewInt(1000), 21000, big.NewInt(1), nil),
		types.HomesteadSigner{}, key,
	)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if _, err := m.ImportOwn(PendingTransaction{Transaction: tx}); err != nil {
		t.Fatalf("ImportOwn: %v", err)
	}

	got, err := m.Balance(recipient, 0)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected the candidate's own tracked balance of 1000, got %v", got)
	}

	stale, err := m.Balance(recipient, 10)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if stale.Cmp(big.NewInt(1000)) == 0 {
		t.Fatalf("expected a stale caller (ahead of the candidate) to fall back to the chain client's balance")
	}
}
