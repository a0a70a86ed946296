package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
)

type proposal struct {
	rollup common.Address
	block  messages.Block
}

type mockProposerChain struct {
	mu         sync.Mutex
	conditions map[common.Address][]messages.Transaction
	nonce      uint32
	parities   []uint64
	proposals  []proposal
	proposeErr error
}

func (m *mockProposerChain) BlockNumber(ctx context.Context) (uint64, error) { return 7, nil }

func (m *mockProposerChain) WaitForParity(ctx context.Context, parity uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parities = append(m.parities, parity)
	return 9, nil
}

// GetValidityConditions hands each batch out once.
func (m *mockProposerChain) GetValidityConditions(ctx context.Context, slashing common.Address, block uint64) ([]messages.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := m.conditions[slashing]
	delete(m.conditions, slashing)
	return txs, nil
}

func (m *mockProposerChain) Nonce(ctx context.Context, rollup common.Address, owner common.Address) (uint32, error) {
	return m.nonce, nil
}

func (m *mockProposerChain) ProposeBlock(ctx context.Context, rollup common.Address, block messages.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proposeErr != nil {
		return m.proposeErr
	}
	m.proposals = append(m.proposals, proposal{rollup, block})
	return nil
}

var (
	slashingA = common.HexToAddress("0x5a")
	slashingB = common.HexToAddress("0x5b")
	rollupA   = common.HexToAddress("0xaa")
	rollupB   = common.HexToAddress("0xbb")
)

func initProposer(t *testing.T, chain *mockProposerChain) (*Proposer, *crypto.Signer) {
	logger := log.NewNopLogger()
	signer := mockSigner(t)
	a := NewRollup(NewAppchain("A", modules.NewLedger(dbm.NewMemDB()), logger), slashingA, rollupA, 1)
	b := NewRollup(NewAppchain("B", modules.NewLedger(dbm.NewMemDB()), logger), slashingB, rollupB, 1)
	p := NewProposer(logger, chain, signer, a, b, BridgeConfig{Ticker: "USDC", Amount: 5}, time.Hour)
	return p, signer
}

func TestProposerBridge(t *testing.T) {
	chain := &mockProposerChain{conditions: map[common.Address][]messages.Transaction{}}
	p, signer := initProposer(t, chain)
	user := mockSigner(t)

	chain.conditions[slashingA] = []messages.Transaction{
		mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 100}, 0),
		mockTx(t, user, messages.TransferParams{TokenTicker: "ABCD", To: signer.Address(), Amount: 3}, 1),
		mockTx(t, user, messages.TransferParams{TokenTicker: "ABCD", To: signer.Address(), Amount: 4}, 2),
		mockTx(t, user, messages.TransferParams{TokenTicker: "ABCD", To: signer.Address(), Amount: 1}, 9),
	}
	chain.conditions[slashingB] = []messages.Transaction{
		mockTx(t, signer, messages.MintParams{TokenTicker: "ABCD", Owner: signer.Address(), Supply: 1000}, 0),
		mockTx(t, signer, messages.MintParams{TokenTicker: "USDC", Owner: signer.Address(), Supply: 1000}, 1),
	}

	if err := p.Propose(context.Background()); err != nil {
		t.Fatalf("Failed propose: %v", err)
	}

	ledgerB := p.b.App.Ledger()
	if bal, _ := ledgerB.Balance("ABCD", user.Address()); bal != 3 {
		t.Errorf("Failed bridged balance, got %d", bal)
	}
	if bal, _ := ledgerB.Balance("USDC", user.Address()); bal != 5 {
		t.Errorf("Failed swapped balance, got %d", bal)
	}
	if nonce, _ := ledgerB.Nonce(signer.Address()); nonce != 4 {
		t.Errorf("Failed proposer nonce, got %d", nonce)
	}

	if len(chain.proposals) != 2 {
		t.Fatalf("Failed proposals, got %d", len(chain.proposals))
	}
	a, b := chain.proposals[0], chain.proposals[1]
	if a.rollup != rollupA || len(a.block.Transactions) != 3 {
		t.Errorf("Failed block A, got %s with %d txs", a.rollup.Hex(), len(a.block.Transactions))
	}
	if b.rollup != rollupB || len(b.block.Transactions) != 4 {
		t.Errorf("Failed block B, got %s with %d txs", b.rollup.Hex(), len(b.block.Transactions))
	}
	payout := b.block.Transactions[3].Content
	if payout.Nonce != 3 || payout.Params.Ticker() != "USDC" {
		t.Errorf("Failed payout, got %+v", payout)
	}
	for _, prop := range chain.proposals {
		enc, _ := messages.EncodeTransactionList(prop.block.Transactions)
		if prop.block.BlockHash != ethcrypto.Keccak256Hash(enc) {
			t.Errorf("Failed block hash for %s", prop.rollup.Hex())
		}
		if !crypto.Verify(signer.Address(), prop.block.BlockHash, prop.block.ProposerSignature) {
			t.Errorf("Failed block signature for %s", prop.rollup.Hex())
		}
		if prop.block.BlockNumber != 1 || prop.block.ParentHash != (common.Hash{}) {
			t.Errorf("Failed genesis header, got %d %s", prop.block.BlockNumber, prop.block.ParentHash.Hex())
		}
	}
	for _, parity := range chain.parities {
		if parity != ParityOdd {
			t.Errorf("Failed parity gate, got %d", parity)
		}
	}
}

func TestProposerChainsBlocks(t *testing.T) {
	chain := &mockProposerChain{conditions: map[common.Address][]messages.Transaction{}}
	p, _ := initProposer(t, chain)
	for i := 0; i < 2; i++ {
		if err := p.Propose(context.Background()); err != nil {
			t.Fatalf("Failed propose %d: %v", i, err)
		}
	}
	if len(chain.proposals) != 4 {
		t.Fatalf("Failed proposals, got %d", len(chain.proposals))
	}
	first, second := chain.proposals[0].block, chain.proposals[2].block
	if second.BlockNumber != 3 || second.ParentHash != first.BlockHash {
		t.Errorf("Failed chaining, got %d parent %s", second.BlockNumber, second.ParentHash.Hex())
	}
	parent, number := p.a.Head()
	if parent != second.BlockHash || number != 5 {
		t.Errorf("Failed head, got %s %d", parent.Hex(), number)
	}
	if p.a.App.Height() != 2 {
		t.Errorf("Failed appchain height, got %d", p.a.App.Height())
	}
}

func TestProposerSkipsRejectedPayout(t *testing.T) {
	chain := &mockProposerChain{conditions: map[common.Address][]messages.Transaction{}, nonce: 1}
	p, signer := initProposer(t, chain)
	user := mockSigner(t)
	chain.conditions[slashingA] = []messages.Transaction{
		mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 10}, 0),
		mockTx(t, user, messages.TransferParams{TokenTicker: "ABCD", To: signer.Address(), Amount: 1}, 1),
	}

	if err := p.Propose(context.Background()); err != nil {
		t.Fatal(err)
	}
	// the payout carries the on-chain nonce, which the replica has not seen,
	// so it is rejected and left out of the block
	b := chain.proposals[1].block
	if len(b.Transactions) != 0 {
		t.Errorf("Failed, unpayable payout was proposed")
	}
}

func TestProposerPropagatesChainErrors(t *testing.T) {
	chain := &mockProposerChain{conditions: map[common.Address][]messages.Transaction{}, proposeErr: errors.New("reverted")}
	p, _ := initProposer(t, chain)
	err := p.Propose(context.Background())
	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("Failed upstream error, got %v", err)
	}
	if _, number := p.a.Head(); number != 1 {
		t.Errorf("Failed, head advanced after failed proposal: %d", number)
	}
}

func TestProposerRetriesFailedBlock(t *testing.T) {
	chain := &mockProposerChain{conditions: map[common.Address][]messages.Transaction{}, proposeErr: errors.New("reverted")}
	p, signer := initProposer(t, chain)
	user := mockSigner(t)
	chain.conditions[slashingA] = []messages.Transaction{
		mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 100}, 0),
		mockTx(t, user, messages.TransferParams{TokenTicker: "ABCD", To: signer.Address(), Amount: 3}, 1),
	}
	chain.conditions[slashingB] = []messages.Transaction{
		mockTx(t, signer, messages.MintParams{TokenTicker: "ABCD", Owner: signer.Address(), Supply: 1000}, 0),
	}

	if err := p.Propose(context.Background()); err == nil {
		t.Fatalf("Failed, proposal error swallowed")
	}
	pendingA, ok := p.a.Pending()
	if !ok || len(pendingA) != 2 {
		t.Fatalf("Failed pending block A, got %d txs", len(pendingA))
	}
	pendingB, ok := p.b.Pending()
	if !ok || len(pendingB) != 2 {
		t.Fatalf("Failed pending block B, got %d txs", len(pendingB))
	}
	// the replicas hold exactly what the pending blocks carry
	ledgerA, ledgerB := p.a.App.Ledger(), p.b.App.Ledger()
	if nonce, _ := ledgerA.Nonce(user.Address()); nonce != 2 {
		t.Errorf("Failed replica A nonce, got %d", nonce)
	}
	if bal, _ := ledgerA.Balance("ABCD", user.Address()); bal != 97 {
		t.Errorf("Failed replica A balance, got %d", bal)
	}
	if nonce, _ := ledgerB.Nonce(signer.Address()); nonce != 2 {
		t.Errorf("Failed replica B nonce, got %d", nonce)
	}
	if bal, _ := ledgerB.Balance("ABCD", user.Address()); bal != 3 {
		t.Errorf("Failed replica B balance, got %d", bal)
	}

	chain.proposeErr = nil
	if err := p.Propose(context.Background()); err != nil {
		t.Fatalf("Failed retry: %v", err)
	}
	if len(chain.proposals) != 4 {
		t.Fatalf("Failed proposals, got %d", len(chain.proposals))
	}
	a, b := chain.proposals[0], chain.proposals[1]
	if a.rollup != rollupA || a.block.BlockNumber != 1 || len(a.block.Transactions) != 2 {
		t.Errorf("Failed retried block A, got %s #%d with %d txs", a.rollup.Hex(), a.block.BlockNumber, len(a.block.Transactions))
	}
	if b.rollup != rollupB || b.block.BlockNumber != 1 || len(b.block.Transactions) != 2 {
		t.Errorf("Failed retried block B, got %s #%d with %d txs", b.rollup.Hex(), b.block.BlockNumber, len(b.block.Transactions))
	}
	if b.block.Transactions[1].Content.Nonce != 1 {
		t.Errorf("Failed payout nonce, got %d", b.block.Transactions[1].Content.Nonce)
	}
	if next := chain.proposals[2].block; next.BlockNumber != 3 || next.ParentHash != a.block.BlockHash || len(next.Transactions) != 0 {
		t.Errorf("Failed follow-up block, got #%d with %d txs", next.BlockNumber, len(next.Transactions))
	}
	// nothing was replayed twice
	if nonce, _ := ledgerA.Nonce(user.Address()); nonce != 2 {
		t.Errorf("Failed replica A nonce after retry, got %d", nonce)
	}
	if nonce, _ := ledgerB.Nonce(signer.Address()); nonce != 2 {
		t.Errorf("Failed replica B nonce after retry, got %d", nonce)
	}
	if _, ok := p.a.Pending(); ok {
		t.Errorf("Failed, block A still pending")
	}
}
