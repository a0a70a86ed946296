package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
	"github.com/spire-labs/poc-monorepo/store"
)

var preconfContract = common.HexToAddress("0xc0ffee0000000000000000000000000000000001")

func mockSigner(t *testing.T) *crypto.Signer {
	s, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mockTx(t *testing.T, signer *crypto.Signer, params messages.Params, nonce uint32) messages.Transaction {
	content := messages.TransactionContent{From: signer.Address(), TxType: params.Type(), Params: params, Nonce: nonce}
	hash, err := messages.HashContent(content)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signer.SignHash(hash)
	if err != nil {
		t.Fatal(err)
	}
	return messages.Transaction{Content: content, Hash: hash, Signature: sig}
}

func mockSubmission(t *testing.T, signer *crypto.Signer, params messages.Params, nonce uint32) messages.SubmitPreconfirmation {
	tx := mockTx(t, signer, params, nonce)
	enc, err := messages.EncodeContent(tx.Content)
	if err != nil {
		t.Fatal(err)
	}
	return messages.SubmitPreconfirmation{TxContent: enc, TxHash: tx.Hash, Signature: tx.Signature}
}

func privileged(t *testing.T, tx messages.Transaction) messages.PrivilegedTransaction {
	enc, err := messages.EncodeContent(tx.Content)
	if err != nil {
		t.Fatal(err)
	}
	return messages.PrivilegedTransaction{TxHash: tx.Hash, TxContent: enc, Signature: tx.Signature, PreconferContract: preconfContract}
}

type mockElection struct {
	mu     sync.Mutex
	winner common.Address
	err    error
	blocks []uint64
}

func (m *mockElection) GetWinner(ctx context.Context, block uint64) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, block)
	return m.winner, m.err
}

// localEnforcers calls an in-process enforcer the way the HTTP client
// would: a rejected payload surfaces as ErrNoCommitment.
type localEnforcers struct {
	enforcer *Enforcer
	tamper   func(*messages.PreconfirmationCommitment)
	err      error
}

func (l *localEnforcers) RequestPreconfirmation(ctx context.Context, url string, payload messages.PreconfirmationPayload) (*messages.PreconfirmationCommitment, error) {
	if l.err != nil {
		return nil, l.err
	}
	c, err := l.enforcer.RequestPreconfirmation(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCommitment, err)
	}
	if l.tamper != nil {
		l.tamper(c)
	}
	return c, nil
}

type mockBalances struct{}

func (mockBalances) GetBalance(ctx context.Context, rollup common.Address, ticker string, owner common.Address) (uint16, error) {
	return 42, nil
}

type testNetwork struct {
	gateway    *Gateway
	enforcer   *Enforcer
	store      *store.MemoryStore
	election   *mockElection
	client     *localEnforcers
	conditions *modules.ValidityConditions
	gwSigner   *crypto.Signer
	enSigner   *crypto.Signer
}

// initNetwork wires a gateway to one registered enforcer whose ledger
// already holds tip funds for the gateway.
func initNetwork(t *testing.T) *testNetwork {
	logger := log.NewNopLogger()
	gwSigner, enSigner := mockSigner(t), mockSigner(t)
	conditions := modules.NewValidityConditions()
	enforcer := NewEnforcer(logger, modules.NewLedger(dbm.NewMemDB()), conditions, modules.NewCounter(0, 2), enSigner, BlockSourceLocal)

	funding := mockTx(t, gwSigner, messages.MintParams{TokenTicker: "ETH", Owner: gwSigner.Address(), Supply: 10000}, 0)
	if err := enforcer.ApplyTransaction(context.Background(), privileged(t, funding)); err != nil {
		t.Fatalf("Failed funding gateway: %v", err)
	}

	st := store.NewMemoryStore()
	if err := st.PutEnforcer(context.Background(), messages.EnforcerMetadata{Address: enSigner.Address(), Name: "enforcer", URL: "local"}); err != nil {
		t.Fatal(err)
	}
	election := &mockElection{winner: enSigner.Address()}
	client := &localEnforcers{enforcer: enforcer}
	cfg := GatewayConfig{PreconferContract: preconfContract, TipTicker: "ETH", TipAmount: 100}
	gateway := NewGateway(logger, cfg, st, election, client, mockBalances{}, gwSigner, modules.NewCounter(0, 2), modules.NewCounter(1, 1))
	return &testNetwork{
		gateway:    gateway,
		enforcer:   enforcer,
		store:      st,
		election:   election,
		client:     client,
		conditions: conditions,
		gwSigner:   gwSigner,
		enSigner:   enSigner,
	}
}

func (n *testNetwork) status(t *testing.T, hash common.Hash) messages.PreconfStatus {
	status, err := n.store.GetStatus(context.Background(), hash)
	if err != nil {
		t.Fatalf("Failed reading status: %v", err)
	}
	return status
}
