package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
)

func initEnforcer(t *testing.T, source BlockSource) (*Enforcer, *modules.ValidityConditions) {
	conditions := modules.NewValidityConditions()
	e := NewEnforcer(log.NewNopLogger(), modules.NewLedger(dbm.NewMemDB()), conditions, modules.NewCounter(0, 2), mockSigner(t), source)
	return e, conditions
}

// mockPayload mints a fresh ticker for the user and tips with a ticker the
// tipper has to mint first.
func mockPayload(t *testing.T, e *Enforcer, block uint64) messages.PreconfirmationPayload {
	user, tipper := mockSigner(t), mockSigner(t)
	fund := mockTx(t, tipper, messages.MintParams{TokenTicker: "TIP" + tipper.Address().Hex()[2:6], Owner: tipper.Address(), Supply: 10}, 0)
	if err := e.ApplyTransaction(context.Background(), privileged(t, fund)); err != nil {
		t.Fatal(err)
	}
	mint := messages.MintParams{TokenTicker: "U" + user.Address().Hex()[2:6], Owner: user.Address(), Supply: 7}
	tip := messages.TransferParams{TokenTicker: fund.Content.Params.Ticker(), To: e.Address(), Amount: 1}
	return messages.PreconfirmationPayload{
		Transaction:       mockTx(t, user, mint, 0),
		TipTx:             mockTx(t, tipper, tip, 1),
		PreconferContract: preconfContract,
		BlockNumber:       block,
	}
}

func TestEnforcerLocalBlocks(t *testing.T) {
	e, _ := initEnforcer(t, BlockSourceLocal)
	for i := 0; i < 3; i++ {
		c, err := e.RequestPreconfirmation(context.Background(), mockPayload(t, e, 100))
		if err != nil {
			t.Fatalf("Failed preconfirmation: %v", err)
		}
		if c.BlockNumber != uint64(2*i) {
			t.Errorf("Failed local block, got %d", c.BlockNumber)
		}
	}
}

func TestEnforcerGatewayBlocks(t *testing.T) {
	e, _ := initEnforcer(t, BlockSourceGateway)
	c, err := e.RequestPreconfirmation(context.Background(), mockPayload(t, e, 10))
	if err != nil {
		t.Fatalf("Failed preconfirmation: %v", err)
	}
	if c.BlockNumber != 10 {
		t.Errorf("Failed gateway block, got %d", c.BlockNumber)
	}
	// without a gateway number the local counter continues past it
	c, err = e.RequestPreconfirmation(context.Background(), mockPayload(t, e, 0))
	if err != nil {
		t.Fatalf("Failed preconfirmation: %v", err)
	}
	if c.BlockNumber != 12 {
		t.Errorf("Failed observed block, got %d", c.BlockNumber)
	}
}

func TestEnforcerRejectionIsAtomic(t *testing.T) {
	e, conditions := initEnforcer(t, BlockSourceLocal)
	user, tipper := mockSigner(t), mockSigner(t)
	fund := mockTx(t, tipper, messages.MintParams{TokenTicker: "TIP", Owner: tipper.Address(), Supply: 10}, 0)
	if err := e.ApplyTransaction(context.Background(), privileged(t, fund)); err != nil {
		t.Fatal(err)
	}
	payload := messages.PreconfirmationPayload{
		Transaction: mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 1}, 0),
		// valid user tx, tip with a stale nonce
		TipTx:             mockTx(t, tipper, messages.TransferParams{TokenTicker: "TIP", To: e.Address(), Amount: 1}, 5),
		PreconferContract: preconfContract,
	}
	before := conditions.Len()

	_, err := e.RequestPreconfirmation(context.Background(), payload)
	var validity *modules.ValidityError
	if !errors.As(err, &validity) || !errors.Is(err, modules.ErrInvalidNonce) {
		t.Fatalf("Failed rejection, got %v", err)
	}
	if conditions.Len() != before {
		t.Errorf("Failed, rejected payload was queued")
	}
	if ok, _ := e.Ledger().Initialized("ABCD"); ok {
		t.Errorf("Failed, user mint was applied")
	}
	// the block counter did not move
	c, err := e.RequestPreconfirmation(context.Background(), mockPayload(t, e, 0))
	if err != nil || c.BlockNumber != 0 {
		t.Errorf("Failed counter, got %v %v", c, err)
	}
}

type failingSigner struct {
	*crypto.Signer
}

func (failingSigner) SignHash(hash common.Hash) ([]byte, error) {
	return nil, errors.New("key unavailable")
}

func TestEnforcerSigningFailureLeavesNoTrace(t *testing.T) {
	conditions := modules.NewValidityConditions()
	blocks := modules.NewCounter(0, 2)
	e := NewEnforcer(log.NewNopLogger(), modules.NewLedger(dbm.NewMemDB()), conditions, blocks, failingSigner{mockSigner(t)}, BlockSourceLocal)
	payload := mockPayload(t, e, 0)
	before := conditions.Len()

	if _, err := e.RequestPreconfirmation(context.Background(), payload); err == nil {
		t.Fatalf("Failed, commitment issued without a signature")
	}
	if conditions.Len() != before {
		t.Errorf("Failed, unsigned payload was queued")
	}
	if ok, _ := e.Ledger().Initialized(payload.Transaction.Content.Params.Ticker()); ok {
		t.Errorf("Failed, unsigned payload was applied")
	}
	if blocks.Peek() != 0 {
		t.Errorf("Failed, block counter moved to %d", blocks.Peek())
	}
}

func TestEnforcerApplyTransaction(t *testing.T) {
	e, conditions := initEnforcer(t, BlockSourceLocal)
	user := mockSigner(t)
	tx := mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 3}, 0)
	if err := e.ApplyTransaction(context.Background(), privileged(t, tx)); err != nil {
		t.Fatalf("Failed privileged tx: %v", err)
	}
	if conditions.Len() != 1 {
		t.Errorf("Failed validity conditions, got %d", conditions.Len())
	}

	bad := privileged(t, tx)
	bad.TxContent = bad.TxContent[:40]
	var codecErr *messages.CodecError
	if err := e.ApplyTransaction(context.Background(), bad); !errors.As(err, &codecErr) {
		t.Errorf("Failed codec error, got %v", err)
	}
	if err := e.ApplyTransaction(context.Background(), privileged(t, tx)); !errors.Is(err, modules.ErrInvalidNonce) {
		t.Errorf("Failed replay, got %v", err)
	}
}
