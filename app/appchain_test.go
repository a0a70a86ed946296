package app

import (
	"bytes"
	"encoding/json"
	"testing"

	tendermint "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
)

func mockAppchain() *Appchain {
	return NewAppchain("test", modules.NewLedger(dbm.NewMemDB()), log.NewNopLogger())
}

func mockRequestDeliverTx(t *testing.T, tx messages.Transaction) tendermint.RequestDeliverTx {
	raw, err := messages.EncodeTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	return tendermint.RequestDeliverTx{Tx: raw}
}

func mockRequestQuery(t *testing.T, q messages.Query) tendermint.RequestQuery {
	raw, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}
	return tendermint.RequestQuery{Data: raw}
}

func TestAppchain(t *testing.T) {
	app := mockAppchain()
	user := mockSigner(t)
	mint := mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 50}, 0)

	_ = app.Info(tendermint.RequestInfo{})
	if res := app.DeliverTx(mockRequestDeliverTx(t, mint)); !res.IsOK() {
		t.Fatalf("Failed deliver: %s", res.Log)
	}
	if res := app.DeliverTx(mockRequestDeliverTx(t, mint)); res.Code != CodeTypeInvalidTx {
		t.Errorf("Failed replay, got code %d", res.Code)
	}
	commit := app.Commit()
	if app.Height() != 1 || len(commit.Data) != 32 {
		t.Errorf("Failed commit, height %d", app.Height())
	}
	info := app.Info(tendermint.RequestInfo{})
	if info.LastBlockHeight != 1 || !bytes.Equal(info.LastBlockAppHash, commit.Data) {
		t.Errorf("Failed info, got %+v", info)
	}

	res := app.Query(mockRequestQuery(t, messages.Query{QrType: messages.QueryBalance, Ticker: "ABCD", Address: user.Address()}))
	if !res.IsOK() || string(res.Value) != "50" {
		t.Errorf("Failed balance query, got %q %s", res.Value, res.Log)
	}
	res = app.Query(mockRequestQuery(t, messages.Query{QrType: messages.QueryNonce, Address: user.Address()}))
	if !res.IsOK() || string(res.Value) != "1" {
		t.Errorf("Failed nonce query, got %q", res.Value)
	}
	res = app.Query(mockRequestQuery(t, messages.Query{QrType: messages.QueryTicker, Ticker: "ABCD"}))
	if !res.IsOK() || string(res.Value) != "true" {
		t.Errorf("Failed ticker query, got %q", res.Value)
	}
	res = app.Query(mockRequestQuery(t, messages.Query{QrType: messages.QueryState}))
	var state modules.State
	if err := json.Unmarshal(res.Value, &state); err != nil || state.Balances["ABCD"][modules.AccountKey(user.Address())] != 50 {
		t.Errorf("Failed state query, got %s", res.Value)
	}
	if res = app.Query(mockRequestQuery(t, messages.Query{QrType: "QueryUnknown"})); res.Code != CodeTypeUnknownQuery {
		t.Errorf("Failed unknown query, got %d", res.Code)
	}
	if res = app.Query(tendermint.RequestQuery{Data: []byte("{")}); res.Code != CodeTypeEncodingError {
		t.Errorf("Failed malformed query, got %d", res.Code)
	}
}

func TestAppchainCheckTx(t *testing.T) {
	app := mockAppchain()
	user, other := mockSigner(t), mockSigner(t)
	mint := mockTx(t, user, messages.MintParams{TokenTicker: "ABCD", Owner: user.Address(), Supply: 50}, 0)

	if res := app.CheckTx(tendermint.RequestCheckTx{Tx: mockRequestDeliverTx(t, mint).Tx}); !res.IsOK() {
		t.Errorf("Failed check: %s", res.Log)
	}
	// checking does not mutate
	if ok, _ := app.Ledger().Initialized("ABCD"); ok {
		t.Errorf("Failed, CheckTx applied the transaction")
	}
	if res := app.CheckTx(tendermint.RequestCheckTx{Tx: []byte{0xff}}); res.Code != CodeTypeEncodingError {
		t.Errorf("Failed malformed tx, got %d", res.Code)
	}

	forged := mint
	forged.Signature, _ = other.SignHash(mint.Hash)
	if res := app.CheckTx(tendermint.RequestCheckTx{Tx: mockRequestDeliverTx(t, forged).Tx}); res.Code != CodeTypeUnauthorized {
		t.Errorf("Failed forged tx, got %d", res.Code)
	}

	transfer := mockTx(t, user, messages.TransferParams{TokenTicker: "NOPE", To: other.Address(), Amount: 1}, 0)
	if res := app.CheckTx(tendermint.RequestCheckTx{Tx: mockRequestDeliverTx(t, transfer).Tx}); res.Code != CodeTypeInvalidTx {
		t.Errorf("Failed invalid tx, got %d", res.Code)
	}
}

func TestAppchainInitChain(t *testing.T) {
	app := mockAppchain()
	owner, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	genesis := []messages.Transaction{
		mockTx(t, owner, messages.MintParams{TokenTicker: "ETH", Owner: owner.Address(), Supply: 1000}, 0),
		mockTx(t, owner, messages.MintParams{TokenTicker: "USDC", Owner: owner.Address(), Supply: 2000}, 1),
	}
	raw, _ := json.Marshal(genesis)
	_ = app.InitChain(tendermint.RequestInitChain{AppStateBytes: raw})

	if bal, _ := app.Ledger().Balance("USDC", owner.Address()); bal != 2000 {
		t.Errorf("Failed genesis balance, got %d", bal)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Failed, invalid genesis accepted")
		}
	}()
	mockAppchain().InitChain(tendermint.RequestInitChain{AppStateBytes: []byte(`[{"tx_hash":"0x00"}]`)})
}
