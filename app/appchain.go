package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	tendermint "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
)

const (
	CodeTypeOK            = tendermint.CodeTypeOK
	CodeTypeEncodingError = uint32(1)
	CodeTypeInvalidTx     = uint32(2)
	CodeTypeUnauthorized  = uint32(3)
	CodeTypeInternalError = uint32(4)
	CodeTypeUnknownQuery  = uint32(5)
)

// Appchain replays settled transactions against a local ledger replica.
// Transactions are the canonical transaction encoding; queries are JSON
// messages.Query values.
type Appchain struct {
	Name string

	mu      sync.Mutex
	height  int64
	appHash []byte
	ledger  *modules.Ledger
	logger  log.Logger
}

var _ tendermint.Application = (*Appchain)(nil)

func NewAppchain(name string, ledger *modules.Ledger, logger log.Logger) *Appchain {
	return &Appchain{Name: name, ledger: ledger, logger: logger.With("appchain", name)}
}

func (a *Appchain) Ledger() *modules.Ledger { return a.ledger }

func (a *Appchain) Height() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

func code(err error) uint32 {
	var codecErr *messages.CodecError
	var validityErr *modules.ValidityError
	var signatureErr *modules.SignatureError
	switch {
	case err == nil:
		return CodeTypeOK
	case errors.As(err, &codecErr):
		return CodeTypeEncodingError
	case errors.As(err, &validityErr):
		return CodeTypeInvalidTx
	case errors.As(err, &signatureErr):
		return CodeTypeUnauthorized
	default:
		return CodeTypeInternalError
	}
}

func (a *Appchain) Info(requestInfo tendermint.RequestInfo) tendermint.ResponseInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return tendermint.ResponseInfo{
		Data:             a.Name,
		Version:          "v1",
		AppVersion:       1,
		LastBlockHeight:  a.height,
		LastBlockAppHash: a.appHash,
	}
}

func (a *Appchain) SetOption(requestSetOption tendermint.RequestSetOption) tendermint.ResponseSetOption {
	return tendermint.ResponseSetOption{}
}

func (a *Appchain) Query(requestQuery tendermint.RequestQuery) tendermint.ResponseQuery {
	var query messages.Query
	if err := json.Unmarshal(requestQuery.Data, &query); err != nil {
		return tendermint.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error()}
	}
	var value interface{}
	var err error
	switch query.QrType {
	case messages.QueryBalance:
		value, err = a.ledger.Balance(query.Ticker, query.Address)
	case messages.QueryNonce:
		value, err = a.ledger.Nonce(query.Address)
	case messages.QueryTicker:
		value, err = a.ledger.Initialized(query.Ticker)
	case messages.QueryState:
		value, err = a.ledger.State()
	default:
		return tendermint.ResponseQuery{Code: CodeTypeUnknownQuery, Log: fmt.Sprintf("unknown query %q", query.QrType)}
	}
	if err != nil {
		return tendermint.ResponseQuery{Code: CodeTypeInternalError, Log: err.Error()}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return tendermint.ResponseQuery{Code: CodeTypeInternalError, Log: err.Error()}
	}
	return tendermint.ResponseQuery{
		Code:   CodeTypeOK,
		Index:  -1,
		Key:    requestQuery.Data,
		Value:  raw,
		Height: a.Height(),
	}
}

func (a *Appchain) CheckTx(requestCheckTx tendermint.RequestCheckTx) tendermint.ResponseCheckTx {
	tx, err := messages.DecodeTransaction(requestCheckTx.Tx)
	if err == nil {
		err = modules.VerifyTransaction(tx)
	}
	if err == nil {
		err = a.ledger.CheckValidity(tx.Content)
	}
	if err != nil {
		return tendermint.ResponseCheckTx{Code: code(err), Log: err.Error()}
	}
	return tendermint.ResponseCheckTx{Code: CodeTypeOK}
}

// InitChain applies the genesis transactions carried as a JSON array in
// AppStateBytes. An invalid genesis is fatal.
func (a *Appchain) InitChain(requestInitChain tendermint.RequestInitChain) tendermint.ResponseInitChain {
	if len(requestInitChain.AppStateBytes) == 0 {
		return tendermint.ResponseInitChain{}
	}
	var genesis []messages.Transaction
	if err := json.Unmarshal(requestInitChain.AppStateBytes, &genesis); err != nil {
		panic(fmt.Sprintf("invalid genesis: %v", err))
	}
	for i, tx := range genesis {
		if err := a.ledger.ExecuteTransaction(tx); err != nil {
			panic(fmt.Sprintf("genesis transaction %d: %v", i, err))
		}
	}
	a.logger.Info("Applied genesis", "txs", len(genesis))
	return tendermint.ResponseInitChain{}
}

func (a *Appchain) BeginBlock(requestBeginBlock tendermint.RequestBeginBlock) tendermint.ResponseBeginBlock {
	return tendermint.ResponseBeginBlock{}
}

func (a *Appchain) DeliverTx(requestDeliverTx tendermint.RequestDeliverTx) tendermint.ResponseDeliverTx {
	tx, err := messages.DecodeTransaction(requestDeliverTx.Tx)
	if err == nil {
		err = a.ledger.ExecuteTransaction(tx)
	}
	if err != nil {
		a.logger.Debug("Rejected transaction", "err", err)
		return tendermint.ResponseDeliverTx{Code: code(err), Log: err.Error()}
	}
	return tendermint.ResponseDeliverTx{Code: CodeTypeOK, Data: tx.Hash.Bytes()}
}

func (a *Appchain) EndBlock(requestEndBlock tendermint.RequestEndBlock) tendermint.ResponseEndBlock {
	return tendermint.ResponseEndBlock{}
}

func (a *Appchain) Commit() tendermint.ResponseCommit {
	hash, err := a.ledger.Hash()
	if err != nil {
		panic(fmt.Sprintf("ledger hash: %v", err))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.height++
	a.appHash = hash.Bytes()
	return tendermint.ResponseCommit{Data: a.appHash}
}
