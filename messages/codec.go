package messages

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrEmptyInput     = errors.New("empty input")
	ErrUnknownTxType  = errors.New("unknown transaction type")
	ErrParamsMismatch = errors.New("transaction type does not match params")
	ErrNonCanonical   = errors.New("non-canonical encoding")
)

// CodecError reports bytes that are not a well-formed encoding of the
// expected structure.
type CodecError struct {
	What string
	Err  error
}

func (e *CodecError) Error() string { return fmt.Sprintf("decode %s: %v", e.What, e.Err) }
func (e *CodecError) Unwrap() error { return e.Err }

func codecError(what string, err error) error {
	return &CodecError{What: what, Err: err}
}

var (
	paramsArgs      = tupleArgs("tuple", field("ticker", "string"), field("account", "address"), field("amount", "uint16"))
	contentArgs     = tupleArgs("tuple", field("from", "address"), field("txType", "uint8"), field("txParam", "bytes"), field("nonce", "uint32"))
	transactionArgs = tupleArgs("tuple", field("txContent", "bytes"), field("txHash", "bytes"), field("signature", "bytes"))
	payloadArgs     = tupleArgs("tuple", field("transaction", "bytes"), field("tipTx", "bytes"), field("preconferContract", "address"))
	txListArgs      = tupleArgs("tuple[]", field("txContent", "bytes"), field("txHash", "bytes"), field("signature", "bytes"))
)

type paramsTuple struct {
	Ticker  string
	Account common.Address
	Amount  uint16
}

type contentTuple struct {
	From    common.Address
	TxType  uint8
	TxParam []byte
	Nonce   uint32
}

type transactionTuple struct {
	TxContent []byte
	TxHash    []byte
	Signature []byte
}

type payloadTuple struct {
	Transaction       []byte
	TipTx             []byte
	PreconferContract common.Address
}

func field(name, typ string) abi.ArgumentMarshaling {
	return abi.ArgumentMarshaling{Name: name, Type: typ}
}

func tupleArgs(typ string, fields ...abi.ArgumentMarshaling) abi.Arguments {
	t, err := abi.NewType(typ, "", fields)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

// unpack decodes a single tuple argument into out and rejects inputs that
// would not re-encode to the exact same bytes.
func unpack(args abi.Arguments, what string, data []byte, out interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = codecError(what, fmt.Errorf("%v", r))
		}
	}()
	if len(data) == 0 {
		return codecError(what, ErrEmptyInput)
	}
	values, err := args.Unpack(data)
	if err != nil {
		return codecError(what, err)
	}
	if len(values) != 1 {
		return codecError(what, fmt.Errorf("expected 1 value, got %d", len(values)))
	}
	if err := convert(values[0], out); err != nil {
		return codecError(what, err)
	}
	canonical, err := args.Pack(deref(out))
	if err != nil {
		return codecError(what, err)
	}
	if !bytes.Equal(canonical, data) {
		return codecError(what, ErrNonCanonical)
	}
	return nil
}

func convert(in, out interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	abi.ConvertType(in, out)
	return nil
}

func deref(v interface{}) interface{} {
	switch p := v.(type) {
	case *paramsTuple:
		return *p
	case *contentTuple:
		return *p
	case *transactionTuple:
		return *p
	case *payloadTuple:
		return *p
	case *[]transactionTuple:
		return *p
	}
	return v
}

func EncodeParams(p Params) ([]byte, error) {
	switch p := p.(type) {
	case MintParams:
		return paramsArgs.Pack(paramsTuple{Ticker: p.TokenTicker, Account: p.Owner, Amount: p.Supply})
	case TransferParams:
		return paramsArgs.Pack(paramsTuple{Ticker: p.TokenTicker, Account: p.To, Amount: p.Amount})
	default:
		return nil, fmt.Errorf("encode params: %w", ErrUnknownTxType)
	}
}

func DecodeParams(txType TransactionType, data []byte) (Params, error) {
	var t paramsTuple
	if err := unpack(paramsArgs, "params", data, &t); err != nil {
		return nil, err
	}
	switch txType {
	case TxMint:
		return MintParams{TokenTicker: t.Ticker, Owner: t.Account, Supply: t.Amount}, nil
	case TxTransfer:
		return TransferParams{TokenTicker: t.Ticker, To: t.Account, Amount: t.Amount}, nil
	default:
		return nil, codecError("params", ErrUnknownTxType)
	}
}

// EncodeContent produces the canonical bytes a transaction hash is taken over.
func EncodeContent(c TransactionContent) ([]byte, error) {
	if c.Params == nil || c.Params.Type() != c.TxType {
		return nil, fmt.Errorf("encode content: %w", ErrParamsMismatch)
	}
	param, err := EncodeParams(c.Params)
	if err != nil {
		return nil, err
	}
	return contentArgs.Pack(contentTuple{From: c.From, TxType: uint8(c.TxType), TxParam: param, Nonce: c.Nonce})
}

func DecodeContent(data []byte) (TransactionContent, error) {
	var t contentTuple
	if err := unpack(contentArgs, "content", data, &t); err != nil {
		return TransactionContent{}, err
	}
	txType := TransactionType(t.TxType)
	if txType != TxMint && txType != TxTransfer {
		return TransactionContent{}, codecError("content", ErrUnknownTxType)
	}
	params, err := DecodeParams(txType, t.TxParam)
	if err != nil {
		return TransactionContent{}, err
	}
	return TransactionContent{From: t.From, TxType: txType, Params: params, Nonce: t.Nonce}, nil
}

// HashContent is keccak256 over the canonical content encoding.
func HashContent(c TransactionContent) (common.Hash, error) {
	enc, err := EncodeContent(c)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

func transactionToTuple(tx Transaction) (transactionTuple, error) {
	content, err := EncodeContent(tx.Content)
	if err != nil {
		return transactionTuple{}, err
	}
	return transactionTuple{TxContent: content, TxHash: tx.Hash.Bytes(), Signature: tx.Signature}, nil
}

func EncodeTransaction(tx Transaction) ([]byte, error) {
	t, err := transactionToTuple(tx)
	if err != nil {
		return nil, err
	}
	return transactionArgs.Pack(t)
}

func DecodeTransaction(data []byte) (Transaction, error) {
	var t transactionTuple
	if err := unpack(transactionArgs, "transaction", data, &t); err != nil {
		return Transaction{}, err
	}
	if len(t.TxHash) != common.HashLength {
		return Transaction{}, codecError("transaction", fmt.Errorf("hash length %d", len(t.TxHash)))
	}
	content, err := DecodeContent(t.TxContent)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{Content: content, Hash: common.BytesToHash(t.TxHash), Signature: t.Signature}, nil
}

// EncodeTransactionList encodes an ordered list of transactions as a
// single dynamic array argument. Block hashes are taken over this.
func EncodeTransactionList(txs []Transaction) ([]byte, error) {
	list := make([]transactionTuple, 0, len(txs))
	for _, tx := range txs {
		t, err := transactionToTuple(tx)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return txListArgs.Pack(list)
}

func DecodeTransactionList(data []byte) ([]Transaction, error) {
	var list []transactionTuple
	if err := unpack(txListArgs, "transaction list", data, &list); err != nil {
		return nil, err
	}
	txs := make([]Transaction, 0, len(list))
	for _, t := range list {
		content, err := DecodeContent(t.TxContent)
		if err != nil {
			return nil, err
		}
		txs = append(txs, Transaction{Content: content, Hash: common.BytesToHash(t.TxHash), Signature: t.Signature})
	}
	return txs, nil
}

func EncodePayload(p PreconfirmationPayload) ([]byte, error) {
	tx, err := EncodeTransaction(p.Transaction)
	if err != nil {
		return nil, err
	}
	tip, err := EncodeTransaction(p.TipTx)
	if err != nil {
		return nil, err
	}
	return payloadArgs.Pack(payloadTuple{Transaction: tx, TipTx: tip, PreconferContract: p.PreconferContract})
}

func DecodePayload(data []byte) (PreconfirmationPayload, error) {
	var t payloadTuple
	if err := unpack(payloadArgs, "payload", data, &t); err != nil {
		return PreconfirmationPayload{}, err
	}
	tx, err := DecodeTransaction(t.Transaction)
	if err != nil {
		return PreconfirmationPayload{}, err
	}
	tip, err := DecodeTransaction(t.TipTx)
	if err != nil {
		return PreconfirmationPayload{}, err
	}
	return PreconfirmationPayload{Transaction: tx, TipTx: tip, PreconferContract: t.PreconferContract}, nil
}

// HashPayload is the digest an enforcer signs when it commits to a payload.
func HashPayload(p PreconfirmationPayload) (common.Hash, error) {
	enc, err := EncodePayload(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}
