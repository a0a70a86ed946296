package messages

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type TransactionType uint8

const (
	TxMint     TransactionType = 0
	TxTransfer TransactionType = 1
)

func (t TransactionType) String() string {
	switch t {
	case TxMint:
		return "Mint"
	case TxTransfer:
		return "Transfer"
	default:
		return fmt.Sprintf("TransactionType(%d)", uint8(t))
	}
}

// Params is the typed payload of a transaction. Exactly one variant is
// carried per transaction and its Type must match the content's TxType.
type Params interface {
	Type() TransactionType
	Ticker() string
}

type MintParams struct {
	TokenTicker string         `json:"token_ticker"`
	Owner       common.Address `json:"owner"`
	Supply      uint16         `json:"supply"`
}

func (MintParams) Type() TransactionType { return TxMint }
func (p MintParams) Ticker() string      { return p.TokenTicker }

type TransferParams struct {
	TokenTicker string         `json:"token_ticker"`
	To          common.Address `json:"to"`
	Amount      uint16         `json:"amount"`
}

func (TransferParams) Type() TransactionType { return TxTransfer }
func (p TransferParams) Ticker() string      { return p.TokenTicker }

type TransactionContent struct {
	From   common.Address
	TxType TransactionType
	Params Params
	Nonce  uint32
}

type Transaction struct {
	Content   TransactionContent `json:"tx_content"`
	Hash      common.Hash        `json:"tx_hash"`
	Signature hexutil.Bytes      `json:"signature"`
}

type contentJSON struct {
	From    common.Address  `json:"from"`
	TxType  TransactionType `json:"tx_type"`
	TxParam paramsJSON      `json:"tx_param"`
	Nonce   uint32          `json:"nonce"`
}

// paramsJSON is externally tagged: {"Mint": {...}} or {"Transfer": {...}}.
type paramsJSON struct {
	Mint     *MintParams     `json:"Mint,omitempty"`
	Transfer *TransferParams `json:"Transfer,omitempty"`
}

func (c TransactionContent) MarshalJSON() ([]byte, error) {
	out := contentJSON{From: c.From, TxType: c.TxType, Nonce: c.Nonce}
	switch p := c.Params.(type) {
	case MintParams:
		out.TxParam.Mint = &p
	case TransferParams:
		out.TxParam.Transfer = &p
	default:
		return nil, fmt.Errorf("unsupported transaction params %T", c.Params)
	}
	return json.Marshal(out)
}

func (c *TransactionContent) UnmarshalJSON(data []byte) error {
	var in contentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.TxParam.Mint != nil && in.TxParam.Transfer == nil:
		c.Params = *in.TxParam.Mint
	case in.TxParam.Transfer != nil && in.TxParam.Mint == nil:
		c.Params = *in.TxParam.Transfer
	default:
		return fmt.Errorf("tx_param must carry exactly one of Mint or Transfer")
	}
	if c.Params.Type() != in.TxType {
		return fmt.Errorf("tx_type %s does not match tx_param %s", in.TxType, c.Params.Type())
	}
	c.From, c.TxType, c.Nonce = in.From, in.TxType, in.Nonce
	return nil
}

type QueryType string

const (
	QueryBalance QueryType = "QueryBalance"
	QueryNonce   QueryType = "QueryNonce"
	QueryTicker  QueryType = "QueryTicker"
	QueryState   QueryType = "QueryState"
)

type Query struct {
	QrType  QueryType      `json:"qr_type"`
	Ticker  string         `json:"ticker,omitempty"`
	Address common.Address `json:"address,omitempty"`
}
