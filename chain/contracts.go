package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/spire-labs/poc-monorepo/messages"
)

const txComponents = `[
	{"name":"txContent","type":"tuple","components":[
		{"name":"from","type":"address"},
		{"name":"txType","type":"uint8"},
		{"name":"txParam","type":"bytes"},
		{"name":"nonce","type":"uint32"}]},
	{"name":"transactionHash","type":"bytes32"},
	{"name":"signature","type":"bytes"}]`

const electionABI = `[
	{"type":"function","name":"getWinner","stateMutability":"view",
	 "inputs":[{"name":"blockNumber","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

const slashingABI = `[
	{"type":"function","name":"submitValidityConditions","stateMutability":"nonpayable",
	 "inputs":[{"name":"conditions","type":"tuple[]","components":` + txComponents + `}],
	 "outputs":[]},
	{"type":"function","name":"getValidityConditions","stateMutability":"view",
	 "inputs":[{"name":"blockNumber","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple[]","components":` + txComponents + `}]}
]`

const rollupABI = `[
	{"type":"function","name":"getBalance","stateMutability":"view",
	 "inputs":[{"name":"ticker","type":"string"},{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint16"}]},
	{"type":"function","name":"nonces","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint32"}]},
	{"type":"function","name":"proposeBlock","stateMutability":"nonpayable",
	 "inputs":[{"name":"block","type":"tuple","components":[
		{"name":"transactions","type":"tuple[]","components":` + txComponents + `},
		{"name":"blockHash","type":"bytes32"},
		{"name":"parentHash","type":"bytes32"},
		{"name":"blockNumber","type":"uint32"},
		{"name":"proposer","type":"address"},
		{"name":"proposerSignature","type":"bytes"}]}],
	 "outputs":[]}
]`

var (
	ElectionABI = mustParse(electionABI)
	SlashingABI = mustParse(slashingABI)
	RollupABI   = mustParse(rollupABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TxContent mirrors the contract's transaction content struct.
type TxContent struct {
	From    common.Address
	TxType  uint8
	TxParam []byte
	Nonce   uint32
}

type Transaction struct {
	TxContent       TxContent
	TransactionHash [32]byte
	Signature       []byte
}

type Block struct {
	Transactions      []Transaction
	BlockHash         [32]byte
	ParentHash        [32]byte
	BlockNumber       uint32
	Proposer          common.Address
	ProposerSignature []byte
}

// ToContract re-encodes tx params into the contract's native layout.
func ToContract(tx messages.Transaction) (Transaction, error) {
	param, err := messages.EncodeParams(tx.Content.Params)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		TxContent: TxContent{
			From:    tx.Content.From,
			TxType:  uint8(tx.Content.TxType),
			TxParam: param,
			Nonce:   tx.Content.Nonce,
		},
		TransactionHash: tx.Hash,
		Signature:       tx.Signature,
	}, nil
}

func ToContractList(txs []messages.Transaction) ([]Transaction, error) {
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		c, err := ToContract(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func FromContract(tx Transaction) (messages.Transaction, error) {
	txType := messages.TransactionType(tx.TxContent.TxType)
	params, err := messages.DecodeParams(txType, tx.TxContent.TxParam)
	if err != nil {
		return messages.Transaction{}, err
	}
	return messages.Transaction{
		Content: messages.TransactionContent{
			From:   tx.TxContent.From,
			TxType: txType,
			Params: params,
			Nonce:  tx.TxContent.Nonce,
		},
		Hash:      tx.TransactionHash,
		Signature: tx.Signature,
	}, nil
}

func BlockToContract(b messages.Block) (Block, error) {
	txs, err := ToContractList(b.Transactions)
	if err != nil {
		return Block{}, err
	}
	return Block{
		Transactions:      txs,
		BlockHash:         b.BlockHash,
		ParentHash:        b.ParentHash,
		BlockNumber:       b.BlockNumber,
		Proposer:          b.Proposer,
		ProposerSignature: b.ProposerSignature,
	}, nil
}
