package messages

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PreconfirmationPayload is what the gateway asks an enforcer to commit to.
// BlockNumber is advisory and is not part of the signed encoding.
type PreconfirmationPayload struct {
	Transaction       Transaction    `json:"transaction"`
	TipTx             Transaction    `json:"tip_tx"`
	PreconferContract common.Address `json:"preconfer_contract"`
	BlockNumber       uint64         `json:"block_number,omitempty"`
}

type PreconfirmationCommitment struct {
	PreconfirmationRequest PreconfirmationPayload `json:"preconfirmation_request"`
	BlockNumber            uint64                 `json:"block_number"`
	Signature              hexutil.Bytes          `json:"commitment"`
	Signer                 common.Address         `json:"signer"`
}

// SubmitPreconfirmation is a user's request to the gateway. TxContent holds
// the canonical content encoding the user signed.
type SubmitPreconfirmation struct {
	TxContent hexutil.Bytes `json:"tx_content"`
	TxHash    common.Hash   `json:"tx_hash"`
	Signature hexutil.Bytes `json:"signature"`
}

// PrivilegedTransaction bypasses the tip flow and is applied directly by
// an enforcer.
type PrivilegedTransaction struct {
	TxHash            common.Hash    `json:"tx_hash"`
	TxContent         hexutil.Bytes  `json:"tx_content"`
	Signature         hexutil.Bytes  `json:"signature"`
	PreconferContract common.Address `json:"preconfer_contract"`
}

type PreconfStatus string

const (
	StatusPending  PreconfStatus = "PENDING"
	StatusApproved PreconfStatus = "APPROVED"
	StatusDenied   PreconfStatus = "DENIED"
)

type StatusResponse struct {
	TxHash common.Hash   `json:"tx_hash"`
	Status PreconfStatus `json:"status"`
}

type BalanceResponse struct {
	Contract common.Address `json:"contract"`
	Ticker   string         `json:"ticker"`
	Address  common.Address `json:"address"`
	Balance  uint16         `json:"balance"`
}

type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

type EnforcerMetadata struct {
	Address          common.Address   `json:"address"`
	Name             string           `json:"name"`
	PreconfContracts []common.Address `json:"preconf_contracts"`
	URL              string           `json:"url"`
}

// RegisterEnforcer proves control of Address by signing keccak256(Challenge).
type RegisterEnforcer struct {
	EnforcerMetadata
	Challenge string        `json:"challenge_string"`
	Signature hexutil.Bytes `json:"signature"`
}

// Block is an appchain block header with its ordered transactions.
type Block struct {
	Transactions      []Transaction  `json:"transactions"`
	BlockHash         common.Hash    `json:"block_hash"`
	ParentHash        common.Hash    `json:"parent_hash"`
	BlockNumber       uint32         `json:"block_number"`
	Proposer          common.Address `json:"proposer"`
	ProposerSignature hexutil.Bytes  `json:"proposer_signature"`
}
