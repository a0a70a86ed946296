package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
)

// SigningProvider is the identity a service signs commitments, tips and
// blocks with.
type SigningProvider interface {
	Address() common.Address
	SignHash(hash common.Hash) ([]byte, error)
}

type BlockSource string

const (
	// BlockSourceLocal numbers commitments from the enforcer's own counter.
	BlockSourceLocal BlockSource = "local"
	// BlockSourceGateway echoes the block number the gateway attached to the
	// payload, when present.
	BlockSourceGateway BlockSource = "gateway"
)

// GatewayClient is what an enforcer needs to register itself.
type GatewayClient interface {
	Challenge(ctx context.Context) (string, error)
	RegisterEnforcer(ctx context.Context, req messages.RegisterEnforcer) error
}

type Enforcer struct {
	logger     log.Logger
	ledger     *modules.Ledger
	conditions *modules.ValidityConditions
	blocks     *modules.Counter
	signer     SigningProvider
	source     BlockSource
}

func NewEnforcer(logger log.Logger, ledger *modules.Ledger, conditions *modules.ValidityConditions,
	blocks *modules.Counter, signer SigningProvider, source BlockSource) *Enforcer {
	if source == "" {
		source = BlockSourceLocal
	}
	return &Enforcer{logger: logger, ledger: ledger, conditions: conditions, blocks: blocks, signer: signer, source: source}
}

func (e *Enforcer) Address() common.Address { return e.signer.Address() }

func (e *Enforcer) Ledger() *modules.Ledger { return e.ledger }

// RequestPreconfirmation executes the user transaction and its tip as one
// unit, queues both for settlement and signs the payload.
func (e *Enforcer) RequestPreconfirmation(ctx context.Context, payload messages.PreconfirmationPayload) (*messages.PreconfirmationCommitment, error) {
	hash, err := messages.HashPayload(payload)
	if err != nil {
		return nil, err
	}
	// signed up front, released only once the batch has committed
	sig, err := e.signer.SignHash(hash)
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}
	if err := e.ledger.ExecuteBatch(payload.Transaction, payload.TipTx); err != nil {
		e.logger.Info("Rejected preconfirmation", "tx", payload.Transaction.Hash.Hex(), "err", err)
		return nil, err
	}
	e.conditions.Append(payload.PreconferContract, payload.Transaction, payload.TipTx)

	block := e.nextBlock(payload.BlockNumber)
	e.logger.Info("Preconfirmed", "tx", payload.Transaction.Hash.Hex(), "block", block, "contract", payload.PreconferContract.Hex())
	return &messages.PreconfirmationCommitment{
		PreconfirmationRequest: payload,
		BlockNumber:            block,
		Signature:              sig,
		Signer:                 e.signer.Address(),
	}, nil
}

func (e *Enforcer) nextBlock(requested uint64) uint64 {
	if e.source == BlockSourceGateway && requested != 0 {
		e.blocks.Observe(requested)
		return requested
	}
	return e.blocks.Next()
}

// ApplyTransaction is the privileged path: no tip, no leader check, but the
// full decode, authentication and validity checks still run.
func (e *Enforcer) ApplyTransaction(ctx context.Context, priv messages.PrivilegedTransaction) error {
	content, err := messages.DecodeContent(priv.TxContent)
	if err != nil {
		return err
	}
	tx := messages.Transaction{Content: content, Hash: priv.TxHash, Signature: priv.Signature}
	if err := e.ledger.ExecuteTransaction(tx); err != nil {
		return err
	}
	e.conditions.Append(priv.PreconferContract, tx)
	e.logger.Info("Applied privileged transaction", "tx", tx.Hash.Hex(), "type", content.TxType.String())
	return nil
}

// Register answers the gateway's challenge and publishes meta.
func (e *Enforcer) Register(ctx context.Context, gateway GatewayClient, meta messages.EnforcerMetadata) error {
	challenge, err := gateway.Challenge(ctx)
	if err != nil {
		return upstream("request challenge", err)
	}
	sig, err := e.signer.SignHash(crypto.ChallengeHash(challenge))
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}
	meta.Address = e.signer.Address()
	req := messages.RegisterEnforcer{EnforcerMetadata: meta, Challenge: challenge, Signature: sig}
	err = gateway.RegisterEnforcer(ctx, req)
	if errors.Is(err, ErrAlreadyRegistered) {
		e.logger.Info("Already registered with gateway", "address", meta.Address.Hex())
		return nil
	}
	if err != nil {
		return upstream("register enforcer", err)
	}
	e.logger.Info("Registered with gateway", "address", meta.Address.Hex(), "url", meta.URL)
	return nil
}
