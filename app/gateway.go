package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tendermint/tendermint/libs/log"
	tmrand "github.com/tendermint/tendermint/libs/rand"

	"github.com/spire-labs/poc-monorepo/crypto"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
	"github.com/spire-labs/poc-monorepo/store"
)

const challengeLength = 30

type Election interface {
	GetWinner(ctx context.Context, block uint64) (common.Address, error)
}

// EnforcerClient forwards a payload to an enforcer endpoint. A response
// that carries no commitment is reported as ErrNoCommitment.
type EnforcerClient interface {
	RequestPreconfirmation(ctx context.Context, url string, payload messages.PreconfirmationPayload) (*messages.PreconfirmationCommitment, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, rollup common.Address, ticker string, owner common.Address) (uint16, error)
}

type GatewayStore interface {
	InsertStatus(ctx context.Context, txHash common.Hash, status messages.PreconfStatus) error
	SetStatus(ctx context.Context, txHash common.Hash, status messages.PreconfStatus) error
	GetStatus(ctx context.Context, txHash common.Hash) (messages.PreconfStatus, error)
	SaveCommitment(ctx context.Context, c messages.PreconfirmationCommitment) error
	GetCommitment(ctx context.Context, txHash common.Hash) (messages.PreconfirmationCommitment, error)
	PutEnforcer(ctx context.Context, m messages.EnforcerMetadata) error
	GetEnforcer(ctx context.Context, addr common.Address) (messages.EnforcerMetadata, error)
	ListEnforcers(ctx context.Context) ([]messages.EnforcerMetadata, error)
	CreateChallenge(ctx context.Context, challenge string) error
	ConsumeChallenge(ctx context.Context, challenge string) error
}

type GatewayConfig struct {
	PreconferContract common.Address
	TipTicker         string
	TipAmount         uint16
	// Rollups limits balance queries. Empty allows any contract.
	Rollups []common.Address
}

type Gateway struct {
	logger    log.Logger
	cfg       GatewayConfig
	store     GatewayStore
	election  Election
	enforcers EnforcerClient
	balances  BalanceReader
	signer    SigningProvider
	blocks    *modules.Counter
	nonces    *modules.Counter
}

func NewGateway(logger log.Logger, cfg GatewayConfig, st GatewayStore, election Election, enforcers EnforcerClient,
	balances BalanceReader, signer SigningProvider, blocks, nonces *modules.Counter) *Gateway {
	return &Gateway{
		logger:    logger,
		cfg:       cfg,
		store:     st,
		election:  election,
		enforcers: enforcers,
		balances:  balances,
		signer:    signer,
		blocks:    blocks,
		nonces:    nonces,
	}
}

func (g *Gateway) Address() common.Address { return g.signer.Address() }

// RequestPreconfirmation routes a user transaction to the elected enforcer
// and verifies the commitment it returns. Once the request is recorded as
// PENDING every failure flips it to DENIED.
func (g *Gateway) RequestPreconfirmation(ctx context.Context, req messages.SubmitPreconfirmation) (*messages.PreconfirmationCommitment, error) {
	content, err := messages.DecodeContent(req.TxContent)
	if err != nil {
		return nil, err
	}
	if err := g.store.InsertStatus(ctx, req.TxHash, messages.StatusPending); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateRequest
		}
		return nil, upstream("record status", err)
	}
	commitment, err := g.preconfirm(ctx, req, content)
	if err != nil {
		g.setStatus(ctx, req.TxHash, messages.StatusDenied)
		g.logger.Info("Denied preconfirmation", "tx", req.TxHash.Hex(), "err", err)
		return nil, err
	}
	// The enforcer has committed at this point. A request whose commitment
	// cannot be recorded is still reported DENIED rather than left PENDING.
	if err := g.store.SaveCommitment(ctx, *commitment); err != nil {
		g.setStatus(ctx, req.TxHash, messages.StatusDenied)
		return nil, upstream("save commitment", err)
	}
	if err := g.store.SetStatus(ctx, req.TxHash, messages.StatusApproved); err != nil {
		g.setStatus(ctx, req.TxHash, messages.StatusDenied)
		return nil, upstream("record status", err)
	}
	g.logger.Info("Approved preconfirmation", "tx", req.TxHash.Hex(), "enforcer", commitment.Signer.Hex(), "block", commitment.BlockNumber)
	return commitment, nil
}

func (g *Gateway) preconfirm(ctx context.Context, req messages.SubmitPreconfirmation, content messages.TransactionContent) (*messages.PreconfirmationCommitment, error) {
	if ethcrypto.Keccak256Hash(req.TxContent) != req.TxHash {
		return nil, &modules.SignatureError{Err: modules.ErrHashMismatch}
	}
	tx := messages.Transaction{Content: content, Hash: req.TxHash, Signature: req.Signature}

	// Until the payload reaches the enforcer, every failure hands the
	// counters back so the next request lines up with the enforcer's.
	block := g.blocks.Next()
	leader, err := g.election.GetWinner(ctx, block)
	if err != nil {
		g.blocks.Release(block)
		return nil, upstream("election", err)
	}
	enforcer, err := g.store.GetEnforcer(ctx, leader)
	if err != nil {
		g.blocks.Release(block)
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrUnknownEnforcer, leader.Hex())
		}
		return nil, upstream("resolve enforcer", err)
	}

	nonce := g.nonces.Next()
	tip, err := g.tip(content, leader, uint32(nonce))
	if err != nil {
		g.nonces.Release(nonce)
		g.blocks.Release(block)
		return nil, err
	}
	payload := messages.PreconfirmationPayload{
		Transaction:       tx,
		TipTx:             tip,
		PreconferContract: g.cfg.PreconferContract,
		BlockNumber:       block,
	}
	commitment, err := g.enforcers.RequestPreconfirmation(ctx, enforcer.URL, payload)
	if errors.Is(err, ErrNoCommitment) {
		// The enforcer did not advance its counters, so ours can go back.
		g.nonces.Release(nonce)
		g.blocks.Release(block)
		return nil, err
	}
	if err != nil {
		return nil, upstream("request preconfirmation", err)
	}
	if err := g.verify(payload, commitment, leader, block); err != nil {
		return nil, err
	}
	commitment.PreconfirmationRequest = payload
	return commitment, nil
}

// tip pays the leader for including content.
func (g *Gateway) tip(content messages.TransactionContent, leader common.Address, nonce uint32) (messages.Transaction, error) {
	tipContent := messages.TransactionContent{
		From:   g.signer.Address(),
		TxType: messages.TxTransfer,
		Params: messages.TransferParams{TokenTicker: g.cfg.TipTicker, To: leader, Amount: g.price(content)},
		Nonce:  nonce,
	}
	hash, err := messages.HashContent(tipContent)
	if err != nil {
		return messages.Transaction{}, err
	}
	sig, err := g.signer.SignHash(hash)
	if err != nil {
		return messages.Transaction{}, fmt.Errorf("sign tip: %w", err)
	}
	return messages.Transaction{Content: tipContent, Hash: hash, Signature: sig}, nil
}

// price is flat for now.
func (g *Gateway) price(messages.TransactionContent) uint16 {
	return g.cfg.TipAmount
}

// verify checks the commitment against the payload as sent, never the copy
// echoed back by the enforcer.
func (g *Gateway) verify(payload messages.PreconfirmationPayload, c *messages.PreconfirmationCommitment, leader common.Address, block uint64) error {
	if c == nil {
		return ErrNoCommitment
	}
	hash, err := messages.HashPayload(payload)
	if err != nil {
		return err
	}
	if !crypto.Verify(c.Signer, hash, c.Signature) {
		return fmt.Errorf("%w: commitment signature does not match payload", ErrProtocolViolation)
	}
	if c.Signer != leader {
		return fmt.Errorf("%w: commitment signed by %s, leader is %s", ErrProtocolViolation, c.Signer.Hex(), leader.Hex())
	}
	if c.BlockNumber != block {
		return fmt.Errorf("%w: commitment for block %d, expected %d", ErrProtocolViolation, c.BlockNumber, block)
	}
	return nil
}

func (g *Gateway) setStatus(ctx context.Context, txHash common.Hash, status messages.PreconfStatus) {
	if err := g.store.SetStatus(ctx, txHash, status); err != nil {
		g.logger.Error("Failed to record status", "tx", txHash.Hex(), "status", status, "err", err)
	}
}

func (g *Gateway) Status(ctx context.Context, txHash common.Hash) (messages.PreconfStatus, error) {
	return g.store.GetStatus(ctx, txHash)
}

func (g *Gateway) Commitment(ctx context.Context, txHash common.Hash) (messages.PreconfirmationCommitment, error) {
	return g.store.GetCommitment(ctx, txHash)
}

func (g *Gateway) Balance(ctx context.Context, rollup common.Address, ticker string, owner common.Address) (*messages.BalanceResponse, error) {
	if !g.knownRollup(rollup) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRollup, rollup.Hex())
	}
	balance, err := g.balances.GetBalance(ctx, rollup, ticker, owner)
	if err != nil {
		return nil, upstream("get balance", err)
	}
	return &messages.BalanceResponse{Contract: rollup, Ticker: ticker, Address: owner, Balance: balance}, nil
}

func (g *Gateway) knownRollup(rollup common.Address) bool {
	if len(g.cfg.Rollups) == 0 {
		return true
	}
	for _, r := range g.cfg.Rollups {
		if r == rollup {
			return true
		}
	}
	return false
}

// Challenge issues a one-time string an enforcer must sign to register.
func (g *Gateway) Challenge(ctx context.Context) (string, error) {
	challenge := tmrand.Str(challengeLength)
	if err := g.store.CreateChallenge(ctx, challenge); err != nil {
		return "", upstream("create challenge", err)
	}
	return challenge, nil
}

// RegisterEnforcer records an enforcer that signed a challenge issued by
// Challenge. A known address has its metadata refreshed and gets
// ErrAlreadyRegistered.
func (g *Gateway) RegisterEnforcer(ctx context.Context, req messages.RegisterEnforcer) error {
	if strings.TrimSpace(req.URL) == "" || req.Address == (common.Address{}) {
		return fmt.Errorf("%w: address and url are required", ErrInvalidMetadata)
	}
	if err := g.store.ConsumeChallenge(ctx, req.Challenge); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrChallengeExpired) {
			return ErrInvalidChallenge
		}
		return upstream("consume challenge", err)
	}
	if err := crypto.VerifyChallenge(req.Challenge, req.Signature, req.Address); err != nil {
		return &modules.SignatureError{Err: err}
	}
	_, err := g.store.GetEnforcer(ctx, req.Address)
	known := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return upstream("resolve enforcer", err)
	}
	if err := g.store.PutEnforcer(ctx, req.EnforcerMetadata); err != nil {
		return upstream("save enforcer", err)
	}
	if known {
		g.logger.Info("Refreshed enforcer", "address", req.Address.Hex(), "url", req.URL)
		return ErrAlreadyRegistered
	}
	g.logger.Info("Registered enforcer", "address", req.Address.Hex(), "name", req.Name, "url", req.URL)
	return nil
}

func (g *Gateway) Enforcers(ctx context.Context) ([]messages.EnforcerMetadata, error) {
	return g.store.ListEnforcers(ctx)
}
