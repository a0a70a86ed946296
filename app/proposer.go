package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	tendermint "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"github.com/spire-labs/poc-monorepo/messages"
)

type ProposerChain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	WaitForParity(ctx context.Context, parity uint64) (uint64, error)
	GetValidityConditions(ctx context.Context, slashing common.Address, block uint64) ([]messages.Transaction, error)
	Nonce(ctx context.Context, rollup common.Address, owner common.Address) (uint32, error)
	ProposeBlock(ctx context.Context, rollup common.Address, block messages.Block) error
}

// Rollup is one appchain the proposer builds blocks for. Transactions are
// replayed into App when a block is built; a block whose proposal failed
// stays pending and is proposed again before anything new is replayed.
type Rollup struct {
	Slashing common.Address
	Contract common.Address
	App      *Appchain

	parent     common.Hash
	number     uint32
	pending    []messages.Transaction
	unproposed bool
}

func NewRollup(app *Appchain, slashing, contract common.Address, startBlock uint32) *Rollup {
	return &Rollup{App: app, Slashing: slashing, Contract: contract, number: startBlock}
}

func (r *Rollup) Head() (common.Hash, uint32) { return r.parent, r.number }

// Pending returns the transactions of a built block that is not on chain yet.
func (r *Rollup) Pending() ([]messages.Transaction, bool) { return r.pending, r.unproposed }

func (r *Rollup) hold(txs []messages.Transaction) {
	r.App.Commit()
	r.pending = txs
	r.unproposed = true
}

// BridgeConfig prices cross-chain swaps. A transfer to the proposer with an
// odd amount is a bridge of the same token; an even amount is a swap paid
// out as Amount of Ticker.
type BridgeConfig struct {
	Ticker string
	Amount uint16
}

type bridgeIntent struct {
	to     common.Address
	ticker string
	amount uint16
}

// Proposer replays settled validity conditions of two appchains, mirrors
// transfers sent to it on chain A as payouts on chain B, and proposes a
// block for each on odd L1 blocks.
type Proposer struct {
	service.BaseService

	chain    ProposerChain
	signer   SigningProvider
	a, b     *Rollup
	bridge   BridgeConfig
	interval time.Duration

	mtx    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProposer(logger log.Logger, chain ProposerChain, signer SigningProvider, a, b *Rollup,
	bridge BridgeConfig, interval time.Duration) *Proposer {
	p := &Proposer{chain: chain, signer: signer, a: a, b: b, bridge: bridge, interval: interval}
	p.BaseService = *service.NewBaseService(logger, "Proposer", p)
	return p
}

func (p *Proposer) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	return nil
}

func (p *Proposer) OnStop() {
	p.cancel()
	<-p.done
}

func (p *Proposer) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Propose(ctx); err != nil {
				p.Logger.Error("Proposal failed", "err", err)
			}
		}
	}
}

// Propose runs one cycle for both appchains against the current L1 block.
// Blocks left over from a failed cycle go first.
func (p *Proposer) Propose(ctx context.Context) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if err := p.flush(ctx); err != nil {
		return err
	}
	l1, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return upstream("block number", err)
	}
	aTxs, err := p.chain.GetValidityConditions(ctx, p.a.Slashing, l1)
	if err != nil {
		return upstream("validity conditions A", err)
	}
	bTxs, err := p.chain.GetValidityConditions(ctx, p.b.Slashing, l1)
	if err != nil {
		return upstream("validity conditions B", err)
	}
	// read before any replay so a failure leaves the replicas untouched
	onchain, err := p.chain.Nonce(ctx, p.b.Contract, p.signer.Address())
	if err != nil {
		return upstream("proposer nonce", err)
	}

	appliedA := p.deliver(p.a, aTxs)
	p.a.hold(appliedA)
	appliedB := p.deliver(p.b, bTxs)

	var intents []bridgeIntent
	for _, tx := range appliedA {
		if intent, ok := p.bridgeIntent(tx); ok {
			intents = append(intents, intent)
		}
	}
	if len(intents) > 0 {
		payouts, err := p.payouts(onchain, intents)
		if err != nil {
			p.b.hold(appliedB)
			return err
		}
		appliedB = append(appliedB, p.deliver(p.b, payouts)...)
	}
	p.b.hold(appliedB)

	return p.flush(ctx)
}

// flush proposes every pending block, A before B.
func (p *Proposer) flush(ctx context.Context) error {
	for _, r := range []*Rollup{p.a, p.b} {
		if !r.unproposed {
			continue
		}
		if err := p.propose(ctx, r); err != nil {
			return fmt.Errorf("appchain %s: %w", r.App.Name, err)
		}
	}
	return nil
}

// deliver replays txs and returns the ones the appchain accepted.
func (p *Proposer) deliver(r *Rollup, txs []messages.Transaction) []messages.Transaction {
	var applied []messages.Transaction
	r.App.BeginBlock(tendermint.RequestBeginBlock{})
	for _, tx := range txs {
		raw, err := messages.EncodeTransaction(tx)
		if err != nil {
			p.Logger.Error("Skipping unencodable transaction", "appchain", r.App.Name, "tx", tx.Hash.Hex(), "err", err)
			continue
		}
		res := r.App.DeliverTx(tendermint.RequestDeliverTx{Tx: raw})
		if !res.IsOK() {
			p.Logger.Error("Skipping rejected transaction", "appchain", r.App.Name, "tx", tx.Hash.Hex(), "code", res.Code, "log", res.Log)
			continue
		}
		applied = append(applied, tx)
	}
	r.App.EndBlock(tendermint.RequestEndBlock{})
	return applied
}

func (p *Proposer) bridgeIntent(tx messages.Transaction) (bridgeIntent, bool) {
	transfer, ok := tx.Content.Params.(messages.TransferParams)
	if !ok || transfer.To != p.signer.Address() {
		return bridgeIntent{}, false
	}
	if transfer.Amount%2 == 1 {
		return bridgeIntent{to: tx.Content.From, ticker: transfer.TokenTicker, amount: transfer.Amount}, true
	}
	return bridgeIntent{to: tx.Content.From, ticker: p.bridge.Ticker, amount: p.bridge.Amount}, true
}

// payouts signs one chain B transfer per intent with consecutive nonces,
// starting from the later of the on-chain and replicated nonce.
func (p *Proposer) payouts(onchain uint32, intents []bridgeIntent) ([]messages.Transaction, error) {
	local, err := p.b.App.Ledger().Nonce(p.signer.Address())
	if err != nil {
		return nil, err
	}
	nonce := onchain
	if local > nonce {
		nonce = local
	}
	out := make([]messages.Transaction, 0, len(intents))
	for _, in := range intents {
		content := messages.TransactionContent{
			From:   p.signer.Address(),
			TxType: messages.TxTransfer,
			Params: messages.TransferParams{TokenTicker: in.ticker, To: in.to, Amount: in.amount},
			Nonce:  nonce,
		}
		hash, err := messages.HashContent(content)
		if err != nil {
			return nil, err
		}
		sig, err := p.signer.SignHash(hash)
		if err != nil {
			return nil, fmt.Errorf("sign payout: %w", err)
		}
		out = append(out, messages.Transaction{Content: content, Hash: hash, Signature: sig})
		nonce++
	}
	return out, nil
}

func (p *Proposer) propose(ctx context.Context, r *Rollup) error {
	enc, err := messages.EncodeTransactionList(r.pending)
	if err != nil {
		return err
	}
	hash := ethcrypto.Keccak256Hash(enc)
	sig, err := p.signer.SignHash(hash)
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	block := messages.Block{
		Transactions:      r.pending,
		BlockHash:         hash,
		ParentHash:        r.parent,
		BlockNumber:       r.number,
		Proposer:          p.signer.Address(),
		ProposerSignature: sig,
	}
	if _, err := p.chain.WaitForParity(ctx, ParityOdd); err != nil {
		return upstream("wait for odd block", err)
	}
	if err := p.chain.ProposeBlock(ctx, r.Contract, block); err != nil {
		return upstream("propose block", err)
	}
	p.Logger.Info("Proposed block", "appchain", r.App.Name, "number", r.number, "hash", hash.Hex(), "txs", len(r.pending))
	r.parent = hash
	r.number += 2
	r.pending, r.unproposed = nil, false
	return nil
}
