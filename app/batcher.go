package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"github.com/spire-labs/poc-monorepo/chain"
	"github.com/spire-labs/poc-monorepo/messages"
	"github.com/spire-labs/poc-monorepo/modules"
)

const (
	ParityEven = 0
	ParityOdd  = 1
)

type Settlement interface {
	WaitForParity(ctx context.Context, parity uint64) (uint64, error)
	SubmitValidityConditions(ctx context.Context, slashing common.Address, txs []messages.Transaction) error
}

// Batcher periodically settles the enforcer's validity conditions. It only
// submits on even L1 blocks, leaving odd blocks to the proposer.
type Batcher struct {
	service.BaseService

	conditions *modules.ValidityConditions
	settlement Settlement
	interval   time.Duration
	heartbeat  []common.Address

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBatcher returns a stopped batcher. heartbeat lists contracts that get
// an empty submission on cycles with nothing pending.
func NewBatcher(logger log.Logger, conditions *modules.ValidityConditions, settlement Settlement,
	interval time.Duration, heartbeat []common.Address) *Batcher {
	b := &Batcher{
		conditions: conditions,
		settlement: settlement,
		interval:   interval,
		heartbeat:  heartbeat,
	}
	b.BaseService = *service.NewBaseService(logger, "Batcher", b)
	return b
}

func (b *Batcher) OnStart() error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
	return nil
}

func (b *Batcher) OnStop() {
	b.cancel()
	<-b.done
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Settle(ctx); err != nil {
				b.Logger.Error("Settlement failed", "err", err)
			}
		}
	}
}

// Settle drains the accumulator and submits one batch per contract.
// Batches that never reached the chain are queued again; batches that were
// broadcast but failed are dropped and logged.
func (b *Batcher) Settle(ctx context.Context) error {
	batches := b.conditions.Drain()
	if len(batches) == 0 {
		if len(b.heartbeat) == 0 {
			return nil
		}
		for _, c := range b.heartbeat {
			batches[c] = nil
		}
	}
	block, err := b.settlement.WaitForParity(ctx, ParityEven)
	if err != nil {
		b.requeue(batches)
		return upstream("wait for even block", err)
	}
	var errs []error
	for _, contract := range modules.Contracts(batches) {
		txs := batches[contract]
		err := b.settlement.SubmitValidityConditions(ctx, contract, txs)
		switch {
		case err == nil:
			b.Logger.Info("Settled validity conditions", "contract", contract.Hex(), "txs", len(txs), "l1", block)
			continue
		case errors.Is(err, chain.ErrNotBroadcast):
			b.conditions.Requeue(contract, txs)
		default:
			b.Logger.Error("Dropped validity conditions", "contract", contract.Hex(), "txs", len(txs), "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", contract.Hex(), err))
	}
	if len(errs) > 0 {
		return upstream("submit validity conditions", errors.Join(errs...))
	}
	return nil
}

func (b *Batcher) requeue(batches map[common.Address][]messages.Transaction) {
	for contract, txs := range batches {
		b.conditions.Requeue(contract, txs)
	}
}
