package modules

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spire-labs/poc-monorepo/messages"
)

// ValidityConditions accumulates transactions an enforcer has applied,
// grouped by the preconfer contract they settle to.
type ValidityConditions struct {
	mu      sync.Mutex
	pending map[common.Address][]messages.Transaction
}

func NewValidityConditions() *ValidityConditions {
	return &ValidityConditions{pending: map[common.Address][]messages.Transaction{}}
}

func (v *ValidityConditions) Append(contract common.Address, txs ...messages.Transaction) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending[contract] = append(v.pending[contract], txs...)
}

// Drain swaps the accumulated batches for an empty set and returns them.
func (v *ValidityConditions) Drain() map[common.Address][]messages.Transaction {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.pending
	v.pending = map[common.Address][]messages.Transaction{}
	return out
}

// Requeue puts txs back ahead of anything appended since they were drained.
func (v *ValidityConditions) Requeue(contract common.Address, txs []messages.Transaction) {
	if len(txs) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending[contract] = append(append([]messages.Transaction{}, txs...), v.pending[contract]...)
}

func (v *ValidityConditions) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, txs := range v.pending {
		n += len(txs)
	}
	return n
}

// Contracts returns the keys of a drained set in a stable order.
func Contracts(batches map[common.Address][]messages.Transaction) []common.Address {
	out := make([]common.Address, 0, len(batches))
	for c := range batches {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
