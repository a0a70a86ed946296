package modules

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spire-labs/poc-monorepo/messages"
)

func mockCondition(nonce uint32) messages.Transaction {
	return messages.Transaction{Content: messages.TransactionContent{
		TxType: messages.TxMint,
		Params: messages.MintParams{TokenTicker: "V"},
		Nonce:  nonce,
	}}
}

func TestDrainEmptiesAccumulator(t *testing.T) {
	acc := NewValidityConditions()
	contract := common.HexToAddress("0x01")
	acc.Append(contract, mockCondition(0), mockCondition(1))
	drained := acc.Drain()
	if len(drained[contract]) != 2 {
		t.Errorf("Expected 2 drained transactions, got %d", len(drained[contract]))
	}
	if acc.Len() != 0 || len(acc.Drain()) != 0 {
		t.Errorf("Accumulator not empty after drain")
	}
}

func TestRequeueKeepsOrder(t *testing.T) {
	acc := NewValidityConditions()
	contract := common.HexToAddress("0x01")
	acc.Append(contract, mockCondition(0))
	drained := acc.Drain()
	acc.Append(contract, mockCondition(1))
	acc.Requeue(contract, drained[contract])
	next := acc.Drain()[contract]
	if len(next) != 2 || next[0].Content.Nonce != 0 || next[1].Content.Nonce != 1 {
		t.Errorf("Requeued transactions out of order: %+v", next)
	}
}

func TestConcurrentAppendAndDrain(t *testing.T) {
	acc := NewValidityConditions()
	contracts := []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")}
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				acc.Append(contracts[(w+i)%2], mockCondition(uint32(i)))
			}
		}(w)
	}
	seen := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		for _, txs := range acc.Drain() {
			seen += len(txs)
		}
	}
	if seen != writers*perWriter {
		t.Errorf("Expected %d transactions across drains, got %d", writers*perWriter, seen)
	}
}

func TestContractsSorted(t *testing.T) {
	batches := map[common.Address][]messages.Transaction{
		common.HexToAddress("0x03"): nil,
		common.HexToAddress("0x01"): nil,
		common.HexToAddress("0x02"): nil,
	}
	got := Contracts(batches)
	for i := 1; i < len(got); i++ {
		if got[i-1].Hex() > got[i].Hex() {
			t.Errorf("Contracts not sorted: %v", got)
		}
	}
}
