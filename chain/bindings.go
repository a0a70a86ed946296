package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/spire-labs/poc-monorepo/messages"
)

func (c *Client) GetWinner(ctx context.Context, election common.Address, block uint64) (common.Address, error) {
	out, err := c.call(ctx, election, ElectionABI, "getWinner", new(big.Int).SetUint64(block))
	if err != nil {
		return common.Address{}, err
	}
	winner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getWinner: unexpected %T", out[0])
	}
	return winner, nil
}

func (c *Client) SubmitValidityConditions(ctx context.Context, slashing common.Address, txs []messages.Transaction) error {
	conditions, err := ToContractList(txs)
	if err != nil {
		return err
	}
	receipt, err := c.transact(ctx, slashing, SlashingABI, "submitValidityConditions", conditions)
	if err != nil {
		return err
	}
	c.logger.Info("Submitted validity conditions", "contract", slashing.Hex(), "txs", len(txs), "block", receipt.BlockNumber)
	return nil
}

func (c *Client) GetValidityConditions(ctx context.Context, slashing common.Address, block uint64) ([]messages.Transaction, error) {
	out, err := c.call(ctx, slashing, SlashingABI, "getValidityConditions", new(big.Int).SetUint64(block))
	if err != nil {
		return nil, err
	}
	var conditions []Transaction
	if err := convert(out[0], &conditions); err != nil {
		return nil, fmt.Errorf("getValidityConditions: %w", err)
	}
	txs := make([]messages.Transaction, 0, len(conditions))
	for _, cond := range conditions {
		tx, err := FromContract(cond)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c *Client) GetBalance(ctx context.Context, rollup common.Address, ticker string, owner common.Address) (uint16, error) {
	out, err := c.call(ctx, rollup, RollupABI, "getBalance", ticker, owner)
	if err != nil {
		return 0, err
	}
	balance, ok := out[0].(uint16)
	if !ok {
		return 0, fmt.Errorf("getBalance: unexpected %T", out[0])
	}
	return balance, nil
}

func (c *Client) Nonce(ctx context.Context, rollup common.Address, owner common.Address) (uint32, error) {
	out, err := c.call(ctx, rollup, RollupABI, "nonces", owner)
	if err != nil {
		return 0, err
	}
	nonce, ok := out[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("nonces: unexpected %T", out[0])
	}
	return nonce, nil
}

func (c *Client) ProposeBlock(ctx context.Context, rollup common.Address, block messages.Block) error {
	b, err := BlockToContract(block)
	if err != nil {
		return err
	}
	receipt, err := c.transact(ctx, rollup, RollupABI, "proposeBlock", b)
	if err != nil {
		return err
	}
	c.logger.Info("Proposed block", "contract", rollup.Hex(), "number", block.BlockNumber, "hash", block.BlockHash.Hex(), "l1", receipt.BlockNumber)
	return nil
}

// Election binds the leader election contract at a fixed address.
type Election struct {
	Client  *Client
	Address common.Address
}

func (e Election) GetWinner(ctx context.Context, block uint64) (common.Address, error) {
	return e.Client.GetWinner(ctx, e.Address, block)
}

func convert(in interface{}, out interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	abi.ConvertType(in, out)
	return nil
}
