package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/spire-labs/poc-monorepo/crypto"
)

const DefaultPollInterval = time.Second

var (
	// ErrNotBroadcast wraps failures that happened before the transaction
	// reached the node. Such calls can be resubmitted as is.
	ErrNotBroadcast = errors.New("transaction not broadcast")
	ErrReverted     = errors.New("transaction reverted")
	ErrNoSigner     = errors.New("client has no signing key")
)

// Backend is the subset of an RPC client the contract bindings need.
// *ethclient.Client satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	poll    time.Duration
	logger  log.Logger

	sendMtx sync.Mutex
}

func Dial(ctx context.Context, url string, signer *crypto.Signer, chainID uint64, logger log.Logger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	id := new(big.Int).SetUint64(chainID)
	if chainID == 0 {
		if id, err = rpc.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	return NewClient(rpc, signer, id, logger), nil
}

// NewClient wraps backend. signer may be nil for read-only use.
func NewClient(backend Backend, signer *crypto.Signer, chainID *big.Int, logger log.Logger) *Client {
	c := &Client{backend: backend, chainID: chainID, poll: DefaultPollInterval, logger: logger}
	if signer != nil {
		c.key, c.from = signer.PrivateKey(), signer.Address()
	}
	return c
}

func (c *Client) SetPollInterval(d time.Duration) { c.poll = d }

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// WaitForParity polls until the chain head number has the given parity
// (0 for even, 1 for odd) and returns that number.
func (c *Client) WaitForParity(ctx context.Context, parity uint64) (uint64, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		n, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return 0, err
		}
		if n%2 == parity%2 {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// transact signs and sends a call to contract and waits for its receipt.
func (c *Client) transact(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	tx, err := c.send(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", method, ErrNotBroadcast, err)
	}
	c.logger.Debug("Sent transaction", "method", method, "contract", contract.Hex(), "tx", tx.Hash().Hex())
	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s: %w in block %v", method, ErrReverted, receipt.BlockNumber)
	}
	return receipt, nil
}

func (c *Client) send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	c.sendMtx.Lock()
	defer c.sendMtx.Unlock()
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, err
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return nil, err
	}
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: price, Gas: gas, To: &to, Data: data})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
