package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainSync/internal/retry"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainSync/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

const maxHeaderBatch = 100

// Client wraps the Ethereum RPC client. Every call except SubscribeNewHead is
// retried on transient failures and instrumented.
type Client struct {
	eth      *ethclient.Client
	rpc      *rpc.Client
	retryCfg *config.RetryConfig
}

// NewClient creates a new RPC client connected to the given endpoint.
// A nil retryCfg disables retries.
func NewClient(ctx context.Context, endpoint string, retryCfg *config.RetryConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return &Client{
		eth:      ethclient.NewClient(rpcClient),
		rpc:      rpcClient,
		retryCfg: retryCfg,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return c.headerByNumber(ctx, new(big.Int).SetUint64(blockNum))
}

// GetLatestBlockHeader retrieves the latest block header.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, nil)
}

// GetFinalizedBlockHeader retrieves the finalized block header.
func (c *Client) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
}

// GetSafeBlockHeader retrieves the safe block header.
func (c *Client) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.SafeBlockNumber)))
}

func (c *Client) headerByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in batches of at most 100.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	allResults := make([]*types.Header, 0, len(blockNums))

	for i := 0; i < len(blockNums); i += maxHeaderBatch {
		chunk := blockNums[i:min(i+maxHeaderBatch, len(blockNums))]
		results := make([]*types.Header, len(chunk))

		err := c.call(ctx, "batch_eth_getBlockByNumber", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			for j, blockNum := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(blockNum), false},
					Result: &results[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			for j, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
				if results[j] == nil {
					return fmt.Errorf("header %d: %w", chunk[j], ethereum.NotFound)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// SubscribeNewHead subscribes to new chain heads. It fails on transports without notifications.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	rpcMethodInc("eth_subscribe")

	sub, err := c.eth.SubscribeNewHead(ctx, ch)
	if err != nil {
		rpcMethodError("eth_subscribe", errorType(err))
		return nil, err
	}

	return sub, nil
}

func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	return retry.Do(ctx, c.retryCfg, method, func() error {
		start := time.Now()
		rpcMethodInc(method)

		err := fn()
		rpcMethodDuration(method, time.Since(start))
		if err != nil {
			rpcMethodError(method, errorType(err))
		}
		return err
	})
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ethereum.NotFound):
		return "not_found"
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		return "unsupported"
	case retry.IsRetryable(err):
		return "transient"
	default:
		return "other"
	}
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
