package fetcher

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	irpc "github.com/goran-ethernal/ChainSync/internal/rpc"
	"github.com/goran-ethernal/ChainSync/pkg/rpc"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

// ErrChainMoved is returned when fetched logs no longer match the canonical chain.
var ErrChainMoved = errors.New("chain reorganized during fetch")

// Config selects the logs to fetch.
type Config struct {
	// Addresses are the contract addresses to filter
	Addresses []ethcommon.Address

	// Topics are the event topic filters
	Topics [][]ethcommon.Hash

	// TailDepth is how many refs at the end of a range are returned for reorg detection
	TailDepth uint64
}

// Result holds the logs of a block range and the headers they belong to.
type Result struct {
	FromBlock uint64
	ToBlock   uint64
	Logs      []types.Log
	// Headers maps the number of every block with logs to its header
	Headers map[uint64]*types.Header
	// Tail holds the refs of the last TailDepth blocks of the range, ascending
	Tail []store.BlockRef
}

// Timestamp returns the timestamp of a block with logs.
func (r *Result) Timestamp(block uint64) uint64 {
	if h, ok := r.Headers[block]; ok {
		return h.Time
	}
	return 0
}

// Fetcher reads historical logs and headers.
type Fetcher struct {
	cfg Config
	rpc rpc.EthClient
	log *logger.Logger
}

// New creates a Fetcher.
func New(cfg Config, client rpc.EthClient, log *logger.Logger) *Fetcher {
	return &Fetcher{
		cfg: cfg,
		rpc: client,
		log: log,
	}
}

// FetchRange returns every matching log in [from, to] with the headers of their blocks.
// Ranges the node refuses as too large are split and fetched piecewise.
func (f *Fetcher) FetchRange(ctx context.Context, from, to uint64) (*Result, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range [%d, %d]", from, to)
	}

	logs, err := f.fetchLogs(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs [%d, %d]: %w", from, to, err)
	}

	blocks := make(map[uint64]struct{})
	for _, l := range logs {
		blocks[l.BlockNumber] = struct{}{}
	}

	tailFrom := from
	if f.cfg.TailDepth > 0 && to-from+1 > f.cfg.TailDepth {
		tailFrom = to - f.cfg.TailDepth + 1
	}
	if f.cfg.TailDepth > 0 {
		for n := tailFrom; n <= to; n++ {
			blocks[n] = struct{}{}
		}
	}

	numbers := slices.Sorted(maps.Keys(blocks))
	headers, err := f.rpc.BatchGetBlockHeaders(ctx, numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch headers [%d, %d]: %w", from, to, err)
	}

	result := &Result{
		FromBlock: from,
		ToBlock:   to,
		Logs:      logs,
		Headers:   make(map[uint64]*types.Header, len(headers)),
	}
	for i, h := range headers {
		if h == nil || h.Number == nil || h.Number.Uint64() != numbers[i] {
			return nil, fmt.Errorf("node returned a malformed header for block %d", numbers[i])
		}
		result.Headers[numbers[i]] = h
	}

	for _, l := range logs {
		if l.Removed || result.Headers[l.BlockNumber].Hash() != l.BlockHash {
			return nil, fmt.Errorf("log %s-%d at block %d: %w", l.TxHash.Hex(), l.Index, l.BlockNumber, ErrChainMoved)
		}
	}

	if f.cfg.TailDepth > 0 {
		for n := tailFrom; n <= to; n++ {
			result.Tail = append(result.Tail, RefOf(result.Headers[n]))
		}
	}

	logsFetchedAdd(len(logs))
	f.log.Debugw("fetched range", "from", from, "to", to, "logs", len(logs))

	return result, nil
}

// FetchBlockLogs returns the matching logs of the block with the given hash.
func (f *Fetcher) FetchBlockLogs(ctx context.Context, blockHash ethcommon.Hash) ([]types.Log, error) {
	logs, err := f.rpc.GetLogs(ctx, ethereum.FilterQuery{
		BlockHash: &blockHash,
		Addresses: f.cfg.Addresses,
		Topics:    f.cfg.Topics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs of block %s: %w", blockHash.Hex(), err)
	}

	for _, l := range logs {
		if l.BlockHash != blockHash {
			return nil, fmt.Errorf("log of block %s reported for %s: %w", l.BlockHash.Hex(), blockHash.Hex(), ErrChainMoved)
		}
	}

	logsFetchedAdd(len(logs))
	return logs, nil
}

// fetchLogs walks [from, to] and narrows the window whenever the node refuses it.
func (f *Fetcher) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var all []types.Log

	cursor, end := from, to
	for cursor <= to {
		logs, err := f.rpc.GetLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(cursor),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: f.cfg.Addresses,
			Topics:    f.cfg.Topics,
		})
		if err == nil {
			all = append(all, logs...)
			if end == to {
				break
			}
			cursor, end = end+1, to
			continue
		}

		rle, ok := irpc.AsRangeLimitError(err)
		if !ok {
			return nil, err
		}

		newEnd, ok := narrow(cursor, end, rle)
		if !ok {
			return nil, fmt.Errorf("cannot split range further, block %d has too many logs: %w", cursor, err)
		}

		rangeSplitsInc()
		f.log.Infof("too many logs, retrying %d to %d (was %d to %d)", cursor, newEnd, cursor, end)
		end = newEnd
	}

	return all, nil
}

// narrow picks a smaller end for [from, to]. A suggested range is honored when it
// starts at from and shrinks the window, otherwise the window is halved.
func narrow(from, to uint64, rle *irpc.RangeLimitError) (uint64, bool) {
	if s := rle.Suggested; s != nil && s.From == from && s.To >= from && s.To < to {
		return s.To, true
	}

	if from == to {
		return 0, false
	}

	return from + (to-from)/2, true //nolint:mnd
}

// RefOf converts a header to a block ref.
func RefOf(h *types.Header) store.BlockRef {
	return store.BlockRef{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
	}
}
