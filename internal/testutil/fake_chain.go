package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/pkg/rpc"
)

var _ rpc.EthClient = (*FakeChain)(nil)

// GenesisTime is the timestamp of block zero. Block n has timestamp GenesisTime + n.
const GenesisTime = 1_700_000_000

// Methods that accept injected failures.
const (
	MethodGetLogs        = "GetLogs"
	MethodGetBlockHeader = "GetBlockHeader"
	MethodLatest         = "GetLatestBlockHeader"
	MethodSubscribe      = "SubscribeNewHead"
)

type fakeBlock struct {
	header *types.Header
	logs   []types.Log
}

// FakeChain is an in-memory chain implementing rpc.EthClient.
// It supports reorgs, head subscriptions, injected failures and a getLogs result cap.
type FakeChain struct {
	mu sync.Mutex

	canonical []*fakeBlock
	byHash    map[common.Hash]*fakeBlock
	fork      uint64

	safeDepth      uint64
	finalizedDepth uint64
	maxResults     int

	failures     map[string][]error
	subs         map[*fakeSub]chan<- *types.Header
	noSubscribe  bool
	getLogsCalls []ethereum.FilterQuery
}

// NewFakeChain creates a chain holding only the genesis block.
func NewFakeChain() *FakeChain {
	c := &FakeChain{
		byHash:   make(map[common.Hash]*fakeBlock),
		failures: make(map[string][]error),
		subs:     make(map[*fakeSub]chan<- *types.Header),
	}
	c.mineLocked(nil)
	return c
}

// SetFinality makes the safe and finalized heads trail the latest head.
func (c *FakeChain) SetFinality(safeDepth, finalizedDepth uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.safeDepth, c.finalizedDepth = safeDepth, finalizedDepth
}

// SetMaxResults makes range getLogs calls fail when they would return more than n logs.
func (c *FakeChain) SetMaxResults(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxResults = n
}

// DisableSubscriptions makes SubscribeNewHead fail like an HTTP endpoint.
func (c *FakeChain) DisableSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noSubscribe = true
}

// FailNext makes the next len(errs) calls of method return errs in order.
func (c *FakeChain) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

// AddBlock mines one block carrying logs and notifies subscribers.
func (c *FakeChain) AddBlock(logs ...types.Log) *types.Header {
	c.mu.Lock()
	header := c.mineLocked(logs)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, header)
	return header
}

// AddBlocks mines n empty blocks and returns the new head number.
func (c *FakeChain) AddBlocks(n int) uint64 {
	var head *types.Header
	for range n {
		head = c.AddBlock()
	}
	if head == nil {
		return c.HeadNumber()
	}
	return head.Number.Uint64()
}

// Reorg drops every block from fromBlock on and mines one replacement block per
// entry of replacement. Replaced blocks get new hashes even when their logs are equal.
func (c *FakeChain) Reorg(fromBlock uint64, replacement ...[]types.Log) {
	c.mu.Lock()
	if fromBlock == 0 || fromBlock >= uint64(len(c.canonical)) {
		c.mu.Unlock()
		panic(fmt.Sprintf("cannot reorg from block %d with head %d", fromBlock, len(c.canonical)-1))
	}

	c.canonical = c.canonical[:fromBlock]
	c.fork++

	var head *types.Header
	for _, logs := range replacement {
		head = c.mineLocked(logs)
	}
	subs := c.subscribersLocked()
	c.mu.Unlock()

	if head != nil {
		notify(subs, head)
	}
}

// HeadNumber returns the latest block number.
func (c *FakeChain) HeadNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.canonical) - 1)
}

// Header returns the canonical header at number.
func (c *FakeChain) Header(number uint64) *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.canonical)) {
		return nil
	}
	return types.CopyHeader(c.canonical[number].header)
}

// GetLogsCalls returns the filter queries received so far.
func (c *FakeChain) GetLogsCalls() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.getLogsCalls)
}

// Close is a no-op.
func (c *FakeChain) Close() {}

// GetLogs serves block hash and block range queries.
func (c *FakeChain) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failLocked(MethodGetLogs); err != nil {
		return nil, err
	}
	c.getLogsCalls = append(c.getLogsCalls, query)

	var blocks []*fakeBlock
	if query.BlockHash != nil {
		b, ok := c.byHash[*query.BlockHash]
		if !ok {
			return nil, fmt.Errorf("unknown block %s", query.BlockHash.Hex())
		}
		blocks = []*fakeBlock{b}
	} else {
		head := uint64(len(c.canonical) - 1)
		from, to := uint64(0), head
		if query.FromBlock != nil {
			from = query.FromBlock.Uint64()
		}
		if query.ToBlock != nil {
			to = min(query.ToBlock.Uint64(), head)
		}
		for n := from; n <= to; n++ {
			blocks = append(blocks, c.canonical[n])
		}
	}

	var result []types.Log
	for _, b := range blocks {
		for _, l := range b.logs {
			if matches(query, l) {
				result = append(result, l)
			}
		}
	}

	if query.BlockHash == nil && c.maxResults > 0 && len(result) > c.maxResults {
		return nil, fmt.Errorf("query returned more than %d results", c.maxResults)
	}

	return result, nil
}

// GetBlockHeader returns the canonical header at blockNum or ethereum.NotFound.
func (c *FakeChain) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failLocked(MethodGetBlockHeader); err != nil {
		return nil, err
	}
	if blockNum >= uint64(len(c.canonical)) {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(c.canonical[blockNum].header), nil
}

// GetLatestBlockHeader returns the head.
func (c *FakeChain) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failLocked(MethodLatest); err != nil {
		return nil, err
	}
	return c.trailingLocked(0), nil
}

// GetFinalizedBlockHeader returns the head minus the finalized depth.
func (c *FakeChain) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailingLocked(c.finalizedDepth), nil
}

// GetSafeBlockHeader returns the head minus the safe depth.
func (c *FakeChain) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailingLocked(c.safeDepth), nil
}

// BatchGetBlockHeaders returns canonical headers for blockNums.
func (c *FakeChain) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	headers := make([]*types.Header, len(blockNums))
	for i, n := range blockNums {
		h, err := c.GetBlockHeader(ctx, n)
		if err != nil {
			return nil, err
		}
		headers[i] = h
	}
	return headers, nil
}

// SubscribeNewHead registers ch for new heads.
func (c *FakeChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.noSubscribe {
		return nil, errors.New("notifications not supported")
	}
	if err := c.failLocked(MethodSubscribe); err != nil {
		return nil, err
	}

	sub := &fakeSub{chain: c, errCh: make(chan error, 1)}
	c.subs[sub] = ch
	return sub, nil
}

// BreakSubscriptions ends every subscription with err.
func (c *FakeChain) BreakSubscriptions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for s := range c.subs {
		delete(c.subs, s)
		if !s.closed {
			s.errCh <- err
		}
	}
}

// Subscribers returns the number of live head subscriptions.
func (c *FakeChain) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *FakeChain) mineLocked(logs []types.Log) *types.Header {
	number := uint64(len(c.canonical))

	var parent common.Hash
	if number > 0 {
		parent = c.canonical[number-1].header.Hash()
	}

	extra := make([]byte, 8) //nolint:mnd
	binary.BigEndian.PutUint64(extra, c.fork)

	header := &types.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(number),
		Time:       GenesisTime + number,
		Difficulty: big.NewInt(0),
		Extra:      extra,
	}
	hash := header.Hash()

	block := &fakeBlock{header: header}
	for i, l := range logs {
		l.BlockNumber = number
		l.BlockHash = hash
		l.Index = uint(i)
		l.TxIndex = uint(i)
		if l.TxHash == (common.Hash{}) {
			l.TxHash = TxHash(number, uint(i), c.fork)
		}
		block.logs = append(block.logs, l)
	}

	c.canonical = append(c.canonical, block)
	c.byHash[hash] = block
	return header
}

func (c *FakeChain) trailingLocked(depth uint64) *types.Header {
	head := uint64(len(c.canonical) - 1)
	if depth > head {
		depth = head
	}
	return types.CopyHeader(c.canonical[head-depth].header)
}

func (c *FakeChain) failLocked(method string) error {
	errs := c.failures[method]
	if len(errs) == 0 {
		return nil
	}
	c.failures[method] = errs[1:]
	return errs[0]
}

func (c *FakeChain) subscribersLocked() []chan<- *types.Header {
	out := make([]chan<- *types.Header, 0, len(c.subs))
	for _, ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

func notify(subs []chan<- *types.Header, header *types.Header) {
	for _, ch := range subs {
		select {
		case ch <- types.CopyHeader(header):
		default:
		}
	}
}

// TxHash derives a deterministic transaction hash.
func TxHash(block uint64, index uint, fork uint64) common.Hash {
	var b [24]byte
	binary.BigEndian.PutUint64(b[0:8], block)
	binary.BigEndian.PutUint64(b[8:16], uint64(index))
	binary.BigEndian.PutUint64(b[16:24], fork)
	return common.BytesToHash(b[:])
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if len(q.Addresses) > 0 && !slices.Contains(q.Addresses, l.Address) {
		return false
	}

	for i, position := range q.Topics {
		if len(position) == 0 {
			continue
		}
		if i >= len(l.Topics) || !slices.Contains(position, l.Topics[i]) {
			return false
		}
	}

	return true
}

type fakeSub struct {
	chain  *FakeChain
	errCh  chan error
	closed bool
}

func (s *fakeSub) Unsubscribe() {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()

	delete(s.chain.subs, s)
	if !s.closed {
		s.closed = true
		close(s.errCh)
	}
}

func (s *fakeSub) Err() <-chan error {
	return s.errCh
}
