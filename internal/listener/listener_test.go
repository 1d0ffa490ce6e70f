package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/fetcher"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/testutil"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []string
	logs   map[uint64]int
	fail   error
}

func (r *recorder) onBlock(_ context.Context, ref store.BlockRef, logs []types.Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		return r.fail
	}
	if r.logs == nil {
		r.logs = make(map[uint64]int)
	}
	r.events = append(r.events, fmt.Sprintf("block %d", ref.Number))
	r.logs[ref.Number] = len(logs)
	return nil
}

func (r *recorder) onRemoved(_ context.Context, ref store.BlockRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("removed %d", ref.Number))
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) delivered(n uint64) bool {
	want := fmt.Sprintf("block %d", n)
	for _, e := range r.snapshot() {
		if e == want {
			return true
		}
	}
	return false
}

type memRefs []store.BlockRef

func (m memRefs) Latest(_ context.Context, n uint64) ([]store.BlockRef, error) {
	if uint64(len(m)) <= n {
		return m, nil
	}
	return m[uint64(len(m))-n:], nil
}

func testRetry() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
}

func newTestListener(t *testing.T, chain *testutil.FakeChain, depth uint64, refs BlockRefReader, rec *recorder) *Listener {
	t.Helper()

	f := fetcher.New(fetcher.Config{
		Addresses: []ethcommon.Address{testutil.ContractAddress},
		Topics:    [][]ethcommon.Hash{{testutil.ParseMarketsABI().Events["TokensTransferred"].ID}},
	}, chain, logger.NewNopLogger())

	l, err := New(Config{
		ConfirmationDepth: depth,
		PollInterval:      10 * time.Millisecond,
		Retry:             testRetry(),
	}, chain, f, refs, rec.onBlock, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, l.ListenForBlockRemoved(rec.onRemoved))

	return l
}

// run starts l in the background and returns a function that stops it and reports its error.
func run(t *testing.T, l *Listener, from uint64) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx, from) }()

	stopped := false
	var result error
	stop := func() error {
		if !stopped {
			cancel()
			select {
			case result = <-done:
			case <-time.After(waitFor):
				t.Fatal("listener did not stop")
			}
			stopped = true
		}
		return result
	}
	t.Cleanup(func() { _ = stop() })

	return stop
}

func transfer(n int64) types.Log {
	return testutil.TokensTransferredLog(testutil.ContractAddress, testutil.UserA, testutil.UserB, big.NewInt(n))
}

func TestNew_Validation(t *testing.T) {
	chain := testutil.NewFakeChain()
	rec := &recorder{}
	log := logger.NewNopLogger()

	_, err := New(Config{PollInterval: time.Second}, chain, nil, nil, rec.onBlock, log)
	require.ErrorContains(t, err, "confirmation depth")

	_, err = New(Config{ConfirmationDepth: 1}, chain, nil, nil, rec.onBlock, log)
	require.ErrorContains(t, err, "poll interval")

	_, err = New(Config{ConfirmationDepth: 1, PollInterval: time.Second}, chain, nil, nil, nil, log)
	require.ErrorContains(t, err, "block handler")
}

func TestListenForBlockRemoved_SingleHandler(t *testing.T) {
	rec := &recorder{}
	l := newTestListener(t, testutil.NewFakeChain(), 4, nil, rec)

	require.ErrorIs(t, l.ListenForBlockRemoved(rec.onRemoved), ErrHandlerRegistered)
}

func TestStart_DeliversBlocksInOrder(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlock(transfer(1), transfer(2))
	chain.AddBlock()
	chain.AddBlock(testutil.MarketCreatedLog(testutil.UserA, testutil.UserB, 1, "ignored", "{}"))

	rec := &recorder{}
	l := newTestListener(t, chain, 4, nil, rec)
	stop := run(t, l, 1)

	require.Eventually(t, func() bool { return rec.delivered(3) }, waitFor, 5*time.Millisecond)

	chain.AddBlock(transfer(3))
	require.Eventually(t, func() bool { return rec.delivered(4) }, waitFor, 5*time.Millisecond)

	require.NoError(t, stop())
	require.Equal(t, []string{"block 1", "block 2", "block 3", "block 4"}, rec.snapshot())

	rec.mu.Lock()
	require.Equal(t, map[uint64]int{1: 2, 2: 0, 3: 0, 4: 1}, rec.logs)
	rec.mu.Unlock()

	window := l.Window()
	require.Len(t, window, 4)
	require.Equal(t, chain.Header(4).Hash(), window[3].Hash)
	require.Equal(t, uint64(5), l.Next())
}

func TestStart_AlreadyRunning(t *testing.T) {
	rec := &recorder{}
	l := newTestListener(t, testutil.NewFakeChain(), 2, nil, rec)
	run(t, l, 1)

	require.Eventually(t, func() bool { return l.running.Load() }, waitFor, time.Millisecond)
	require.ErrorIs(t, l.Start(context.Background(), 1), ErrAlreadyRunning)
}

func TestStart_Reorg(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlocks(5)

	rec := &recorder{}
	l := newTestListener(t, chain, 4, nil, rec)
	stop := run(t, l, 1)
	require.Eventually(t, func() bool { return rec.delivered(5) }, waitFor, 5*time.Millisecond)

	chain.Reorg(4, []types.Log{transfer(40)}, nil, nil)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 10 }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	require.Equal(t, []string{
		"block 1", "block 2", "block 3", "block 4", "block 5",
		"removed 5", "removed 4",
		"block 4", "block 5", "block 6",
	}, rec.snapshot())

	window := l.Window()
	require.Equal(t, chain.Header(6).Hash(), window[len(window)-1].Hash)
	require.Equal(t, chain.Header(4).Hash(), window[len(window)-3].Hash)
}

func TestStart_ShorterReplacementChain(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlocks(5)

	rec := &recorder{}
	l := newTestListener(t, chain, 4, nil, rec)
	stop := run(t, l, 1)
	require.Eventually(t, func() bool { return rec.delivered(5) }, waitFor, 5*time.Millisecond)

	chain.Reorg(4, nil)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 8 }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	require.Equal(t, []string{"removed 5", "removed 4", "block 4"}, rec.snapshot()[5:])
	require.Equal(t, uint64(5), l.Next())
}

func TestStart_ReorgTooDeep(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlocks(5)

	rec := &recorder{}
	l := newTestListener(t, chain, 2, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx, 1) }()

	require.Eventually(t, func() bool { return rec.delivered(5) }, waitFor, 5*time.Millisecond)
	chain.Reorg(2, nil, nil, nil, nil, nil)

	select {
	case err := <-done:
		var tooDeep *ReorgTooDeepError
		require.True(t, errors.As(err, &tooDeep), "got %v", err)
		require.Equal(t, uint64(4), tooDeep.OldestKnown)
	case <-time.After(waitFor):
		t.Fatal("listener did not fail")
	}
}

func TestStart_SeedsWindowFromPersistedRefs(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlocks(5)

	var refs memRefs
	for n := uint64(2); n <= 5; n++ {
		refs = append(refs, fetcher.RefOf(chain.Header(n)))
	}
	// unrelated refs above the start block are ignored
	refs = append(refs, store.BlockRef{Number: 9})

	chain.Reorg(4, nil, nil, nil)

	rec := &recorder{}
	l := newTestListener(t, chain, 5, refs, rec)
	stop := run(t, l, 6)
	require.Eventually(t, func() bool { return rec.delivered(6) }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	require.Equal(t, []string{"removed 5", "removed 4", "block 4", "block 5", "block 6"}, rec.snapshot())
}

func TestStart_SkipsBlocksWithUnavailableLogs(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlock(transfer(1))

	rec := &recorder{}
	l := newTestListener(t, chain, 4, nil, rec)

	unavailable := errors.New("missing trie node")
	chain.FailNext(testutil.MethodGetLogs, unavailable, unavailable)

	stop := run(t, l, 1)
	chain.AddBlock(transfer(2))
	require.Eventually(t, func() bool { return rec.delivered(2) }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	require.Equal(t, []string{"block 2"}, rec.snapshot())
	window := l.Window()
	require.Len(t, window, 2)
	require.Equal(t, uint64(1), window[0].Number)
}

// mislabeledChain serves a header carrying the wrong number for block bad.
type mislabeledChain struct {
	*testutil.FakeChain
	bad uint64
}

func (c *mislabeledChain) GetBlockHeader(ctx context.Context, n uint64) (*types.Header, error) {
	header, err := c.FakeChain.GetBlockHeader(ctx, n)
	if err != nil || n != c.bad {
		return header, err
	}
	header.Number = new(big.Int).SetUint64(n + 100)
	return header, nil
}

func TestStart_SkipsBlockWithMismatchedHeaderNumber(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlocks(2)

	rec := &recorder{}
	client := &mislabeledChain{FakeChain: chain, bad: 2}
	f := fetcher.New(fetcher.Config{
		Addresses: []ethcommon.Address{testutil.ContractAddress},
		Topics:    [][]ethcommon.Hash{{testutil.ParseMarketsABI().Events["TokensTransferred"].ID}},
	}, client, logger.NewNopLogger())

	l, err := New(Config{
		ConfirmationDepth: 4,
		PollInterval:      10 * time.Millisecond,
		Retry:             testRetry(),
	}, client, f, nil, rec.onBlock, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, l.ListenForBlockRemoved(rec.onRemoved))

	stop := run(t, l, 1)
	require.Eventually(t, func() bool { return l.Next() == 3 }, waitFor, 5*time.Millisecond)

	chain.AddBlocks(2)
	require.Eventually(t, func() bool { return rec.delivered(4) }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	// the skipped block must not look like a divergence of the blocks after it
	require.Equal(t, []string{"block 1", "block 3", "block 4"}, rec.snapshot())

	window := l.Window()
	require.Len(t, window, 4)
	require.Equal(t, uint64(2), window[1].Number)
	require.Equal(t, ethcommon.Hash{}, window[1].Hash)
	require.Equal(t, chain.Header(4).Hash(), window[3].Hash)
}

func TestStart_HandlerErrorStops(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlock()

	rec := &recorder{fail: errors.New("disk full")}
	l := newTestListener(t, chain, 4, nil, rec)

	err := l.Start(context.Background(), 1)
	require.ErrorContains(t, err, "block handler failed at block 1")
	require.ErrorContains(t, err, "disk full")
}

func TestStart_Resubscribes(t *testing.T) {
	chain := testutil.NewFakeChain()

	rec := &recorder{}
	l := newTestListener(t, chain, 4, nil, rec)
	stop := run(t, l, 1)

	require.Eventually(t, func() bool { return chain.Subscribers() == 1 }, waitFor, time.Millisecond)
	chain.BreakSubscriptions(errors.New("connection reset"))
	require.Equal(t, 0, chain.Subscribers())

	require.Eventually(t, func() bool { return chain.Subscribers() == 1 }, waitFor, time.Millisecond)

	chain.AddBlock()
	require.Eventually(t, func() bool { return rec.delivered(1) }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())
	require.Equal(t, 0, chain.Subscribers())
}

func TestStart_PollsWithoutSubscriptions(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.DisableSubscriptions()

	rec := &recorder{}
	l := newTestListener(t, chain, 4, nil, rec)
	stop := run(t, l, 1)

	chain.AddBlocks(3)
	require.Eventually(t, func() bool { return rec.delivered(3) }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())
}
