package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/collection"
	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/db"
	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/internal/decoder"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/migrations"
	"github.com/goran-ethernal/ChainSync/internal/search"
	istore "github.com/goran-ethernal/ChainSync/internal/store"
	"github.com/goran-ethernal/ChainSync/internal/testutil"
	itypes "github.com/goran-ethernal/ChainSync/internal/types"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const waitFor = 10 * time.Second

var errDiskFull = errors.New("disk full")

func testRetry() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    common.NewDuration(time.Millisecond),
		MaxBackoff:        common.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}
}

func searchConfig() *config.SearchConfig {
	cfg := &config.SearchConfig{Enabled: true}
	cfg.ApplyDefaults()
	return cfg
}

// recordingStore wraps an EventStore, records every applied chunk and can fail writes.
type recordingStore struct {
	store.EventStore

	mu         sync.Mutex
	applied    []uint64
	minBlock   map[uint64]uint64
	violations []string
	failAt     map[uint64]int
	afterApply func(toBlock uint64)
}

func newRecordingStore(s store.EventStore) *recordingStore {
	return &recordingStore{
		EventStore: s,
		minBlock:   make(map[uint64]uint64),
		failAt:     make(map[uint64]int),
	}
}

// onApplied runs fn after every successful apply, while the store is still locked.
func (r *recordingStore) onApplied(fn func(toBlock uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterApply = fn
}

// failApplyAt makes the next n applies ending at toBlock fail. A negative n fails forever.
func (r *recordingStore) failApplyAt(toBlock uint64, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAt[toBlock] = n
}

func (r *recordingStore) ApplyChunk(ctx context.Context, docs []*store.Document, toBlock uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.failAt[toBlock]; ok && n != 0 {
		r.failAt[toBlock] = n - 1
		return 0, errDiskFull
	}

	watermark, ok, err := r.EventStore.GetHighestSyncedBlock(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range docs {
		if ok && d.BlockNumber <= watermark {
			r.violations = append(r.violations, fmt.Sprintf("block %d applied at watermark %d", d.BlockNumber, watermark))
		}
		if d.BlockNumber > toBlock {
			r.violations = append(r.violations, fmt.Sprintf("block %d applied in chunk ending at %d", d.BlockNumber, toBlock))
		}
	}
	if len(r.applied) > 0 && toBlock <= r.applied[len(r.applied)-1] {
		r.violations = append(r.violations, fmt.Sprintf("chunk ending at %d applied after %d", toBlock, r.applied[len(r.applied)-1]))
	}

	n, err := r.EventStore.ApplyChunk(ctx, docs, toBlock)
	if err != nil {
		return n, err
	}
	r.applied = append(r.applied, toBlock)
	for _, d := range docs {
		if cur, seen := r.minBlock[toBlock]; !seen || d.BlockNumber < cur {
			r.minBlock[toBlock] = d.BlockNumber
		}
	}
	if r.afterApply != nil {
		r.afterApply(toBlock)
	}
	return n, nil
}

func (r *recordingStore) Rollback(ctx context.Context, fromBlock uint64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a rollback resets the forward ordering
	r.applied = r.applied[:0]
	return r.EventStore.Rollback(ctx, fromBlock)
}

func (r *recordingStore) appliedBlocks() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.applied)
}

func (r *recordingStore) orderViolations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.violations)
}

type harness struct {
	chain  *testutil.FakeChain
	sqlDB  *sql.DB
	dec    *decoder.Decoder
	cols   []*collection.Collection
	stores map[string]*recordingStore
	refs   *istore.BlockRefs
	index  *search.Indexer
	cfg    Config
	opts   []Option
}

func newHarness(t *testing.T, chain *testutil.FakeChain, events []config.EventConfig, users ...ethcommon.Address) *harness {
	t.Helper()

	log := logger.NewNopLogger()

	sqlDB, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "chainsync.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, migrations.RunMigrations(log, sqlDB))

	dec, err := decoder.New(testutil.ParseMarketsABI(), events, log)
	require.NoError(t, err)

	cols, err := collection.Build(dec, users)
	require.NoError(t, err)

	idx, err := search.New(searchConfig(), nil, log)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	h := &harness{
		chain:  chain,
		sqlDB:  sqlDB,
		dec:    dec,
		cols:   cols,
		stores: make(map[string]*recordingStore),
		refs:   istore.NewBlockRefs(sqlDB, db.NoOpMaintenance{}, log),
		index:  idx,
		cfg: Config{
			ConfirmationDepth:      6,
			ChunkSize:              10,
			MaxParallelCollections: 2,
			HeadFinality:           itypes.FinalityLatest,
			PollInterval:           10 * time.Millisecond,
			Retry:                  testRetry(),
			Addresses:              []ethcommon.Address{testutil.ContractAddress},
		},
	}

	status := istore.NewSyncStatus(sqlDB, db.NoOpMaintenance{}, log)
	for _, c := range cols {
		h.stores[c.Name] = newRecordingStore(istore.NewEventStore(c.Name, sqlDB, status, db.NoOpMaintenance{}, log))
	}

	h.opts = []Option{WithObserver(idx)}
	return h
}

func marketsOnly() []config.EventConfig {
	return []config.EventConfig{{Name: "MarketCreated"}}
}

func (h *harness) newCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	targets := make([]Target, len(h.cols))
	for i, c := range h.cols {
		targets[i] = Target{Collection: c, Store: h.stores[c.Name]}
	}

	c, err := New(h.cfg, h.chain, h.dec, targets, h.refs, logger.NewNopLogger(), h.opts...)
	require.NoError(t, err)
	return c
}

// start runs a new coordinator in the background. The returned function cancels it and returns its error.
func (h *harness) start(t *testing.T) (*Coordinator, func() error) {
	t.Helper()

	c := h.newCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var (
		once   sync.Once
		result error
	)
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(waitFor):
				result = errors.New("coordinator did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })

	return c, stop
}

func (h *harness) watermark(t *testing.T, name string) (uint64, bool) {
	t.Helper()

	w, ok, err := h.stores[name].GetHighestSyncedBlock(context.Background())
	require.NoError(t, err)
	return w, ok
}

func (h *harness) waitWatermark(t *testing.T, name string, want uint64) {
	t.Helper()

	require.Eventually(t, func() bool {
		w, ok := h.watermark(t, name)
		return ok && w == want
	}, waitFor, 5*time.Millisecond, "watermark of %s never reached %d", name, want)
}

func waitState(t *testing.T, c *Coordinator, want State) {
	t.Helper()

	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == want
	}, waitFor, 5*time.Millisecond, "coordinator never reached %s", want)
}

func (h *harness) documents(t *testing.T, name string) []*store.Document {
	t.Helper()

	var docs []*store.Document
	for doc, err := range h.stores[name].RangeQuery(context.Background(), 0, ^uint64(0)) {
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return docs
}

func (h *harness) ids(t *testing.T, name string) []string {
	t.Helper()

	var ids []string
	for _, d := range h.documents(t, name) {
		ids = append(ids, d.ID)
	}
	slices.Sort(ids)
	return ids
}

func (h *harness) requireIndexMatchesRebuild(t *testing.T) {
	t.Helper()

	rebuilt, err := search.New(searchConfig(), nil, logger.NewNopLogger())
	require.NoError(t, err)
	defer rebuilt.Close()

	_, err = rebuilt.Rebuild(context.Background(), h.stores["MarketCreated"])
	require.NoError(t, err)
	require.Equal(t, rebuilt.Entries(), h.index.Entries())
}

func marketLog(block uint64) types.Log {
	market := ethcommon.BigToAddress(new(big.Int).SetUint64(1000 + block))
	return testutil.MarketCreatedLog(market, testutil.UserA, testutil.GenesisTime+block+1000,
		fmt.Sprintf("Market opened in block %d", block),
		testutil.MarketMetadata(fmt.Sprintf("Long description %d", block), "crypto", fmt.Sprintf("b%d", block)))
}

func docID(block uint64, fork uint64) string {
	return store.DocumentID(testutil.TxHash(block, 0, fork), 0)
}

// addMarkets mines blocks up to head, with one market in every block listed in withLogs.
func addMarkets(chain *testutil.FakeChain, head uint64, withLogs ...uint64) {
	for n := chain.HeadNumber() + 1; n <= head; n++ {
		if slices.Contains(withLogs, n) {
			chain.AddBlock(marketLog(n))
		} else {
			chain.AddBlock()
		}
	}
}

func rangeQueries(chain *testutil.FakeChain) [][2]uint64 {
	var out [][2]uint64
	for _, q := range chain.GetLogsCalls() {
		if q.BlockHash != nil {
			continue
		}
		out = append(out, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	chain := testutil.NewFakeChain()
	h := newHarness(t, chain, marketsOnly())
	log := logger.NewNopLogger()
	targets := []Target{{Collection: h.cols[0], Store: h.stores["MarketCreated"]}}

	_, err := New(h.cfg, nil, h.dec, targets, h.refs, log)
	require.ErrorContains(t, err, "RPC client is required")

	_, err = New(h.cfg, chain, nil, targets, h.refs, log)
	require.ErrorContains(t, err, "decoder is required")

	_, err = New(h.cfg, chain, h.dec, targets, nil, log)
	require.ErrorContains(t, err, "block ref store is required")

	_, err = New(h.cfg, chain, h.dec, nil, h.refs, log)
	require.ErrorContains(t, err, "at least one collection")

	cfg := h.cfg
	cfg.ChunkSize = 0
	_, err = New(cfg, chain, h.dec, targets, h.refs, log)
	require.ErrorContains(t, err, "must be positive")

	c, err := New(h.cfg, chain, h.dec, targets, h.refs, log)
	require.NoError(t, err)
	require.Equal(t, []string{"MarketCreated"}, c.Collections())
	state, _ := c.State()
	require.Equal(t, StateStopped, state)
}

func TestChunkEnd(t *testing.T) {
	tests := []struct {
		from, size, want uint64
	}{
		{0, 10, 9},
		{9, 10, 9},
		{10, 10, 19},
		{15, 10, 19},
		{7, 1, 7},
		{4_000_000, 5000, 4_004_999},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, chunkEnd(tt.from, tt.size), "from %d size %d", tt.from, tt.size)
	}
}

func TestBackfill_ChunkBoundaries(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 25, 3, 12, 20, 25)

	h := newHarness(t, chain, marketsOnly())
	c, stop := h.start(t)

	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 25)
	require.NoError(t, stop())

	require.Equal(t, [][2]uint64{{0, 9}, {10, 19}, {20, 25}}, rangeQueries(chain))
	require.Equal(t, []uint64{9, 19, 25}, h.stores["MarketCreated"].appliedBlocks())
	require.ElementsMatch(t, sortedIDs(3, 12, 20, 25), h.ids(t, "MarketCreated"))
	require.Equal(t, 4, h.index.Len())

	state, _ := c.State()
	require.Equal(t, StateStopped, state)
}

func sortedIDs(blocks ...uint64) []string {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = docID(b, 0)
	}
	return ids
}

func TestBackfill_StartsAtDefaultStartBlock(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 30, 5, 15, 22)

	h := newHarness(t, chain, marketsOnly())
	h.cfg.DefaultStartBlock = 15
	c, stop := h.start(t)

	waitState(t, c, StateLiveTailing)
	require.NoError(t, stop())

	require.Equal(t, [][2]uint64{{15, 19}, {20, 29}, {30, 30}}, rangeQueries(chain))
	require.ElementsMatch(t, sortedIDs(15, 22), h.ids(t, "MarketCreated"))
}

func TestBackfill_FollowsMovingHead(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 15, 4)

	h := newHarness(t, chain, marketsOnly())
	// the head moves while the first pass runs
	h.opts = append(h.opts, WithObserver(observerFunc(func() {
		if chain.HeadNumber() < 40 {
			addMarkets(chain, 40, 33)
		}
	})))

	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	require.NoError(t, stop())

	w, ok := h.watermark(t, "MarketCreated")
	require.True(t, ok)
	require.GreaterOrEqual(t, w, uint64(40))
	require.ElementsMatch(t, sortedIDs(4, 33), h.ids(t, "MarketCreated"))
}

type observerFunc func()

func (f observerFunc) DocumentsInserted(context.Context, string, []*store.Document) { f() }
func (f observerFunc) DocumentsRemoved(context.Context, string, []string)           {}

func TestBackfill_RetriesFailedChunk(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 25, 8, 18)
	chain.FailNext(testutil.MethodGetLogs, errors.New("connection reset by peer"))

	h := newHarness(t, chain, marketsOnly())
	h.stores["MarketCreated"].failApplyAt(19, 1)

	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	require.NoError(t, stop())

	require.Equal(t, []uint64{9, 19, 25}, h.stores["MarketCreated"].appliedBlocks())
	require.ElementsMatch(t, sortedIDs(8, 18), h.ids(t, "MarketCreated"))
}

func TestBackfill_StorageFailureIsFatal(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 25, 8, 18)

	h := newHarness(t, chain, marketsOnly())
	h.stores["MarketCreated"].failApplyAt(19, -1)

	err := h.newCoordinator(t).Run(context.Background())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.ErrorIs(t, err, errDiskFull)

	w, ok := h.watermark(t, "MarketCreated")
	require.True(t, ok)
	require.Equal(t, uint64(9), w)
}

func TestBackfill_ReorgBetweenChunks(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 27, 5, 12, 18, 19, 25)

	h := newHarness(t, chain, marketsOnly())
	var once sync.Once
	h.stores["MarketCreated"].onApplied(func(toBlock uint64) {
		if toBlock != 19 {
			return
		}
		// blocks 18 and 19 are replaced right after their chunk committed
		once.Do(func() {
			chain.Reorg(18,
				[]types.Log{marketLog(18)}, []types.Log{marketLog(19)},
				nil, nil, nil, nil, nil, []types.Log{marketLog(25)}, nil, nil)
		})
	})

	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 27)
	require.NoError(t, stop())

	ids := h.ids(t, "MarketCreated")
	require.NotContains(t, ids, docID(18, 0))
	require.NotContains(t, ids, docID(19, 0))
	require.ElementsMatch(t, []string{
		docID(5, 0), docID(12, 0), docID(18, 1), docID(19, 1), docID(25, 1),
	}, ids)

	// the replaced blocks were fetched again before the chain moved on
	require.Equal(t, [][2]uint64{{0, 9}, {10, 19}, {18, 19}, {20, 27}}, rangeQueries(chain))
	require.Empty(t, h.stores["MarketCreated"].orderViolations())
	require.Equal(t, 5, h.index.Len())
	h.requireIndexMatchesRebuild(t)
}

func TestBackfill_ReorgAfterCollectionsFinished(t *testing.T) {
	chain := testutil.NewFakeChain()
	token := ethcommon.HexToAddress("0x7070")
	transferLog := func(n int64) types.Log {
		return testutil.TokensTransferredLog(token, testutil.UserB, testutil.UserA, big.NewInt(n))
	}
	for n := uint64(1); n <= 27; n++ {
		switch n {
		case 5, 20, 25:
			chain.AddBlock(marketLog(n))
		case 22, 26:
			chain.AddBlock(transferLog(int64(n)))
		default:
			chain.AddBlock()
		}
	}

	events := []config.EventConfig{
		{Name: "MarketCreated"},
		{Name: "TokensTransferred", AmountFields: map[string]int32{"value": 18}},
	}
	h := newHarness(t, chain, events)

	// once both collections reached the head, its last blocks are replaced
	var once sync.Once
	reachedHead := func(name string) bool {
		w, ok, err := h.stores[name].EventStore.GetHighestSyncedBlock(context.Background())
		return err == nil && ok && w == 27
	}
	for name := range h.stores {
		h.stores[name].onApplied(func(uint64) {
			if !reachedHead("MarketCreated") || !reachedHead("TokensTransferred") {
				return
			}
			once.Do(func() {
				chain.Reorg(24, nil, []types.Log{marketLog(25)}, []types.Log{transferLog(26)}, nil)
			})
		})
	}

	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 27)
	h.waitWatermark(t, "TokensTransferred", 27)
	require.NoError(t, stop())

	require.ElementsMatch(t, []string{docID(5, 0), docID(20, 0), docID(25, 1)}, h.ids(t, "MarketCreated"))
	require.ElementsMatch(t, []string{docID(22, 0), docID(26, 1)}, h.ids(t, "TokensTransferred"))
	h.requireIndexMatchesRebuild(t)
}

func TestBackfill_ReorgDeeperThanConfirmationDepth(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 27, 5, 15)

	h := newHarness(t, chain, marketsOnly())
	var once sync.Once
	h.stores["MarketCreated"].onApplied(func(toBlock uint64) {
		if toBlock == 19 {
			once.Do(func() {
				chain.Reorg(5, make([][]types.Log, 23)...)
			})
		}
	})

	err := h.newCoordinator(t).Run(context.Background())

	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)
	require.Equal(t, "MarketCreated", pv.Collection)
	require.Equal(t, uint64(14), pv.Block)

	// nothing was rolled back past what the chain could confirm
	w, _ := h.watermark(t, "MarketCreated")
	require.Equal(t, uint64(19), w)
}

func TestBackfill_RestartOnReplacedBlocks(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 27, 5, 23, 26)

	h := newHarness(t, chain, marketsOnly())
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 27)
	require.NoError(t, stop())

	// the persisted refs of blocks 24 to 27 no longer match the chain
	chain.Reorg(24, nil, nil, []types.Log{marketLog(26)}, nil)

	c, stop = h.start(t)
	waitState(t, c, StateLiveTailing)
	require.Eventually(t, func() bool {
		return slices.Contains(h.ids(t, "MarketCreated"), docID(26, 1))
	}, waitFor, 5*time.Millisecond)
	h.waitWatermark(t, "MarketCreated", 27)
	require.NoError(t, stop())

	require.ElementsMatch(t, []string{docID(5, 0), docID(23, 0), docID(26, 1)}, h.ids(t, "MarketCreated"))
	h.requireIndexMatchesRebuild(t)
}

func TestIdempotentResume(t *testing.T) {
	chain := testutil.NewFakeChain()
	withLogs := []uint64{2, 9, 10, 17, 21, 29, 30, 38, 45}
	addMarkets(chain, 45, withLogs...)

	// interrupted run: the third chunk never lands
	h := newHarness(t, chain, marketsOnly())
	h.stores["MarketCreated"].failApplyAt(29, -1)
	require.Error(t, h.newCoordinator(t).Run(context.Background()))
	w, _ := h.watermark(t, "MarketCreated")
	require.Equal(t, uint64(19), w)

	// restart over the same database
	h.stores["MarketCreated"].failApplyAt(29, 0)
	before := len(h.stores["MarketCreated"].appliedBlocks())
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 45)
	require.NoError(t, stop())

	rec := h.stores["MarketCreated"]
	resumed := rec.appliedBlocks()[before:]
	require.Equal(t, []uint64{29, 39, 45}, resumed)
	for _, to := range resumed {
		if minBlock, ok := rec.minBlock[to]; ok {
			require.GreaterOrEqual(t, minBlock, uint64(20), "chunk ending at %d reprocessed block %d", to, minBlock)
		}
	}

	// same state as an uninterrupted run
	fresh := newHarness(t, chain, marketsOnly())
	c, stop = fresh.start(t)
	waitState(t, c, StateLiveTailing)
	require.NoError(t, stop())

	require.Equal(t, fresh.documents(t, "MarketCreated"), h.documents(t, "MarketCreated"))
	require.Equal(t, fresh.index.Entries(), h.index.Entries())
}

func TestLive_AppliesBlocksInOrder(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 12, 5)

	h := newHarness(t, chain, marketsOnly())
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)

	for n := uint64(13); n <= 30; n++ {
		if n%2 == 0 {
			chain.AddBlock(marketLog(n), marketLog(n))
		} else {
			chain.AddBlock()
		}
	}
	h.waitWatermark(t, "MarketCreated", 30)
	require.NoError(t, stop())

	rec := h.stores["MarketCreated"]
	require.Empty(t, rec.orderViolations())

	live := rec.appliedBlocks()
	require.Equal(t, []uint64{9, 12, 13}, live[:3])
	require.True(t, slices.IsSorted(live))

	docs := h.documents(t, "MarketCreated")
	// two logs per even block plus the backfilled one
	require.Len(t, docs, 1+2*9)
	h.requireIndexMatchesRebuild(t)
}

func TestLive_LiveBlockReorg(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 97, 50)

	h := newHarness(t, chain, marketsOnly())
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 97)

	for n := uint64(98); n <= 100; n++ {
		chain.AddBlock(marketLog(n))
	}
	h.waitWatermark(t, "MarketCreated", 100)
	require.Contains(t, h.ids(t, "MarketCreated"), docID(100, 0))

	chain.Reorg(98,
		[]types.Log{marketLog(98)},
		nil,
		[]types.Log{marketLog(100)},
		[]types.Log{marketLog(101)},
		[]types.Log{marketLog(102)},
	)
	h.waitWatermark(t, "MarketCreated", 102)
	require.Eventually(t, func() bool {
		return len(h.ids(t, "MarketCreated")) == 5
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	ids := h.ids(t, "MarketCreated")
	for n := uint64(98); n <= 100; n++ {
		require.NotContains(t, ids, docID(n, 0), "document of original block %d survived", n)
	}
	want := []string{docID(50, 0), docID(98, 1), docID(100, 1), docID(101, 1), docID(102, 1)}
	require.ElementsMatch(t, want, ids)

	require.Equal(t, 5, h.index.Len())
	h.requireIndexMatchesRebuild(t)
}

func TestLive_ReorgOntoShorterChain(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 10)

	h := newHarness(t, chain, marketsOnly())
	h.cfg.ConfirmationDepth = 10
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)

	for n := uint64(11); n <= 20; n++ {
		chain.AddBlock(marketLog(n))
	}
	h.waitWatermark(t, "MarketCreated", 20)

	chain.Reorg(15, []types.Log{marketLog(15)}, nil, []types.Log{marketLog(17)})
	h.waitWatermark(t, "MarketCreated", 17)
	require.Eventually(t, func() bool {
		return slices.Contains(h.ids(t, "MarketCreated"), docID(17, 1))
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	want := sortedIDs(11, 12, 13, 14)
	want = append(want, docID(15, 1), docID(17, 1))
	require.ElementsMatch(t, want, h.ids(t, "MarketCreated"))
	h.requireIndexMatchesRebuild(t)
}

func TestLive_ReorgTooDeepIsProtocolViolation(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 10)

	h := newHarness(t, chain, marketsOnly())
	h.cfg.ConfirmationDepth = 2
	c := h.newCoordinator(t)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	waitState(t, c, StateLiveTailing)
	h.waitWatermark(t, "MarketCreated", 10)

	chain.Reorg(5, nil, nil, nil, nil, nil, nil, nil)

	select {
	case err := <-done:
		var pv *ProtocolViolationError
		require.ErrorAs(t, err, &pv)
	case <-time.After(waitFor):
		t.Fatal("coordinator did not fail")
	}
}

func TestRollback_ProtocolViolation(t *testing.T) {
	chain := testutil.NewFakeChain()
	h := newHarness(t, chain, marketsOnly())
	h.cfg.ConfirmationDepth = 3
	c := h.newCoordinator(t)

	ctx := context.Background()
	s := h.stores["MarketCreated"]
	_, err := s.ApplyChunk(ctx, nil, 50)
	require.NoError(t, err)

	require.NoError(t, c.state.transition(StateBackfilling))
	require.NoError(t, c.state.transition(StateLiveTailing))

	err = c.rollbackBlock(ctx, store.BlockRef{Number: 40})
	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)
	require.Equal(t, "MarketCreated", pv.Collection)
	require.Equal(t, uint64(50), pv.Watermark)

	w, _ := h.watermark(t, "MarketCreated")
	require.Equal(t, uint64(50), w)

	// within the confirmation depth the rollback goes through
	require.NoError(t, c.state.transition(StateStopped))
	require.NoError(t, c.state.transition(StateBackfilling))
	require.NoError(t, c.state.transition(StateLiveTailing))
	require.NoError(t, c.rollbackBlock(ctx, store.BlockRef{Number: 48}))

	w, _ = h.watermark(t, "MarketCreated")
	require.Equal(t, uint64(47), w)
	state, _ := c.State()
	require.Equal(t, StateLiveTailing, state)
}

func TestInvalidMetadataIsStoredButNotIndexed(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlock(marketLog(1))
	chain.AddBlock(testutil.MarketCreatedLog(testutil.UserB, testutil.UserA, testutil.GenesisTime+500,
		"Broken market", `{"longDescription": "missing brace"`))
	chain.AddBlock(marketLog(3))

	h := newHarness(t, chain, marketsOnly())
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	require.NoError(t, stop())

	count, err := h.stores["MarketCreated"].Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
	require.Equal(t, 2, h.index.Len())

	hits, err := h.index.Query(context.Background(), "broken", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestDecodeFailuresAreDeadLettered(t *testing.T) {
	chain := testutil.NewFakeChain()
	marketCreated := testutil.ParseMarketsABI().Events["MarketCreated"].ID
	garbage := types.Log{
		Address: testutil.ContractAddress,
		Topics:  []ethcommon.Hash{marketCreated, ethcommon.HexToHash("0x01"), ethcommon.HexToHash("0x02")},
		Data:    []byte{0xde, 0xad},
	}
	chain.AddBlock(marketLog(1))
	chain.AddBlock(garbage)
	chain.AddBlocks(3)

	mr := miniredis.RunT(t)
	rec := deadletter.NewRedisRecorderWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		"test:skipped", time.Hour, logger.NewNopLogger())
	t.Cleanup(func() { _ = rec.Close() })

	h := newHarness(t, chain, marketsOnly())
	h.opts = append(h.opts, WithDeadLetter(rec))
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)

	require.ElementsMatch(t, sortedIDs(1), h.ids(t, "MarketCreated"))

	entries, err := rec.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, deadletter.KindDecode, entries[0].Kind)
	require.Equal(t, "MarketCreated", entries[0].Collection)
	require.Equal(t, uint64(2), entries[0].BlockNumber)
	require.Equal(t, docID(2, 0), entries[0].DocumentID)

	// removing the block drops its dead letters
	chain.Reorg(2, nil, nil, nil, nil)
	require.Eventually(t, func() bool {
		entries, err := rec.List(context.Background(), 10)
		return err == nil && len(entries) == 0
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())
}

func TestUserCollections(t *testing.T) {
	chain := testutil.NewFakeChain()
	token := ethcommon.HexToAddress("0x7070")
	chain.AddBlock(testutil.TokensTransferredLog(token, testutil.UserB, testutil.UserA, big.NewInt(1e18)))
	chain.AddBlock(testutil.TokensTransferredLog(token, testutil.UserA, testutil.UserB, big.NewInt(2e18)))
	chain.AddBlock(marketLog(3))

	events := []config.EventConfig{
		{Name: "MarketCreated"},
		{Name: "TokensTransferred", UserField: "to", AmountFields: map[string]int32{"value": 18}},
	}
	h := newHarness(t, chain, events, testutil.UserA)
	require.Len(t, h.cols, 3)

	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)
	require.NoError(t, stop())

	userCol := collection.UserCollectionName("TokensTransferred", testutil.UserA)
	require.ElementsMatch(t, []string{docID(1, 0), docID(2, 0)}, h.ids(t, "TokensTransferred"))
	require.Equal(t, []string{docID(1, 0)}, h.ids(t, userCol))
	require.Equal(t, []string{docID(3, 0)}, h.ids(t, "MarketCreated"))

	doc := h.documents(t, userCol)[0]
	require.Equal(t, userCol, doc.Collection)
	require.Equal(t, "1", doc.Fields["value"])
}

func TestRun_CancelStopsCleanly(t *testing.T) {
	chain := testutil.NewFakeChain()
	addMarkets(chain, 5, 2)

	h := newHarness(t, chain, marketsOnly())
	c, stop := h.start(t)
	waitState(t, c, StateLiveTailing)

	require.NoError(t, stop())
	state, _ := c.State()
	require.Equal(t, StateStopped, state)
}

func TestStateTransitions(t *testing.T) {
	all := []State{StateBackfilling, StateLiveTailing, StateRollingBack, StateStopped}
	allowed := map[[2]State]bool{
		{StateStopped, StateBackfilling}:     true,
		{StateBackfilling, StateLiveTailing}: true,
		{StateBackfilling, StateStopped}:     true,
		{StateLiveTailing, StateRollingBack}: true,
		{StateLiveTailing, StateStopped}:     true,
		{StateRollingBack, StateLiveTailing}: true,
		{StateRollingBack, StateStopped}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			require.Equal(t, allowed[[2]State{from, to}], canTransition(from, to), "%s to %s", from, to)
		}
	}

	m := newStateMachine()
	err := m.transition(StateLiveTailing)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.transition(StateBackfilling))
	_, since := m.current()
	require.NoError(t, m.transition(StateLiveTailing))
	state, after := m.current()
	require.Equal(t, StateLiveTailing, state)
	require.False(t, after.Before(since))
}
