package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/collection"
	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/internal/decoder"
	"github.com/goran-ethernal/ChainSync/internal/fetcher"
	"github.com/goran-ethernal/ChainSync/internal/listener"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/retry"
	itypes "github.com/goran-ethernal/ChainSync/internal/types"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/rpc"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

// Config tunes the coordinator.
type Config struct {
	DefaultStartBlock      uint64
	ConfirmationDepth      uint64
	ChunkSize              uint64
	MaxParallelCollections int
	HeadFinality           itypes.BlockFinality
	PollInterval           time.Duration
	Retry                  *config.RetryConfig
	Addresses              []ethcommon.Address
}

// ConfigFrom builds a coordinator Config from the loaded configuration.
func ConfigFrom(cfg *config.Config) (Config, error) {
	finality, err := itypes.ParseBlockFinality(cfg.Network.HeadFinality)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DefaultStartBlock:      cfg.Network.DefaultStartBlock,
		ConfirmationDepth:      cfg.Network.ConfirmationDepth,
		ChunkSize:              cfg.Network.ChunkSize,
		MaxParallelCollections: cfg.Sync.MaxParallelCollections,
		HeadFinality:           finality,
		PollInterval:           cfg.Network.PollInterval.Duration,
		Retry:                  &cfg.Sync.Retry,
		Addresses:              cfg.Network.ContractAddresses(),
	}, nil
}

// Target pairs a collection with the store holding its documents.
type Target struct {
	Collection *collection.Collection
	Store      store.EventStore
}

type target struct {
	Target
	fetcher *fetcher.Fetcher

	// refs of the newest blocks applied by backfill, ascending
	tail []store.BlockRef
}

// extendTail appends refs to the tail, dropping entries they replace and
// keeping at most depth refs.
func (t *target) extendTail(refs []store.BlockRef, depth uint64) {
	if len(refs) == 0 {
		return
	}

	first := refs[0].Number
	kept := t.tail[:0:0]
	for _, ref := range t.tail {
		if ref.Number < first {
			kept = append(kept, ref)
		}
	}
	kept = append(kept, refs...)
	if over := len(kept) - int(depth); over > 0 { //nolint:gosec
		kept = kept[over:]
	}
	t.tail = kept
}

func (t *target) name() string {
	return t.Collection.Name
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithObserver registers an observer of inserted and removed documents.
func WithObserver(o DocumentObserver) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, o)
	}
}

// WithDeadLetter records skipped logs to r.
func WithDeadLetter(r deadletter.Recorder) Option {
	return func(c *Coordinator) {
		c.skipped = r
	}
}

// Coordinator backfills every collection in chunks, then follows the chain head
// block by block and rolls collections back when blocks are removed.
type Coordinator struct {
	cfg       Config
	rpc       rpc.EthClient
	decoder   *decoder.Decoder
	targets   []*target
	refs      store.BlockRefStore
	skipped   deadletter.Recorder
	observers observers
	log       *logger.Logger

	state *stateMachine

	// serializes block application against rollback
	pipeline sync.Mutex
}

// New creates a Coordinator.
func New(
	cfg Config,
	client rpc.EthClient,
	dec *decoder.Decoder,
	targets []Target,
	refs store.BlockRefStore,
	log *logger.Logger,
	opts ...Option,
) (*Coordinator, error) {
	if client == nil {
		return nil, errors.New("RPC client is required")
	}
	if dec == nil {
		return nil, errors.New("decoder is required")
	}
	if refs == nil {
		return nil, errors.New("block ref store is required")
	}
	if len(targets) == 0 {
		return nil, errors.New("at least one collection is required")
	}
	if cfg.ConfirmationDepth == 0 || cfg.ChunkSize == 0 {
		return nil, errors.New("confirmation depth and chunk size must be positive")
	}
	if cfg.MaxParallelCollections < 1 {
		cfg.MaxParallelCollections = 1
	}

	c := &Coordinator{
		cfg:     cfg,
		rpc:     client,
		decoder: dec,
		refs:    refs,
		log:     log,
		state:   newStateMachine(),
	}

	for _, t := range targets {
		c.targets = append(c.targets, &target{
			Target: t,
			fetcher: fetcher.New(fetcher.Config{
				Addresses: cfg.Addresses,
				Topics:    t.Collection.Topics(),
				TailDepth: cfg.ConfirmationDepth,
			}, client, log),
		})
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.skipped == nil {
		c.skipped = deadletter.NewLogRecorder(log)
	}

	return c, nil
}

// State returns the current state and when it was entered.
func (c *Coordinator) State() (State, time.Time) {
	return c.state.current()
}

// Collections returns the names of the synced collections.
func (c *Coordinator) Collections() []string {
	names := make([]string, len(c.targets))
	for i, t := range c.targets {
		names[i] = t.name()
	}
	return names
}

// Run backfills every collection and then tails the chain until ctx is cancelled
// or a fatal error occurs. Cancellation is a clean stop and returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	defer func() {
		if err := c.state.transition(StateStopped); err != nil {
			c.log.Debugw("coordinator already stopped", "error", err)
		}
	}()

	if err := c.state.transition(StateBackfilling); err != nil {
		return err
	}

	head, err := c.backfill(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.log.Infow("coordinator stopped during backfill")
			return nil
		}
		return err
	}

	from, err := c.liveStart(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := c.state.transition(StateLiveTailing); err != nil {
		return err
	}
	c.log.Infow("backfill complete, tailing chain", "backfill_head", head, "from_block", from)

	l, err := listener.New(listener.Config{
		ConfirmationDepth: c.cfg.ConfirmationDepth,
		PollInterval:      c.cfg.PollInterval,
		Retry:             c.cfg.Retry,
	}, c.rpc, fetcher.New(fetcher.Config{
		Addresses: c.cfg.Addresses,
		Topics:    c.unionTopics(),
	}, c.rpc, c.log), c.refs, c.applyBlock, c.log)
	if err != nil {
		return err
	}
	if err := l.ListenForBlockRemoved(c.rollbackBlock); err != nil {
		return err
	}

	err = l.Start(ctx, from)
	if err == nil || ctx.Err() != nil {
		c.log.Infow("coordinator stopped")
		return nil
	}

	var tooDeep *listener.ReorgTooDeepError
	if errors.As(err, &tooDeep) {
		return &ProtocolViolationError{
			Block:  tooDeep.Block,
			Reason: fmt.Sprintf("chain diverged below block %d, deeper than the confirmation depth", tooDeep.OldestKnown),
		}
	}

	return err
}

func (c *Coordinator) unionTopics() [][]ethcommon.Hash {
	collections := make([]*collection.Collection, len(c.targets))
	for i, t := range c.targets {
		collections[i] = t.Collection
	}
	return collection.UnionTopics(collections)
}

// startBlock returns the first block t still needs.
func (c *Coordinator) startBlock(ctx context.Context, t *target) (uint64, error) {
	watermark, ok, err := t.Store.GetHighestSyncedBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark of %s: %w", t.name(), err)
	}
	if !ok {
		return c.cfg.DefaultStartBlock, nil
	}
	return max(watermark+1, c.cfg.DefaultStartBlock), nil
}

// liveStart returns the block the listener attaches at: the lowest start block.
func (c *Coordinator) liveStart(ctx context.Context) (uint64, error) {
	var from uint64
	for i, t := range c.targets {
		start, err := c.startBlock(ctx, t)
		if err != nil {
			return 0, err
		}
		if i == 0 || start < from {
			from = start
		}
	}
	return from, nil
}

// decode turns the logs of t into documents, skipping logs that fail to decode.
func (c *Coordinator) decode(t *target, logs []types.Log, timestampOf func(uint64) uint64) ([]*store.Document, []deadletter.Entry) {
	var (
		docs    []*store.Document
		skipped []deadletter.Entry
	)

	for i, res := range c.decoder.DecodeAll(logs, timestampOf) {
		if !res.OK() {
			logsSkippedInc(t.name())
			c.log.Warnw("skipping log that failed to decode",
				"collection", t.name(), "block", logs[i].BlockNumber, "error", res.Err)
			skipped = append(skipped, deadletter.Entry{
				Kind:        deadletter.KindDecode,
				Collection:  t.name(),
				DocumentID:  store.DocumentID(logs[i].TxHash, logs[i].Index),
				BlockNumber: logs[i].BlockNumber,
				Reason:      res.Err.Error(),
			})
			continue
		}

		res.Doc.Collection = t.name()
		docs = append(docs, res.Doc)
	}

	return docs, skipped
}

// recordSkipped hands skipped logs to the dead letter recorder. Failures are only logged.
func (c *Coordinator) recordSkipped(ctx context.Context, entries []deadletter.Entry) {
	for _, e := range entries {
		if err := c.skipped.Record(ctx, e); err != nil {
			c.log.Warnw("failed to record skipped log", "collection", e.Collection, "id", e.DocumentID, "error", err)
		}
	}
}

// withStorageRetry retries a storage write and marks exhaustion as fatal.
func (c *Coordinator) withStorageRetry(ctx context.Context, op string, fn func() error) error {
	if err := retry.DoWhen(ctx, c.cfg.Retry, op, retryable, fn); err != nil {
		if isProtocolViolation(err) {
			return err
		}
		return &FatalError{Op: op, Err: err}
	}
	return nil
}
