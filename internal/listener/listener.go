package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/fetcher"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/retry"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/rpc"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

// BlockHandler receives every canonical block in order with its matching logs.
// An error stops the listener.
type BlockHandler func(ctx context.Context, ref store.BlockRef, logs []types.Log) error

// RemovalHandler receives every block dropped from the canonical chain, newest first.
// An error stops the listener.
type RemovalHandler func(ctx context.Context, ref store.BlockRef) error

// LogSource returns the matching logs of one block.
type LogSource interface {
	FetchBlockLogs(ctx context.Context, blockHash ethcommon.Hash) ([]types.Log, error)
}

// BlockRefReader returns persisted block refs used to seed the window.
type BlockRefReader interface {
	Latest(ctx context.Context, n uint64) ([]store.BlockRef, error)
}

// Config tunes the listener.
type Config struct {
	// ConfirmationDepth is the number of recent blocks kept for divergence checks
	ConfirmationDepth uint64

	// PollInterval is how often the head is polled besides the subscription
	PollInterval time.Duration

	// Retry bounds log fetches of a single block and paces resubscription
	Retry *config.RetryConfig
}

// Listener streams canonical blocks and reports blocks removed by reorgs.
// It keeps the last ConfirmationDepth block refs and performs no storage.
type Listener struct {
	cfg     Config
	rpc     rpc.EthClient
	logs    LogSource
	refs    BlockRefReader
	onBlock BlockHandler
	log     *logger.Logger

	handlerMu sync.Mutex
	onRemoved RemovalHandler

	running atomic.Bool

	windowMu sync.RWMutex
	window   []store.BlockRef
	next     uint64
}

// New creates a Listener delivering blocks to onBlock.
func New(
	cfg Config,
	client rpc.EthClient,
	logs LogSource,
	refs BlockRefReader,
	onBlock BlockHandler,
	log *logger.Logger,
) (*Listener, error) {
	if cfg.ConfirmationDepth == 0 {
		return nil, errors.New("confirmation depth must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if onBlock == nil {
		return nil, errors.New("block handler is required")
	}

	return &Listener{
		cfg:     cfg,
		rpc:     client,
		logs:    logs,
		refs:    refs,
		onBlock: onBlock,
		log:     log,
	}, nil
}

// ListenForBlockRemoved registers the single removal handler.
// Handlers run synchronously, before any block of the replacing branch is delivered.
func (l *Listener) ListenForBlockRemoved(handler RemovalHandler) error {
	l.handlerMu.Lock()
	defer l.handlerMu.Unlock()

	if l.onRemoved != nil {
		return ErrHandlerRegistered
	}
	l.onRemoved = handler
	return nil
}

// Window returns a copy of the tracked block refs, oldest first.
func (l *Listener) Window() []store.BlockRef {
	l.windowMu.RLock()
	defer l.windowMu.RUnlock()

	out := make([]store.BlockRef, len(l.window))
	copy(out, l.window)
	return out
}

// Next returns the number of the next block to deliver.
func (l *Listener) Next() uint64 {
	l.windowMu.RLock()
	defer l.windowMu.RUnlock()
	return l.next
}

// Start delivers blocks from fromBlock on until ctx is cancelled or a handler fails.
// It returns nil on cancellation.
func (l *Listener) Start(ctx context.Context, fromBlock uint64) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	if err := l.seed(ctx, fromBlock); err != nil {
		return err
	}

	l.log.Infow("listener started", "from_block", fromBlock, "window", len(l.window))

	heads := make(chan *types.Header, 16) //nolint:mnd
	sub := l.subscribe(ctx, heads)
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	var (
		resubscribe <-chan time.Time
		attempt     int
	)
	if sub == nil {
		resubscribe = time.After(l.resubscribeDelay(attempt))
	}

	for {
		if err := l.catchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var subErr <-chan error
		if sub != nil {
			subErr = sub.Err()
		}

		select {
		case <-ctx.Done():
			l.log.Info("listener stopped")
			return nil
		case <-heads:
		case <-ticker.C:
		case err := <-subErr:
			l.log.Warnw("head subscription ended, resubscribing", "error", err)
			sub.Unsubscribe()
			sub = nil
			attempt = 0
			resubscribe = time.After(l.resubscribeDelay(attempt))
		case <-resubscribe:
			attempt++
			resubscribe = nil
			if sub = l.subscribe(ctx, heads); sub == nil {
				resubscribeInc("failed")
				resubscribe = time.After(l.resubscribeDelay(attempt))
			} else {
				resubscribeInc("ok")
			}
		}
	}
}

func (l *Listener) subscribe(ctx context.Context, heads chan<- *types.Header) ethereum.Subscription {
	sub, err := l.rpc.SubscribeNewHead(ctx, heads)
	if err != nil {
		l.log.Debugw("head subscription unavailable, polling", "error", err)
		return nil
	}
	return sub
}

func (l *Listener) resubscribeDelay(attempt int) time.Duration {
	var wait time.Duration
	if l.cfg.Retry != nil {
		wait = retry.Backoff(attempt+2, l.cfg.Retry) //nolint:mnd
	}
	return max(wait, l.cfg.PollInterval)
}

// seed fills the window with the persisted refs directly below fromBlock.
func (l *Listener) seed(ctx context.Context, fromBlock uint64) error {
	var window []store.BlockRef

	if l.refs != nil && fromBlock > 0 {
		refs, err := l.refs.Latest(ctx, l.cfg.ConfirmationDepth)
		if err != nil {
			return fmt.Errorf("failed to load block refs: %w", err)
		}

		// keep the contiguous run ending at fromBlock-1
		expected := fromBlock - 1
		for i := len(refs) - 1; i >= 0; i-- {
			ref := refs[i]
			if ref.Number > expected {
				continue
			}
			if ref.Number != expected {
				break
			}
			window = append([]store.BlockRef{ref}, window...)
			if expected == 0 {
				break
			}
			expected--
		}
	}

	l.windowMu.Lock()
	l.window = window
	l.next = fromBlock
	l.windowMu.Unlock()

	return nil
}

// catchUp delivers every block up to the current head. Upstream failures are
// logged and left for the next trigger. Only handler failures are returned.
func (l *Listener) catchUp(ctx context.Context) error {
	head, err := l.rpc.GetLatestBlockHeader(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warnw("failed to get head", "error", err)
		}
		return nil
	}

	if head.Number.Uint64() < l.Next() {
		if err := l.verifyTail(ctx, head); err != nil {
			return err
		}
	}

	for l.Next() <= head.Number.Uint64() {
		if err := ctx.Err(); err != nil {
			return err
		}

		progressed, err := l.step(ctx, l.Next())
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}

	return nil
}

// verifyTail detects reorgs that leave the chain no longer than the window.
func (l *Listener) verifyTail(ctx context.Context, head *types.Header) error {
	tail, ok := l.tail()
	if !ok || isPlaceholder(tail) {
		return nil
	}

	headNumber := head.Number.Uint64()
	if headNumber == tail.Number && head.Hash() == tail.Hash {
		return nil
	}
	if headNumber > tail.Number {
		return nil
	}

	_, err := l.rewind(ctx, tail.Number+1)
	return err
}

// step handles block n. It reports false when an upstream failure stopped progress.
func (l *Listener) step(ctx context.Context, n uint64) (bool, error) {
	header, err := l.rpc.GetBlockHeader(ctx, n)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warnw("failed to get block header", "block", n, "error", err)
		}
		return false, nil
	}

	ref := store.BlockRef{
		Number:     n,
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  header.Time,
	}

	if header.Number == nil || header.Number.Uint64() != n {
		l.log.Warnw("skipping malformed block, header does not match number", "block", n)
		blockSkippedInc("header")
		// a placeholder keeps the window contiguous without a hash to compare against
		l.push(store.BlockRef{Number: n})
		return true, nil
	}

	if parent, ok := l.tail(); ok && !isPlaceholder(parent) && parent.Number+1 == n && header.ParentHash != parent.Hash {
		return l.rewind(ctx, n)
	}

	var logs []types.Log
	err = retry.DoWhen(ctx, l.cfg.Retry, "block_logs", retry.Always, func() error {
		var fetchErr error
		logs, fetchErr = l.logs.FetchBlockLogs(ctx, ref.Hash)
		return fetchErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, fetcher.ErrChainMoved) {
			// the block was replaced while fetching, the next step sees the new branch
			l.log.Infow("block replaced while fetching logs", "block", n)
			return false, nil
		}
		l.log.Warnw("skipping malformed block, logs unavailable", "block", n, "hash", ref.Hash.Hex(), "error", err)
		blockSkippedInc("logs")
		l.push(ref)
		return true, nil
	}

	if err := l.onBlock(ctx, ref, logs); err != nil {
		return false, fmt.Errorf("block handler failed at block %d: %w", n, err)
	}

	l.push(ref)
	blockDeliveredLog(n)

	return true, nil
}

// rewind walks the window back to the newest block still canonical and reports
// every block above it as removed, newest first.
func (l *Listener) rewind(ctx context.Context, n uint64) (bool, error) {
	window := l.Window()

	ancestor := -1
	for i := len(window) - 1; i >= 0; i-- {
		canonical, err := l.rpc.GetBlockHeader(ctx, window[i].Number)
		if errors.Is(err, ethereum.NotFound) {
			// the chain is now shorter than this block
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				l.log.Warnw("failed to get canonical header during rewind", "block", window[i].Number, "error", err)
			}
			return false, nil
		}
		if canonical.Hash() == window[i].Hash {
			ancestor = i
			break
		}
	}

	if ancestor < 0 {
		return false, &ReorgTooDeepError{Block: n, OldestKnown: window[0].Number}
	}

	removed := len(window) - 1 - ancestor
	reorgDetectedLog(removed)
	l.log.Warnw("reorg detected",
		"block", n,
		"common_ancestor", window[ancestor].Number,
		"removed_blocks", removed,
	)

	l.handlerMu.Lock()
	onRemoved := l.onRemoved
	l.handlerMu.Unlock()

	for i := len(window) - 1; i > ancestor; i-- {
		if onRemoved != nil {
			if err := onRemoved(ctx, window[i]); err != nil {
				return false, fmt.Errorf("removal handler failed at block %d: %w", window[i].Number, err)
			}
		} else {
			l.log.Warnw("no removal handler registered", "block", window[i].Number)
		}
		l.pop()
	}

	return true, nil
}

func (l *Listener) tail() (store.BlockRef, bool) {
	l.windowMu.RLock()
	defer l.windowMu.RUnlock()

	if len(l.window) == 0 {
		return store.BlockRef{}, false
	}
	return l.window[len(l.window)-1], true
}

func (l *Listener) push(ref store.BlockRef) {
	l.windowMu.Lock()
	defer l.windowMu.Unlock()

	l.window = append(l.window, ref)
	if over := len(l.window) - int(l.cfg.ConfirmationDepth); over > 0 { //nolint:gosec
		l.window = l.window[over:]
	}
	l.next = ref.Number + 1
}

func (l *Listener) pop() {
	l.windowMu.Lock()
	defer l.windowMu.Unlock()

	last := l.window[len(l.window)-1]
	l.window = l.window[:len(l.window)-1]
	l.next = last.Number
}

// isPlaceholder reports whether ref stands in for a block skipped without a usable header.
func isPlaceholder(ref store.BlockRef) bool {
	return ref.Hash == (ethcommon.Hash{})
}
