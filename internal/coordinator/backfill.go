package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/internal/retry"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"golang.org/x/sync/errgroup"
)

// backfill runs passes over every collection until the observed head stops moving.
// It returns the head the last pass reached.
func (c *Coordinator) backfill(ctx context.Context) (uint64, error) {
	for pass := 1; ; pass++ {
		head, err := c.observeHead(ctx)
		if err != nil {
			return 0, err
		}

		c.log.Infow("starting backfill pass", "pass", pass, "head", head, "collections", len(c.targets))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.MaxParallelCollections)
		for _, t := range c.targets {
			g.Go(func() error {
				return c.syncTo(gctx, t, head)
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}

		latest, err := c.observeHead(ctx)
		if err != nil {
			return 0, err
		}
		if latest <= head {
			// a collection that finished early may have been left on a dropped branch
			reorged, err := c.verifyTails(ctx)
			if err != nil {
				return 0, err
			}
			if reorged {
				continue
			}

			if head+1 > c.cfg.ConfirmationDepth {
				if err := c.refs.PruneBelow(ctx, head+1-c.cfg.ConfirmationDepth); err != nil {
					c.log.Warnw("failed to prune block refs", "error", err)
				}
			}
			return head, nil
		}
	}
}

// observeHead returns the number of the head backfill runs up to.
func (c *Coordinator) observeHead(ctx context.Context) (uint64, error) {
	var head *types.Header
	err := retry.Do(ctx, c.cfg.Retry, "head", func() error {
		var err error
		head, err = c.cfg.HeadFinality.Head(ctx, c.rpc)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &FatalError{Op: "head", Err: err}
	}
	return head.Number.Uint64(), nil
}

// syncTo applies chunks of t up to head, one after another.
func (c *Coordinator) syncTo(ctx context.Context, t *target, head uint64) error {
	from, err := c.startBlock(ctx, t)
	if err != nil {
		return err
	}

	for from <= head {
		if err := ctx.Err(); err != nil {
			return err
		}

		resume, err := c.checkLink(ctx, t, from)
		if err != nil {
			return err
		}
		if resume != from {
			from = resume
			continue
		}

		to := min(chunkEnd(from, c.cfg.ChunkSize), head)
		if err := c.runChunk(ctx, t, from, to); err != nil {
			return err
		}
		from = to + 1
	}

	return nil
}

// verifyTails checks every collection's newest blocks against the chain once
// the head stopped moving. It reports whether any collection was rolled back.
func (c *Coordinator) verifyTails(ctx context.Context) (bool, error) {
	reorged := false
	for _, t := range c.targets {
		watermark, ok, err := t.Store.GetHighestSyncedBlock(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to read watermark of %s: %w", t.name(), err)
		}
		if !ok {
			continue
		}

		resume, err := c.checkLink(ctx, t, watermark+1)
		if err != nil {
			return false, err
		}
		if resume <= watermark {
			reorged = true
		}
	}
	return reorged, nil
}

// checkLink verifies that the blocks t holds directly below from are still canonical.
// When they are not, t is rolled back to the newest block it shares with the chain
// and the block after that is returned. Otherwise from is returned.
func (c *Coordinator) checkLink(ctx context.Context, t *target, from uint64) (uint64, error) {
	known, err := c.knownBelow(ctx, t, from)
	if err != nil {
		return 0, err
	}
	if len(known) == 0 {
		return from, nil
	}

	ancestor := -1
	for i := len(known) - 1; i >= 0; i-- {
		header, err := c.canonicalHeader(ctx, known[i].Number)
		if err != nil {
			return 0, err
		}
		if header != nil && header.Hash() == known[i].Hash {
			ancestor = i
			break
		}
	}

	if ancestor == len(known)-1 {
		return from, nil
	}
	if ancestor < 0 {
		return 0, &ProtocolViolationError{
			Collection: t.name(),
			Block:      known[0].Number,
			Watermark:  from - 1,
			Reason:     fmt.Sprintf("chain diverged below block %d, deeper than the confirmation depth", known[0].Number),
		}
	}

	resume := known[ancestor].Number + 1
	applyCtx := context.WithoutCancel(ctx)
	if err := c.rollbackTarget(applyCtx, t, resume); err != nil {
		return 0, err
	}
	c.forgetFrom(applyCtx, resume)
	t.tail = known[:ancestor+1]

	rollbackInc("backfill")
	c.log.Warnw("reorg detected during backfill",
		"collection", t.name(),
		"common_ancestor", known[ancestor].Number,
		"removed_blocks", from-resume,
	)

	return resume, nil
}

// knownBelow returns the refs of t ending at from-1, newest last. The refs of the
// previous chunk are used when they reach from-1, the persisted refs otherwise.
func (c *Coordinator) knownBelow(ctx context.Context, t *target, from uint64) ([]store.BlockRef, error) {
	if from == 0 {
		return nil, nil
	}
	if n := len(t.tail); n > 0 && t.tail[n-1].Number == from-1 {
		return t.tail, nil
	}

	refs, err := c.refs.Below(ctx, from, c.cfg.ConfirmationDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load block refs of %s: %w", t.name(), err)
	}

	// keep the contiguous run ending at from-1
	start := len(refs)
	for i := len(refs) - 1; i >= 0; i-- {
		if refs[i].Number != from-1-uint64(len(refs)-1-i) {
			break
		}
		start = i
	}
	return refs[start:], nil
}

// canonicalHeader returns the canonical header at n, or nil when the chain is shorter.
func (c *Coordinator) canonicalHeader(ctx context.Context, n uint64) (*types.Header, error) {
	var header *types.Header
	err := retry.DoWhen(ctx, c.cfg.Retry, "header", notFoundIsFinal, func() error {
		var err error
		header, err = c.rpc.GetBlockHeader(ctx, n)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FatalError{Op: fmt.Sprintf("header %d", n), Err: err}
	}
	return header, nil
}

func notFoundIsFinal(err error) bool {
	return !errors.Is(err, ethereum.NotFound)
}

// chunkEnd returns the last block of the chunk holding from. Chunks are aligned to size.
func chunkEnd(from, size uint64) uint64 {
	return (from/size+1)*size - 1
}

// runChunk fetches, decodes and applies [from, to] of t, retrying the whole chunk on failure.
// Once fetched and decoded, the write runs to completion even if ctx is cancelled.
func (c *Coordinator) runChunk(ctx context.Context, t *target, from, to uint64) error {
	start := time.Now()

	var (
		docs     []*store.Document
		skipped  []deadletter.Entry
		inserted int
	)

	var tail []store.BlockRef
	err := retry.DoWhen(ctx, c.cfg.Retry, "chunk", retryable, func() error {
		res, err := t.fetcher.FetchRange(ctx, from, to)
		if err != nil {
			return err
		}
		tail = res.Tail

		docs, skipped = c.decode(t, res.Logs, res.Timestamp)

		applyCtx := context.WithoutCancel(ctx)
		inserted, err = t.Store.ApplyChunk(applyCtx, docs, to)
		if err != nil {
			return fmt.Errorf("failed to apply chunk: %w", err)
		}
		if err := c.refs.Save(applyCtx, res.Tail...); err != nil {
			return fmt.Errorf("failed to save block refs: %w", err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isProtocolViolation(err) {
			return err
		}
		return &FatalError{Op: fmt.Sprintf("chunk [%d, %d] of %s", from, to, t.name()), Err: err}
	}

	t.extendTail(tail, c.cfg.ConfirmationDepth)

	notifyCtx := context.WithoutCancel(ctx)
	c.observers.inserted(notifyCtx, t.name(), docs)
	c.recordSkipped(notifyCtx, skipped)
	chunkProcessedLog(t.name(), start)

	c.log.Debugw("applied chunk",
		"collection", t.name(),
		"from", from,
		"to", to,
		"documents", inserted,
		"skipped", len(skipped),
	)

	return nil
}
