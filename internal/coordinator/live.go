package coordinator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/pkg/store"
)

type appliedBlock struct {
	target  *target
	docs    []*store.Document
	skipped []deadletter.Entry
}

// applyBlock is the listener's block handler. Each collection behind the block
// gets its documents and then its watermark moved to the block.
func (c *Coordinator) applyBlock(ctx context.Context, ref store.BlockRef, logs []types.Log) error {
	c.pipeline.Lock()
	defer c.pipeline.Unlock()

	applyCtx := context.WithoutCancel(ctx)
	applied := make([]appliedBlock, 0, len(c.targets))

	for _, t := range c.targets {
		watermark, ok, err := t.Store.GetHighestSyncedBlock(applyCtx)
		if err != nil {
			return &FatalError{Op: "read watermark of " + t.name(), Err: err}
		}
		if ok && watermark >= ref.Number {
			continue
		}
		if !ok && ref.Number < c.cfg.DefaultStartBlock {
			continue
		}

		docs, skipped := c.decode(t, t.Collection.Route(logs), func(uint64) uint64 { return ref.Timestamp })

		err = c.withStorageRetry(applyCtx, "apply block", func() error {
			_, err := t.Store.ApplyChunk(applyCtx, docs, ref.Number)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply block %d to %s: %w", ref.Number, t.name(), err)
		}

		applied = append(applied, appliedBlock{target: t, docs: docs, skipped: skipped})
	}

	if err := c.refs.Save(applyCtx, ref); err != nil {
		c.log.Warnw("failed to save block ref", "block", ref.Number, "error", err)
	}
	if ref.Number+1 > c.cfg.ConfirmationDepth {
		if err := c.refs.PruneBelow(applyCtx, ref.Number+1-c.cfg.ConfirmationDepth); err != nil {
			c.log.Warnw("failed to prune block refs", "block", ref.Number, "error", err)
		}
	}

	for _, a := range applied {
		c.observers.inserted(applyCtx, a.target.name(), a.docs)
		c.recordSkipped(applyCtx, a.skipped)
	}

	liveBlockInc()
	c.log.Debugw("applied block", "block", ref.Number, "hash", ref.Hash.Hex(), "logs", len(logs), "collections", len(applied))

	return nil
}
