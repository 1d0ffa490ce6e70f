package coordinator

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/ChainSync/pkg/store"
)

// rollbackBlock is the listener's removal handler. Every collection drops the
// documents at or above the removed block before forward delivery resumes.
func (c *Coordinator) rollbackBlock(ctx context.Context, ref store.BlockRef) error {
	c.pipeline.Lock()
	defer c.pipeline.Unlock()

	if err := c.state.transition(StateRollingBack); err != nil {
		return err
	}

	applyCtx := context.WithoutCancel(ctx)

	for _, t := range c.targets {
		watermark, ok, err := t.Store.GetHighestSyncedBlock(applyCtx)
		if err != nil {
			return &FatalError{Op: "read watermark of " + t.name(), Err: err}
		}
		if ok && ref.Number+c.cfg.ConfirmationDepth < watermark {
			return &ProtocolViolationError{
				Collection: t.name(),
				Block:      ref.Number,
				Watermark:  watermark,
				Reason:     fmt.Sprintf("removed block is deeper than the confirmation depth of %d", c.cfg.ConfirmationDepth),
			}
		}
	}

	for _, t := range c.targets {
		if err := c.rollbackTarget(applyCtx, t, ref.Number); err != nil {
			return err
		}
	}
	c.forgetFrom(applyCtx, ref.Number)

	rollbackInc("listener")
	c.log.Infow("block removed", "block", ref.Number, "hash", ref.Hash.Hex())

	return c.state.transition(StateLiveTailing)
}

// rollbackTarget drops the documents of t at or above block and moves its watermark below it.
func (c *Coordinator) rollbackTarget(ctx context.Context, t *target, block uint64) error {
	var removed []string
	err := c.withStorageRetry(ctx, "rollback", func() error {
		var err error
		removed, err = t.Store.Rollback(ctx, block)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to roll back %s from block %d: %w", t.name(), block, err)
	}

	c.observers.removed(ctx, t.name(), removed)
	if len(removed) > 0 {
		c.log.Infow("rolled back documents", "collection", t.name(), "from_block", block, "documents", len(removed))
	}

	return nil
}

// forgetFrom drops the block refs and skipped logs at or above block.
func (c *Coordinator) forgetFrom(ctx context.Context, block uint64) {
	if err := c.refs.DeleteFrom(ctx, block); err != nil {
		c.log.Warnw("failed to delete block refs", "from_block", block, "error", err)
	}
	if err := c.skipped.RemoveFrom(ctx, block); err != nil {
		c.log.Warnw("failed to remove skipped logs", "from_block", block, "error", err)
	}
}
