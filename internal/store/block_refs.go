package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainSync/internal/db"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/russross/meddler"
)

var _ store.BlockRefStore = (*BlockRefs)(nil)

// BlockRefs persists the refs of applied blocks so the listener window survives restarts.
type BlockRefs struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// NewBlockRefs creates a BlockRefs store on an already migrated database.
func NewBlockRefs(sqlDB *sql.DB, maintenance db.Maintenance, log *logger.Logger) *BlockRefs {
	return &BlockRefs{
		db:          sqlDB,
		log:         log,
		maintenance: maintenance,
	}
}

// Save upserts refs in one transaction.
func (b *BlockRefs) Save(ctx context.Context, refs ...store.BlockRef) error {
	if len(refs) == 0 {
		return nil
	}

	unlock := b.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			b.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	const query = `
		INSERT INTO block_refs (block_number, block_hash, parent_hash, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(block_number) DO UPDATE SET
			block_hash = excluded.block_hash,
			parent_hash = excluded.parent_hash,
			timestamp = excluded.timestamp
	`

	for _, ref := range refs {
		if _, err := tx.Exec(query, sqlBlock(ref.Number), ref.Hash.Hex(), ref.ParentHash.Hex(), ref.Timestamp); err != nil {
			return fmt.Errorf("failed to save block ref %d: %w", ref.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Latest returns up to n refs with the highest numbers, in ascending order.
func (b *BlockRefs) Latest(ctx context.Context, n uint64) ([]store.BlockRef, error) {
	unlock := b.maintenance.AcquireOperationLock()
	defer unlock()

	var refs []*store.BlockRef
	err := meddler.QueryAll(b.db, &refs,
		"SELECT * FROM block_refs ORDER BY block_number DESC LIMIT ?", sqlBlock(n))
	if err != nil {
		return nil, fmt.Errorf("failed to query block refs: %w", err)
	}

	result := make([]store.BlockRef, len(refs))
	for i, ref := range refs {
		result[len(refs)-1-i] = *ref
	}

	return result, nil
}

// Below returns up to n refs numbered below block, in ascending order.
func (b *BlockRefs) Below(ctx context.Context, block, n uint64) ([]store.BlockRef, error) {
	unlock := b.maintenance.AcquireOperationLock()
	defer unlock()

	var refs []*store.BlockRef
	err := meddler.QueryAll(b.db, &refs,
		"SELECT * FROM block_refs WHERE block_number < ? ORDER BY block_number DESC LIMIT ?",
		sqlBlock(block), sqlBlock(n))
	if err != nil {
		return nil, fmt.Errorf("failed to query block refs below %d: %w", block, err)
	}

	result := make([]store.BlockRef, len(refs))
	for i, ref := range refs {
		result[len(refs)-1-i] = *ref
	}

	return result, nil
}

// DeleteFrom deletes refs at or above block.
func (b *BlockRefs) DeleteFrom(ctx context.Context, block uint64) error {
	unlock := b.maintenance.AcquireOperationLock()
	defer unlock()

	res, err := b.db.ExecContext(ctx, "DELETE FROM block_refs WHERE block_number >= ?", sqlBlock(block))
	if err != nil {
		return fmt.Errorf("failed to delete block refs from %d: %w", block, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		b.log.Debugw("deleted block refs", "from_block", block, "count", n)
	}

	return nil
}

// PruneBelow deletes refs below block.
func (b *BlockRefs) PruneBelow(ctx context.Context, block uint64) error {
	unlock := b.maintenance.AcquireOperationLock()
	defer unlock()

	if _, err := b.db.ExecContext(ctx, "DELETE FROM block_refs WHERE block_number < ?", sqlBlock(block)); err != nil {
		return fmt.Errorf("failed to prune block refs below %d: %w", block, err)
	}

	return nil
}
