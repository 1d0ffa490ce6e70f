package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/db"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/russross/meddler"
)

var _ store.SyncStatus = (*SyncStatus)(nil)

// SyncStatus persists per collection watermarks in the sync_status table.
type SyncStatus struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// NewSyncStatus creates a SyncStatus on an already migrated database.
func NewSyncStatus(sqlDB *sql.DB, maintenance db.Maintenance, log *logger.Logger) *SyncStatus {
	return &SyncStatus{
		db:          sqlDB,
		log:         log,
		maintenance: maintenance,
	}
}

// Lookup returns the watermark of name and whether a record exists.
func (s *SyncStatus) Lookup(ctx context.Context, name string) (uint64, bool, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	return lookupStatus(s.db, name)
}

// GetHighestSyncedBlock returns the watermark of name, or defaultStart when no record exists.
func (s *SyncStatus) GetHighestSyncedBlock(ctx context.Context, name string, defaultStart uint64) (uint64, error) {
	block, ok, err := s.Lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultStart, nil
	}
	return block, nil
}

// SetHighestSyncedBlock records the watermark of name.
func (s *SyncStatus) SetHighestSyncedBlock(ctx context.Context, name string, block uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	if err := setStatus(s.db, name, block); err != nil {
		return err
	}

	s.log.Debugw("watermark updated", "collection", name, "block", block)
	return nil
}

// Clear removes the record of name.
func (s *SyncStatus) Clear(ctx context.Context, name string) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	return clearStatus(s.db, name)
}

// All returns every record ordered by collection name.
func (s *SyncStatus) All(ctx context.Context) ([]*store.Status, error) {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	var statuses []*store.Status
	if err := meddler.QueryAll(s.db, &statuses, "SELECT * FROM sync_status ORDER BY collection_name ASC"); err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}

	return statuses, nil
}

func lookupStatus(q meddler.DB, name string) (uint64, bool, error) {
	var status store.Status
	err := meddler.QueryRow(q, &status, "SELECT * FROM sync_status WHERE collection_name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query sync status of %s: %w", name, err)
	}

	return status.HighestSyncedBlock, true, nil
}

func setStatus(q meddler.DB, name string, block uint64) error {
	const query = `
		INSERT INTO sync_status (collection_name, highest_synced_block, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(collection_name) DO UPDATE SET
			highest_synced_block = excluded.highest_synced_block,
			updated_at = excluded.updated_at
	`

	if _, err := q.Exec(query, name, sqlBlock(block), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to set sync status of %s: %w", name, err)
	}

	highestSyncedBlockSet(name, block)
	return nil
}

func clearStatus(q meddler.DB, name string) error {
	if _, err := q.Exec("DELETE FROM sync_status WHERE collection_name = ?", name); err != nil {
		return fmt.Errorf("failed to clear sync status of %s: %w", name, err)
	}

	highestSyncedBlockSet(name, 0)
	return nil
}
