package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
)

// Maintenance serializes database housekeeping against regular store operations.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for the worker to exit.
	Stop() error
	// AcquireOperationLock takes a shared lock for a store operation.
	// The returned function releases it.
	AcquireOperationLock() func()
	// RunMaintenance checkpoints the WAL and vacuums the database.
	RunMaintenance(ctx context.Context) error
	// Stats reports the outcome of past runs.
	Stats() MaintenanceStats
}

// MaintenanceStats describes past maintenance runs.
type MaintenanceStats struct {
	LastRun   time.Time
	Runs      uint64
	LastError error
}

// NoOpMaintenance is used when maintenance is not configured.
type NoOpMaintenance struct{}

func (NoOpMaintenance) Start(context.Context) error          { return nil }
func (NoOpMaintenance) Stop() error                          { return nil }
func (NoOpMaintenance) AcquireOperationLock() func()         { return func() {} }
func (NoOpMaintenance) RunMaintenance(context.Context) error { return nil }
func (NoOpMaintenance) Stats() MaintenanceStats              { return MaintenanceStats{} }

// MaintenanceCoordinator runs maintenance with exclusive access to the database.
// Store operations hold the read side of opLock, maintenance holds the write side.
type MaintenanceCoordinator struct {
	db     *sql.DB
	dbPath string
	cfg    config.MaintenanceConfig
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   MaintenanceStats
}

// NewMaintenanceCoordinator returns a NoOpMaintenance when cfg is nil.
func NewMaintenanceCoordinator(dbPath string, db *sql.DB, cfg *config.MaintenanceConfig, log *logger.Logger) Maintenance {
	if cfg == nil {
		return NoOpMaintenance{}
	}

	return &MaintenanceCoordinator{
		db:     db,
		dbPath: dbPath,
		cfg:    *cfg,
		log:    log,
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("background maintenance is disabled")
		return nil
	}
	if m.cfg.CheckInterval.Duration <= 0 {
		return fmt.Errorf("maintenance check interval must be positive")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.cfg.VacuumOnStartup {
		if err := m.RunMaintenance(workerCtx); err != nil {
			m.log.Warnw("startup maintenance failed", "error", err)
		}
	}

	m.wg.Add(1)
	go m.worker(workerCtx)

	m.log.Infow("background maintenance started",
		"interval", m.cfg.CheckInterval.Duration,
		"checkpoint_mode", m.cfg.WALCheckpointMode,
	)

	return nil
}

// Stop stops background maintenance and waits for the worker to exit.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.log.Info("background maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) worker(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil {
				m.log.Warnw("periodic maintenance failed", "error", err)
			}
		}
	}
}

// RunMaintenance waits for in-flight store operations, then vacuums and checkpoints the WAL.
// The checkpoint runs last so the pages VACUUM writes to the WAL are folded back.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now()
	maintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	sizeBefore, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Debugw("failed to read database size", "error", err)
	}

	runErr := errors.Join(m.vacuum(), m.walCheckpoint())

	m.statsMu.Lock()
	m.stats.LastRun = time.Now().UTC()
	m.stats.Runs++
	m.stats.LastError = runErr
	m.statsMu.Unlock()

	maintenanceDurationLog(time.Since(start))

	if runErr != nil {
		maintenanceOutcomeInc("error")
		return runErr
	}
	maintenanceOutcomeInc("success")

	sizeAfter, err := DBTotalSize(m.dbPath)
	if err == nil {
		dbSizeLog(sizeAfter)
		if sizeBefore > sizeAfter {
			m.log.Infow("maintenance completed",
				"duration", time.Since(start),
				"reclaimed_mb", common.BytesToMB(uint64(sizeBefore-sizeAfter)),
			)
			return nil
		}
	}

	m.log.Infow("maintenance completed", "duration", time.Since(start))
	return nil
}

func (m *MaintenanceCoordinator) walCheckpoint() error {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return nil
	}

	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.cfg.WALCheckpointMode)
	if err := m.db.QueryRow(query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	walCheckpointInc(strings.ToLower(m.cfg.WALCheckpointMode))
	if busy > 0 {
		m.log.Warnw("WAL checkpoint left busy pages", "busy", busy, "log_frames", logFrames)
	}

	return nil
}

func (m *MaintenanceCoordinator) vacuum() error {
	if _, err := m.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	vacuumRunsInc()
	return nil
}

// AcquireOperationLock takes a shared lock for a store operation.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// Stats reports the outcome of past runs.
func (m *MaintenanceCoordinator) Stats() MaintenanceStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}
