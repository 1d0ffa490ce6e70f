package db

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/stretchr/testify/require"
)

func setupMaintenanceTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	cfg := newTestDBConfig(t, "WAL")
	db, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_data (id INTEGER PRIMARY KEY, data TEXT)`)
	require.NoError(t, err)

	return db, cfg.Path
}

func newTestCoordinator(t *testing.T, db *sql.DB, dbPath string, cfg config.MaintenanceConfig) *MaintenanceCoordinator {
	t.Helper()

	m, ok := NewMaintenanceCoordinator(dbPath, db, &cfg, logger.NewNopLogger()).(*MaintenanceCoordinator)
	require.True(t, ok)

	return m
}

func TestNewMaintenanceCoordinator_NilConfig(t *testing.T) {
	m := NewMaintenanceCoordinator("", nil, nil, logger.NewNopLogger())
	require.IsType(t, NoOpMaintenance{}, m)

	require.NoError(t, m.Start(t.Context()))
	m.AcquireOperationLock()()
	require.NoError(t, m.RunMaintenance(t.Context()))
	require.NoError(t, m.Stop())
}

func TestMaintenanceCoordinator_RunMaintenance(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)

	for range 1000 {
		_, err := db.Exec("INSERT INTO test_data (data) VALUES (?)", "test data")
		require.NoError(t, err)
	}

	walInfo, err := os.Stat(dbPath + "-wal")
	require.NoError(t, err)
	require.Positive(t, walInfo.Size())

	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"})
	require.NoError(t, m.RunMaintenance(t.Context()))

	stats := m.Stats()
	require.Equal(t, uint64(1), stats.Runs)
	require.False(t, stats.LastRun.IsZero())
	require.NoError(t, stats.LastError)

	walInfo, err = os.Stat(dbPath + "-wal")
	if err == nil {
		require.Zero(t, walInfo.Size())
	}
}

func TestMaintenanceCoordinator_NonWALJournal(t *testing.T) {
	cfg := newTestDBConfig(t, "DELETE")
	db, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer db.Close()

	m := newTestCoordinator(t, db, cfg.Path, config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"})
	require.NoError(t, m.RunMaintenance(t.Context()))
	require.Equal(t, uint64(1), m.Stats().Runs)
}

func TestMaintenanceCoordinator_MaintenanceWaitsForOperations(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"})

	unlock := m.AcquireOperationLock()

	var finished atomic.Bool
	done := make(chan error, 1)
	go func() {
		err := m.RunMaintenance(context.Background())
		finished.Store(true)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, finished.Load(), "maintenance must wait for the operation lock")

	unlock()
	require.NoError(t, <-done)
	require.True(t, finished.Load())
}

func TestMaintenanceCoordinator_BackgroundMaintenance(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(50 * time.Millisecond),
		WALCheckpointMode: "PASSIVE",
	})

	require.NoError(t, m.Start(t.Context()))

	require.Eventually(t, func() bool {
		return m.Stats().Runs > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, m.Stop())
}

func TestMaintenanceCoordinator_StartupMaintenance(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(time.Hour),
		VacuumOnStartup:   true,
		WALCheckpointMode: "TRUNCATE",
	})

	require.NoError(t, m.Start(t.Context()))
	defer func() { require.NoError(t, m.Stop()) }()

	require.Equal(t, uint64(1), m.Stats().Runs)
}

func TestMaintenanceCoordinator_Disabled(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{
		CheckInterval:     common.NewDuration(10 * time.Millisecond),
		WALCheckpointMode: "TRUNCATE",
	})

	require.NoError(t, m.Start(t.Context()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Stop())

	require.Zero(t, m.Stats().Runs)
}

func TestMaintenanceCoordinator_InvalidInterval(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{Enabled: true})

	require.ErrorContains(t, m.Start(t.Context()), "interval must be positive")
}

func TestMaintenanceCoordinator_ContextCancellation(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, m.RunMaintenance(ctx), context.Canceled)
	require.Zero(t, m.Stats().Runs)
}

func TestMaintenanceCoordinator_ConcurrentOperations(t *testing.T) {
	db, dbPath := setupMaintenanceTestDB(t)
	m := newTestCoordinator(t, db, dbPath, config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"})

	const workers = 20
	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)

	for range workers {
		wg.Go(func() {
			for range 5 {
				unlock := m.AcquireOperationLock()
				_, err := db.Exec("INSERT INTO test_data (data) VALUES (?)", "row")
				unlock()
				if err == nil {
					success.Add(1)
				}
			}
		})
	}

	maintErrs := make(chan error, 3)
	wg.Go(func() {
		for range 3 {
			maintErrs <- m.RunMaintenance(context.Background())
		}
	})

	wg.Wait()
	close(maintErrs)
	for err := range maintErrs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(workers*5), success.Load())
	require.Equal(t, uint64(3), m.Stats().Runs)
}
