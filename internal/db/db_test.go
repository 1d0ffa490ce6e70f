package db

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"
)

func newTestDBConfig(t *testing.T, journal string) config.DatabaseConfig {
	t.Helper()

	cfg := config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.sqlite"),
		JournalMode: journal,
	}
	cfg.ApplyDefaults("")

	return cfg
}

func TestNewSQLiteDBFromConfig(t *testing.T) {
	cfg := newTestDBConfig(t, "WAL")

	sqlDB, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer sqlDB.Close()

	var mode string
	require.NoError(t, sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)
}

func TestDBTotalSize(t *testing.T) {
	type fileSpec struct {
		suffix string
		size   int
	}

	tests := []struct {
		name     string
		files    []fileSpec
		expected int64
		wantErr  bool
	}{
		{
			name:     "main file only",
			files:    []fileSpec{{"", 100}},
			expected: 100,
		},
		{
			name:     "main with wal and shm",
			files:    []fileSpec{{"", 100}, {"-wal", 50}, {"-shm", 25}},
			expected: 175,
		},
		{
			name:    "missing main file",
			files:   []fileSpec{{"-wal", 50}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), "size.sqlite")
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(dbPath+f.suffix, make([]byte, f.size), 0o600))
			}

			size, err := DBTotalSize(dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, size)
		})
	}
}

func TestMigrations_UpAndDown(t *testing.T) {
	cfg := newTestDBConfig(t, "WAL")
	sqlDB, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer sqlDB.Close()

	migs := []Migration{
		{
			ID: "001_first.sql",
			SQL: `-- +migrate Down
DROP TABLE IF EXISTS first;

-- +migrate Up
CREATE TABLE first (id INTEGER PRIMARY KEY);`,
		},
		{
			ID: "002_second.sql",
			SQL: `-- +migrate Down
DROP TABLE IF EXISTS second;

-- +migrate Up
CREATE TABLE second (id INTEGER PRIMARY KEY);`,
		},
	}

	log := logger.NewNopLogger()
	require.NoError(t, RunMigrations(log, sqlDB, migs))
	require.True(t, tableExists(t, sqlDB, "first"))
	require.True(t, tableExists(t, sqlDB, "second"))

	// applying twice is a no-op
	require.NoError(t, RunMigrations(log, sqlDB, migs))

	require.NoError(t, RollbackMigrations(log, sqlDB, migs, 1))
	require.True(t, tableExists(t, sqlDB, "first"))
	require.False(t, tableExists(t, sqlDB, "second"))
}

func TestSplitMigration(t *testing.T) {
	up, down, err := splitMigration(Migration{
		ID:  "x",
		SQL: "-- +migrate Down\nDROP TABLE t;\n-- +migrate Up\nCREATE TABLE t (id INTEGER);",
	})
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE t (id INTEGER);", up)
	require.Equal(t, "DROP TABLE t;", down)

	_, _, err = splitMigration(Migration{ID: "bad", SQL: "CREATE TABLE t (id INTEGER);"})
	require.ErrorContains(t, err, "exactly one")
}

type hexRow struct {
	ID     int64           `meddler:"id,pk"`
	Hash   common.Hash     `meddler:"hash,hash"`
	Parent *common.Hash    `meddler:"parent,hash"`
	Owner  common.Address  `meddler:"owner,address"`
	Other  *common.Address `meddler:"other,address"`
}

func TestHexMeddlers(t *testing.T) {
	cfg := newTestDBConfig(t, "WAL")
	sqlDB, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer sqlDB.Close()

	_, err = sqlDB.Exec(`CREATE TABLE hex_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		parent TEXT,
		owner TEXT NOT NULL,
		other TEXT
	)`)
	require.NoError(t, err)

	hash := common.HexToHash("0xabc")
	parent := common.HexToHash("0xdef")
	owner := common.HexToAddress("0x01")

	for i, row := range []*hexRow{
		{Hash: hash, Parent: &parent, Owner: owner},
		{Hash: hash, Owner: owner},
	} {
		require.NoError(t, meddler.Insert(sqlDB, "hex_rows", row), fmt.Sprintf("row %d", i))
	}

	var stored string
	require.NoError(t, sqlDB.QueryRow("SELECT hash FROM hex_rows WHERE id = 1").Scan(&stored))
	require.Equal(t, hash.Hex(), stored)

	var rows []*hexRow
	require.NoError(t, meddler.QueryAll(sqlDB, &rows, "SELECT * FROM hex_rows ORDER BY id"))
	require.Len(t, rows, 2)

	require.Equal(t, hash, rows[0].Hash)
	require.NotNil(t, rows[0].Parent)
	require.Equal(t, parent, *rows[0].Parent)
	require.Equal(t, owner, rows[0].Owner)
	require.Nil(t, rows[0].Other)

	require.Nil(t, rows[1].Parent)
}
