package main

import (
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainSync/internal/collection"
	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/db"
	"github.com/goran-ethernal/ChainSync/internal/decoder"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/migrations"
	"github.com/goran-ethernal/ChainSync/internal/store"
	pkgconfig "github.com/goran-ethernal/ChainSync/pkg/config"
)

// storage is the opened database with one store per collection.
type storage struct {
	sqlDB       *sql.DB
	maintenance db.Maintenance
	decoder     *decoder.Decoder
	collections []*collection.Collection
	status      *store.SyncStatus
	refs        *store.BlockRefs
	stores      map[string]*store.EventStore
}

func openStorage(cfg *pkgconfig.Config) (*storage, error) {
	log := logger.NewComponentLoggerFromConfig(common.ComponentDecoder, cfg.Logging)

	contract, err := decoder.LoadABI(cfg.Network.ABIFile)
	if err != nil {
		return nil, err
	}
	dec, err := decoder.New(contract, cfg.Network.Events, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	cols, err := collection.Build(dec, cfg.Network.TrackedUserAddresses())
	if err != nil {
		return nil, fmt.Errorf("failed to build collections: %w", err)
	}

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, err
	}

	if err := migrations.RunMigrations(logger.NewComponentLoggerFromConfig(common.ComponentEventStore, cfg.Logging), sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	maintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		sqlDB,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)

	s := &storage{
		sqlDB:       sqlDB,
		maintenance: maintenance,
		decoder:     dec,
		collections: cols,
		status: store.NewSyncStatus(sqlDB, maintenance,
			logger.NewComponentLoggerFromConfig(common.ComponentSyncStatus, cfg.Logging)),
		refs: store.NewBlockRefs(sqlDB, maintenance,
			logger.NewComponentLoggerFromConfig(common.ComponentBlockRefs, cfg.Logging)),
		stores: make(map[string]*store.EventStore, len(cols)),
	}

	storeLog := logger.NewComponentLoggerFromConfig(common.ComponentEventStore, cfg.Logging)
	for _, c := range cols {
		s.stores[c.Name] = store.NewEventStore(c.Name, sqlDB, s.status, maintenance, storeLog)
	}

	return s, nil
}

func (s *storage) Close() error {
	return s.sqlDB.Close()
}
