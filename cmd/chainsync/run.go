package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/common"
	"github.com/goran-ethernal/ChainSync/internal/coordinator"
	"github.com/goran-ethernal/ChainSync/internal/deadletter"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/metrics"
	"github.com/goran-ethernal/ChainSync/internal/rpc"
	"github.com/goran-ethernal/ChainSync/internal/search"
	"github.com/goran-ethernal/ChainSync/pkg/api"
	pkgconfig "github.com/goran-ethernal/ChainSync/pkg/config"
	pkgstore "github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runSync(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.NewComponentLoggerFromConfig(common.ComponentCoordinator, cfg.Logging)
	logger.SetDefaultLogger(log)

	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := st.maintenance.Stop(); err != nil {
			log.Warnw("failed to stop database maintenance", "error", err)
		}
	}()

	skipped, err := deadletter.New(ctx, cfg.DeadLetter,
		logger.NewComponentLoggerFromConfig(common.ComponentDeadLetter, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create dead letter recorder: %w", err)
	}
	defer skipped.Close()

	index, err := openSearch(ctx, cfg, st, skipped)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
	}

	log.Infow("connecting to Ethereum node", "url", cfg.Network.RPCURL)
	client, err := rpc.NewClient(ctx, cfg.Network.RPCURL, &cfg.Sync.Retry)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer client.Close()

	coordCfg, err := coordinator.ConfigFrom(cfg)
	if err != nil {
		return err
	}

	targets := make([]coordinator.Target, 0, len(st.collections))
	for _, c := range st.collections {
		targets = append(targets, coordinator.Target{Collection: c, Store: st.stores[c.Name]})
	}

	opts := []coordinator.Option{coordinator.WithDeadLetter(skipped)}
	if index != nil {
		opts = append(opts, coordinator.WithObserver(index))
	}

	var current atomic.Pointer[coordinator.Coordinator]
	state := func() (string, time.Time) {
		c := current.Load()
		if c == nil {
			return string(coordinator.StateStopped), time.Time{}
		}
		s, since := c.State()
		return string(s), since
	}

	coordLog := logger.NewComponentLoggerFromConfig(common.ComponentCoordinator, cfg.Logging)
	supervisor := coordinator.NewSupervisor(func(context.Context) (coordinator.Runner, error) {
		c, err := coordinator.New(coordCfg, client, st.decoder, targets, st.refs, coordLog, opts...)
		if err != nil {
			return nil, err
		}
		current.Store(c)
		return c, nil
	}, cfg.Sync.MaxRestarts, cfg.Sync.RestartDelay.Duration,
		logger.NewComponentLoggerFromConfig(common.ComponentSupervisor, cfg.Logging))

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, func() error {
			if s, _ := state(); s == string(coordinator.StateStopped) {
				return errors.New("coordinator is stopped")
			}
			return nil
		}, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API != nil && cfg.API.Enabled {
		readers := make([]pkgstore.DocumentReader, 0, len(st.collections))
		for _, c := range st.collections {
			readers = append(readers, st.stores[c.Name])
		}

		src := api.Sources{
			Registry: api.NewRegistry(readers...),
			Status:   st.status,
			State:    state,
			Skipped:  skipped,
		}
		if index != nil {
			src.Search = index
		}

		apiServer := api.NewServer(cfg.API, src, logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging))
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	log.Infow("starting ChainSync", "collections", len(targets))
	g.Go(func() error {
		err := supervisor.Run(gctx)
		// the API has nothing to serve once syncing ends for good
		stop()
		return err
	})

	if err := g.Wait(); err != nil {
		metrics.ErrorsInc(common.ComponentCoordinator, "fatal")
		return err
	}

	log.Info("ChainSync stopped")
	return nil
}

// openSearch rebuilds the full-text index from the stored documents. It returns nil when search is disabled.
func openSearch(
	ctx context.Context,
	cfg *pkgconfig.Config,
	st *storage,
	skipped deadletter.Recorder,
) (*search.Indexer, error) {
	if cfg.Search == nil || !cfg.Search.Enabled {
		return nil, nil
	}

	source, ok := st.stores[cfg.Search.Collection]
	if !ok {
		return nil, fmt.Errorf("search collection %s is not synced", cfg.Search.Collection)
	}

	index, err := search.New(cfg.Search, skipped,
		logger.NewComponentLoggerFromConfig(common.ComponentSearchIndexer, cfg.Logging))
	if err != nil {
		return nil, err
	}

	if _, err := index.Rebuild(ctx, source); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to rebuild search index: %w", err)
	}

	return index, nil
}
