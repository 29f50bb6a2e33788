package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/homemarket/negotiation-engine/internal/api/http"
	"github.com/homemarket/negotiation-engine/internal/config"
	"github.com/homemarket/negotiation-engine/internal/domain/listing"
	domain "github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/memory"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/postgres"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/raftstore"
)

// backend bundles the negotiation store with what the server needs from it.
type backend struct {
	store    domain.Store
	listings listing.Lookup
	cluster  httpapi.Cluster
	raft     *raftstore.Store
	ready    func(ctx context.Context) error
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.BackendRaft:
		return openRaft(ctx, cfg, logger)
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, negotiations are lost on restart")
		return &backend{
			store:    memory.NewNegotiationStore(),
			listings: memory.NewListingCatalog(cfg.Listings),
			close:    func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		pool.Close()
		return nil, err
	}
	listings := postgres.NewListingRepository(pool)
	for _, l := range cfg.Listings {
		if err := listings.Upsert(ctx, l); err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed listing %s: %w", l.PropertyID, err)
		}
	}
	logger.Info().Int("listings_seeded", len(cfg.Listings)).Msg("postgres store ready")
	return &backend{
		store:    postgres.NewNegotiationRepository(pool),
		listings: listings,
		ready:    pool.Ping,
		close:    pool.Close,
	}, nil
}

func openRaft(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	store, err := raftstore.Open(raftstore.Config{
		NodeID:    cfg.Raft.NodeID,
		RaftAddr:  cfg.Raft.Addr,
		DataDir:   cfg.Raft.DataDir,
		Bootstrap: cfg.Raft.Bootstrap,
		LogOutput: logger.With().Str("component", "raft").Logger(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Raft.Bootstrap {
		waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		leader, err := store.WaitForLeader(waitCtx, 100*time.Millisecond)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("no raft leader yet")
		} else {
			logger.Info().Str("leader", leader).Msg("raft leader elected")
		}
	}
	return &backend{
		store:    store,
		listings: memory.NewListingCatalog(cfg.Listings),
		cluster:  store,
		raft:     store,
		ready: func(context.Context) error {
			if store.LeaderAddr() == "" {
				return errors.New("no raft leader")
			}
			return nil
		},
		close: func() {
			if err := store.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("raft shutdown")
			}
		},
	}, nil
}
