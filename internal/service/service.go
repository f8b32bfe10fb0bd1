package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/wnt/binledger/internal/config"
	"github.com/wnt/binledger/internal/engine"
	"github.com/wnt/binledger/internal/metrics"
	"github.com/wnt/binledger/internal/store"
)

// Service runs the background lifecycle around the pool registry:
// periodic checkpointing of dirty pools and periodic stats logging.
type Service struct {
	config   config.Config
	registry *Registry
	db       *gorm.DB
	logger   zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	eg       *errgroup.Group

	// savePool is store.SavePool; tests swap it out to exercise
	// checkpoint failures without a database.
	savePool func(db *gorm.DB, snap engine.Snapshot) error
}

// New creates the service around an existing registry and database.
func New(cfg config.Config, registry *Registry, db *gorm.DB, baseLogger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	return &Service{
		config:   cfg,
		registry: registry,
		db:       db,
		logger:   baseLogger.With().Str("component", "service").Logger(),
		ctx:      egCtx,
		cancel:   cancel,
		eg:       eg,
		savePool: store.SavePool,
	}
}

// CreatePool registers a new pool with the service-wide engine defaults.
func (s *Service) CreatePool(key string, binStep, feeRateBps uint16, activeBinID int32) (*engine.Pool, error) {
	return s.registry.CreatePool(key, engine.Params{
		BinStep:            binStep,
		FeeRateBps:         feeRateBps,
		MaxBinsPerSwap:     s.config.MaxBinsPerSwap,
		AmountToleranceBps: uint16(s.config.AmountToleranceBps),
	}, activeBinID)
}

// LoadPools restores every persisted pool into the registry.
func (s *Service) LoadPools() error {
	keys, err := store.ListPoolKeys(s.db)
	if err != nil {
		return err
	}
	for _, key := range keys {
		pool, err := store.LoadPool(s.db, key, s.logger)
		if err != nil {
			return err
		}
		if err := s.registry.AddPool(pool); err != nil {
			return err
		}
	}
	s.logger.Info().Int("pools", len(keys)).Msg("Pools restored from checkpoint")
	return nil
}

// Start launches the background loops.
func (s *Service) Start() {
	s.logger.Info().
		Dur("checkpoint_interval", s.config.CheckpointInterval).
		Msg("Starting bin ledger service")

	s.eg.Go(func() error {
		return s.runCheckpointLoop()
	})
	s.eg.Go(func() error {
		return s.runStatsLoop()
	})
}

// Stop cancels the background loops, waits for them with a timeout, and
// flushes a final checkpoint.
func (s *Service) Stop() error {
	s.logger.Info().Msg("Stopping bin ledger service...")
	s.cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.eg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			s.logger.Error().Err(err).Msg("Error during service shutdown")
		}
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Service shutdown timed out")
	}

	// Final flush so no acknowledged mutation is lost on shutdown.
	s.checkpointDirtyPools(true)
	s.logger.Info().Msg("Bin ledger service stopped")
	return nil
}

// runCheckpointLoop persists dirty pools on a fixed interval.
func (s *Service) runCheckpointLoop() error {
	ticker := time.NewTicker(s.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
			s.checkpointDirtyPools(false)
		}
	}
}

func (s *Service) checkpointDirtyPools(force bool) {
	for _, pool := range s.registry.ListPools() {
		if !pool.Dirty(true) && !force {
			continue
		}
		start := time.Now()
		if err := s.savePool(s.db, pool.Snapshot()); err != nil {
			// The dirty flag was already consumed; restore it so the
			// next tick retries instead of skipping the pool.
			pool.MarkDirty()
			s.logger.Error().Err(err).Str("pool", pool.Key()).Msg("Failed to checkpoint pool")
			continue
		}
		metrics.CheckpointSeconds.Observe(time.Since(start).Seconds())
		s.logger.Debug().Str("pool", pool.Key()).Msg("Pool checkpointed")
	}
}

// runStatsLoop periodically logs registry statistics.
func (s *Service) runStatsLoop() error {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
			pools := s.registry.ListPools()
			halted := 0
			positions := 0
			bins := 0
			for _, pool := range pools {
				info := pool.Info()
				if info.Halted {
					halted++
				}
				positions += info.Positions
				bins += info.BinCount
			}
			s.logger.Info().
				Int("pools", len(pools)).
				Int("halted_pools", halted).
				Int("open_positions", positions).
				Int("materialized_bins", bins).
				Msg("Registry stats")
		}
	}
}
