package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wnt/binledger/internal/engine"
	"github.com/wnt/binledger/internal/logger"
	"github.com/wnt/binledger/internal/metrics"
)

// Registry holds the live pools. Pools are independent state machines:
// the registry only guards the map, each pool serializes its own
// mutations.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*engine.Pool
	logger zerolog.Logger
}

func NewRegistry(baseLogger zerolog.Logger) *Registry {
	return &Registry{
		pools:  make(map[string]*engine.Pool),
		logger: baseLogger.With().Str("component", "registry").Logger(),
	}
}

// CreatePool registers a new empty pool under key.
func (r *Registry) CreatePool(key string, params engine.Params, activeBinID int32) (*engine.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[key]; ok {
		return nil, fmt.Errorf("pool %s already registered", key)
	}
	pool, err := engine.NewPool(key, params, activeBinID, logger.WithPool(r.logger, key))
	if err != nil {
		return nil, err
	}
	r.pools[key] = pool
	metrics.PoolsRegistered.Set(float64(len(r.pools)))
	r.logger.Info().Str("pool", key).Int32("active_bin", activeBinID).Msg("Pool created")
	return pool, nil
}

// AddPool registers an already-built pool, as when reloading checkpoints.
func (r *Registry) AddPool(pool *engine.Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pool.Key()
	if _, ok := r.pools[key]; ok {
		return fmt.Errorf("pool %s already registered", key)
	}
	r.pools[key] = pool
	metrics.PoolsRegistered.Set(float64(len(r.pools)))
	return nil
}

// GetPool returns the pool registered under key.
func (r *Registry) GetPool(key string) (*engine.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[key]
	return pool, ok
}

// ListPools returns every registered pool, ordered by key.
func (r *Registry) ListPools() []*engine.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.pools))
	for key := range r.pools {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pools := make([]*engine.Pool, 0, len(keys))
	for _, key := range keys {
		pools = append(pools, r.pools[key])
	}
	return pools
}
