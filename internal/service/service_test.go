package service

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/config"
	"github.com/wnt/binledger/internal/engine"
)

func newTestService(t *testing.T) (*Service, *engine.Pool) {
	t.Helper()
	registry := NewRegistry(zerolog.Nop())
	svc := New(config.Config{MaxBinsPerSwap: 256, AmountToleranceBps: 100}, registry, nil, zerolog.Nop())

	pool, err := svc.CreatePool("SOL-USDC", 10, 30, 0)
	require.NoError(t, err)
	return svc, pool
}

func TestCheckpointRetainsDirtyOnFailure(t *testing.T) {
	svc, pool := newTestService(t)

	_, err := pool.OpenPosition("lp", -2, 2, uint128.From64(1000), uint128.From64(1000))
	require.NoError(t, err)
	require.True(t, pool.Dirty(false))

	// A transient save failure must not eat the dirty flag: the next
	// tick has to retry the pool.
	svc.savePool = func(*gorm.DB, engine.Snapshot) error {
		return errors.New("connection reset")
	}
	svc.checkpointDirtyPools(false)
	assert.True(t, pool.Dirty(false), "pool must stay dirty after a failed checkpoint")

	// Once the save goes through the flag stays cleared.
	saved := 0
	svc.savePool = func(*gorm.DB, engine.Snapshot) error {
		saved++
		return nil
	}
	svc.checkpointDirtyPools(false)
	assert.Equal(t, 1, saved)
	assert.False(t, pool.Dirty(false))

	// And a clean pool is skipped entirely on the next tick.
	svc.checkpointDirtyPools(false)
	assert.Equal(t, 1, saved)
}

func TestCheckpointForcedFlush(t *testing.T) {
	svc, pool := newTestService(t)

	saved := 0
	svc.savePool = func(*gorm.DB, engine.Snapshot) error {
		saved++
		return nil
	}

	// Clean pools are still written when the flush is forced.
	require.False(t, pool.Dirty(false))
	svc.checkpointDirtyPools(true)
	assert.Equal(t, 1, saved)
}
