package service

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/binledger/internal/engine"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	params := engine.Params{BinStep: 10, FeeRateBps: 30}

	t.Run("create and get", func(t *testing.T) {
		pool, err := r.CreatePool("SOL-USDC", params, 0)
		require.NoError(t, err)
		assert.Equal(t, "SOL-USDC", pool.Key())

		got, ok := r.GetPool("SOL-USDC")
		require.True(t, ok)
		assert.Same(t, pool, got)

		_, ok = r.GetPool("missing")
		assert.False(t, ok)
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		_, err := r.CreatePool("SOL-USDC", params, 0)
		assert.Error(t, err)
	})

	t.Run("invalid params rejected", func(t *testing.T) {
		_, err := r.CreatePool("BAD", engine.Params{}, 0)
		assert.Error(t, err)
		_, ok := r.GetPool("BAD")
		assert.False(t, ok)
	})

	t.Run("list is ordered by key", func(t *testing.T) {
		_, err := r.CreatePool("BONK-SOL", params, 100)
		require.NoError(t, err)
		_, err = r.CreatePool("JUP-USDC", params, -20)
		require.NoError(t, err)

		pools := r.ListPools()
		require.Len(t, pools, 3)
		assert.Equal(t, "BONK-SOL", pools[0].Key())
		assert.Equal(t, "JUP-USDC", pools[1].Key())
		assert.Equal(t, "SOL-USDC", pools[2].Key())
	})

	t.Run("add restored pool", func(t *testing.T) {
		pool, err := engine.NewPool("WIF-SOL", params, 5, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, r.AddPool(pool))
		assert.Error(t, r.AddPool(pool))
	})
}
