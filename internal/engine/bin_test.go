package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreApply(t *testing.T) {
	s := NewStore()

	t.Run("valid bin", func(t *testing.T) {
		require.NoError(t, s.apply(1, &Bin{ReserveX: u64(10), TotalShares: u64(10)}))
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, []int32{1}, s.IDs())
	})

	t.Run("reserves without shares rejected", func(t *testing.T) {
		err := s.apply(2, &Bin{ReserveX: u64(10)})
		assert.ErrorIs(t, err, ErrStateCorruption)
		assert.Nil(t, s.Get(2))
	})

	t.Run("shares without reserves rejected", func(t *testing.T) {
		err := s.apply(2, &Bin{TotalShares: u64(10)})
		assert.ErrorIs(t, err, ErrStateCorruption)
	})

	t.Run("fee growth cannot move backwards", func(t *testing.T) {
		require.NoError(t, s.apply(1, &Bin{
			ReserveX:    u64(10),
			TotalShares: u64(10),
			FeeGrowthX:  u64(5),
		}))
		err := s.apply(1, &Bin{
			ReserveX:    u64(10),
			TotalShares: u64(10),
			FeeGrowthX:  u64(4),
		})
		assert.ErrorIs(t, err, ErrStateCorruption)
	})
}

func TestStoreRemoveIfEmpty(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.apply(3, &Bin{ReserveY: u64(7), TotalShares: u64(7)}))

	// A funded bin survives.
	s.RemoveIfEmpty(3)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.apply(3, &Bin{}))
	s.RemoveIfEmpty(3)
	assert.Equal(t, 0, s.Len())

	// Removing an absent id is a no-op.
	s.RemoveIfEmpty(99)
}

func TestStoreIDsSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []int32{7, -3, 0, 42, -100} {
		require.NoError(t, s.apply(id, &Bin{ReserveY: u64(1), TotalShares: u64(1)}))
	}
	assert.Equal(t, []int32{-100, -3, 0, 7, 42}, s.IDs())
}
