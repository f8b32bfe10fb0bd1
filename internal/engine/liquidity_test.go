package engine

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/wnt/binledger/internal/binmath"
)

func TestOpenPositionValidation(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)

	t.Run("inverted range", func(t *testing.T) {
		_, err := pool.OpenPosition("lp", 5, -5, u64(100), u64(100))
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("out of bounds", func(t *testing.T) {
		_, err := pool.OpenPosition("lp", binmath.MinBinID-1, 0, u64(0), u64(100))
		assert.ErrorIs(t, err, ErrInvalidRange)

		_, err = pool.OpenPosition("lp", 0, binmath.MaxBinID+1, u64(100), u64(0))
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("range too wide", func(t *testing.T) {
		_, err := pool.OpenPosition("lp", 0, MaxBinsPerPosition, u64(100), u64(100))
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("zero amounts", func(t *testing.T) {
		_, err := pool.OpenPosition("lp", -5, 5, uint128.Zero, uint128.Zero)
		assert.ErrorIs(t, err, ErrZeroAmount)
	})

	t.Run("token on the wrong side", func(t *testing.T) {
		// A range entirely below the active bin can only take Y.
		_, err := pool.OpenPosition("lp", -10, -5, u64(100), uint128.Zero)
		assert.ErrorIs(t, err, ErrAmountMismatch)
	})

	t.Run("unbalanced two-sided deposit", func(t *testing.T) {
		_, err := pool.OpenPosition("lp", -5, 5, u64(1000), u64(10))
		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.Equal(t, 0, pool.Info().BinCount)
	})
}

func TestAmountToleranceZeroMeansExact(t *testing.T) {
	strict, err := NewPool("strict", Params{BinStep: 10, FeeRateBps: 30}, 0, zerolog.Nop())
	require.NoError(t, err)
	lenient, err := NewPool("lenient", Params{BinStep: 10, FeeRateBps: 30, AmountToleranceBps: 100}, 0, zerolog.Nop())
	require.NoError(t, err)

	// One unit of skew is within 100 bps but not within zero.
	_, err = strict.OpenPosition("lp", -1, 1, u64(1000), u64(1001))
	assert.ErrorIs(t, err, ErrAmountMismatch)
	_, err = lenient.OpenPosition("lp", -1, 1, u64(1000), u64(1001))
	assert.NoError(t, err)

	// An exactly balanced deposit passes at zero tolerance.
	_, err = strict.OpenPosition("lp", -1, 1, u64(1000), u64(1000))
	assert.NoError(t, err)
}

func TestOpenPositionSplitsAcrossRange(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)
	view := openTestPosition(t, pool, -2, 2, 1000, 1000)

	assert.Equal(t, PositionStatusOpen, view.Status)
	assert.Equal(t, "lp", view.Owner)
	require.Len(t, view.Shares, 5)

	// Bins below the active bin hold only Y, above only X, and the
	// active bin holds both.
	for id := int32(-2); id <= 2; id++ {
		bin, err := pool.GetBin(id)
		require.NoError(t, err)
		switch {
		case id < 0:
			assert.True(t, bin.ReserveX.IsZero(), "bin %d", id)
			assert.Equal(t, u64(400), bin.ReserveY, "bin %d", id)
		case id > 0:
			assert.Equal(t, u64(400), bin.ReserveX, "bin %d", id)
			assert.True(t, bin.ReserveY.IsZero(), "bin %d", id)
		default:
			assert.Equal(t, u64(200), bin.ReserveX)
			assert.Equal(t, u64(200), bin.ReserveY)
		}
	}
}

func TestSharesProportionalToDeposit(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)

	// Same empty range below the active bin, second deposit exactly
	// double: every bin's shares must double exactly.
	first := openTestPosition(t, pool, -10, -1, 0, 1000)
	second := openTestPosition(t, pool, -10, -1, 0, 2000)

	require.Len(t, second.Shares, len(first.Shares))
	for id, s := range first.Shares {
		assert.Equal(t, s.Mul64(2), second.Shares[id], "bin %d", id)
	}
}

func TestIncreasePosition(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)
	view := openTestPosition(t, pool, -2, 2, 1000, 1000)

	next, err := pool.IncreasePosition(view.ID, u64(1000), u64(1000))
	require.NoError(t, err)

	assert.Equal(t, PositionStatusOpen, next.Status)
	for id, s := range view.Shares {
		assert.Equal(t, s.Mul64(2), next.Shares[id], "bin %d", id)
	}

	bin, err := pool.GetBin(1)
	require.NoError(t, err)
	assert.Equal(t, u64(800), bin.ReserveX)
}

func TestDecreasePosition(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)
	view := openTestPosition(t, pool, -2, 2, 1000, 1000)

	t.Run("invalid fraction", func(t *testing.T) {
		_, _, err := pool.DecreasePosition(view.ID, 0)
		assert.ErrorIs(t, err, ErrInvalidRange)
		_, _, err = pool.DecreasePosition(view.ID, binmath.BasisPointMax+1)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("half withdrawal", func(t *testing.T) {
		outX, outY, err := pool.DecreasePosition(view.ID, 5000)
		require.NoError(t, err)
		assert.Equal(t, u64(500), outX)
		assert.Equal(t, u64(500), outY)

		pos, err := pool.GetPosition(view.ID)
		require.NoError(t, err)
		assert.Equal(t, PositionStatusPartiallyWithdrawn, pos.Status)

		bin, err := pool.GetBin(2)
		require.NoError(t, err)
		assert.Equal(t, u64(200), bin.ReserveX)
	})

	t.Run("unknown position", func(t *testing.T) {
		_, _, err := pool.DecreasePosition(uuid.New(), 5000)
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})
}

func TestClosePosition(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)
	view := openTestPosition(t, pool, -2, 2, 1000, 1000)

	outX, outY, feeX, feeY, err := pool.ClosePosition(view.ID)
	require.NoError(t, err)
	assert.Equal(t, u64(1000), outX)
	assert.Equal(t, u64(1000), outY)
	assert.True(t, feeX.IsZero())
	assert.True(t, feeY.IsZero())

	// The sole position's bins are garbage-collected on the way out.
	assert.Equal(t, 0, pool.Info().BinCount)

	_, err = pool.GetPosition(view.ID)
	assert.ErrorIs(t, err, ErrPositionNotFound)

	_, _, _, _, err = pool.ClosePosition(view.ID)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestPositionLifecycle(t *testing.T) {
	pool := newTestPool(t, 10, 30, 0)
	view := openTestPosition(t, pool, -2, 2, 1000, 1000)

	// Open -> PartiallyWithdrawn -> Open -> Closed.
	_, _, err := pool.DecreasePosition(view.ID, 2500)
	require.NoError(t, err)
	pos, err := pool.GetPosition(view.ID)
	require.NoError(t, err)
	assert.Equal(t, PositionStatusPartiallyWithdrawn, pos.Status)

	next, err := pool.IncreasePosition(view.ID, u64(100), u64(100))
	require.NoError(t, err)
	assert.Equal(t, PositionStatusOpen, next.Status)

	_, _, _, _, err = pool.ClosePosition(view.ID)
	require.NoError(t, err)
	_, err = pool.GetPosition(view.ID)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestLiquidityRandomizedNoCorruption(t *testing.T) {
	// Random sequences of open/swap/decrease/close must never trip an
	// invariant: no halt, and every materialized bin keeps shares and
	// reserves consistent.
	pool := newTestPool(t, 20, 50, 0)
	rng := rand.New(rand.NewSource(42))

	var open []uuid.UUID
	for i := 0; i < 400; i++ {
		switch rng.Intn(5) {
		case 0: // deposit below the active bin, Y only
			active := pool.Info().ActiveBinID
			upper := active - 1 - int32(rng.Intn(20))
			lower := upper - int32(rng.Intn(5))
			view, err := pool.OpenPosition("fuzz", lower, upper, uint128.Zero, u64(uint64(rng.Intn(10000)+1)))
			if err == nil {
				open = append(open, view.ID)
			} else {
				require.NotErrorIs(t, err, ErrStateCorruption)
			}
		case 1: // deposit above the active bin, X only
			active := pool.Info().ActiveBinID
			lower := active + 1 + int32(rng.Intn(20))
			upper := lower + int32(rng.Intn(5))
			view, err := pool.OpenPosition("fuzz", lower, upper, u64(uint64(rng.Intn(10000)+1)), uint128.Zero)
			if err == nil {
				open = append(open, view.ID)
			} else {
				require.NotErrorIs(t, err, ErrStateCorruption)
			}
		case 2: // swap either direction
			_, err := pool.Swap(SwapParams{
				AmountIn:         u64(uint64(rng.Intn(5000) + 1)),
				SwapForY:         rng.Intn(2) == 0,
				AllowPartialFill: true,
			})
			if err != nil {
				require.NotErrorIs(t, err, ErrStateCorruption)
			}
		case 3: // partial withdrawal
			if len(open) == 0 {
				continue
			}
			id := open[rng.Intn(len(open))]
			_, _, err := pool.DecreasePosition(id, uint32(rng.Intn(int(binmath.BasisPointMax))+1))
			if err != nil {
				require.NotErrorIs(t, err, ErrStateCorruption)
			}
		case 4: // close
			if len(open) == 0 {
				continue
			}
			i := rng.Intn(len(open))
			_, _, _, _, err := pool.ClosePosition(open[i])
			if err == nil {
				open = append(open[:i], open[i+1:]...)
			} else {
				require.NotErrorIs(t, err, ErrStateCorruption)
			}
		}

		require.False(t, pool.Halted(), "pool halted at op %d", i)
		for _, b := range pool.Snapshot().Bins {
			empty := b.ReserveX.IsZero() && b.ReserveY.IsZero()
			require.Equal(t, b.TotalShares.IsZero(), empty, "bin %d inconsistent", b.BinID)
		}
	}
}
