package binmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestPriceFromID(t *testing.T) {
	t.Run("bin zero is the unit price", func(t *testing.T) {
		p, err := PriceFromID(0, 10)
		require.NoError(t, err)
		assert.Equal(t, One(), p)
	})

	t.Run("one step up multiplies by the base", func(t *testing.T) {
		p, err := PriceFromID(1, 10)
		require.NoError(t, err)
		// 1.001 in Q64.64, truncated.
		want := decimal.RequireFromString("1.001")
		got := PriceToDecimal(p)
		assert.True(t, got.Sub(want).Abs().LessThan(decimal.RequireFromString("0.000000000000000001")),
			"got %s want %s", got, want)
	})

	t.Run("negative id is the reciprocal", func(t *testing.T) {
		up, err := PriceFromID(7, 25)
		require.NoError(t, err)
		down, err := PriceFromID(-7, 25)
		require.NoError(t, err)

		prod, err := MulShr(up, down, ScaleOffset, RoundingDown)
		require.NoError(t, err)

		// Truncation loses at most a few units in the last place.
		one := One()
		diff := one.Big()
		diff.Sub(diff, prod.Big())
		diff.Abs(diff)
		assert.True(t, diff.Cmp(uint128.From64(16).Big()) <= 0, "drift %s", diff)
	})

	t.Run("zero bin step", func(t *testing.T) {
		_, err := PriceFromID(5, 0)
		assert.ErrorIs(t, err, ErrZeroBinStep)
	})

	t.Run("id outside safety range", func(t *testing.T) {
		_, err := PriceFromID(MaxBinID+1, 10)
		assert.ErrorIs(t, err, ErrBinIDOutOfRange)
		_, err = PriceFromID(MinBinID-1, 10)
		assert.ErrorIs(t, err, ErrBinIDOutOfRange)
	})

	t.Run("overflow for huge positive ids at large steps", func(t *testing.T) {
		_, err := PriceFromID(100000, 10000)
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestIDFromPriceRoundTrip(t *testing.T) {
	// Larger steps overflow Q64.64 at smaller |id|, so each step carries
	// its own usable id limit.
	cases := []struct {
		step  uint16
		maxID int32
	}{
		{1, 400000},
		{10, 44000},
		{25, 17000},
		{100, 4000},
		{1000, 400},
	}
	binIDs := []int32{-5000, -701, -100, -5, -1, 0, 1, 5, 100, 701, 5000}

	for _, tc := range cases {
		step := tc.step
		for _, id := range binIDs {
			if id > tc.maxID || id < -tc.maxID {
				continue
			}
			p, err := PriceFromID(id, step)
			require.NoError(t, err, "step=%d id=%d", step, id)

			got, err := IDFromPrice(p, step)
			require.NoError(t, err, "step=%d id=%d", step, id)
			assert.Equal(t, id, got, "step=%d id=%d", step, id)
		}
	}
}

func TestIDFromPriceBoundaries(t *testing.T) {
	t.Run("exact bin price maps to that bin", func(t *testing.T) {
		p, err := PriceFromID(42, 10)
		require.NoError(t, err)
		id, err := IDFromPrice(p, 10)
		require.NoError(t, err)
		assert.Equal(t, int32(42), id)
	})

	t.Run("one tick above a bin price still floors to it", func(t *testing.T) {
		p, err := PriceFromID(42, 10)
		require.NoError(t, err)
		id, err := IDFromPrice(p.Add64(1), 10)
		require.NoError(t, err)
		assert.Equal(t, int32(42), id)
	})

	t.Run("one tick below a bin price floors to the previous bin", func(t *testing.T) {
		p, err := PriceFromID(42, 10)
		require.NoError(t, err)
		id, err := IDFromPrice(p.Sub64(1), 10)
		require.NoError(t, err)
		assert.Equal(t, int32(41), id)
	})

	t.Run("zero price", func(t *testing.T) {
		_, err := IDFromPrice(uint128.Zero, 10)
		assert.ErrorIs(t, err, ErrPriceOutOfRange)
	})

	t.Run("zero bin step", func(t *testing.T) {
		_, err := IDFromPrice(One(), 0)
		assert.ErrorIs(t, err, ErrZeroBinStep)
	})
}

func TestMulShr(t *testing.T) {
	x := uint128.From64(3).Lsh(ScaleOffset) // 3.0
	y := uint128.From64(5).Lsh(ScaleOffset) // 5.0

	got, err := MulShr(x, y, ScaleOffset, RoundingDown)
	require.NoError(t, err)
	assert.Equal(t, uint128.From64(15).Lsh(ScaleOffset), got)

	t.Run("rounding up adds one on a remainder", func(t *testing.T) {
		down, err := MulShr(uint128.From64(1), uint128.From64(1), 1, RoundingDown)
		require.NoError(t, err)
		up, err := MulShr(uint128.From64(1), uint128.From64(1), 1, RoundingUp)
		require.NoError(t, err)
		assert.Equal(t, uint128.Zero, down)
		assert.Equal(t, uint128.From64(1), up)
	})

	t.Run("overflow detected", func(t *testing.T) {
		_, err := MulShr(uint128.Max, uint128.Max, 1, RoundingDown)
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestShlDiv(t *testing.T) {
	// 10 / 4 = 2.5 in Q64.64
	got, err := ShlDiv(uint128.From64(10), uint128.From64(4), ScaleOffset, RoundingDown)
	require.NoError(t, err)
	want := uint128.From64(5).Lsh(ScaleOffset - 1)
	assert.Equal(t, want, got)

	t.Run("division by zero", func(t *testing.T) {
		_, err := ShlDiv(uint128.From64(1), uint128.Zero, ScaleOffset, RoundingDown)
		assert.ErrorIs(t, err, ErrDivideByZero)
	})
}

func TestMulDiv(t *testing.T) {
	got, err := MulDiv(uint128.From64(7), uint128.From64(9), uint128.From64(3), RoundingDown)
	require.NoError(t, err)
	assert.Equal(t, uint128.From64(21), got)

	t.Run("rounds in the requested direction", func(t *testing.T) {
		down, err := MulDiv(uint128.From64(10), uint128.From64(1), uint128.From64(3), RoundingDown)
		require.NoError(t, err)
		up, err := MulDiv(uint128.From64(10), uint128.From64(1), uint128.From64(3), RoundingUp)
		require.NoError(t, err)
		assert.Equal(t, uint128.From64(3), down)
		assert.Equal(t, uint128.From64(4), up)
	})
}

func TestPriceToDecimal(t *testing.T) {
	assert.Equal(t, "1", PriceToDecimal(One()).String())

	half := uint128.From64(1).Lsh(ScaleOffset - 1)
	assert.Equal(t, "0.5", PriceToDecimal(half).String())
}
