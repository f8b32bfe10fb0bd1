package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestBinMapEncoding(t *testing.T) {
	in := map[int32]uint128.Uint128{
		-443636: uint128.From64(1),
		0:       uint128.Max,
		7:       uint128.From64(1234567890),
	}

	raw, err := encodeBinMap(in)
	require.NoError(t, err)

	out, err := decodeBinMap(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeBinMap(t *testing.T) {
	t.Run("empty string is an empty map", func(t *testing.T) {
		out, err := decodeBinMap("")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("bad bin id", func(t *testing.T) {
		_, err := decodeBinMap(`{"abc":"1"}`)
		assert.Error(t, err)
	})

	t.Run("bad value", func(t *testing.T) {
		_, err := decodeBinMap(`{"1":"not-a-number"}`)
		assert.Error(t, err)
	})
}

func TestParseU128(t *testing.T) {
	t.Run("empty is zero", func(t *testing.T) {
		v, err := parseU128("")
		require.NoError(t, err)
		assert.True(t, v.IsZero())
	})

	t.Run("round trip at the top of the range", func(t *testing.T) {
		v, err := parseU128(uint128.Max.String())
		require.NoError(t, err)
		assert.Equal(t, uint128.Max, v)
	})

	t.Run("overflow rejected", func(t *testing.T) {
		_, err := parseU128("340282366920938463463374607431768211456")
		assert.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := parseU128("12x4")
		assert.Error(t, err)
	})
}
