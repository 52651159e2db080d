package safemath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var maxUint256 = new(uint256.Int).SetAllOne()

func TestAdd(t *testing.T) {
	t.Run("should add without touching operands", func(t *testing.T) {
		x, y := uint256.NewInt(1000), uint256.NewInt(100)
		z, err := Add(x, y)
		require.NoError(t, err)
		assert.Equal(t, uint64(1100), z.Uint64())
		assert.Equal(t, uint64(1000), x.Uint64())
		assert.Equal(t, uint64(100), y.Uint64())
	})

	t.Run("should fail on overflow", func(t *testing.T) {
		_, err := Add(maxUint256, uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestSub(t *testing.T) {
	z, err := Sub(uint256.NewInt(1000), uint256.NewInt(1000))
	require.NoError(t, err)
	assert.True(t, z.IsZero())

	_, err = Sub(uint256.NewInt(909), uint256.NewInt(1000))
	assert.ErrorIs(t, err, ErrUnderflow)
}

func TestMul(t *testing.T) {
	z, err := Mul(uint256.NewInt(1000), uint256.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), z.Uint64())

	_, err = Mul(maxUint256, uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDiv(t *testing.T) {
	z, err := Div(uint256.NewInt(1_000_000), uint256.NewInt(1100))
	require.NoError(t, err)
	assert.Equal(t, uint64(909), z.Uint64(), "division must floor")

	_, err = Div(uint256.NewInt(1), new(uint256.Int))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}
