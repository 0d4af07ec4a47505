package llo

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var xor = Pure(func(a, b uint64) uint64 { return a ^ b })

func mulInt(a, b int64) int64 { return a * b }

func bigMul(a, b *big.Int) (*big.Int, error) { return new(big.Int).Mul(a, b), nil }

func TestNewRejectsBadLeafCounts(t *testing.T) {
	for _, n := range []int{0, 1, 3, 7} {
		_, err := New(make([]int64, n), Pure(mulInt))
		require.ErrorIs(t, err, ErrLeafCount, "n=%d", n)
	}
}

func TestSmallExample(t *testing.T) {
	e, err := New([]int64{2, 3, 4, 5}, Pure(mulInt))
	require.NoError(t, err)
	got, err := e.Calculate()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{60, 40, 30, 24}, got)
	assert.Equal(t, []int64{60, 40, 30, 24}, got)
}

func TestTwoLeaves(t *testing.T) {
	e, _ := New([]int64{3, 7}, Pure(mulInt))
	got, err := e.Calculate()
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3}, got)

	e, _ = New([]int64{3, 7}, Pure(mulInt))
	got, err = e.CalculateWithPrior(10)
	require.NoError(t, err)
	assert.Equal(t, []int64{70, 30}, got)
}

func TestEngineIsSingleUse(t *testing.T) {
	e, _ := New([]int64{1, 2}, Pure(mulInt))
	_, err := e.Calculate()
	require.NoError(t, err)
	_, err = e.Calculate()
	require.ErrorIs(t, err, ErrConsumed)
	_, err = e.CalculateWithPrior(3)
	require.ErrorIs(t, err, ErrConsumed)
}

// Each leaf is a distinct bit; under XOR the leave-one-out product of leaf i
// is the full mask with bit i cleared, which pins down both membership and
// position.
func TestExclusionXORTags(t *testing.T) {
	for n := 1; n <= 64; n++ {
		leaves := make([]uint64, n)
		var all uint64
		for i := range leaves {
			leaves[i] = 1 << i
			all |= leaves[i]
		}
		if n >= 2 {
			out, total, err := Compute(leaves, xor, nil)
			require.NoError(t, err)
			require.Equal(t, all, total, "n=%d", n)
			for i, got := range out {
				require.Equal(t, all&^leaves[i], got, "n=%d i=%d", n, i)
			}
		}
		if n%2 == 0 {
			e, err := New(append([]uint64(nil), leaves...), xor)
			require.NoError(t, err)
			out, err := e.Calculate()
			require.NoError(t, err)
			require.Len(t, out, n)
			for i, got := range out {
				require.Equal(t, all&^leaves[i], got, "engine n=%d i=%d", n, i)
			}
		}
	}
}

func TestExclusionPrimeTags(t *testing.T) {
	primes := []int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71, 73, 79, 83, 89, 97, 101, 103, 107, 109, 113}
	for n := 2; n <= len(primes); n += 2 {
		leaves := make([]*big.Int, n)
		all := big.NewInt(1)
		for i := range leaves {
			leaves[i] = big.NewInt(primes[i])
			all.Mul(all, leaves[i])
		}
		e, err := New(leaves, bigMul)
		require.NoError(t, err)
		out, err := e.Calculate()
		require.NoError(t, err)
		for i, got := range out {
			want := new(big.Int).Div(all, big.NewInt(primes[i]))
			require.Zero(t, want.Cmp(got), "n=%d i=%d want %s got %s", n, i, want, got)
		}
	}
}

func TestPriorFolding(t *testing.T) {
	prior := uint64(1) << 63
	for n := 1; n <= 40; n++ {
		leaves := make([]uint64, n)
		var all uint64
		for i := range leaves {
			leaves[i] = 1 << i
			all |= leaves[i]
		}
		out, total, err := Compute(leaves, xor, &prior)
		require.NoError(t, err)
		require.Equal(t, all|prior, total)
		for i, got := range out {
			require.Equal(t, prior|(all&^leaves[i]), got, "n=%d i=%d", n, i)
		}
	}
}

func TestComputeRejectsEmpty(t *testing.T) {
	_, _, err := Compute[uint64](nil, xor, nil)
	require.ErrorIs(t, err, ErrLeafCount)
	_, _, err = Compute([]uint64{1}, xor, nil)
	require.ErrorIs(t, err, ErrLeafCount)
	p := uint64(4)
	out, total, err := Compute([]uint64{1}, xor, &p)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, out)
	assert.Equal(t, uint64(5), total)
}

func TestOperatorErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	op := func(a, b int64) (int64, error) {
		calls++
		if calls == 3 {
			return 0, boom
		}
		return a * b, nil
	}
	e, _ := New([]int64{1, 2, 3, 4}, op)
	_, err := e.Calculate()
	require.ErrorIs(t, err, boom)
}

// Leaves must not be modified by the computation.
func TestLeavesUntouched(t *testing.T) {
	leaves := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	op := Pure(func(a, b []float64) []float64 {
		out := make([]float64, len(a))
		for i := range a {
			out[i] = a[i] * b[i]
		}
		return out
	})
	e, _ := New(leaves, op)
	out, err := e.Calculate()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}, leaves)
	assert.Equal(t, []float64{105, 192}, out[0])
	assert.Equal(t, []float64{35, 96}, out[1])
	assert.Equal(t, []float64{21, 64}, out[2])
	assert.Equal(t, []float64{15, 48}, out[3])
}
