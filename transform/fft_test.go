package transform

import (
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFFTRejectsNonPowerOfTwo(t *testing.T) {
	for _, n := range []int{0, -4, 3, 12, 1000} {
		_, err := NewFFT(n)
		require.ErrorIs(t, err, ErrLength, "n=%d", n)
	}
	f, err := NewFFT(16)
	require.NoError(t, err)
	assert.Equal(t, 16, f.Len())
	require.ErrorIs(t, f.Forward(make([]complex128, 8)), ErrLength)
	require.ErrorIs(t, f.Inverse(make([]complex128, 32)), ErrLength)
}

func TestRoundTripIsUnnormalized(t *testing.T) {
	const n = 32
	f, err := NewFFT(n)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	orig := make([]complex128, n)
	for i := range orig {
		orig[i] = complex(rng.Float64(), rng.Float64())
	}
	buf := append([]complex128(nil), orig...)
	require.NoError(t, f.Forward(buf))
	require.NoError(t, f.Inverse(buf))
	for i := range buf {
		assert.InDelta(t, 0, cmplx.Abs(buf[i]/n-orig[i]), 1e-12, "i=%d", i)
	}
}

// A point mass at slot 0 transforms to all ones.
func TestDeltaTransformsToOnes(t *testing.T) {
	f, _ := NewFFT(8)
	buf := make([]complex128, 8)
	buf[0] = 1
	require.NoError(t, f.Forward(buf))
	for _, c := range buf {
		assert.InDelta(t, 1, real(c), 1e-15)
		assert.InDelta(t, 0, imag(c), 1e-15)
	}
}

// Cyclic convolution of two centered distributions through the transform
// matches the direct convolution once the zero lag is moved to the middle.
func TestCenteredConvolutionMatchesDirect(t *testing.T) {
	op0 := []float64{0.1, 0.2, 0.4, 0.2, 0.1} // values -2..2
	op1 := []float64{0.3, 0.3, 0.1, 0.2, 0.1}
	half := len(op0) / 2

	direct := make(map[int]float64)
	for i, p0 := range op0 {
		for j, p1 := range op1 {
			direct[(i-half)+(j-half)] += p0 * p1
		}
	}

	const n = 16
	f, _ := NewFFT(n)
	place := func(op []float64) []complex128 {
		buf := make([]complex128, n)
		for i, p := range op {
			idx := i - half
			if idx < 0 {
				idx += n
			}
			buf[idx] += complex(p, 0)
		}
		require.NoError(t, f.Forward(buf))
		return buf
	}
	a, b := place(op0), place(op1)
	for i := range a {
		a[i] *= b[i]
	}
	require.NoError(t, f.Inverse(a))
	for s := -n / 2; s < n/2; s++ {
		idx := s
		if idx < 0 {
			idx += n
		}
		got := real(a[idx]) / n
		assert.InDelta(t, direct[s], got, 1e-12, "sum=%d", s)
	}
}

func TestPowersOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(1024))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(6))
	assert.Equal(t, 1, NextPowerOfTwo(0))
	assert.Equal(t, 8, NextPowerOfTwo(5))
	assert.Equal(t, 8, NextPowerOfTwo(8))
	assert.Equal(t, 16, NextPowerOfTwo(9))
	assert.Equal(t, 1<<20, NextPowerOfTwo(1<<19+1))
}
