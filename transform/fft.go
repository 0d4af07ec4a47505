// Package transform provides the complex FFT used by check nodes to turn
// convolutions of value distributions into pointwise products.
package transform

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrLength is returned for transform lengths that are not a power of two
// or for buffers of the wrong size.
var ErrLength = errors.New("transform: invalid length")

// Transformer is a fixed-length complex transform applied in place. Neither
// direction is normalized; callers divide by Len() after Inverse when they
// need the true inverse.
type Transformer interface {
	Len() int
	Forward(buf []complex128) error
	Inverse(buf []complex128) error
}

// FFT is a gonum-backed Transformer. It keeps internal work space and must
// not be shared between goroutines.
type FFT struct {
	n    int
	plan *fourier.CmplxFFT
}

// NewFFT plans a transform of length n, which must be a power of two.
func NewFFT(n int) (*FFT, error) {
	if !IsPowerOfTwo(n) {
		return nil, fmt.Errorf("%w: %d is not a power of two", ErrLength, n)
	}
	return &FFT{n: n, plan: fourier.NewCmplxFFT(n)}, nil
}

// Len returns the transform length.
func (f *FFT) Len() int { return f.n }

// Forward replaces buf with its discrete Fourier coefficients.
func (f *FFT) Forward(buf []complex128) error {
	if len(buf) != f.n {
		return fmt.Errorf("%w: buffer %d, plan %d", ErrLength, len(buf), f.n)
	}
	f.plan.Coefficients(buf, buf)
	return nil
}

// Inverse replaces buf with the (unscaled) sequence of its coefficients.
func (f *FFT) Inverse(buf []complex128) error {
	if len(buf) != f.n {
		return fmt.Errorf("%w: buffer %d, plan %d", ErrLength, len(buf), f.n)
	}
	f.plan.Sequence(buf, buf)
	return nil
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two ≥ n (1 for n ≤ 1).
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
