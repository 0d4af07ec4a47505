// Package llo computes leave-one-out products: for leaves L[0..n) under an
// associative, commutative operator it returns, for every i, the product of
// all leaves except L[i], optionally folded with a prior operand.
//
// The products are built with one forward (prefix) and one backward (suffix)
// pass, so n leaves cost about 3n operator applications.
package llo

import (
	"errors"
	"fmt"
)

var (
	// ErrLeafCount is returned by New for inputs that are odd or shorter than two.
	ErrLeafCount = errors.New("llo: leaf count must be even and at least 2")
	// ErrConsumed is returned when an Engine is calculated a second time.
	ErrConsumed = errors.New("llo: engine already consumed")
)

// Op combines two elements. It must be associative and commutative and must
// not modify its operands.
type Op[T any] func(a, b T) (T, error)

// Pure lifts an infallible binary function into an Op.
func Pure[T any](f func(a, b T) T) Op[T] {
	return func(a, b T) (T, error) { return f(a, b), nil }
}

// Engine is a single-use leave-one-out computation over a fixed leaf list.
type Engine[T any] struct {
	leaves []T
	op     Op[T]
	used   bool
}

// New validates the leaves and returns an Engine.
func New[T any](leaves []T, op Op[T]) (*Engine[T], error) {
	if len(leaves) < 2 || len(leaves)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrLeafCount, len(leaves))
	}
	if op == nil {
		return nil, errors.New("llo: nil operator")
	}
	return &Engine[T]{leaves: leaves, op: op}, nil
}

// Calculate returns R[i] = ⊗_{j≠i} L[j].
func (e *Engine[T]) Calculate() ([]T, error) {
	return e.run(nil)
}

// CalculateWithPrior returns R[i] = prior ⊗ ⊗_{j≠i} L[j].
func (e *Engine[T]) CalculateWithPrior(prior T) ([]T, error) {
	return e.run(&prior)
}

func (e *Engine[T]) run(prior *T) ([]T, error) {
	if e.used {
		return nil, ErrConsumed
	}
	e.used = true
	out, _, err := Compute(e.leaves, e.op, prior)
	e.leaves = nil
	return out, err
}

// Compute is the linear pass behind Engine without the parity restriction.
// It accepts any n ≥ 1 when prior is non-nil and any n ≥ 2 otherwise. Along
// with the per-leaf products it returns the product of every operand
// (prior ⊗ L[0] ⊗ … ⊗ L[n-1]).
func Compute[T any](leaves []T, op Op[T], prior *T) ([]T, T, error) {
	var zero T
	n := len(leaves)
	if n == 0 || (prior == nil && n < 2) {
		return nil, zero, fmt.Errorf("%w: got %d leaves (prior=%v)", ErrLeafCount, n, prior != nil)
	}

	// Forward pass: out[i] = prior ⊗ L[0] ⊗ … ⊗ L[i-1]. has[i] is false
	// where that prefix is empty (no prior, i = 0).
	out := make([]T, n)
	has := make([]bool, n)
	var acc T
	haveAcc := false
	if prior != nil {
		acc, haveAcc = *prior, true
	}
	for i, leaf := range leaves {
		if haveAcc {
			out[i], has[i] = acc, true
			next, err := op(acc, leaf)
			if err != nil {
				return nil, zero, fmt.Errorf("llo: forward pass at %d: %w", i, err)
			}
			acc = next
		} else {
			acc, haveAcc = leaf, true
		}
	}
	total := acc

	// Backward pass folds in the suffix L[i+1] ⊗ … ⊗ L[n-1].
	suffix := leaves[n-1]
	for i := n - 2; i >= 0; i-- {
		if has[i] {
			prod, err := op(out[i], suffix)
			if err != nil {
				return nil, zero, fmt.Errorf("llo: backward pass at %d: %w", i, err)
			}
			out[i] = prod
		} else {
			out[i], has[i] = suffix, true
		}
		if i > 0 {
			next, err := op(leaves[i], suffix)
			if err != nil {
				return nil, zero, fmt.Errorf("llo: suffix at %d: %w", i, err)
			}
			suffix = next
		}
	}
	return out, total, nil
}
