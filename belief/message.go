// Package belief implements the weight vectors exchanged along the edges of
// a check graph. A Message holds one (unnormalized) weight per integer value
// of a symmetric domain [-D/2, D/2].
package belief

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrNormalization is returned when a message has no usable scale: every
// entry is zero or the maximum is NaN. It means the evidence reached a
// contradictory state.
var ErrNormalization = errors.New("belief: cannot normalize degenerate message")

// ErrWidth is returned for domain widths that are not positive and odd.
var ErrWidth = errors.New("belief: width must be positive and odd")

// Message is a fixed-width weight vector indexed by value.
type Message struct {
	data []float64
}

// New returns an all-zero message of the given width.
func New(width int) (Message, error) {
	if width <= 0 || width%2 == 0 {
		return Message{}, fmt.Errorf("%w: got %d", ErrWidth, width)
	}
	return Message{data: make([]float64, width)}, nil
}

// MustNew is New for widths known to be valid.
func MustNew(width int) Message {
	m, err := New(width)
	if err != nil {
		panic(err)
	}
	return m
}

// FromWeights copies ws (ordered from the lowest value up) into a message.
func FromWeights(ws []float64) (Message, error) {
	m, err := New(len(ws))
	if err != nil {
		return Message{}, err
	}
	copy(m.data, ws)
	return m, nil
}

// FromMap builds a message from a value->weight map. Values outside the
// domain are rejected.
func FromMap(width int, weights map[int]float64) (Message, error) {
	m, err := New(width)
	if err != nil {
		return Message{}, err
	}
	for v, w := range weights {
		if !m.Set(v, w) {
			return Message{}, fmt.Errorf("belief: value %d outside [%d, %d]", v, m.Min(), m.Max())
		}
	}
	return m, nil
}

// Width is the number of values in the domain.
func (m Message) Width() int { return len(m.data) }

// Min is the smallest value of the domain.
func (m Message) Min() int { return -(len(m.data) / 2) }

// Max is the largest value of the domain.
func (m Message) Max() int { return len(m.data) / 2 }

// Contains reports whether v lies in the domain.
func (m Message) Contains(v int) bool { return v >= m.Min() && v <= m.Max() }

// Get returns the weight of v and false if v is outside the domain.
func (m Message) Get(v int) (float64, bool) {
	if !m.Contains(v) {
		return 0, false
	}
	return m.data[v+len(m.data)/2], true
}

// Set assigns the weight of v. It returns false if v is outside the domain.
func (m Message) Set(v int, w float64) bool {
	if !m.Contains(v) {
		return false
	}
	m.data[v+len(m.data)/2] = w
	return true
}

// Weights returns a copy of the weights, lowest value first.
func (m Message) Weights() []float64 {
	return append([]float64(nil), m.data...)
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	return Message{data: m.Weights()}
}

// All yields (value, weight) pairs in increasing value order.
func (m Message) All() iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		lo := m.Min()
		for i, w := range m.data {
			if !yield(lo+i, w) {
				return
			}
		}
	}
}

// Map returns the message as a value->weight map.
func (m Message) Map() map[int]float64 {
	out := make(map[int]float64, len(m.data))
	for v, w := range m.All() {
		out[v] = w
	}
	return out
}

// Normalize scales the message so that its largest absolute entry is 1.
func (m Message) Normalize() error {
	maxAbs := MaxAbs(m.data)
	if maxAbs == 0 || math.IsNaN(maxAbs) {
		return fmt.Errorf("%w: %v", ErrNormalization, m.data)
	}
	for i := range m.data {
		m.data[i] /= maxAbs
	}
	return nil
}

// ToProbabilities scales the message so that its weights sum to 1.
func (m Message) ToProbabilities() error {
	var sum float64
	for _, w := range m.data {
		sum += w
	}
	if sum == 0 || math.IsNaN(sum) {
		return fmt.Errorf("%w: weights sum to %v", ErrNormalization, sum)
	}
	for i := range m.data {
		m.data[i] /= sum
	}
	return nil
}

// IsValid reports whether no entry is NaN.
func (m Message) IsValid() bool {
	for _, w := range m.data {
		if math.IsNaN(w) {
			return false
		}
	}
	return true
}

// MultMsg multiplies m by other pointwise, in place. Both messages must have
// the same width.
func (m Message) MultMsg(other Message) {
	for i := range m.data {
		m.data[i] *= other.data[i]
	}
}

// SetFixedValue turns m into a point mass at v.
func (m Message) SetFixedValue(v int) {
	for i := range m.data {
		m.data[i] = 0
	}
	m.Set(v, 1)
}

// Argmax returns the value with the largest weight; ties go to the smaller value.
func (m Message) Argmax() int {
	best, bestW := m.Min(), math.Inf(-1)
	for v, w := range m.All() {
		if w > bestW {
			best, bestW = v, w
		}
	}
	return best
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return fmt.Sprintf("Message%v", m.data)
}

// MaxAbs returns the largest absolute value in xs, or NaN if xs is empty or
// the maximum cannot be ordered.
func MaxAbs(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	maxAbs := 0.0
	for _, x := range xs {
		if math.IsNaN(x) {
			return math.NaN()
		}
		if a := math.Abs(x); a > maxAbs {
			maxAbs = a
		}
	}
	return maxAbs
}
