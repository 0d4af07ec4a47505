package nodes

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"checkbp/belief"
	"checkbp/internal/debuglog"
	"checkbp/llo"
	"checkbp/transform"
)

// CheckConfig describes one inequality Σ Coeffs[k]·x_k Op Value over
// variables with domain width Width.
type CheckConfig struct {
	Width  int
	Coeffs []int
	Op     CmpOperator
	Value  int
	// Length is the transform length N. Zero selects MinTransformLength.
	Length int
	// ProbCorrect is the probability that the oracle answered correctly.
	// Zero or one means the inequality is certain.
	ProbCorrect float64
}

// ApplyDefaults fills unset fields.
func (c *CheckConfig) ApplyDefaults() {
	if c.Length == 0 {
		c.Length = MinTransformLength(c.Coeffs, c.Width)
	}
	if c.ProbCorrect == 0 {
		c.ProbCorrect = 1
	}
}

// Validate checks the configuration after defaults were applied.
func (c *CheckConfig) Validate() error {
	if c.Width <= 0 || c.Width%2 == 0 {
		return fmt.Errorf("CheckConfig: width %d must be positive and odd", c.Width)
	}
	if len(c.Coeffs) == 0 {
		return errors.New("CheckConfig: no coefficients")
	}
	if !c.Op.Valid() {
		return fmt.Errorf("CheckConfig: invalid operator %d", int(c.Op))
	}
	if !transform.IsPowerOfTwo(c.Length) || c.Length < 2 {
		return fmt.Errorf("CheckConfig: %w: length %d", transform.ErrLength, c.Length)
	}
	if !(c.ProbCorrect > 0 && c.ProbCorrect <= 1) {
		return fmt.Errorf("CheckConfig: prob_correct %v not in (0, 1]", c.ProbCorrect)
	}
	return nil
}

// MinTransformLength is the smallest power of two whose centered window
// [-N/2, N/2) holds every value Σ c_k·x_k can take.
func MinTransformLength(coeffs []int, width int) int {
	sum := 0
	for _, c := range coeffs {
		if c < 0 {
			c = -c
		}
		sum += c * (width / 2)
	}
	return transform.NextPowerOfTwo(2*sum + 2)
}

// CheckNode enforces one linear inequality. The distribution of the sum of
// the other neighbours' scaled values is computed as a product of
// transforms; the outgoing message is that distribution integrated against
// the shifted threshold.
type CheckNode struct {
	cfg CheckConfig
	fft transform.Transformer

	connections []NodeIndex
	position    map[NodeIndex]int
}

// NewCheckNode validates cfg and plans the transform.
func NewCheckNode(cfg CheckConfig) (*CheckNode, error) {
	cfg.Coeffs = append([]int(nil), cfg.Coeffs...)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if need := MinTransformLength(cfg.Coeffs, cfg.Width); cfg.Length < need {
		debuglog.Logf("check", "transform length %d below %d, sums may wrap around", cfg.Length, need)
	}
	fft, err := transform.NewFFT(cfg.Length)
	if err != nil {
		return nil, err
	}
	return &CheckNode{cfg: cfg, fft: fft}, nil
}

// Config returns a copy of the node configuration.
func (n *CheckNode) Config() CheckConfig {
	cfg := n.cfg
	cfg.Coeffs = append([]int(nil), n.cfg.Coeffs...)
	return cfg
}

func (n *CheckNode) Prior() (belief.Message, bool) { return belief.Message{}, false }

func (n *CheckNode) Initialize(connections []NodeIndex) error {
	if len(connections) != len(n.cfg.Coeffs) {
		return fmt.Errorf("CheckNode.Initialize: %w: want %d, got %d",
			ErrWrongConnectionCount, len(n.cfg.Coeffs), len(connections))
	}
	pos := make(map[NodeIndex]int, len(connections))
	for i, c := range connections {
		if _, dup := pos[c]; dup {
			return fmt.Errorf("CheckNode.Initialize: %w: node %d listed twice", ErrWrongConnectionCount, c)
		}
		pos[c] = i
	}
	n.connections = append([]NodeIndex{}, connections...)
	n.position = pos
	return nil
}

func (n *CheckNode) IsReady(received []Envelope, _ int) (bool, error) {
	return len(received) == len(n.cfg.Coeffs), nil
}

func (n *CheckNode) NodeFunction(inbox []Envelope) ([]Envelope, error) {
	if n.connections == nil {
		return nil, fmt.Errorf("CheckNode.NodeFunction: %w", ErrNotInitialized)
	}
	if len(inbox) != len(n.cfg.Coeffs) {
		return nil, fmt.Errorf("CheckNode.NodeFunction: %w: inbox holds %d of %d",
			ErrWrongConnectionCount, len(inbox), len(n.cfg.Coeffs))
	}

	coeffs := make([]int, len(inbox))
	leaves := make([][]complex128, len(inbox))
	reach := make([]span, len(inbox))
	var all span
	for i, env := range inbox {
		pos, ok := n.position[env.Peer]
		if !ok {
			return nil, fmt.Errorf("CheckNode.NodeFunction: %w: %d", ErrUnknownNeighbor, env.Peer)
		}
		if env.Msg.Width() != n.cfg.Width {
			return nil, fmt.Errorf("CheckNode.NodeFunction: %w: from %d", ErrWidthMismatch, env.Peer)
		}
		coeffs[i] = n.cfg.Coeffs[pos]
		reach[i] = support(env.Msg, coeffs[i])
		all.lo += reach[i].lo
		all.hi += reach[i].hi
		buf, err := n.scaledTransform(env.Msg, coeffs[i])
		if err != nil {
			return nil, fmt.Errorf("CheckNode.NodeFunction: %w", err)
		}
		leaves[i] = buf
	}

	// With a single neighbour the other variables sum to zero; the
	// transform of that point mass is all ones.
	var prior *[]complex128
	if len(leaves) == 1 {
		ones := make([]complex128, n.cfg.Length)
		for i := range ones {
			ones[i] = 1
		}
		prior = &ones
	}
	products, _, err := llo.Compute(leaves, mulPointwise, prior)
	if err != nil {
		return nil, fmt.Errorf("CheckNode.NodeFunction: %w", err)
	}

	out := make([]Envelope, len(inbox))
	for i, prod := range products {
		others := span{lo: all.lo - reach[i].lo, hi: all.hi - reach[i].hi}
		dist, err := n.partialSum(prod, others)
		if err != nil {
			return nil, fmt.Errorf("CheckNode.NodeFunction: partial sum for %d: %w", inbox[i].Peer, err)
		}
		msg, err := n.derive(dist, coeffs[i])
		if err != nil {
			debuglog.Logf("check", "degenerate message for %d (%s %d)", inbox[i].Peer, n.cfg.Op, n.cfg.Value)
			return nil, fmt.Errorf("CheckNode.NodeFunction: message for %d: %w", inbox[i].Peer, err)
		}
		out[i] = Envelope{Peer: inbox[i].Peer, Msg: msg}
	}
	return out, nil
}

// scaledTransform places every weight of msg at slot coeff·v mod N and
// transforms the result, scaled by 1/√N.
func (n *CheckNode) scaledTransform(msg belief.Message, coeff int) ([]complex128, error) {
	size := n.cfg.Length
	buf := make([]complex128, size)
	for v, w := range msg.All() {
		idx := (coeff * v) % size
		if idx < 0 {
			idx += size
		}
		buf[idx] += complex(w, 0)
	}
	if err := n.fft.Forward(buf); err != nil {
		return nil, err
	}
	scale := complex(1/math.Sqrt(float64(size)), 0)
	for i := range buf {
		buf[i] *= scale
	}
	return buf, nil
}

// span is an inclusive range of sums.
type span struct{ lo, hi int }

// support is the range of coeff·v over the values v that msg gives nonzero
// weight. A message without any weight yields an empty span.
func support(msg belief.Message, coeff int) span {
	s := span{lo: math.MaxInt32, hi: math.MinInt32}
	for v, w := range msg.All() {
		if w == 0 {
			continue
		}
		s.lo = min(s.lo, coeff*v)
		s.hi = max(s.hi, coeff*v)
	}
	return s
}

// partialSum inverts a product of transforms into the distribution of the
// partial sum, re-centred so that index N/2 is the sum 0, scaled to max 1.
// Sums outside reach cannot occur and are set to zero when the window holds
// all of reach.
func (n *CheckNode) partialSum(freq []complex128, reach span) ([]float64, error) {
	size := n.cfg.Length
	work := append([]complex128(nil), freq...)
	if err := n.fft.Inverse(work); err != nil {
		return nil, err
	}
	half := size / 2
	// with a short transform sums wrap around and reach says nothing
	// about the slots they land in
	mask := reach.lo >= -half && reach.hi < half
	dist := make([]float64, size)
	for i, c := range work {
		p := real(c) / float64(size)
		if p < 0 {
			// round-off from the transform
			p = 0
		}
		d := i + half
		if i >= half {
			d = i - half
		}
		if s := d - half; mask && (s < reach.lo || s > reach.hi) {
			p = 0
		}
		dist[d] = p
	}
	maxAbs := belief.MaxAbs(dist)
	if maxAbs == 0 || math.IsNaN(maxAbs) {
		return nil, fmt.Errorf("%w: partial-sum distribution", belief.ErrNormalization)
	}
	for i := range dist {
		dist[i] /= maxAbs
	}
	return dist, nil
}

// derive integrates dist against the inequality shifted by coeff·v for
// every candidate value v.
func (n *CheckNode) derive(dist []float64, coeff int) (belief.Message, error) {
	t := newTails(dist)
	msg := belief.MustNew(n.cfg.Width)
	p := n.cfg.ProbCorrect
	for v := msg.Min(); v <= msg.Max(); v++ {
		bound := n.cfg.Value - coeff*v
		w := t.mass(n.cfg.Op, bound)
		if p < 1 {
			w = p*w + (1-p)*t.mass(n.cfg.Op.failing(), bound)
		}
		msg.Set(v, w)
	}
	if err := msg.Normalize(); err != nil {
		return belief.Message{}, err
	}
	return msg, nil
}

// tails answers prefix/suffix mass queries on a centred distribution.
type tails struct {
	half   int
	prefix []float64 // prefix[i] = Σ dist[0..i)
	suffix []float64 // suffix[i] = Σ dist[i..N)
}

func newTails(dist []float64) tails {
	size := len(dist)
	t := tails{half: size / 2, prefix: make([]float64, size+1), suffix: make([]float64, size+1)}
	for i, p := range dist {
		t.prefix[i+1] = t.prefix[i] + p
	}
	for i := size - 1; i >= 0; i-- {
		t.suffix[i] = t.suffix[i+1] + dist[i]
	}
	return t
}

// below is the mass of sums s < bound.
func (t tails) below(bound int) float64 {
	i := clamp(bound+t.half, 0, len(t.prefix)-1)
	return t.prefix[i]
}

// from is the mass of sums s ≥ bound.
func (t tails) from(bound int) float64 {
	i := clamp(bound+t.half, 0, len(t.suffix)-1)
	return t.suffix[i]
}

// mass returns the probability mass of sums s with s OP bound.
func (t tails) mass(op CmpOperator, bound int) float64 {
	switch op {
	case SmallerEq:
		return t.below(bound + 1)
	case Smaller:
		return t.below(bound)
	case GreaterEq:
		return t.from(bound)
	case Greater:
		return t.from(bound + 1)
	}
	return math.NaN()
}

func clamp(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

func (n *CheckNode) Reset() error { return nil }

func (n *CheckNode) IsFactor() bool { return true }

func (n *CheckNode) NumberInputs() (int, bool) { return len(n.cfg.Coeffs), true }

func (n *CheckNode) SendControlMessage(req ControlRequest) (ControlResponse, error) {
	return nil, fmt.Errorf("CheckNode.SendControlMessage: %w: %T", ErrUnsupportedControl, req)
}

// mulPointwise multiplies two spectra and rescales by the largest magnitude.
func mulPointwise(a, b []complex128) ([]complex128, error) {
	out := make([]complex128, len(a))
	maxAbs := 0.0
	for i := range a {
		out[i] = a[i] * b[i]
		m := cmplx.Abs(out[i])
		if math.IsNaN(m) {
			return nil, fmt.Errorf("%w: NaN in transform domain", belief.ErrNormalization)
		}
		if m > maxAbs {
			maxAbs = m
		}
	}
	if maxAbs == 0 {
		return nil, fmt.Errorf("%w: zero product in transform domain", belief.ErrNormalization)
	}
	scale := complex(1/maxAbs, 0)
	for i := range out {
		out[i] *= scale
	}
	return out, nil
}
