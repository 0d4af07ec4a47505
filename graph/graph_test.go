package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkbp/belief"
	"checkbp/nodes"
)

func uniform(width int) belief.Message {
	m := belief.MustNew(width)
	for v := m.Min(); v <= m.Max(); v++ {
		m.Set(v, 1)
	}
	return m
}

func variable(t *testing.T, width int) *nodes.VariableNode {
	t.Helper()
	n, err := nodes.NewVariableNode(width)
	require.NoError(t, err)
	require.NoError(t, n.SetPrior(uniform(width)))
	return n
}

// pair builds x + y <= 0 over [-1, 1].
func pair(t *testing.T) (*Graph, nodes.NodeIndex, nodes.NodeIndex) {
	t.Helper()
	g := New()
	x, err := g.AddNode("x", variable(t, 3))
	require.NoError(t, err)
	y, err := g.AddNode("y", variable(t, 3))
	require.NoError(t, err)
	chk, err := nodes.NewCheckNode(nodes.CheckConfig{Width: 3, Coeffs: []int{1, 1}, Op: nodes.SmallerEq})
	require.NoError(t, err)
	c, err := g.AddNode("c", chk)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(x, c))
	require.NoError(t, g.AddEdge(y, c))
	require.NoError(t, g.Initialize())
	return g, x, y
}

func TestPropagatePair(t *testing.T) {
	for _, threads := range []int{1, 2, 8} {
		g, x, y := pair(t)
		require.NoError(t, g.PropagateThreaded(3, threads))
		assert.Equal(t, 3, g.Steps())
		for _, id := range []nodes.NodeIndex{x, y} {
			msg, ok, err := g.Result(id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.InDeltaSlice(t, []float64{1, 2.0 / 3, 1.0 / 3}, msg.Weights(), 1e-9, "threads=%d", threads)
		}
		_, ok, err := g.Result(2)
		require.NoError(t, err)
		assert.False(t, ok, "check nodes hold no belief")
	}
}

// stub records the inboxes it was run on and answers with fixed messages.
type stub struct {
	factor bool
	conns  []nodes.NodeIndex
	ready  func(received []nodes.Envelope, round int) bool
	out    belief.Message
	fail   error
	seen   [][]nodes.Envelope
}

func (s *stub) Prior() (belief.Message, bool)      { return belief.Message{}, false }
func (s *stub) Initialize(c []nodes.NodeIndex) error { s.conns = c; return nil }
func (s *stub) IsReady(r []nodes.Envelope, round int) (bool, error) {
	return s.ready(r, round), nil
}
func (s *stub) NodeFunction(inbox []nodes.Envelope) ([]nodes.Envelope, error) {
	s.seen = append(s.seen, inbox)
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]nodes.Envelope, len(s.conns))
	for i, c := range s.conns {
		out[i] = nodes.Envelope{Peer: c, Msg: s.out.Clone()}
	}
	return out, nil
}
func (s *stub) Reset() error              { s.seen = nil; return nil }
func (s *stub) IsFactor() bool            { return s.factor }
func (s *stub) NumberInputs() (int, bool) { return len(s.conns), true }
func (s *stub) SendControlMessage(nodes.ControlRequest) (nodes.ControlResponse, error) {
	return nodes.Ack{}, nil
}

func TestFloodingSchedule(t *testing.T) {
	always := func([]nodes.Envelope, int) bool { return true }
	full := func(r []nodes.Envelope, _ int) bool { return len(r) == 2 }
	g := New()
	a := &stub{ready: always, out: uniform(3)}
	b := &stub{ready: always, out: uniform(3)}
	f := &stub{factor: true, ready: full, out: uniform(3)}
	ia, _ := g.AddNode("a", a)
	ib, _ := g.AddNode("b", b)
	ic, _ := g.AddNode("f", f)
	require.NoError(t, g.AddEdge(ic, ib))
	require.NoError(t, g.AddEdge(ia, ic))
	require.NoError(t, g.Initialize())
	assert.Equal(t, []nodes.NodeIndex{ib, ia}, f.conns, "connection order follows edge order")

	require.NoError(t, g.Propagate(1))
	assert.Len(t, a.seen, 1)
	assert.Empty(t, a.seen[0])
	assert.Empty(t, f.seen, "messages of a step are delivered after it")

	require.NoError(t, g.Propagate(1))
	require.Len(t, f.seen, 1)
	inbox := f.seen[0]
	require.Len(t, inbox, 2)
	assert.Equal(t, ia, inbox[0].Peer, "inbox is ordered by sender")
	assert.Equal(t, ib, inbox[1].Peer)

	// f consumed its inbox; a and b delivered again in step 1
	require.NoError(t, g.Propagate(1))
	assert.Len(t, f.seen, 2)
	require.Len(t, a.seen, 3)
	assert.Len(t, a.seen[2], 1)

	require.NoError(t, g.Reset())
	assert.Equal(t, 0, g.Steps())
	assert.Empty(t, f.seen)
}

func TestPropagateFailures(t *testing.T) {
	boom := errors.New("boom")
	always := func([]nodes.Envelope, int) bool { return true }
	g := New()
	v := &stub{ready: always, out: uniform(3)}
	c := &stub{factor: true, ready: always, out: uniform(3), fail: boom}
	iv, _ := g.AddNode("v", v)
	ic, _ := g.AddNode("bad", c)
	require.NoError(t, g.AddEdge(iv, ic))

	require.ErrorIs(t, g.Propagate(1), nodes.ErrNotInitialized)
	require.NoError(t, g.Initialize())

	err := g.PropagateThreaded(1, 4)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad (1)")

	c.fail = nil
	c.out = belief.MustNew(3)
	c.out.Set(0, math.NaN())
	g.SetCheckValidity(true)
	err = g.Propagate(1)
	require.ErrorIs(t, err, nodes.ErrInvalidMessage)
	var ime *nodes.InvalidMessageError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, ic, ime.From)

	g.SetCheckValidity(false)
	require.NoError(t, g.Propagate(1))

	require.ErrorIs(t, g.PropagateThreaded(1, 0), ErrThreadCount)
}

func TestTopologyErrors(t *testing.T) {
	g := New()
	x, err := g.AddNode("x", variable(t, 3))
	require.NoError(t, err)
	y, err := g.AddNode("y", variable(t, 3))
	require.NoError(t, err)
	_, err = g.AddNode("x", variable(t, 3))
	require.Error(t, err)

	require.ErrorIs(t, g.AddEdge(x, y), ErrEdge)
	require.ErrorIs(t, g.AddEdge(x, 9), ErrNodeNotFound)

	chk, err := nodes.NewCheckNode(nodes.CheckConfig{Width: 3, Coeffs: []int{1}, Op: nodes.Greater})
	require.NoError(t, err)
	c, err := g.AddNode("c", chk)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(x, c))
	require.ErrorIs(t, g.AddEdge(c, x), ErrEdge)

	require.NoError(t, g.Initialize())
	_, err = g.AddNode("z", variable(t, 3))
	require.ErrorIs(t, err, ErrInitialized)
	require.ErrorIs(t, g.AddEdge(y, c), ErrInitialized)

	name, ok := g.Name(c)
	assert.True(t, ok)
	assert.Equal(t, "c", name)
	id, ok := g.Lookup("y")
	assert.True(t, ok)
	assert.Equal(t, y, id)
	nb, err := g.Neighbors(x)
	require.NoError(t, err)
	assert.Equal(t, []nodes.NodeIndex{c}, nb)
	assert.Equal(t, 3, g.Len())

	_, _, err = g.Result(-1)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestControlAndReset(t *testing.T) {
	g, x, _ := pair(t)

	resp, err := g.SendControlMessage(x, nodes.SetFixed{Value: 1})
	require.NoError(t, err)
	assert.Equal(t, nodes.Ack{}, resp)
	resp, err = g.SendControlMessage(x, nodes.GetFixed{})
	require.NoError(t, err)
	assert.Equal(t, nodes.Fixed{IsFixed: true}, resp)

	_, err = g.SendControlMessage(2, nodes.GetFixed{})
	require.ErrorIs(t, err, nodes.ErrUnsupportedControl)
	_, err = g.SendControlMessage(7, nodes.GetFixed{})
	require.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, g.Propagate(3))
	// with x = 1 only y = -1 satisfies x + y <= 0
	msg, ok, err := g.Result(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{1, 0, 0}, msg.Weights(), 1e-9)

	// the variable without a fixed value lost its prior
	require.NoError(t, g.Reset())
	require.ErrorIs(t, g.Propagate(1), nodes.ErrMissingPrior)
}
