package nodes

import (
	"fmt"

	"checkbp/belief"
	"checkbp/internal/debuglog"
	"checkbp/llo"
)

// Evidence is what a variable node broadcasts from: either its prior
// combined with incoming messages, or a value known from elsewhere.
type Evidence interface {
	evidence()
}

// PriorEvidence is the default state: beliefs are derived from the prior.
type PriorEvidence struct{}

// FixedEvidence pins the variable to Value; incoming messages are ignored.
type FixedEvidence struct {
	Value int
}

func (PriorEvidence) evidence() {}
func (FixedEvidence) evidence() {}

// VariableNode holds the belief about one secret coefficient.
type VariableNode struct {
	width    int
	prior    belief.Message
	hasPrior bool
	evidence Evidence

	connections []NodeIndex
	neighbours  map[NodeIndex]struct{}

	hasPropagated bool
	posterior     belief.Message
	hasPosterior  bool
}

// NewVariableNode returns a node over the domain [-width/2, width/2].
func NewVariableNode(width int) (*VariableNode, error) {
	if _, err := belief.New(width); err != nil {
		return nil, err
	}
	return &VariableNode{width: width, evidence: PriorEvidence{}}, nil
}

// SetPrior stores the prior. It may be called once per run.
func (n *VariableNode) SetPrior(prior belief.Message) error {
	if n.hasPrior {
		return fmt.Errorf("VariableNode.SetPrior: %w (previous %v)", ErrAlreadySet, n.prior)
	}
	if prior.Width() != n.width {
		return fmt.Errorf("VariableNode.SetPrior: %w: %d != %d", ErrWidthMismatch, prior.Width(), n.width)
	}
	n.prior = prior.Clone()
	n.hasPrior = true
	return nil
}

// SetFixed pins the node to v.
func (n *VariableNode) SetFixed(v int) error {
	if v < -(n.width/2) || v > n.width/2 {
		return fmt.Errorf("VariableNode.SetFixed: %w: %d not in [%d, %d]", ErrOutOfDomain, v, -(n.width / 2), n.width/2)
	}
	n.evidence = FixedEvidence{Value: v}
	return nil
}

// ClearFixed returns the node to prior-based evidence.
func (n *VariableNode) ClearFixed() {
	n.evidence = PriorEvidence{}
}

// Evidence returns the current evidence state.
func (n *VariableNode) Evidence() Evidence {
	return n.evidence
}

// Width returns the domain width.
func (n *VariableNode) Width() int { return n.width }

func (n *VariableNode) Prior() (belief.Message, bool) {
	if !n.hasPrior {
		return belief.Message{}, false
	}
	return n.prior.Clone(), true
}

func (n *VariableNode) Initialize(connections []NodeIndex) error {
	if !n.hasPrior {
		return fmt.Errorf("VariableNode.Initialize: %w", ErrMissingPrior)
	}
	n.connections = append([]NodeIndex{}, connections...)
	n.neighbours = make(map[NodeIndex]struct{}, len(connections))
	for _, c := range connections {
		n.neighbours[c] = struct{}{}
	}
	return nil
}

func (n *VariableNode) IsReady(received []Envelope, round int) (bool, error) {
	if n.connections == nil {
		return false, fmt.Errorf("VariableNode.IsReady: %w", ErrNotInitialized)
	}
	return len(received) == len(n.connections) || round == 0, nil
}

func (n *VariableNode) NodeFunction(inbox []Envelope) ([]Envelope, error) {
	if n.connections == nil {
		return nil, fmt.Errorf("VariableNode.NodeFunction: %w", ErrNotInitialized)
	}
	switch ev := n.evidence.(type) {
	case FixedEvidence:
		msg := belief.MustNew(n.width)
		msg.SetFixedValue(ev.Value)
		n.posterior, n.hasPosterior = msg, true
		n.hasPropagated = true
		return n.broadcast(msg), nil
	}
	if !n.hasPrior {
		return nil, fmt.Errorf("VariableNode.NodeFunction: %w", ErrMissingPrior)
	}
	if !n.hasPropagated || len(inbox) == 0 {
		n.hasPropagated = true
		n.posterior, n.hasPosterior = n.prior.Clone(), true
		return n.broadcast(n.prior), nil
	}

	leaves := make([]belief.Message, len(inbox))
	for i, env := range inbox {
		if _, ok := n.neighbours[env.Peer]; !ok {
			return nil, fmt.Errorf("VariableNode.NodeFunction: %w: %d", ErrUnknownNeighbor, env.Peer)
		}
		if env.Msg.Width() != n.width {
			return nil, fmt.Errorf("VariableNode.NodeFunction: %w: from %d", ErrWidthMismatch, env.Peer)
		}
		if !env.Msg.IsValid() {
			debuglog.Logf("variable", "invalid inbox message from %d: %v", env.Peer, env.Msg)
			return nil, &InvalidMessageError{Op: "VariableNode.NodeFunction", From: env.Peer, Msg: env.Msg.Clone()}
		}
		leaves[i] = env.Msg
	}

	// a single inbox message gets the prior operand back unchanged
	prior := n.prior.Clone()
	products, total, err := llo.Compute(leaves, multNormalized, &prior)
	if err != nil {
		return nil, fmt.Errorf("VariableNode.NodeFunction: %w", err)
	}
	out := make([]Envelope, 0, len(n.connections))
	seen := make(map[NodeIndex]struct{}, len(inbox))
	for i, msg := range products {
		if !msg.IsValid() {
			return nil, &InvalidMessageError{Op: "VariableNode.NodeFunction (output)", From: inbox[i].Peer, Msg: msg}
		}
		out = append(out, Envelope{Peer: inbox[i].Peer, Msg: msg})
		seen[inbox[i].Peer] = struct{}{}
	}
	// Neighbours that sent nothing get everything we know.
	for _, c := range n.connections {
		if _, ok := seen[c]; !ok {
			out = append(out, Envelope{Peer: c, Msg: total.Clone()})
		}
	}
	n.posterior, n.hasPosterior = total, true
	return out, nil
}

// Belief returns the current posterior: the fixed point mass, the product
// of the prior with the last inbox, or the prior before any round ran.
func (n *VariableNode) Belief() (belief.Message, bool) {
	if ev, ok := n.evidence.(FixedEvidence); ok {
		msg := belief.MustNew(n.width)
		msg.SetFixedValue(ev.Value)
		return msg, true
	}
	if n.hasPosterior {
		return n.posterior.Clone(), true
	}
	return n.Prior()
}

func (n *VariableNode) Reset() error {
	n.prior, n.hasPrior = belief.Message{}, false
	n.posterior, n.hasPosterior = belief.Message{}, false
	n.hasPropagated = false
	return nil
}

func (n *VariableNode) IsFactor() bool { return false }

func (n *VariableNode) NumberInputs() (int, bool) {
	if n.connections == nil {
		return 0, false
	}
	return len(n.connections), true
}

func (n *VariableNode) SendControlMessage(req ControlRequest) (ControlResponse, error) {
	switch r := req.(type) {
	case SetFixed:
		if err := n.SetFixed(r.Value); err != nil {
			return nil, err
		}
		return Ack{}, nil
	case GetFixed:
		_, fixed := n.evidence.(FixedEvidence)
		return Fixed{IsFixed: fixed}, nil
	default:
		return nil, fmt.Errorf("VariableNode.SendControlMessage: %w: %T", ErrUnsupportedControl, req)
	}
}

func (n *VariableNode) broadcast(msg belief.Message) []Envelope {
	out := make([]Envelope, len(n.connections))
	for i, c := range n.connections {
		out[i] = Envelope{Peer: c, Msg: msg.Clone()}
	}
	return out
}

// multNormalized is the variable-side operator: pointwise product rescaled
// to max 1.
func multNormalized(a, b belief.Message) (belief.Message, error) {
	out := a.Clone()
	out.MultMsg(b)
	if err := out.Normalize(); err != nil {
		return belief.Message{}, err
	}
	return out, nil
}
