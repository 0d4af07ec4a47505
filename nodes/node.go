// Package nodes implements the two node kinds of a check graph: variable
// nodes holding a belief about one secret coefficient, and check nodes
// enforcing one linear inequality over several coefficients.
//
// Nodes never talk to each other directly. A scheduler collects the
// messages addressed to a node, asks it whether it IsReady, and hands the
// inbox to NodeFunction, which returns the messages to send on. Each call
// has exclusive access to the node's state.
package nodes

import "checkbp/belief"

// NodeIndex identifies a node inside a graph.
type NodeIndex int

// Envelope is a message together with the node on the other end of the edge:
// the sender for inbox entries, the recipient for outgoing ones.
type Envelope struct {
	Peer NodeIndex
	Msg  belief.Message
}

// Node is the capability set a scheduler drives.
type Node interface {
	// Prior returns the node's prior belief, if it has one.
	Prior() (belief.Message, bool)
	// Initialize fixes the neighbour list. It is called once.
	Initialize(connections []NodeIndex) error
	// NodeFunction consumes an inbox and produces one message per recipient.
	NodeFunction(inbox []Envelope) ([]Envelope, error)
	// IsReady reports whether NodeFunction should run on received at round.
	IsReady(received []Envelope, round int) (bool, error)
	// Reset clears per-run state so the topology can be reused.
	Reset() error
	IsFactor() bool
	// NumberInputs returns the number of expected inputs when it is known.
	NumberInputs() (int, bool)
	SendControlMessage(req ControlRequest) (ControlResponse, error)
}

// BeliefSource is implemented by nodes that keep a current posterior.
type BeliefSource interface {
	Belief() (belief.Message, bool)
}
