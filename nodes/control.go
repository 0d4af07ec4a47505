package nodes

// ControlRequest is sent by the scheduler straight to one node, outside of
// the message rounds. The concrete requests are SetFixed and GetFixed.
type ControlRequest interface {
	controlRequest()
}

// ControlResponse answers a ControlRequest. The concrete responses are Ack
// and Fixed.
type ControlResponse interface {
	controlResponse()
}

// SetFixed pins a variable node to a known value.
type SetFixed struct {
	Value int
}

// GetFixed asks whether a variable node is pinned.
type GetFixed struct{}

// Ack acknowledges a request that carries no answer.
type Ack struct{}

// Fixed answers GetFixed.
type Fixed struct {
	IsFixed bool
}

func (SetFixed) controlRequest() {}
func (GetFixed) controlRequest() {}

func (Ack) controlResponse()   {}
func (Fixed) controlResponse() {}
