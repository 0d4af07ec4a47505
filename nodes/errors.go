package nodes

import (
	"errors"
	"fmt"

	"checkbp/belief"
)

var (
	ErrAlreadySet           = errors.New("nodes: prior already set")
	ErrMissingPrior         = errors.New("nodes: variable node has no prior")
	ErrNotInitialized       = errors.New("nodes: node not initialized")
	ErrInvalidMessage       = errors.New("nodes: invalid message")
	ErrWrongConnectionCount = errors.New("nodes: wrong number of connections")
	ErrOutOfDomain          = errors.New("nodes: value outside the variable domain")
	ErrUnknownNeighbor      = errors.New("nodes: message from a node that is not a neighbour")
	ErrUnsupportedControl   = errors.New("nodes: control message not supported")
	ErrWidthMismatch        = errors.New("nodes: message width does not match the node")
)

// InvalidMessageError carries the message that failed validation and the
// neighbour it was exchanged with.
type InvalidMessageError struct {
	Op   string
	From NodeIndex
	Msg  belief.Message
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("%s: invalid message for neighbour %d: %v", e.Op, e.From, e.Msg)
}

// Is makes errors.Is(err, ErrInvalidMessage) hold.
func (e *InvalidMessageError) Is(target error) bool {
	return target == ErrInvalidMessage
}
