package nodes

import (
	"fmt"
	"strings"
)

// CmpOperator is the comparison of an inequality Σ c_k·x_k OP value.
type CmpOperator int

const (
	SmallerEq CmpOperator = iota
	Smaller
	GreaterEq
	Greater
)

func (op CmpOperator) String() string {
	switch op {
	case SmallerEq:
		return "<="
	case Smaller:
		return "<"
	case GreaterEq:
		return ">="
	case Greater:
		return ">"
	default:
		return fmt.Sprintf("CmpOperator(%d)", int(op))
	}
}

// Valid reports whether op is one of the four operators.
func (op CmpOperator) Valid() bool {
	return op >= SmallerEq && op <= Greater
}

// failing is the tail that describes the inequality not holding. The
// non-strict operators use the opposite non-strict tail, so the boundary
// value counts for both branches; strict operators use their exact
// complement.
func (op CmpOperator) failing() CmpOperator {
	switch op {
	case SmallerEq, Smaller:
		return GreaterEq
	default:
		return SmallerEq
	}
}

// Holds evaluates lhs OP rhs.
func (op CmpOperator) Holds(lhs, rhs int) bool {
	switch op {
	case SmallerEq:
		return lhs <= rhs
	case Smaller:
		return lhs < rhs
	case GreaterEq:
		return lhs >= rhs
	case Greater:
		return lhs > rhs
	}
	return false
}

// ParseCmpOperator accepts "<=", "<", ">=", ">" and the names le, lt, ge, gt.
func ParseCmpOperator(s string) (CmpOperator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "<=", "le", "smallereq":
		return SmallerEq, nil
	case "<", "lt", "smaller":
		return Smaller, nil
	case ">=", "ge", "greatereq":
		return GreaterEq, nil
	case ">", "gt", "greater":
		return Greater, nil
	}
	return 0, fmt.Errorf("nodes: unknown comparison operator %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (op CmpOperator) MarshalText() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("nodes: invalid comparison operator %d", int(op))
	}
	return []byte(op.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *CmpOperator) UnmarshalText(b []byte) error {
	v, err := ParseCmpOperator(string(b))
	if err != nil {
		return err
	}
	*op = v
	return nil
}
