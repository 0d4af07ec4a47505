// Package checkgraph is the host-facing surface of the engine: variable
// nodes built from a prior, inequality check nodes over them, propagation
// and read-out of marginals.
package checkgraph

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"checkbp/belief"
	"checkbp/graph"
	"checkbp/nodes"
	"checkbp/readout"
)

var (
	ErrCoefficientCount = errors.New("checkgraph: coefficient count does not match the variables")
	ErrVariable         = errors.New("checkgraph: invalid variable in inequality")
)

// Inequality is one oracle answer Σ Coeffs[k]·x_{Vars[k]} Op Value.
type Inequality struct {
	// Vars lists the variables in coefficient order. Nil means every
	// variable node, in the order they were added.
	Vars   []nodes.NodeIndex
	Coeffs []int
	Op     nodes.CmpOperator
	Value  int
	// ProbCorrect is the confidence in the answer; zero means certain.
	ProbCorrect float64
}

// CheckGraph wires variable and check nodes into a graph.Graph.
type CheckGraph struct {
	g      *graph.Graph
	width  int
	length int
	vars   []nodes.NodeIndex
	checks []nodes.NodeIndex
	// variable nodes by index, for prior updates and Vars validation
	varNodes map[nodes.NodeIndex]*nodes.VariableNode
}

// New returns an empty graph over the domain [-width/2, width/2]. length
// is the transform length of every check node; zero picks the smallest
// wrap-free length per check.
func New(width, length int) (*CheckGraph, error) {
	if _, err := belief.New(width); err != nil {
		return nil, err
	}
	return &CheckGraph{
		g:        graph.New(),
		width:    width,
		length:   length,
		varNodes: make(map[nodes.NodeIndex]*nodes.VariableNode),
	}, nil
}

// Width returns the variable domain width.
func (c *CheckGraph) Width() int { return c.width }

// Graph exposes the underlying scheduler.
func (c *CheckGraph) Graph() *graph.Graph { return c.g }

// VarNodes returns the variable node indices in insertion order.
func (c *CheckGraph) VarNodes() []nodes.NodeIndex { return append([]nodes.NodeIndex(nil), c.vars...) }

// CheckNodes returns the check node indices in insertion order.
func (c *CheckGraph) CheckNodes() []nodes.NodeIndex { return append([]nodes.NodeIndex(nil), c.checks...) }

func (c *CheckGraph) priorMessage(prior map[int]float64) (belief.Message, error) {
	msg, err := belief.FromMap(c.width, prior)
	if err != nil {
		return belief.Message{}, err
	}
	if err := msg.Normalize(); err != nil {
		return belief.Message{}, fmt.Errorf("prior: %w", err)
	}
	return msg, nil
}

// AddVarNodes adds count variable nodes named after their position, all
// with the same prior.
func (c *CheckGraph) AddVarNodes(count int, prior map[int]float64) error {
	msg, err := c.priorMessage(prior)
	if err != nil {
		return fmt.Errorf("AddVarNodes: %w", err)
	}
	for i := 0; i < count; i++ {
		if _, err := c.addVar(strconv.Itoa(len(c.vars)), msg); err != nil {
			return fmt.Errorf("AddVarNodes: %w", err)
		}
	}
	return nil
}

// AddVarNode adds one named variable node.
func (c *CheckGraph) AddVarNode(name string, prior map[int]float64) (nodes.NodeIndex, error) {
	msg, err := c.priorMessage(prior)
	if err != nil {
		return 0, fmt.Errorf("AddVarNode %q: %w", name, err)
	}
	return c.addVar(name, msg)
}

func (c *CheckGraph) addVar(name string, prior belief.Message) (nodes.NodeIndex, error) {
	n, err := nodes.NewVariableNode(c.width)
	if err != nil {
		return 0, err
	}
	if err := n.SetPrior(prior); err != nil {
		return 0, err
	}
	id, err := c.g.AddNode(name, n)
	if err != nil {
		return 0, err
	}
	c.vars = append(c.vars, id)
	c.varNodes[id] = n
	return id, nil
}

// AddCheckNode adds a check node for ineq and connects it to its variables.
func (c *CheckGraph) AddCheckNode(name string, ineq Inequality) (nodes.NodeIndex, error) {
	vars := ineq.Vars
	if vars == nil {
		vars = c.vars
	}
	if len(ineq.Coeffs) != len(vars) || len(vars) == 0 {
		return 0, fmt.Errorf("AddCheckNode %q: %w: %d coefficients for %d variables",
			name, ErrCoefficientCount, len(ineq.Coeffs), len(vars))
	}
	if ineq.Vars != nil {
		seen := make(map[nodes.NodeIndex]struct{}, len(vars))
		for _, v := range vars {
			if _, ok := c.varNodes[v]; !ok {
				return 0, fmt.Errorf("AddCheckNode %q: %w: %d is not a variable node", name, ErrVariable, v)
			}
			if _, dup := seen[v]; dup {
				return 0, fmt.Errorf("AddCheckNode %q: %w: %d listed twice", name, ErrVariable, v)
			}
			seen[v] = struct{}{}
		}
	}
	if _, taken := c.g.Lookup(name); taken {
		return 0, fmt.Errorf("AddCheckNode: name %q already used", name)
	}
	chk, err := nodes.NewCheckNode(nodes.CheckConfig{
		Width:       c.width,
		Coeffs:      ineq.Coeffs,
		Op:          ineq.Op,
		Value:       ineq.Value,
		Length:      c.length,
		ProbCorrect: ineq.ProbCorrect,
	})
	if err != nil {
		return 0, fmt.Errorf("AddCheckNode %q: %w", name, err)
	}
	id, err := c.g.AddNode(name, chk)
	if err != nil {
		return 0, fmt.Errorf("AddCheckNode: %w", err)
	}
	for _, v := range vars {
		if err := c.g.AddEdge(v, id); err != nil {
			return 0, fmt.Errorf("AddCheckNode %q: %w", name, err)
		}
	}
	c.checks = append(c.checks, id)
	return id, nil
}

// Initialize freezes the topology.
func (c *CheckGraph) Initialize() error {
	log.Printf("[checkgraph] initializing %d variables, %d checks", len(c.vars), len(c.checks))
	return c.g.Initialize()
}

// Propagate runs steps flooding steps on threads goroutines.
func (c *CheckGraph) Propagate(steps, threads int) error {
	if threads == 1 {
		return c.g.Propagate(steps)
	}
	return c.g.PropagateThreaded(steps, threads)
}

// Results reads every variable node in parallel.
func (c *CheckGraph) Results(threads int) (map[nodes.NodeIndex]readout.Marginal, error) {
	return readout.FetchParallel(c.g, c.vars, threads)
}

// Result returns the probability distribution of one node.
func (c *CheckGraph) Result(id nodes.NodeIndex) (map[int]float64, error) {
	m, err := readout.Fetch(c.g, id)
	if err != nil {
		return nil, err
	}
	return m.Probs, nil
}

// SetFixed pins variable id to value.
func (c *CheckGraph) SetFixed(id nodes.NodeIndex, value int) error {
	_, err := c.g.SendControlMessage(id, nodes.SetFixed{Value: value})
	return err
}

// GetFixed reports whether variable id is pinned.
func (c *CheckGraph) GetFixed(id nodes.NodeIndex) (bool, error) {
	resp, err := c.g.SendControlMessage(id, nodes.GetFixed{})
	if err != nil {
		return false, err
	}
	f, ok := resp.(nodes.Fixed)
	if !ok {
		return false, fmt.Errorf("GetFixed %d: unexpected response %T", id, resp)
	}
	return f.IsFixed, nil
}

// Reset drops all messages and beliefs and gives every variable node a new
// prior, keeping the topology and fixed values. The graph can then be
// propagated again from round 0.
func (c *CheckGraph) Reset(prior map[int]float64) error {
	msg, err := c.priorMessage(prior)
	if err != nil {
		return fmt.Errorf("Reset: %w", err)
	}
	if err := c.g.Reset(); err != nil {
		return err
	}
	for _, id := range c.vars {
		if err := c.varNodes[id].SetPrior(msg); err != nil {
			return fmt.Errorf("Reset: variable %d: %w", id, err)
		}
	}
	return nil
}

// SetCheckValidity toggles NaN checks on every delivered message.
func (c *CheckGraph) SetCheckValidity(on bool) { c.g.SetCheckValidity(on) }
