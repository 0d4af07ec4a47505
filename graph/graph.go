// Package graph schedules message passing between nodes.
//
// Propagation is round based flooding: in every step each node whose inbox
// makes it ready runs once on the latest message from every sender, and the
// messages it produces are delivered after all nodes of the step finished.
// A node's inbox is consumed when it runs.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"checkbp/belief"
	"checkbp/internal/debuglog"
	"checkbp/nodes"
)

var (
	ErrNodeNotFound = errors.New("graph: node not found")
	ErrEdge         = errors.New("graph: invalid edge")
	ErrInitialized  = errors.New("graph: topology is frozen after Initialize")
	ErrThreadCount  = errors.New("graph: thread count must be at least 1")
)

type entry struct {
	name      string
	node      nodes.Node
	neighbors []nodes.NodeIndex
}

// Graph owns a set of nodes, the edges between them and the messages in
// flight. It is not safe for concurrent use.
type Graph struct {
	entries []entry
	byName  map[string]nodes.NodeIndex
	edges   map[[2]nodes.NodeIndex]struct{}

	inbox         []map[nodes.NodeIndex]belief.Message
	step          int
	initialized   bool
	checkValidity bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]nodes.NodeIndex),
		edges:  make(map[[2]nodes.NodeIndex]struct{}),
	}
}

// AddNode registers n under a unique name and returns its index.
func (g *Graph) AddNode(name string, n nodes.Node) (nodes.NodeIndex, error) {
	if g.initialized {
		return 0, fmt.Errorf("AddNode %q: %w", name, ErrInitialized)
	}
	if _, dup := g.byName[name]; dup {
		return 0, fmt.Errorf("AddNode: name %q already used", name)
	}
	id := nodes.NodeIndex(len(g.entries))
	g.entries = append(g.entries, entry{name: name, node: n})
	g.byName[name] = id
	return id, nil
}

// AddEdge connects a variable node and a check node. The order in which
// edges are added to a node is the order of its connection list.
func (g *Graph) AddEdge(a, b nodes.NodeIndex) error {
	if g.initialized {
		return fmt.Errorf("AddEdge %d-%d: %w", a, b, ErrInitialized)
	}
	ea, err := g.get(a)
	if err != nil {
		return err
	}
	eb, err := g.get(b)
	if err != nil {
		return err
	}
	if ea.node.IsFactor() == eb.node.IsFactor() {
		return fmt.Errorf("AddEdge %s-%s: %w: both endpoints are the same kind", ea.name, eb.name, ErrEdge)
	}
	key := [2]nodes.NodeIndex{min(a, b), max(a, b)}
	if _, dup := g.edges[key]; dup {
		return fmt.Errorf("AddEdge %s-%s: %w: duplicate", ea.name, eb.name, ErrEdge)
	}
	g.edges[key] = struct{}{}
	ea.neighbors = append(ea.neighbors, b)
	eb.neighbors = append(eb.neighbors, a)
	return nil
}

// Initialize hands every node its neighbour list and freezes the topology.
func (g *Graph) Initialize() error {
	for i := range g.entries {
		e := &g.entries[i]
		if err := e.node.Initialize(e.neighbors); err != nil {
			return fmt.Errorf("Initialize %s (%d): %w", e.name, i, err)
		}
	}
	g.inbox = make([]map[nodes.NodeIndex]belief.Message, len(g.entries))
	for i := range g.inbox {
		g.inbox[i] = make(map[nodes.NodeIndex]belief.Message)
	}
	g.initialized = true
	g.step = 0
	return nil
}

// SetCheckValidity makes every step reject NaN messages before delivery.
func (g *Graph) SetCheckValidity(on bool) { g.checkValidity = on }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.entries) }

// Name returns the name a node was registered under.
func (g *Graph) Name(id nodes.NodeIndex) (string, bool) {
	e, err := g.get(id)
	if err != nil {
		return "", false
	}
	return e.name, true
}

// Lookup returns the index of the node registered as name.
func (g *Graph) Lookup(name string) (nodes.NodeIndex, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Neighbors returns a copy of the connection list of id.
func (g *Graph) Neighbors(id nodes.NodeIndex) ([]nodes.NodeIndex, error) {
	e, err := g.get(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.neighbors), nil
}

// Steps returns the number of steps run since Initialize or Reset.
func (g *Graph) Steps() int { return g.step }

// Propagate runs steps flooding steps on the calling goroutine.
func (g *Graph) Propagate(steps int) error {
	return g.propagate(steps, 1)
}

// PropagateThreaded runs steps flooding steps, executing the ready nodes of
// a step on up to threads goroutines. Delivery happens after the join.
func (g *Graph) PropagateThreaded(steps, threads int) error {
	if threads < 1 {
		return fmt.Errorf("PropagateThreaded: %w: %d", ErrThreadCount, threads)
	}
	return g.propagate(steps, threads)
}

func (g *Graph) propagate(steps, threads int) error {
	if !g.initialized {
		return fmt.Errorf("propagate: %w", nodes.ErrNotInitialized)
	}
	mode := "single"
	if threads > 1 {
		mode = "threaded"
	}
	for s := 0; s < steps; s++ {
		start := time.Now()
		if err := g.runStep(threads); err != nil {
			return fmt.Errorf("step %d: %w", g.step, err)
		}
		stepDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		g.step++
	}
	return nil
}

type job struct {
	id    nodes.NodeIndex
	inbox []nodes.Envelope
	out   []nodes.Envelope
}

func (g *Graph) runStep(threads int) error {
	var jobs []*job
	for i := range g.entries {
		id := nodes.NodeIndex(i)
		received := g.received(id)
		ready, err := g.entries[i].node.IsReady(received, g.step)
		if err != nil {
			return fmt.Errorf("%s (%d): %w", g.entries[i].name, i, err)
		}
		if ready {
			jobs = append(jobs, &job{id: id, inbox: received})
		}
	}
	debuglog.Logf("graph", "step %d: %d of %d nodes ready", g.step, len(jobs), len(g.entries))

	if threads <= 1 {
		for _, j := range jobs {
			if err := g.run(j); err != nil {
				return err
			}
		}
	} else {
		var eg errgroup.Group
		eg.SetLimit(threads)
		for _, j := range jobs {
			eg.Go(func() error { return g.run(j) })
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}

	for _, j := range jobs {
		clear(g.inbox[j.id])
	}
	for _, j := range jobs {
		if err := g.deliver(j); err != nil {
			return err
		}
	}
	return nil
}

// run invokes one node. Only j and the node behind it are touched, so jobs
// of the same step can run concurrently.
func (g *Graph) run(j *job) error {
	e := &g.entries[j.id]
	kind := kindLabel(e.node.IsFactor())
	nodeRuns.WithLabelValues(kind).Inc()
	out, err := e.node.NodeFunction(j.inbox)
	if err != nil {
		nodeFailures.WithLabelValues(kind).Inc()
		return fmt.Errorf("%s (%d): %w", e.name, j.id, err)
	}
	if g.checkValidity {
		for _, env := range out {
			if !env.Msg.IsValid() {
				nodeFailures.WithLabelValues(kind).Inc()
				return &nodes.InvalidMessageError{Op: "graph: " + e.name, From: j.id, Msg: env.Msg}
			}
		}
	}
	j.out = out
	return nil
}

func (g *Graph) deliver(j *job) error {
	from := g.entries[j.id]
	for _, env := range j.out {
		key := [2]nodes.NodeIndex{min(j.id, env.Peer), max(j.id, env.Peer)}
		if _, ok := g.edges[key]; !ok {
			return fmt.Errorf("%s (%d): %w: no edge to %d", from.name, j.id, ErrEdge, env.Peer)
		}
		g.inbox[env.Peer][j.id] = env.Msg
		messagesDelivered.Inc()
	}
	return nil
}

// received returns the inbox of id ordered by sender.
func (g *Graph) received(id nodes.NodeIndex) []nodes.Envelope {
	box := g.inbox[id]
	out := make([]nodes.Envelope, 0, len(box))
	for _, from := range slices.Sorted(maps.Keys(box)) {
		out = append(out, nodes.Envelope{Peer: from, Msg: box[from]})
	}
	return out
}

// Result returns the current belief of a node. ok is false for nodes that
// do not hold a belief (check nodes) or have none yet.
func (g *Graph) Result(id nodes.NodeIndex) (msg belief.Message, ok bool, err error) {
	e, err := g.get(id)
	if err != nil {
		return belief.Message{}, false, err
	}
	src, isSource := e.node.(nodes.BeliefSource)
	if !isSource {
		return belief.Message{}, false, nil
	}
	msg, ok = src.Belief()
	return msg, ok, nil
}

// SendControlMessage forwards req to node id.
func (g *Graph) SendControlMessage(id nodes.NodeIndex, req nodes.ControlRequest) (nodes.ControlResponse, error) {
	e, err := g.get(id)
	if err != nil {
		return nil, err
	}
	resp, err := e.node.SendControlMessage(req)
	if err != nil {
		return nil, fmt.Errorf("SendControlMessage %s (%d): %w", e.name, id, err)
	}
	return resp, nil
}

// Reset resets every node and drops the messages in flight. The topology
// is kept.
func (g *Graph) Reset() error {
	for i := range g.entries {
		if err := g.entries[i].node.Reset(); err != nil {
			return fmt.Errorf("Reset %s (%d): %w", g.entries[i].name, i, err)
		}
	}
	for _, box := range g.inbox {
		clear(box)
	}
	g.step = 0
	return nil
}

func (g *Graph) get(id nodes.NodeIndex) (*entry, error) {
	if id < 0 || int(id) >= len(g.entries) {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return &g.entries[id], nil
}
