// Package readout turns node beliefs into probability distributions with
// their entropy, optionally for many nodes in parallel.
package readout

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"checkbp/belief"
	"checkbp/nodes"
)

var (
	ErrResultMissing = errors.New("readout: node did not return a result")
	ErrThreadCount   = errors.New("readout: thread count must be at least 1")
)

// Source is anything that can report the belief of a node. Result must be
// safe for concurrent calls as long as nothing propagates meanwhile.
type Source interface {
	Result(id nodes.NodeIndex) (belief.Message, bool, error)
}

// Marginal is a belief scaled to a probability distribution.
type Marginal struct {
	Probs   map[int]float64
	Entropy float64 // bits
}

// FromMessage divides m by the sum of its weights and computes the entropy.
// m is not modified.
func FromMessage(m belief.Message) (Marginal, error) {
	p := m.Clone()
	if err := p.ToProbabilities(); err != nil {
		return Marginal{}, err
	}
	probs := p.Map()
	return Marginal{Probs: probs, Entropy: belief.Entropy(probs)}, nil
}

// MostLikely returns the value with the highest probability; ties go to the
// smaller value.
func (m Marginal) MostLikely() int {
	best, bestP, found := 0, math.Inf(-1), false
	for v, p := range m.Probs {
		if !found || p > bestP || (p == bestP && v < best) {
			best, bestP, found = v, p, true
		}
	}
	return best
}

// Fetch reads one node.
func Fetch(src Source, id nodes.NodeIndex) (Marginal, error) {
	msg, ok, err := src.Result(id)
	if err != nil {
		return Marginal{}, err
	}
	if !ok {
		return Marginal{}, fmt.Errorf("%w: %d", ErrResultMissing, id)
	}
	m, err := FromMessage(msg)
	if err != nil {
		return Marginal{}, fmt.Errorf("node %d: %w", id, err)
	}
	return m, nil
}

// FetchParallel reads ids in contiguous chunks of ceil(len(ids)/threads),
// one goroutine per chunk, and merges the results after all of them
// returned. The first error wins.
func FetchParallel(src Source, ids []nodes.NodeIndex, threads int) (map[nodes.NodeIndex]Marginal, error) {
	if threads < 1 {
		return nil, fmt.Errorf("%w: %d", ErrThreadCount, threads)
	}
	out := make(map[nodes.NodeIndex]Marginal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	chunk := (len(ids) + threads - 1) / threads
	var parts [][]nodes.NodeIndex
	for lo := 0; lo < len(ids); lo += chunk {
		parts = append(parts, ids[lo:min(lo+chunk, len(ids))])
	}

	local := make([]map[nodes.NodeIndex]Marginal, len(parts))
	var eg errgroup.Group
	for w, part := range parts {
		eg.Go(func() error {
			res := make(map[nodes.NodeIndex]Marginal, len(part))
			for _, id := range part {
				m, err := Fetch(src, id)
				if err != nil {
					return err
				}
				res[id] = m
			}
			local[w] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for _, res := range local {
		for id, m := range res {
			out[id] = m
		}
	}
	return out, nil
}

// Summary aggregates the entropies of a read-out.
type Summary struct {
	Count       int
	MeanEntropy float64
	MaxEntropy  float64
}

// Summarize returns the mean and maximum entropy of ms.
func Summarize(ms map[nodes.NodeIndex]Marginal) Summary {
	s := Summary{Count: len(ms)}
	if len(ms) == 0 {
		return s
	}
	var total float64
	for _, m := range ms {
		total += m.Entropy
		s.MaxEntropy = max(s.MaxEntropy, m.Entropy)
	}
	s.MeanEntropy = total / float64(len(ms))
	return s
}
