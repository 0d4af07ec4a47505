package instance

import (
	"fmt"
	"log"

	"checkbp/checkgraph"
	"checkbp/nodes"
)

// BinomialPrior is the distribution of a - b for independent a, b ~ B(eta, 1/2)
// over [-eta, eta].
func BinomialPrior(eta int) map[int]float64 {
	binom := make([]float64, eta+1)
	binom[0] = 1
	for k := 1; k <= eta; k++ {
		binom[k] = binom[k-1] * float64(eta-k+1) / float64(k)
	}
	scale := 1.0
	for i := 0; i < 2*eta; i++ {
		scale /= 2
	}
	out := make(map[int]float64, 2*eta+1)
	for x := -eta; x <= eta; x++ {
		var p float64
		for a := 0; a <= eta; a++ {
			if b := a - x; b >= 0 && b <= eta {
				p += binom[a] * binom[b]
			}
		}
		out[x] = p * scale
	}
	return out
}

// TransformLength is the smallest transform length that is wrap-free for
// every inequality of the instance.
func TransformLength(ineqs []Inequality, width int) int {
	n := 2
	for _, q := range ineqs {
		n = max(n, nodes.MinTransformLength(q.Coeffs, width))
	}
	return n
}

// BuildGraph creates one variable node per secret coefficient and one check
// node per inequality, then initializes the graph. length 0 selects
// TransformLength.
func BuildGraph(inst *Instance, length int) (*checkgraph.CheckGraph, error) {
	width := inst.Params.Width()
	if length == 0 {
		length = TransformLength(inst.Inequalities, width)
	}
	log.Printf("[instance] building graph: %d variables, %d inequalities, transform length %d",
		len(inst.Secret), len(inst.Inequalities), length)
	g, err := checkgraph.New(width, length)
	if err != nil {
		return nil, err
	}
	if err := g.AddVarNodes(len(inst.Secret), BinomialPrior(inst.Params.Eta)); err != nil {
		return nil, err
	}
	for i, q := range inst.Inequalities {
		_, err := g.AddCheckNode(fmt.Sprintf("Line %d", i), checkgraph.Inequality{
			Coeffs:      q.Coeffs,
			Op:          q.Op,
			Value:       q.Value,
			ProbCorrect: q.ProbCorrect,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := g.Initialize(); err != nil {
		return nil, err
	}
	return g, nil
}
