package checkgraph

import (
	"cmp"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"checkbp/prof"
	"checkbp/readout"
)

var ErrKeyLength = errors.New("checkgraph: key length does not match the variables")

// RecoverOptions controls the propagate/read-out loop of Recover.
type RecoverOptions struct {
	Iterations        int // upper bound on propagate/read-out rounds
	StepsPerIteration int // flooding steps per round; 2 is one full exchange
	Threads           int
	// NoImproveAbort stops the run after this many rounds without a longer
	// correct prefix.
	NoImproveAbort int
	// RequireAll only reports success once every coefficient is ranked
	// first. Otherwise a correct most-confident half is enough.
	RequireAll bool
}

// ApplyDefaults fills unset fields.
func (o *RecoverOptions) ApplyDefaults() {
	if o.Iterations == 0 {
		o.Iterations = 20
	}
	if o.StepsPerIteration == 0 {
		o.StepsPerIteration = 2
	}
	if o.Threads == 0 {
		o.Threads = 1
	}
	if o.NoImproveAbort == 0 {
		o.NoImproveAbort = 5
	}
}

// Validate checks the options after defaults were applied.
func (o RecoverOptions) Validate() error {
	if o.Iterations < 1 || o.StepsPerIteration < 1 || o.NoImproveAbort < 1 {
		return fmt.Errorf("RecoverOptions: iterations=%d steps=%d no-improve=%d must be positive",
			o.Iterations, o.StepsPerIteration, o.NoImproveAbort)
	}
	if o.Threads < 1 {
		return fmt.Errorf("RecoverOptions: %w: %d", readout.ErrThreadCount, o.Threads)
	}
	return nil
}

// CoeffResult is the state of one coefficient after a round.
type CoeffResult struct {
	Index   int
	Guess   int     // most likely value
	Prob    float64 // probability of Guess
	Rank    int     // values more likely than the true one
	Entropy float64
	// EntropyDelta is |H - H_prev|, NaN in the first round.
	EntropyDelta float64
}

// RoundStats summarises one propagate/read-out round.
type RoundStats struct {
	Iteration   int
	AvgProb     float64 // mean probability of the true value
	AvgRank     float64
	Correct     int // coefficients whose true value is ranked first
	MeanEntropy float64
	MaxEntropy  float64
	// Leading correct coefficients among the most confident half, ordered
	// by probability of the guess and by entropy.
	SortedCorrectProb    int
	SortedCorrectEntropy int
	Duration             time.Duration
}

// Report is the outcome of Recover.
type Report struct {
	RunID       string
	Rounds      []RoundStats
	Success     bool
	BestCorrect int
	Guess       []int
}

// Recover alternates propagation and read-out, scoring every round against
// the known key, until the most confident coefficients are all right, the
// correct prefix stops growing, or the iterations run out. The graph must be
// initialized.
func (c *CheckGraph) Recover(key []int, opts RecoverOptions) (Report, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return Report{}, err
	}
	if len(key) != len(c.vars) {
		return Report{}, fmt.Errorf("Recover: %w: %d values for %d variables", ErrKeyLength, len(key), len(c.vars))
	}
	rep := Report{RunID: uuid.NewString()}
	log.Printf("[checkgraph] run %s: %d coefficients, %d checks, %d threads",
		rep.RunID, len(key), len(c.checks), opts.Threads)

	var prev []CoeffResult
	lastImproved := 0
	for it := 0; it < opts.Iterations; it++ {
		start := time.Now()
		if err := c.Propagate(opts.StepsPerIteration, opts.Threads); err != nil {
			return rep, fmt.Errorf("Recover: iteration %d: %w", it, err)
		}
		prof.Track(start, "checkgraph.Propagate")

		readStart := time.Now()
		marginals, err := c.Results(opts.Threads)
		if err != nil {
			return rep, fmt.Errorf("Recover: iteration %d: %w", it, err)
		}
		prof.Track(readStart, "checkgraph.Results")

		results := make([]CoeffResult, len(key))
		stats := RoundStats{Iteration: it}
		for j, want := range key {
			m := marginals[c.vars[j]]
			guess := m.MostLikely()
			r := CoeffResult{
				Index:        j,
				Guess:        guess,
				Prob:         m.Probs[guess],
				Rank:         rank(m.Probs, want),
				Entropy:      m.Entropy,
				EntropyDelta: math.NaN(),
			}
			if prev != nil {
				r.EntropyDelta = math.Abs(r.Entropy - prev[j].Entropy)
			}
			results[j] = r
			stats.AvgProb += m.Probs[want]
			stats.AvgRank += float64(r.Rank)
			if r.Rank == 0 {
				stats.Correct++
			}
		}
		n := float64(len(key))
		stats.AvgProb /= n
		stats.AvgRank /= n
		sum := readout.Summarize(marginals)
		stats.MeanEntropy, stats.MaxEntropy = sum.MeanEntropy, sum.MaxEntropy
		stats.SortedCorrectProb = leadingCorrect(results, func(a, b CoeffResult) int { return cmp.Compare(b.Prob, a.Prob) })
		stats.SortedCorrectEntropy = leadingCorrect(results, func(a, b CoeffResult) int { return cmp.Compare(a.Entropy, b.Entropy) })
		stats.Duration = time.Since(start)
		rep.Rounds = append(rep.Rounds, stats)

		log.Printf("[checkgraph] run %s iteration %d: correct %d/%d, avg prob %.4f, avg rank %.3f, entropy mean %.4f max %.4f",
			rep.RunID[:8], it, stats.Correct, len(key), stats.AvgProb, stats.AvgRank, stats.MeanEntropy, stats.MaxEntropy)

		rep.Guess = rep.Guess[:0]
		for _, r := range results {
			rep.Guess = append(rep.Guess, r.Guess)
		}
		prev = results

		half := (len(key) + 1) / 2
		best := max(stats.SortedCorrectProb, stats.SortedCorrectEntropy)
		if stats.Correct == len(key) || (!opts.RequireAll && best >= half) {
			rep.Success = true
			rep.BestCorrect = max(rep.BestCorrect, best)
			break
		}
		if best > rep.BestCorrect {
			rep.BestCorrect = best
			lastImproved = it
		} else if it-lastImproved >= opts.NoImproveAbort {
			log.Printf("[checkgraph] run %s: no improvement for %d iterations, aborting", rep.RunID[:8], it-lastImproved)
			break
		}
	}
	return rep, nil
}

// rank counts the values strictly more likely than val.
func rank(probs map[int]float64, val int) int {
	pv := probs[val]
	r := 0
	for v, p := range probs {
		if v != val && p > pv {
			r++
		}
	}
	return r
}

// leadingCorrect orders results by order and counts the correct entries at
// the front of the most confident half.
func leadingCorrect(results []CoeffResult, order func(a, b CoeffResult) int) int {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, order)
	half := (len(sorted) + 1) / 2
	for i, r := range sorted[:half] {
		if r.Rank != 0 {
			return i
		}
	}
	return half
}
