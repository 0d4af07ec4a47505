package instance

import (
	"errors"
	"fmt"
)

// Params describes a synthetic instance: a secret of N centred binomial
// coefficients and Inequalities oracle answers about coefficients of the
// negacyclic products c·s mod (X^N + 1, Q).
type Params struct {
	N   int    `json:"n" yaml:"n"`
	Q   uint64 `json:"q" yaml:"q"`
	Eta int    `json:"eta" yaml:"eta"`

	Inequalities int `json:"inequalities" yaml:"inequalities"`
	// Spread bounds the offset between the threshold and the true value.
	Spread int `json:"spread" yaml:"spread"`
	// ChallengeSparsity is the probability that a challenge coefficient is 0.
	// Nil selects DefaultSparsity; 0 gives dense ±1 challenges.
	ChallengeSparsity *float64 `json:"challenge_sparsity,omitempty" yaml:"challenge_sparsity,omitempty"`
	// FlipRate is the probability that the oracle answer is wrong.
	FlipRate float64 `json:"flip_rate" yaml:"flip_rate"`
	Seed     string  `json:"seed" yaml:"seed"`
}

const (
	// DefaultQ is NTT friendly for every N up to 2048.
	DefaultQ = 12289
	// DefaultSparsity makes challenges uniform over {-1, 0, 1}.
	DefaultSparsity = 1.0 / 3
)

// ApplyDefaults fills unset fields.
func (p *Params) ApplyDefaults() {
	if p.N == 0 {
		p.N = 64
	}
	if p.Q == 0 {
		p.Q = DefaultQ
	}
	if p.Eta == 0 {
		p.Eta = 2
	}
	if p.Inequalities == 0 {
		p.Inequalities = 4 * p.N
	}
	if p.ChallengeSparsity == nil {
		s := DefaultSparsity
		p.ChallengeSparsity = &s
	}
}

// Validate checks the parameters after defaults were applied.
func (p *Params) Validate() error {
	if p.N < 2 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("Params: n=%d must be a power of two >= 2", p.N)
	}
	if p.Q < 3 || (p.Q-1)%uint64(2*p.N) != 0 {
		return fmt.Errorf("Params: q=%d is not 1 mod 2n", p.Q)
	}
	if p.Eta < 1 || p.Eta > 8 {
		return fmt.Errorf("Params: eta=%d not in [1, 8]", p.Eta)
	}
	if p.Inequalities < 1 {
		return errors.New("Params: need at least one inequality")
	}
	if p.Spread < 0 {
		return fmt.Errorf("Params: negative spread %d", p.Spread)
	}
	if s := p.Sparsity(); s < 0 || s >= 1 {
		return fmt.Errorf("Params: challenge sparsity %v not in [0, 1)", s)
	}
	if p.FlipRate < 0 || p.FlipRate >= 0.5 {
		return fmt.Errorf("Params: flip rate %v not in [0, 0.5)", p.FlipRate)
	}
	// products must stay inside (-q/2, q/2) to be read back exactly
	if uint64(p.N*p.Eta)*2 >= p.Q {
		return fmt.Errorf("Params: n·eta=%d too large for q=%d", p.N*p.Eta, p.Q)
	}
	return nil
}

// Sparsity returns ChallengeSparsity, or DefaultSparsity when it is unset.
func (p *Params) Sparsity() float64 {
	if p.ChallengeSparsity == nil {
		return DefaultSparsity
	}
	return *p.ChallengeSparsity
}

// Width is the variable domain width 2·eta+1.
func (p *Params) Width() int { return 2*p.Eta + 1 }
