// Package instance produces synthetic recovery problems: a small secret and
// inequalities about it, shaped like the leakage of a lattice decryption
// oracle, together with the centred binomial prior of the secret.
package instance

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/tuneinsight/lattigo/v4/ring"
	"github.com/tuneinsight/lattigo/v4/utils"
	"golang.org/x/crypto/sha3"

	"checkbp/internal/debuglog"
	"checkbp/nodes"
)

// Inequality is one oracle answer Σ Coeffs[k]·s_k Op Value.
type Inequality struct {
	Coeffs      []int             `json:"coeffs"`
	Op          nodes.CmpOperator `json:"op"`
	Value       int               `json:"value"`
	ProbCorrect float64           `json:"prob_correct,omitempty"`
	// Flipped marks answers the oracle got wrong. It is ground truth for
	// evaluation only.
	Flipped bool `json:"flipped,omitempty"`
}

// Dot returns Σ Coeffs[k]·s[k].
func (q Inequality) Dot(s []int) int {
	sum := 0
	for k, c := range q.Coeffs {
		sum += c * s[k]
	}
	return sum
}

// Holds reports whether s satisfies the inequality.
func (q Inequality) Holds(s []int) bool {
	return q.Op.Holds(q.Dot(s), q.Value)
}

// Instance is a secret with the inequalities observed about it.
type Instance struct {
	Params       Params       `json:"params"`
	Secret       []int        `json:"secret"`
	Inequalities []Inequality `json:"inequalities"`
}

// Check reports the first inequality that contradicts its Flipped mark.
func (in *Instance) Check() error {
	for i, q := range in.Inequalities {
		if q.Holds(in.Secret) == q.Flipped {
			return fmt.Errorf("inequality %d: holds=%v but flipped=%v", i, !q.Flipped, q.Flipped)
		}
	}
	return nil
}

// DeriveKey expands the seed string into a PRNG key for one purpose.
func DeriveKey(seed, label string) []byte {
	h := sha3.NewShake256()
	_, _ = h.Write([]byte("checkbp/instance/" + label))
	_, _ = h.Write([]byte(seed))
	key := make([]byte, 32)
	_, _ = h.Read(key)
	return key
}

// Generate samples an instance. Equal params give equal instances.
func Generate(p Params) (*Instance, error) {
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r, err := ring.NewRing(p.N, []uint64{p.Q})
	if err != nil {
		return nil, fmt.Errorf("ring: %w", err)
	}
	secretPRNG, err := utils.NewKeyedPRNG(DeriveKey(p.Seed, "secret"))
	if err != nil {
		return nil, err
	}
	challengePRNG, err := utils.NewKeyedPRNG(DeriveKey(p.Seed, "challenge"))
	if err != nil {
		return nil, err
	}
	oraclePRNG, err := utils.NewKeyedPRNG(DeriveKey(p.Seed, "oracle"))
	if err != nil {
		return nil, err
	}

	secret, err := sampleCBD(secretPRNG, p.N, p.Eta)
	if err != nil {
		return nil, fmt.Errorf("sample secret: %w", err)
	}
	sNTT := r.NewPoly()
	embed(r, secret, sNTT)
	r.NTT(sNTT, sNTT)

	var ternary *ring.TernarySampler
	if sparsity := p.Sparsity(); sparsity > 0 {
		ternary = ring.NewTernarySampler(challengePRNG, r, sparsity, false)
	}
	c := r.NewPoly()
	prod := r.NewPoly()
	inst := &Instance{Params: p, Secret: secret, Inequalities: make([]Inequality, 0, p.Inequalities)}
	for len(inst.Inequalities) < p.Inequalities {
		if ternary != nil {
			ternary.Read(c)
		} else if err := sampleSigns(challengePRNG, r, c); err != nil {
			return nil, fmt.Errorf("sample challenge: %w", err)
		}
		chal := center(r, c)

		r.NTT(c, prod)
		r.MulCoeffs(prod, sNTT, prod)
		r.InvNTT(prod, prod)
		product := center(r, prod)

		j, err := uniformInt(oraclePRNG, 0, p.N-1)
		if err != nil {
			return nil, err
		}
		row := Row(chal, j)
		q := Inequality{Coeffs: row}
		if t := q.Dot(secret); t != product[j] {
			return nil, fmt.Errorf("row %d: negacyclic row gives %d, ring product %d", len(inst.Inequalities), t, product[j])
		}
		delta, err := uniformInt(oraclePRNG, -p.Spread, p.Spread)
		if err != nil {
			return nil, err
		}
		q.Value = product[j] + delta
		q.Op = nodes.SmallerEq
		if delta < 0 {
			q.Op = nodes.Greater
		}
		if p.FlipRate > 0 {
			q.ProbCorrect = 1 - p.FlipRate
			u, err := uniformFloat(oraclePRNG)
			if err != nil {
				return nil, err
			}
			if u < p.FlipRate {
				q.Op = negate(q.Op)
				q.Flipped = true
			}
		}
		inst.Inequalities = append(inst.Inequalities, q)
	}
	debuglog.Logf("instance", "n=%d eta=%d: %d inequalities", p.N, p.Eta, len(inst.Inequalities))
	return inst, nil
}

// Row returns the coefficients a with (c·s)_j = Σ a_k·s_k in
// Z[X]/(X^n + 1): a_k = c_{j-k} for k ≤ j and -c_{n+j-k} otherwise.
func Row(c []int, j int) []int {
	n := len(c)
	row := make([]int, n)
	for k := 0; k < n; k++ {
		if k <= j {
			row[k] = c[j-k]
		} else {
			row[k] = -c[n+j-k]
		}
	}
	return row
}

func negate(op nodes.CmpOperator) nodes.CmpOperator {
	switch op {
	case nodes.SmallerEq:
		return nodes.Greater
	case nodes.Smaller:
		return nodes.GreaterEq
	case nodes.GreaterEq:
		return nodes.Smaller
	default:
		return nodes.SmallerEq
	}
}

// embed writes small signed coefficients into p mod q.
func embed(r *ring.Ring, coeffs []int, p *ring.Poly) {
	for level, q := range r.Modulus {
		for i, v := range coeffs {
			if v < 0 {
				p.Coeffs[level][i] = q - uint64(-v)
			} else {
				p.Coeffs[level][i] = uint64(v)
			}
		}
	}
}

// center lifts the first level of p to (-q/2, q/2].
func center(r *ring.Ring, p *ring.Poly) []int {
	q := r.Modulus[0]
	out := make([]int, len(p.Coeffs[0]))
	for i, c := range p.Coeffs[0] {
		if c > q/2 {
			out[i] = -int(q - c)
		} else {
			out[i] = int(c)
		}
	}
	return out
}

// sampleSigns fills p with uniform ±1 coefficients. The ternary sampler
// cannot be asked for a zero probability of 0.
func sampleSigns(prng io.Reader, r *ring.Ring, p *ring.Poly) error {
	buf := make([]byte, len(p.Coeffs[0]))
	if _, err := io.ReadFull(prng, buf); err != nil {
		return fmt.Errorf("prng read: %w", err)
	}
	signs := make([]int, len(buf))
	for i, b := range buf {
		signs[i] = 1 - 2*int(b&1)
	}
	embed(r, signs, p)
	return nil
}

// sampleCBD draws n samples of popcount(a) - popcount(b) for two eta-bit
// words a and b.
func sampleCBD(prng io.Reader, n, eta int) ([]int, error) {
	mask := byte(1)<<eta - 1
	buf := make([]byte, 2*n)
	if _, err := io.ReadFull(prng, buf); err != nil {
		return nil, fmt.Errorf("prng read: %w", err)
	}
	out := make([]int, n)
	for i := range out {
		a := bits.OnesCount8(buf[2*i] & mask)
		b := bits.OnesCount8(buf[2*i+1] & mask)
		out[i] = a - b
	}
	return out, nil
}

// uniformInt samples from [lo, hi] by rejection.
func uniformInt(prng io.Reader, lo, hi int) (int, error) {
	if hi < lo {
		return 0, fmt.Errorf("empty range [%d, %d]", lo, hi)
	}
	span := uint64(hi - lo + 1)
	threshold := (^uint64(0) / span) * span
	buf := make([]byte, 8)
	for {
		if _, err := io.ReadFull(prng, buf); err != nil {
			return 0, fmt.Errorf("prng read: %w", err)
		}
		word := binary.LittleEndian.Uint64(buf)
		if word < threshold {
			return lo + int(word%span), nil
		}
	}
}

// uniformFloat samples from [0, 1) with 53 bits of precision.
func uniformFloat(prng io.Reader) (float64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(prng, buf); err != nil {
		return 0, fmt.Errorf("prng read: %w", err)
	}
	return float64(binary.LittleEndian.Uint64(buf)>>11) / (1 << 53), nil
}
