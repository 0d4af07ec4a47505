package belief

import "math"

// Entropy returns the Shannon entropy in bits of a probability distribution.
// Terms where p·log2(p) is NaN (p = 0 and its neighbours) contribute nothing.
func Entropy(probs map[int]float64) float64 {
	var h float64
	for _, p := range probs {
		t := p * math.Log2(p)
		if math.IsNaN(t) {
			continue
		}
		h -= t
	}
	return h
}
