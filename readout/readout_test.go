package readout

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkbp/belief"
	"checkbp/nodes"
)

type fakeSource struct {
	msgs map[nodes.NodeIndex]belief.Message
}

func (f *fakeSource) Result(id nodes.NodeIndex) (belief.Message, bool, error) {
	if id < 0 {
		return belief.Message{}, false, fmt.Errorf("no node %d", id)
	}
	m, ok := f.msgs[id]
	if !ok {
		return belief.Message{}, false, nil
	}
	return m.Clone(), true, nil
}

func source(n int) *fakeSource {
	src := &fakeSource{msgs: make(map[nodes.NodeIndex]belief.Message, n)}
	for i := 0; i < n; i++ {
		m := belief.MustNew(5)
		for v := m.Min(); v <= m.Max(); v++ {
			m.Set(v, float64(1+(i+v+2)%5))
		}
		src.msgs[nodes.NodeIndex(i)] = m
	}
	return src
}

func TestFromMessage(t *testing.T) {
	m, err := belief.FromWeights([]float64{0, 0, 3, 0, 0})
	require.NoError(t, err)
	got, err := FromMessage(m)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Entropy)
	assert.Equal(t, 1.0, got.Probs[0])
	assert.Equal(t, 0, got.MostLikely())
	w, _ := m.Get(0)
	assert.Equal(t, 3.0, w, "input is untouched")

	flat, err := belief.FromWeights([]float64{2, 2, 2, 2, 2})
	require.NoError(t, err)
	got, err = FromMessage(flat)
	require.NoError(t, err)
	assert.InDelta(t, math.Log2(5), got.Entropy, 1e-12)
	assert.Equal(t, -2, got.MostLikely())

	_, err = FromMessage(belief.MustNew(3))
	require.ErrorIs(t, err, belief.ErrNormalization)
}

func TestFetchParallelMatchesSequential(t *testing.T) {
	src := source(23)
	ids := make([]nodes.NodeIndex, 23)
	for i := range ids {
		ids[i] = nodes.NodeIndex(i)
	}
	want := make(map[nodes.NodeIndex]Marginal, len(ids))
	for _, id := range ids {
		m, err := Fetch(src, id)
		require.NoError(t, err)
		want[id] = m
	}
	for _, threads := range []int{1, 2, 3, 4, 7, 23, 64} {
		got, err := FetchParallel(src, ids, threads)
		require.NoError(t, err, "threads=%d", threads)
		assert.Equal(t, want, got, "threads=%d", threads)
	}
}

func TestFetchParallelErrors(t *testing.T) {
	src := source(4)
	_, err := FetchParallel(src, []nodes.NodeIndex{0, 1}, 0)
	require.ErrorIs(t, err, ErrThreadCount)

	_, err = FetchParallel(src, []nodes.NodeIndex{0, 1, 9, 2}, 2)
	require.ErrorIs(t, err, ErrResultMissing)

	_, err = FetchParallel(src, []nodes.NodeIndex{0, -1}, 2)
	require.Error(t, err)

	got, err := FetchParallel(src, nil, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummarize(t *testing.T) {
	ms := map[nodes.NodeIndex]Marginal{
		0: {Entropy: 0},
		1: {Entropy: 1},
		2: {Entropy: 2},
	}
	s := Summarize(ms)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 1.0, s.MeanEntropy, 1e-12)
	assert.Equal(t, 2.0, s.MaxEntropy)
	assert.Equal(t, Summary{}, Summarize(nil))
}
