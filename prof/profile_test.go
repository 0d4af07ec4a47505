package prof

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackAndSnapshot(t *testing.T) {
	SnapshotAndReset()
	Track(time.Now().Add(-time.Millisecond), "round")
	Track(time.Now(), "readout")

	entries := SnapshotAndReset()
	require.Len(t, entries, 2)
	assert.Equal(t, "round", entries[0].Label)
	assert.GreaterOrEqual(t, entries[0].Dur, time.Millisecond)
	assert.Empty(t, SnapshotAndReset())
}

func TestAggregate(t *testing.T) {
	stats := Aggregate([]Entry{
		{"round", 3 * time.Millisecond},
		{"readout", 10 * time.Millisecond},
		{"round", 5 * time.Millisecond},
	})
	require.Len(t, stats, 2)
	assert.Equal(t, Stat{Label: "readout", Count: 1, Total: 10 * time.Millisecond}, stats[0])
	assert.Equal(t, Stat{Label: "round", Count: 2, Total: 8 * time.Millisecond}, stats[1])
	assert.Equal(t, 4*time.Millisecond, stats[1].Mean())
	assert.Equal(t, time.Duration(0), Stat{}.Mean())
	assert.Empty(t, Aggregate(nil))
}
