package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTrackerStats(t *testing.T) {
	lt := NewLatencyTracker(0.01)
	for i := 1; i <= 100; i++ {
		lt.Record("GET /home", time.Duration(i)*time.Millisecond)
	}

	stats, err := lt.GetStats("GET /home")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.Count)
	assert.InDelta(t, 1.0, stats.Min, 0.05)
	assert.InDelta(t, 50.0, stats.P50, 1.5)
	assert.InDelta(t, 99.0, stats.P99, 2.0)
	assert.InDelta(t, 100.0, stats.Max, 1.5)
	assert.Contains(t, stats.String(), "GET /home (n=100)")

	_, err = lt.GetStats("missing")
	assert.Error(t, err)
	_, err = lt.GetQuantile("missing", 0.5)
	assert.Error(t, err)
}

func TestRecordFunc(t *testing.T) {
	lt := NewLatencyTracker(0.01)
	boom := errors.New("boom")
	err := lt.RecordFunc("source.home", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	q, err := lt.GetQuantile("source.home", 0.5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, q, 0.0)
}

func TestGetAllStatsSorted(t *testing.T) {
	lt := NewLatencyTracker(0.01)
	lt.Record("b", time.Millisecond)
	lt.Record("a", time.Millisecond)
	lt.Record("c", time.Millisecond)

	all := lt.GetAllStats()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Operation, all[1].Operation, all[2].Operation})
}

func TestEmptyStatsString(t *testing.T) {
	assert.Equal(t, "  op: no data", Stats{Operation: "op"}.String())
}
