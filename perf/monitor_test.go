package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/multios-dev/syscore/syserr"
)

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()

	m := NewMonitor(zap.NewNop().Sugar(), cfg)
	t.Cleanup(m.Close)

	return m
}

func complete(m *Monitor, id uint64, syscall uint32, d time.Duration, kind syserr.Kind) {
	m.OnStart(id, syscall, 1000)
	m.OnComplete(id, syscall, 1000, time.Now(), d, kind, false)
}

func TestMonitorAggregates(t *testing.T) {
	m := newTestMonitor(t, Config{})

	complete(m, 1, 7, 10*time.Millisecond, syserr.Ok)
	complete(m, 2, 7, 30*time.Millisecond, syserr.Ok)
	complete(m, 3, 7, 20*time.Millisecond, syserr.FileNotFound)

	agg, ok := m.Aggregates(7)
	require.True(t, ok)

	require.Equal(t, uint64(3), agg.Count)
	require.Equal(t, uint64(1), agg.Errors)
	require.Equal(t, 60*time.Millisecond, agg.Sum)
	require.Equal(t, 10*time.Millisecond, agg.Min)
	require.Equal(t, 30*time.Millisecond, agg.Max)
	require.Equal(t, 20*time.Millisecond, agg.Mean)

	_, ok = m.Aggregates(99)
	require.False(t, ok)
}

func TestMonitorQuantiles(t *testing.T) {
	m := newTestMonitor(t, Config{})

	for i := 1; i <= 100; i++ {
		complete(m, uint64(i), 7, time.Duration(i)*time.Millisecond, syserr.Ok)
	}

	agg, ok := m.Aggregates(7)
	require.True(t, ok)

	// The sketch guarantees 1% relative accuracy; allow 5% so bin
	// boundaries don't flake the test.
	require.InEpsilon(t, float64(50*time.Millisecond), float64(agg.P50), 0.05)
	require.InEpsilon(t, float64(95*time.Millisecond), float64(agg.P95), 0.05)
	require.InEpsilon(t, float64(99*time.Millisecond), float64(agg.P99), 0.05)
}

func TestMonitorAllAggregatesOrdered(t *testing.T) {
	m := newTestMonitor(t, Config{})

	for _, id := range []uint32{300, 7, 105, 7} {
		complete(m, 1, id, time.Millisecond, syserr.Ok)
	}

	aggs := m.AllAggregates()
	require.Len(t, aggs, 3)

	for i := 1; i < len(aggs); i++ {
		require.Less(t, aggs[i-1].Syscall, aggs[i].Syscall)
	}
}

func TestMonitorRecentSamples(t *testing.T) {
	m := newTestMonitor(t, Config{RingCapacity: 4})

	for i := uint64(1); i <= 6; i++ {
		complete(m, i, 7, time.Millisecond, syserr.Ok)
	}

	samples := m.RecentSamples(0)
	require.Len(t, samples, 4)

	// Newest first; the oldest two were overwritten.
	for i, want := range []uint64{6, 5, 4, 3} {
		require.Equal(t, want, samples[i].CallID)
	}

	require.Len(t, m.RecentSamples(2), 2)
}

func TestMonitorPathCounts(t *testing.T) {
	m := newTestMonitor(t, Config{})

	m.OnStart(1, 7, 1000)
	m.OnComplete(1, 7, 1000, time.Now(), time.Millisecond, syserr.Ok, true)
	m.OnStart(2, 8, 1000)
	m.OnComplete(2, 8, 1000, time.Now(), time.Millisecond, syserr.Ok, false)

	require.Equal(t, uint64(2), m.Completed())

	fast, standard := m.PathCounts()
	require.Equal(t, uint64(1), fast)
	require.Equal(t, uint64(1), standard)
}

// A full shard buffer folds in place rather than dropping completions.
func TestMonitorBufferOverflowKeepsEveryEvent(t *testing.T) {
	m := newTestMonitor(t, Config{})

	const calls = shardBufCap + 100

	// Every call id lands in the same shard so the buffer fills even
	// if the flush loop never gets scheduled.
	for i := 0; i < calls; i++ {
		m.OnComplete(uint64(i*numShards), 7, 1000, time.Now(), time.Millisecond, syserr.Ok, false)
	}

	agg, ok := m.Aggregates(7)
	require.True(t, ok)
	require.Equal(t, uint64(calls), agg.Count)
}

func TestMonitorHighErrorRateFlag(t *testing.T) {
	m := newTestMonitor(t, Config{
		Window:           30 * time.Millisecond,
		ErrorRateLimit:   0.5,
		MinWindowSamples: 4,
	})

	for i := uint64(1); i <= 8; i++ {
		complete(m, i, 7, time.Millisecond, syserr.ResourceUnavailable)
	}

	// Nothing flagged until a window completes.
	require.Empty(t, m.Recommendations())

	time.Sleep(40 * time.Millisecond)
	complete(m, 9, 7, time.Millisecond, syserr.Ok)

	recs := m.Recommendations()
	require.Len(t, recs, 1)
	require.Equal(t, uint32(7), recs[0].Syscall)
	require.Equal(t, FlagHighErrorRate, recs[0].Flag)
	require.Greater(t, recs[0].ErrorRate, 0.5)
}

func TestMonitorLatencyRegressionFlag(t *testing.T) {
	m := newTestMonitor(t, Config{
		Window:           30 * time.Millisecond,
		LatencyFactor:    2.0,
		MinWindowSamples: 4,
	})

	// Fast baseline window.
	for i := uint64(1); i <= 20; i++ {
		complete(m, i, 7, time.Millisecond, syserr.Ok)
	}

	time.Sleep(40 * time.Millisecond)

	// Slow recent window.
	for i := uint64(21); i <= 30; i++ {
		complete(m, i, 7, 100*time.Millisecond, syserr.Ok)
	}

	time.Sleep(40 * time.Millisecond)
	complete(m, 31, 7, time.Millisecond, syserr.Ok)

	recs := m.Recommendations()
	require.Len(t, recs, 1)
	require.Equal(t, FlagLatencyRegression, recs[0].Flag)
	require.Greater(t, recs[0].RecentMean, recs[0].LongMean)
}

func TestMonitorAnomalyToggle(t *testing.T) {
	m := newTestMonitor(t, Config{
		Window:           10 * time.Millisecond,
		ErrorRateLimit:   0.5,
		MinWindowSamples: 1,
	})

	complete(m, 1, 7, time.Millisecond, syserr.Internal)
	time.Sleep(20 * time.Millisecond)
	complete(m, 2, 7, time.Millisecond, syserr.Internal)

	require.True(t, m.AnomalyDetection())
	require.NotEmpty(t, m.Recommendations())

	m.SetAnomalyDetection(false)
	require.Empty(t, m.Recommendations())
}

func TestMonitorReset(t *testing.T) {
	m := newTestMonitor(t, Config{})

	complete(m, 1, 7, time.Millisecond, syserr.Ok)
	m.Reset()

	_, ok := m.Aggregates(7)
	require.False(t, ok)
	require.Empty(t, m.RecentSamples(0))
	require.Zero(t, m.Completed())
}

func TestMonitorConcurrent(t *testing.T) {
	const (
		workers = 8
		calls   = 500
	)

	m := newTestMonitor(t, Config{})

	var eg errgroup.Group

	for w := 0; w < workers; w++ {
		w := w

		eg.Go(func() error {
			for i := 0; i < calls; i++ {
				id := uint64(w*calls + i)
				syscall := uint32(i % 4)

				kind := syserr.Ok
				if i%10 == 0 {
					kind = syserr.ResourceUnavailable
				}

				complete(m, id, syscall, time.Duration(i%50)*time.Microsecond, kind)
			}

			return nil
		})
	}

	require.NoError(t, eg.Wait())

	var total uint64
	for _, agg := range m.AllAggregates() {
		total += agg.Count
	}

	require.Equal(t, uint64(workers*calls), total)
	require.Equal(t, uint64(workers*calls), m.Completed())
}
