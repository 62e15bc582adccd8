package perf

import (
	"fmt"
	"sort"
	"time"
)

// FlagKind distinguishes the anomaly classes a recommendation can
// report.
type FlagKind uint8

const (
	FlagLatencyRegression FlagKind = iota
	FlagHighErrorRate
)

func (f FlagKind) String() string {
	switch f {
	case FlagLatencyRegression:
		return "latency_regression"
	case FlagHighErrorRate:
		return "high_error_rate"
	default:
		return "unrecognized"
	}
}

// Recommendation flags one syscall id whose recent behaviour deviates
// from its long-term profile.
type Recommendation struct {
	Syscall uint32   `json:"syscall"`
	Flag    FlagKind `json:"-"`
	Kind    string   `json:"kind"`
	Detail  string   `json:"detail"`

	RecentMean time.Duration `json:"recent_mean,omitempty"`
	LongMean   time.Duration `json:"long_mean,omitempty"`
	ErrorRate  float64       `json:"error_rate,omitempty"`
}

// SetAnomalyDetection enables or disables Recommendations. Sampling is
// unaffected either way.
func (m *Monitor) SetAnomalyDetection(on bool) {
	m.anomalyOn.Store(on)
}

// AnomalyDetection reports whether Recommendations is active.
func (m *Monitor) AnomalyDetection() bool {
	return m.anomalyOn.Load()
}

// Recommendations compares each syscall's last completed window
// against its long-term aggregate and flags latency regressions and
// elevated error rates. Windows with fewer than MinWindowSamples
// samples are skipped so cold syscalls don't produce noise.
func (m *Monitor) Recommendations() []Recommendation {
	if !m.anomalyOn.Load() {
		return nil
	}

	m.flush()

	var out []Recommendation

	m.aggMu.Lock()
	for id, agg := range m.aggs {
		out = append(out, m.inspect(id, agg)...)
	}
	m.aggMu.Unlock()

	sortRecommendations(out)

	return out
}

// inspect must be called with aggMu held.
func (m *Monitor) inspect(syscall uint32, agg *aggregate) []Recommendation {
	w := &agg.window
	if w.prevCount < m.cfg.MinWindowSamples {
		return nil
	}

	var out []Recommendation

	recentMean := time.Duration(w.prevSumNS / w.prevCount)

	if agg.count > 0 {
		longMean := time.Duration(agg.sumNS / agg.count)

		if longMean > 0 && float64(recentMean) > m.cfg.LatencyFactor*float64(longMean) {
			out = append(out, Recommendation{
				Syscall: syscall,
				Flag:    FlagLatencyRegression,
				Kind:    FlagLatencyRegression.String(),
				Detail: fmt.Sprintf("recent mean %v exceeds %.1fx long-term mean %v",
					recentMean, m.cfg.LatencyFactor, longMean),
				RecentMean: recentMean,
				LongMean:   longMean,
			})
		}
	}

	rate := float64(w.prevErrs) / float64(w.prevCount)
	if rate > m.cfg.ErrorRateLimit {
		out = append(out, Recommendation{
			Syscall: syscall,
			Flag:    FlagHighErrorRate,
			Kind:    FlagHighErrorRate.String(),
			Detail: fmt.Sprintf("error rate %.0f%% over the last window exceeds the %.0f%% limit",
				rate*100, m.cfg.ErrorRateLimit*100),
			ErrorRate: rate,
		})
	}

	return out
}

func sortRecommendations(recs []Recommendation) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Syscall != recs[j].Syscall {
			return recs[i].Syscall < recs[j].Syscall
		}

		return recs[i].Flag < recs[j].Flag
	})
}
