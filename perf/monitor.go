package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/multios-dev/syscore/syserr"
)

// relativeAccuracy is the DDSketch guarantee: quantile estimates are
// within 1% (relative) of the true value.
const relativeAccuracy = 0.01

// sketchMaxBins caps each sketch's store, collapsing the lowest bins
// when exceeded, so per-syscall memory stays bounded.
const sketchMaxBins = 2048

// numShards must stay a power of two; completions are sharded by
// call id.
const numShards = 16

// shardBufCap bounds one shard's event buffer. A full buffer is folded
// in place, so no completion is ever dropped.
const shardBufCap = 2048

// Config tunes the monitor. The zero value is replaced by defaults.
type Config struct {
	// RingCapacity bounds the recent-sample ring.
	RingCapacity int
	// Window is the sliding-window width used for anomaly detection
	// and throughput.
	Window time.Duration
	// LatencyFactor flags a syscall whose recent-window mean exceeds
	// this multiple of its long-term mean.
	LatencyFactor float64
	// ErrorRateLimit flags a syscall whose recent-window error rate
	// exceeds this ratio.
	ErrorRateLimit float64
	// MinWindowSamples suppresses flags until a window has at least
	// this many samples.
	MinWindowSamples uint64
	// FlushInterval bounds how stale aggregates get when nothing
	// reads them; buffered completions are folded at least this often.
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RingCapacity:     4096,
		Window:           10 * time.Second,
		LatencyFactor:    2.0,
		ErrorRateLimit:   0.5,
		MinWindowSamples: 32,
		FlushInterval:    time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.RingCapacity <= 0 {
		c.RingCapacity = def.RingCapacity
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.LatencyFactor <= 0 {
		c.LatencyFactor = def.LatencyFactor
	}
	if c.ErrorRateLimit <= 0 {
		c.ErrorRateLimit = def.ErrorRateLimit
	}
	if c.MinWindowSamples == 0 {
		c.MinWindowSamples = def.MinWindowSamples
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
}

// Aggregate is a point-in-time snapshot of one syscall id's latency
// statistics.
//
// Durations are end-to-end: a handler that blocks on I/O contributes
// its full wait time. P50/P95/P99 come from a DDSketch and are accurate
// to within 1% relative error.
type Aggregate struct {
	Syscall    uint32        `json:"syscall"`
	Count      uint64        `json:"count"`
	Errors     uint64        `json:"errors"`
	Sum        time.Duration `json:"sum"`
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
	Mean       time.Duration `json:"mean"`
	P50        time.Duration `json:"p50"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	RecentRate float64       `json:"recent_rate"` // calls/sec over the last window
}

// event is the compact observation written on the completion path.
// Folding it into aggregates, the sketch and the sample ring happens
// off the dispatch path.
type event struct {
	callID  uint64
	whenNS  int64
	durNS   int64
	syscall uint32
	caller  uint32
	kind    syserr.Kind
	fast    bool
}

// eventShard is one fixed-capacity completion buffer. The mutex is
// held only for the append or the swap out.
type eventShard struct {
	mu  sync.Mutex
	buf [shardBufCap]event
	n   int
}

// aggregate holds one syscall id's running statistics. Every field is
// guarded by the monitor's aggMu; the completion path never touches
// them.
type aggregate struct {
	count uint64
	errs  uint64
	sumNS uint64
	minNS uint64
	maxNS uint64

	sketch *ddsketch.DDSketch
	window windowState
}

// windowState is a two-bucket sliding window: the current bucket fills
// until Window elapses, then rotates into prev. Anomaly checks read the
// last completed bucket.
type windowState struct {
	start time.Time

	curCount uint64
	curErrs  uint64
	curSumNS uint64

	prevCount uint64
	prevErrs  uint64
	prevSumNS uint64
	prevDur   time.Duration
}

func (w *windowState) rotate(now time.Time, width time.Duration) {
	elapsed := now.Sub(w.start)
	if elapsed < width {
		return
	}

	w.prevCount, w.prevErrs, w.prevSumNS = w.curCount, w.curErrs, w.curSumNS
	w.prevDur = elapsed
	w.curCount, w.curErrs, w.curSumNS = 0, 0, 0
	w.start = now
}

// Monitor records per-call latency samples and maintains per-syscall
// aggregates. The dispatch-facing path only appends a fixed-size event
// to a sharded, preallocated buffer; a flush loop folds buffered
// events into the sketches, sliding windows and the sample ring, and
// every read path folds first so snapshots are current. Sample-ring
// contents may therefore lag the newest completions by up to one
// flush interval.
type Monitor struct {
	logger *zap.SugaredLogger
	cfg    Config

	shards [numShards]eventShard

	// flushMu serializes folding and owns batch.
	flushMu sync.Mutex
	batch   []event

	aggMu     sync.Mutex
	aggs      map[uint32]*aggregate
	completed uint64
	fastPath  uint64
	standard  uint64

	ring *sampleRing

	anomalyOn atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewMonitor(logger *zap.SugaredLogger, cfg Config) *Monitor {
	cfg.applyDefaults()

	m := &Monitor{
		logger: logger,
		cfg:    cfg,
		aggs:   make(map[uint32]*aggregate),
		ring:   newSampleRing(cfg.RingCapacity),
		done:   make(chan struct{}),
	}

	m.anomalyOn.Store(true)

	go m.flushLoop()

	return m
}

// Close stops the flush loop after a final fold. No completions may be
// delivered afterwards.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.flush()
	})
}

// OnStart is part of the dispatcher's monitor contract. Entry state
// lives on the dispatcher's stack frame; the monitor only observes
// completions.
func (m *Monitor) OnStart(callID uint64, syscall uint32, callerUID uint32) {}

// OnComplete buffers the completed call; the timestamp comes from the
// dispatcher, so the completion path takes no clock reading of its
// own. The buffer is preallocated and the shard mutex is held only for
// the append. A full shard folds in place, which only happens when the
// flush loop is starved.
func (m *Monitor) OnComplete(callID uint64, syscall uint32, callerUID uint32, when time.Time, d time.Duration, kind syserr.Kind, fastPath bool) {
	sh := &m.shards[callID&(numShards-1)]

	sh.mu.Lock()

	if sh.n == len(sh.buf) {
		m.foldShardLocked(sh)
	}

	sh.buf[sh.n] = event{
		callID:  callID,
		whenNS:  when.UnixNano(),
		durNS:   int64(d),
		syscall: syscall,
		caller:  callerUID,
		kind:    kind,
		fast:    fastPath,
	}
	sh.n++

	sh.mu.Unlock()
}

func (m *Monitor) flushLoop() {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

// flush folds every buffered event. Read paths call it so snapshots
// are current; the flush loop calls it on a timer so buffers drain
// even when nobody reads.
func (m *Monitor) flush() {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	batch := m.batch[:0]

	for i := range m.shards {
		sh := &m.shards[i]

		sh.mu.Lock()
		batch = append(batch, sh.buf[:sh.n]...)
		sh.n = 0
		sh.mu.Unlock()
	}

	// Ring appends should track completion order as closely as the
	// shard buffers allow.
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].whenNS < batch[j].whenNS
	})

	m.aggMu.Lock()
	for i := range batch {
		m.fold(&batch[i])
	}
	m.aggMu.Unlock()

	m.batch = batch[:0]
}

// foldShardLocked drains one full shard in place. The caller holds the
// shard mutex; lock order is shard before aggMu.
func (m *Monitor) foldShardLocked(sh *eventShard) {
	m.aggMu.Lock()
	for i := range sh.buf[:sh.n] {
		m.fold(&sh.buf[i])
	}
	m.aggMu.Unlock()

	sh.n = 0
}

// fold must be called with aggMu held.
func (m *Monitor) fold(e *event) {
	agg, ok := m.aggs[e.syscall]
	if !ok {
		agg = m.newAggregate(time.Unix(0, e.whenNS))
		m.aggs[e.syscall] = agg
	}

	ns := uint64(e.durNS)

	agg.count++
	agg.sumNS += ns

	if ns < agg.minNS {
		agg.minNS = ns
	}
	if ns > agg.maxNS {
		agg.maxNS = ns
	}

	if e.kind != syserr.Ok {
		agg.errs++
	}

	if agg.sketch != nil && ns > 0 {
		// Collapsing sketch; Add only errors on non-positive input.
		_ = agg.sketch.Add(float64(ns))
	}

	when := time.Unix(0, e.whenNS)

	agg.window.rotate(when, m.cfg.Window)
	agg.window.curCount++
	agg.window.curSumNS += ns
	if e.kind != syserr.Ok {
		agg.window.curErrs++
	}

	m.ring.append(Sample{
		CallID:   e.callID,
		Syscall:  e.syscall,
		Caller:   e.caller,
		Duration: time.Duration(e.durNS),
		Err:      e.kind,
		When:     when,
	})

	m.completed++
	if e.fast {
		m.fastPath++
	} else {
		m.standard++
	}
}

func (m *Monitor) newAggregate(now time.Time) *aggregate {
	agg := &aggregate{minNS: math.MaxUint64}
	agg.window.start = now

	sketch, err := ddsketch.LogCollapsingLowestDenseDDSketch(relativeAccuracy, sketchMaxBins)
	if err != nil {
		// Only reachable with a broken accuracy constant; aggregates
		// then carry counts without quantiles.
		m.logger.Errorw("failed to create latency sketch", "err", err)
	} else {
		agg.sketch = sketch
	}

	return agg
}

// Aggregates returns the snapshot for one syscall id. ok is false when
// the id has never completed a call.
func (m *Monitor) Aggregates(syscall uint32) (Aggregate, bool) {
	m.flush()

	m.aggMu.Lock()
	defer m.aggMu.Unlock()

	agg, ok := m.aggs[syscall]
	if !ok {
		return Aggregate{}, false
	}

	return m.snapshot(syscall, agg), true
}

// AllAggregates returns snapshots for every syscall id seen so far,
// ordered by id.
func (m *Monitor) AllAggregates() []Aggregate {
	m.flush()

	var out []Aggregate

	m.aggMu.Lock()
	for id, agg := range m.aggs {
		out = append(out, m.snapshot(id, agg))
	}
	m.aggMu.Unlock()

	sortAggregates(out)

	return out
}

// snapshot must be called with aggMu held.
func (m *Monitor) snapshot(syscall uint32, agg *aggregate) Aggregate {
	out := Aggregate{
		Syscall: syscall,
		Count:   agg.count,
		Errors:  agg.errs,
		Sum:     time.Duration(agg.sumNS),
		Max:     time.Duration(agg.maxNS),
	}

	if agg.minNS != math.MaxUint64 {
		out.Min = time.Duration(agg.minNS)
	}

	if out.Count > 0 {
		out.Mean = out.Sum / time.Duration(out.Count)
	}

	if agg.sketch != nil {
		out.P50 = quantile(agg.sketch, 0.50)
		out.P95 = quantile(agg.sketch, 0.95)
		out.P99 = quantile(agg.sketch, 0.99)
	}

	if agg.window.prevDur > 0 && agg.window.prevCount > 0 {
		out.RecentRate = float64(agg.window.prevCount) / agg.window.prevDur.Seconds()
	}

	return out
}

func quantile(sketch *ddsketch.DDSketch, q float64) time.Duration {
	v, err := sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}

	return time.Duration(v)
}

// RecentSamples returns up to n samples, newest first.
func (m *Monitor) RecentSamples(n int) []Sample {
	m.flush()

	return m.ring.recent(n)
}

// Completed reports how many calls the monitor has observed.
func (m *Monitor) Completed() uint64 {
	m.flush()

	m.aggMu.Lock()
	defer m.aggMu.Unlock()

	return m.completed
}

// PathCounts reports completed fast-path and standard-path calls.
func (m *Monitor) PathCounts() (fastPath, standard uint64) {
	m.flush()

	m.aggMu.Lock()
	defer m.aggMu.Unlock()

	return m.fastPath, m.standard
}

// Reset discards all samples and aggregates. Administrative use only.
func (m *Monitor) Reset() {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	for i := range m.shards {
		sh := &m.shards[i]

		sh.mu.Lock()
		sh.n = 0
		sh.mu.Unlock()
	}

	m.aggMu.Lock()
	m.aggs = make(map[uint32]*aggregate)
	m.completed, m.fastPath, m.standard = 0, 0, 0
	m.aggMu.Unlock()

	m.ring.reset()
}

func sortAggregates(aggs []Aggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		return aggs[i].Syscall < aggs[j].Syscall
	})
}
