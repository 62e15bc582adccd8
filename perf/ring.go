package perf

import (
	"sync"
	"time"

	"github.com/multios-dev/syscore/syserr"
)

// Sample is one completed call observation. Samples from a single
// thread land in completion order; no order is promised across threads.
type Sample struct {
	CallID   uint64
	Syscall  uint32
	Caller   uint32
	Duration time.Duration
	Err      syserr.Kind
	When     time.Time
}

// sampleRing is a bounded ring of samples. Capacity is fixed at init
// and appends overwrite the oldest entry, so the hot path never
// allocates.
type sampleRing struct {
	mu   sync.Mutex
	buf  []Sample
	head int
	n    int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]Sample, capacity)}
}

func (r *sampleRing) append(s Sample) {
	r.mu.Lock()

	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)

	if r.n < len(r.buf) {
		r.n++
	}

	r.mu.Unlock()
}

// recent copies out up to n samples, newest first.
func (r *sampleRing) recent(n int) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.n {
		n = r.n
	}

	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}

	return out
}

func (r *sampleRing) reset() {
	r.mu.Lock()
	r.head, r.n = 0, 0
	r.mu.Unlock()
}
