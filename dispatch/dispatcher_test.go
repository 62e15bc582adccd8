package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/multios-dev/syscore/syserr"
)

// panicSpace fails the test if the pipeline ever resolves a pointer
// through it.
type panicSpace struct{}

func (panicSpace) Accessible(uint64, uint64, bool) bool { panic("pointer resolved in denied call") }

func (panicSpace) View(uint64, uint64) ([]byte, error) { panic("pointer resolved in denied call") }

// countingMonitor records lifecycle callbacks for parity checks.
type countingMonitor struct {
	mu        sync.Mutex
	starts    int
	completes int
	lastKind  syserr.Kind
	lastFast  bool
}

func (m *countingMonitor) OnStart(uint64, uint32, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.starts++
}

func (m *countingMonitor) OnComplete(_ uint64, _ uint32, _ uint32, _ time.Time, _ time.Duration, kind syserr.Kind, fast bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completes++
	m.lastKind = kind
	m.lastFast = fast
}

func testTable() []Descriptor {
	return []Descriptor{
		{ID: 1, Name: "empty_ok"},
		{ID: 2, Name: "needs_int", Args: []ArgSpec{Int("n", 0, 100)}},
		{ID: 3, Name: "flaky"},
		{ID: 4, Name: "quick", FastPath: true},
		{ID: 5, Name: "privileged", RequiredCaps: CapDebug},
		{ID: 9, Name: "kernel_gate", KernelOnly: true, Args: []ArgSpec{Ptr("p", 64)}},
		{ID: 10, Name: "no_handler"},
	}
}

func newTestDispatcher(t *testing.T, monitor Monitor) *Dispatcher {
	t.Helper()

	registry, err := NewRegistry(testTable())
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()

	return NewDispatcher(logger, registry, syserr.DefaultPlans(), syserr.NewLog(logger, 64), monitor)
}

func userCaller() *Caller {
	return &Caller{
		Credentials: Credentials{UID: 1000, GID: 1000, Caps: CapsBasic},
		Space:       &stubSpace{base: stubBase, data: make([]byte, 256), writable: true},
		FDs:         stubFDs{},
	}
}

func TestDispatchSuccess(t *testing.T) {
	monitor := &countingMonitor{}
	d := newTestDispatcher(t, monitor)

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 7, syserr.Ok
	}))

	res := d.Dispatch(&Frame{Syscall: 1}, userCaller())

	require.Equal(t, syserr.Ok, res.Kind)
	require.Equal(t, uint64(7), res.Value)
	require.Equal(t, 1, monitor.starts)
	require.Equal(t, 1, monitor.completes)
	require.Equal(t, 0, d.ErrorLog().Len())

	stats := d.Stats()
	require.Equal(t, uint64(1), stats.Total)
	require.Equal(t, uint64(1), stats.Succeeded)
	require.Equal(t, uint64(0), stats.Failed)
}

func TestDispatchValidationFailure(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.RegisterHandler(2, func(_ *Caller, args *ValidatedArgs) (uint64, syserr.Kind) {
		return args.Int(0), syserr.Ok
	}))

	res := d.Dispatch(&Frame{Syscall: 2, Args: [MaxArgs]uint64{500}}, userCaller())

	require.Equal(t, syserr.ValueOutOfRange, res.Kind)

	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, syserr.ValueOutOfRange, records[0].Kind)
	require.Equal(t, uint32(2), records[0].Syscall)
	require.NotEmpty(t, records[0].Message)

	require.Equal(t, uint64(1), d.Stats().ValidationFailures)
}

func TestDispatchUnknownSyscall(t *testing.T) {
	monitor := &countingMonitor{}
	d := newTestDispatcher(t, monitor)

	res := d.Dispatch(&Frame{Syscall: 777}, userCaller())

	require.Equal(t, syserr.OperationNotSupported, res.Kind)
	require.Equal(t, uint64(1), d.Stats().UnknownSyscalls)

	// Unregistered ids still complete the monitor lifecycle.
	require.Equal(t, 1, monitor.starts)
	require.Equal(t, 1, monitor.completes)
}

func TestDispatchMissingHandler(t *testing.T) {
	d := newTestDispatcher(t, nil)

	res := d.Dispatch(&Frame{Syscall: 10}, userCaller())

	require.Equal(t, syserr.OperationNotSupported, res.Kind)

	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, syserr.OperationNotSupported, records[0].Kind)
}

func TestDispatchKernelOnlyDeniedBeforeValidation(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.RegisterHandler(9, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.Ok
	}))

	caller := &Caller{
		Credentials: Credentials{UID: 1000, Caps: ^uint64(0)},
		Space:       panicSpace{},
		FDs:         stubFDs{},
	}

	// A malformed pointer in a denied call must never be resolved;
	// panicSpace enforces that.
	res := d.Dispatch(&Frame{Syscall: 9, Args: [MaxArgs]uint64{0xdeadbeef}}, caller)

	require.Equal(t, syserr.PermissionDenied, res.Kind)
	require.Equal(t, uint64(1), d.Stats().AccessDenials)

	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, syserr.SecurityViolation, records[0].Kind)
	require.Equal(t, syserr.SeverityElevated, records[0].Severity)
}

func TestDispatchCapabilityDenial(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.RegisterHandler(5, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.Ok
	}))

	res := d.Dispatch(&Frame{Syscall: 5}, userCaller())
	require.Equal(t, syserr.PermissionDenied, res.Kind)

	// The same frame from kernel mode is always allowed.
	res = d.Dispatch(&Frame{Syscall: 5, Privilege: PrivilegeKernel}, userCaller())
	require.Equal(t, syserr.Ok, res.Kind)
}

func TestDispatchRetrySucceeds(t *testing.T) {
	d := newTestDispatcher(t, nil)

	calls := 0

	require.NoError(t, d.RegisterHandler(3, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		calls++
		if calls < 3 {
			return 0, syserr.ResourceUnavailable
		}
		return 42, syserr.Ok
	}))

	res := d.Dispatch(&Frame{Syscall: 3}, userCaller())

	require.Equal(t, syserr.Ok, res.Kind)
	require.Equal(t, uint64(42), res.Value)
	require.Equal(t, 3, calls)

	// One record per failed attempt, none for the success.
	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 2)

	for _, r := range records {
		require.Equal(t, syserr.ResourceUnavailable, r.Kind)
	}

	require.Equal(t, uint64(1), d.Stats().Succeeded)
}

func TestDispatchRetryExhausted(t *testing.T) {
	d := newTestDispatcher(t, nil)

	calls := 0

	require.NoError(t, d.RegisterHandler(3, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		calls++
		return 0, syserr.ResourceUnavailable
	}))

	res := d.Dispatch(&Frame{Syscall: 3}, userCaller())

	require.Equal(t, syserr.ResourceUnavailable, res.Kind)

	// MaxAttempts bounds total invocations, first attempt included.
	require.Equal(t, 3, calls)
	require.Len(t, d.ErrorLog().Recent(0), 3)
}

func TestDispatchEscalate(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.PermissionDenied
	}))

	res := d.Dispatch(&Frame{Syscall: 1}, userCaller())

	require.Equal(t, syserr.PermissionDenied, res.Kind)

	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, syserr.SeverityElevated, records[0].Severity)
}

func TestDispatchTranslate(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.Plans().Set(syserr.FileNotFound, syserr.Plan{
		Strategy:    syserr.Translate,
		TranslateTo: syserr.OperationNotSupported,
	}))

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.FileNotFound
	}))

	res := d.Dispatch(&Frame{Syscall: 1}, userCaller())

	require.Equal(t, syserr.OperationNotSupported, res.Kind)

	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, syserr.OperationNotSupported, records[0].Kind)
}

func TestDispatchHandlerPanic(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		panic("handler bug")
	}))

	res := d.Dispatch(&Frame{Syscall: 1}, userCaller())

	require.Equal(t, syserr.Internal, res.Kind)

	records := d.ErrorLog().Recent(0)
	require.Len(t, records, 1)
	require.Equal(t, syserr.SeverityElevated, records[0].Severity)
}

func TestDispatchInvalidKindNormalized(t *testing.T) {
	d := newTestDispatcher(t, nil)

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.Kind(200)
	}))

	res := d.Dispatch(&Frame{Syscall: 1}, userCaller())
	require.Equal(t, syserr.Internal, res.Kind)
}

func TestRegisterHandlerErrors(t *testing.T) {
	d := newTestDispatcher(t, nil)

	h := func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) { return 0, syserr.Ok }

	require.NoError(t, d.RegisterHandler(1, h))
	require.ErrorIs(t, d.RegisterHandler(1, h), ErrHandlerExists)
	require.ErrorIs(t, d.RegisterHandler(777, h), ErrUnknownSyscall)
	require.Error(t, d.RegisterHandler(2, nil))
}

func TestDispatchFastPathFlag(t *testing.T) {
	monitor := &countingMonitor{}
	d := newTestDispatcher(t, monitor)

	require.NoError(t, d.RegisterHandler(4, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.Ok
	}))

	d.Dispatch(&Frame{Syscall: 4}, userCaller())
	require.True(t, monitor.lastFast)

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 0, syserr.Ok
	}))

	d.Dispatch(&Frame{Syscall: 1}, userCaller())
	require.False(t, monitor.lastFast)
}

func TestDispatchConcurrent(t *testing.T) {
	const (
		workers = 8
		calls   = 200
	)

	monitor := &countingMonitor{}
	d := newTestDispatcher(t, monitor)

	require.NoError(t, d.RegisterHandler(1, func(*Caller, *ValidatedArgs) (uint64, syserr.Kind) {
		return 1, syserr.Ok
	}))
	require.NoError(t, d.RegisterHandler(2, func(_ *Caller, args *ValidatedArgs) (uint64, syserr.Kind) {
		return args.Int(0), syserr.Ok
	}))

	var eg errgroup.Group

	for w := 0; w < workers; w++ {
		w := w

		eg.Go(func() error {
			caller := userCaller()

			for i := 0; i < calls; i++ {
				switch (w + i) % 3 {
				case 0:
					d.Dispatch(&Frame{Syscall: 1}, caller)
				case 1:
					d.Dispatch(&Frame{Syscall: 2, Args: [MaxArgs]uint64{uint64(i % 101)}}, caller)
				default:
					d.Dispatch(&Frame{Syscall: 777}, caller)
				}
			}

			return nil
		})
	}

	require.NoError(t, eg.Wait())

	stats := d.Stats()
	require.Equal(t, uint64(workers*calls), stats.Total)
	require.Equal(t, stats.Total, stats.Succeeded+stats.Failed)
	require.Equal(t, workers*calls, monitor.starts)
	require.Equal(t, workers*calls, monitor.completes)
}

func TestResetStats(t *testing.T) {
	d := newTestDispatcher(t, nil)

	d.Dispatch(&Frame{Syscall: 777}, userCaller())
	require.NotZero(t, d.Stats().Total)

	d.ResetStats()

	stats := d.Stats()
	require.Zero(t, stats.Total)
	require.Zero(t, stats.UnknownSyscalls)
	require.Empty(t, stats.ByKind)
}
