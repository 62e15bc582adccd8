package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/multios-dev/syscore/syserr"
)

var (
	ErrHandlerExists  = errors.New("handler already registered")
	ErrUnknownSyscall = errors.New("syscall id not in registry")
)

// Frame is the raw register frame delivered by a trap entry: the
// syscall id, six argument words, and the origin privilege level.
type Frame struct {
	Syscall   uint32
	Args      [MaxArgs]uint64
	Privilege Privilege
}

// Result is what a dispatch surfaces to the caller: a value and an
// error kind, never packed into one integer. Kind is syserr.Ok on
// success.
type Result struct {
	Value uint64
	Kind  syserr.Kind
}

// Handler executes one syscall. Handlers receive kernel-safe typed
// arguments, never raw user pointers, and must not retain any
// pointer-derived slice past return. A handler may block; the recorded
// call duration then includes the wait.
type Handler func(caller *Caller, args *ValidatedArgs) (uint64, syserr.Kind)

// Monitor observes call lifecycles. It never mutates results. The
// completion timestamp is the dispatcher's own clock reading, so
// implementations need no clock of their own.
type Monitor interface {
	OnStart(callID uint64, syscall uint32, callerUID uint32)
	OnComplete(callID uint64, syscall uint32, callerUID uint32, when time.Time, d time.Duration, kind syserr.Kind, fastPath bool)
}

// NopMonitor drops all observations. It is the baseline for the
// monitoring overhead benchmark.
type NopMonitor struct{}

func (NopMonitor) OnStart(uint64, uint32, uint32) {}

func (NopMonitor) OnComplete(uint64, uint32, uint32, time.Time, time.Duration, syserr.Kind, bool) {}

// retryAttemptsCeil is the hard upper bound on handler invocations per
// call, regardless of what a plan asks for.
const retryAttemptsCeil = 16

// Dispatcher orchestrates the per-call pipeline: registry lookup,
// access control, argument validation, handler dispatch, recovery, and
// monitoring. It holds no per-call state; Dispatch is safe to invoke
// concurrently from as many threads as receive traps.
type Dispatcher struct {
	logger    *zap.SugaredLogger
	registry  *Registry
	validator *Validator
	access    *AccessController
	plans     *syserr.PlanTable
	errlog    *syserr.Log
	monitor   Monitor

	handlers [MaxSyscalls]Handler

	nextCallID atomic.Uint64
	stats      dispatcherStats
}

type dispatcherStats struct {
	total       atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	denied      atomic.Uint64
	invalidArgs atomic.Uint64
	unknown     atomic.Uint64
	byKind      [syserr.KindCount]atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the dispatcher counters.
type StatsSnapshot struct {
	Total              uint64            `json:"total"`
	Succeeded          uint64            `json:"succeeded"`
	Failed             uint64            `json:"failed"`
	AccessDenials      uint64            `json:"access_denials"`
	ValidationFailures uint64            `json:"validation_failures"`
	UnknownSyscalls    uint64            `json:"unknown_syscalls"`
	ByKind             map[string]uint64 `json:"by_kind"`
}

// NewDispatcher wires the pipeline. A nil monitor disables monitoring,
// nil plans fall back to the defaults, and a nil error log gets a
// bounded one of default capacity.
func NewDispatcher(
	logger *zap.SugaredLogger,
	registry *Registry,
	plans *syserr.PlanTable,
	errlog *syserr.Log,
	monitor Monitor,
) *Dispatcher {
	if plans == nil {
		plans = syserr.DefaultPlans()
	}

	if errlog == nil {
		errlog = syserr.NewLog(logger, syserr.DefaultLogCapacity)
	}

	if monitor == nil {
		monitor = NopMonitor{}
	}

	return &Dispatcher{
		logger:    logger,
		registry:  registry,
		validator: NewValidator(logger),
		access:    NewAccessController(logger, errlog),
		plans:     plans,
		errlog:    errlog,
		monitor:   monitor,
	}
}

// RegisterHandler installs the handler for id. Duplicate registration
// and unknown ids are init-time programming errors, reported here
// rather than at dispatch.
func (d *Dispatcher) RegisterHandler(id uint32, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for syscall %d", id)
	}

	if d.registry.Lookup(id) == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSyscall, id)
	}

	if d.handlers[id] != nil {
		return fmt.Errorf("%w: %d", ErrHandlerExists, id)
	}

	d.handlers[id] = h

	return nil
}

// Registry exposes the descriptor table for introspection.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Plans exposes the recovery-plan table; Set on it is the
// administrative reload path.
func (d *Dispatcher) Plans() *syserr.PlanTable { return d.plans }

// ErrorLog exposes the bounded error log for introspection.
func (d *Dispatcher) ErrorLog() *syserr.Log { return d.errlog }

// Dispatch runs one call through the full pipeline. Every admitted
// frame produces exactly one monitor completion, and every error that
// crosses back to the caller leaves exactly one error record per
// attempt.
func (d *Dispatcher) Dispatch(frame *Frame, caller *Caller) Result {
	callID := d.nextCallID.Inc()
	start := time.Now()

	d.stats.total.Inc()

	desc := d.registry.Lookup(frame.Syscall)
	fastPath := desc != nil && desc.FastPath

	d.monitor.OnStart(callID, frame.Syscall, caller.Credentials.UID)

	res := d.run(callID, frame, caller, desc)

	end := time.Now()
	d.monitor.OnComplete(callID, frame.Syscall, caller.Credentials.UID,
		end, end.Sub(start), res.Kind, fastPath)

	if res.Kind == syserr.Ok {
		d.stats.succeeded.Inc()
	} else {
		d.stats.failed.Inc()
		d.stats.byKind[res.Kind].Inc()
	}

	return res
}

func (d *Dispatcher) run(callID uint64, frame *Frame, caller *Caller, desc *Descriptor) Result {
	if desc == nil {
		d.stats.unknown.Inc()
		d.record(callID, frame.Syscall, caller, syserr.OperationNotSupported, syserr.SeverityNormal)

		return Result{Kind: syserr.OperationNotSupported}
	}

	// Access control runs before argument validation so that a
	// malformed pointer in a denied call is never resolved. The
	// controller audits every denial itself.
	if kind := d.access.Check(callID, desc, caller, frame.Privilege); kind != syserr.Ok {
		d.stats.denied.Inc()

		return Result{Kind: kind}
	}

	args, kind := d.validator.Validate(desc, &frame.Args, caller, frame.Privilege)
	if kind != syserr.Ok {
		d.stats.invalidArgs.Inc()
		d.record(callID, desc.ID, caller, kind, kind.Severity())

		return Result{Kind: kind}
	}

	handler := d.handlers[desc.ID]
	if handler == nil {
		d.record(callID, desc.ID, caller, syserr.OperationNotSupported, syserr.SeverityNormal)

		return Result{Kind: syserr.OperationNotSupported}
	}

	return d.invoke(callID, desc, handler, caller, &args)
}

// invoke runs the handler and applies the recovery plan for its error
// kind. Retry plans re-invoke the same handler with the same validated
// arguments after an exponential backoff; each failed attempt leaves
// its own error record.
func (d *Dispatcher) invoke(callID uint64, desc *Descriptor, handler Handler, caller *Caller, args *ValidatedArgs) Result {
	var (
		value    uint64
		last     syserr.Kind
		attempts uint
	)

	err := retry.Do(
		func() error {
			attempts++

			v, kind := d.safeCall(handler, caller, args)
			if kind == syserr.Ok {
				value = v
				return nil
			}

			plan := d.plans.Plan(kind)
			severity := kind.Severity()

			switch plan.Strategy {
			case syserr.Escalate:
				severity = syserr.SeverityElevated
			case syserr.Translate:
				kind = plan.TranslateTo
				severity = kind.Severity()
			}

			last = kind
			d.record(callID, desc.ID, caller, kind, severity)

			return &syserr.Error{Kind: kind}
		},
		retry.Attempts(retryAttemptsCeil),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			plan := d.plans.Plan(syserr.KindOf(err))
			return plan.Strategy == syserr.Retry && attempts < plan.MaxAttempts
		}),
		retry.DelayType(d.backoff),
	)
	if err == nil {
		return Result{Value: value, Kind: syserr.Ok}
	}

	return Result{Kind: last}
}

// backoff doubles the plan's base delay on every retry, capped at the
// plan's MaxBackoff so cumulative wait stays below
// MaxAttempts*MaxBackoff.
func (d *Dispatcher) backoff(n uint, err error, _ *retry.Config) time.Duration {
	plan := d.plans.Plan(syserr.KindOf(err))
	if plan.Strategy != syserr.Retry || plan.Backoff <= 0 {
		return 0
	}

	delay := plan.Backoff << n
	if plan.MaxBackoff > 0 && delay > plan.MaxBackoff {
		delay = plan.MaxBackoff
	}

	return delay
}

// safeCall invokes the handler, converting panics and out-of-taxonomy
// kinds into Internal.
func (d *Dispatcher) safeCall(handler Handler, caller *Caller, args *ValidatedArgs) (value uint64, kind syserr.Kind) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("handler panicked",
				"syscall", args.Desc.Name,
				"panic", r,
			)

			value, kind = 0, syserr.Internal
		}
	}()

	value, kind = handler(caller, args)
	if !kind.Valid() {
		kind = syserr.Internal
	}

	return value, kind
}

func (d *Dispatcher) record(callID uint64, syscall uint32, caller *Caller, kind syserr.Kind, severity syserr.Severity) {
	d.errlog.Append(syserr.Record{
		CallID:   callID,
		Syscall:  syscall,
		Kind:     kind,
		Severity: severity,
		Message:  kind.Message(),
		UID:      caller.Credentials.UID,
		GID:      caller.Credentials.GID,
		Time:     time.Now(),
	})
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		Total:              d.stats.total.Load(),
		Succeeded:          d.stats.succeeded.Load(),
		Failed:             d.stats.failed.Load(),
		AccessDenials:      d.stats.denied.Load(),
		ValidationFailures: d.stats.invalidArgs.Load(),
		UnknownSyscalls:    d.stats.unknown.Load(),
		ByKind:             make(map[string]uint64, syserr.KindCount),
	}

	for k := syserr.Kind(1); k < syserr.KindCount; k++ {
		if n := d.stats.byKind[k].Load(); n > 0 {
			snap.ByKind[k.String()] = n
		}
	}

	return snap
}

// ResetStats zeroes the dispatcher counters. Aggregate resets live on
// the monitor.
func (d *Dispatcher) ResetStats() {
	d.stats.total.Store(0)
	d.stats.succeeded.Store(0)
	d.stats.failed.Store(0)
	d.stats.denied.Store(0)
	d.stats.invalidArgs.Store(0)
	d.stats.unknown.Store(0)

	for i := range d.stats.byKind {
		d.stats.byKind[i].Store(0)
	}
}
