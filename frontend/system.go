package frontend

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/multios-dev/syscore/dispatch"
	"github.com/multios-dev/syscore/perf"
	"github.com/multios-dev/syscore/syserr"
)

// SystemCfg assembles a System. Zero-value fields fall back to
// defaults: the built-in syscall table, the default recovery plans,
// and the default monitor configuration.
type SystemCfg struct {
	Logger      *zap.SugaredLogger
	Descriptors []dispatch.Descriptor
	PlanPath    string // optional TOML recovery-plan overrides
	Monitor     perf.Config
	ErrorLogCap int
}

// System wires the registry, dispatcher, monitor and error log into a
// single syscall entry point. It owns nothing the caller hands it
// except the logger.
type System struct {
	logger     *zap.SugaredLogger
	registry   *dispatch.Registry
	plans      *syserr.PlanTable
	errlog     *syserr.Log
	monitor    *perf.Monitor
	dispatcher *dispatch.Dispatcher
}

func NewSystem(cfg *SystemCfg) (*System, error) {
	logger := cfg.Logger
	if logger == nil {
		l, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to get production zap logger: %w", err)
		}

		logger = l.Sugar()
	}

	descs := cfg.Descriptors
	if descs == nil {
		descs = dispatch.DefaultTable()
	}

	registry, err := dispatch.NewRegistry(descs)
	if err != nil {
		return nil, fmt.Errorf("failed to build syscall registry: %w", err)
	}

	plans := syserr.DefaultPlans()

	if cfg.PlanPath != "" {
		plans, err = syserr.LoadPlans(cfg.PlanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load recovery plans: %w", err)
		}
	}

	errlog := syserr.NewLog(logger, cfg.ErrorLogCap)
	monitor := perf.NewMonitor(logger, cfg.Monitor)

	return &System{
		logger:     logger,
		registry:   registry,
		plans:      plans,
		errlog:     errlog,
		monitor:    monitor,
		dispatcher: dispatch.NewDispatcher(logger, registry, plans, errlog, monitor),
	}, nil
}

// Close stops the monitor's background folding. The system must not
// dispatch afterwards.
func (s *System) Close() {
	s.monitor.Close()
}

// RegisterHandler binds a handler to a syscall id.
func (s *System) RegisterHandler(id uint32, h dispatch.Handler) error {
	return s.dispatcher.RegisterHandler(id, h)
}

// Trap is the architecture-facing entry. It dispatches the frame and
// folds the outcome into the two-register return convention: ret0 is
// the handler's value, ret1 the error code (zero on success).
func (s *System) Trap(frame *dispatch.Frame, caller *dispatch.Caller) (ret0, ret1 uint64) {
	res := s.Dispatch(frame, caller)
	if res.Kind != syserr.Ok {
		return 0, res.Kind.Code()
	}

	return res.Value, 0
}

// Dispatch runs the frame through the full pipeline and returns the
// structured result.
func (s *System) Dispatch(frame *dispatch.Frame, caller *dispatch.Caller) dispatch.Result {
	return s.dispatcher.Dispatch(frame, caller)
}

// Registry exposes the descriptor table for introspection.
func (s *System) Registry() *dispatch.Registry { return s.registry }

// Monitor exposes the performance monitor.
func (s *System) Monitor() *perf.Monitor { return s.monitor }

// DispatchStats snapshots the dispatcher's counters.
func (s *System) DispatchStats() dispatch.StatsSnapshot {
	return s.dispatcher.Stats()
}

// RecentErrors returns up to n error records, newest first.
func (s *System) RecentErrors(n int) []syserr.Record {
	return s.errlog.Recent(n)
}

// Aggregates returns the latency snapshot for one syscall id.
func (s *System) Aggregates(id uint32) (perf.Aggregate, bool) {
	return s.monitor.Aggregates(id)
}

// AllAggregates returns latency snapshots for every syscall seen.
func (s *System) AllAggregates() []perf.Aggregate {
	return s.monitor.AllAggregates()
}

// Recommendations surfaces anomaly flags from the monitor.
func (s *System) Recommendations() []perf.Recommendation {
	return s.monitor.Recommendations()
}

// SetPlan installs a recovery plan for one error kind at runtime.
func (s *System) SetPlan(kind syserr.Kind, plan syserr.Plan) error {
	return s.plans.Set(kind, plan)
}

// SetAnomalyDetection toggles the monitor's anomaly flags.
func (s *System) SetAnomalyDetection(on bool) {
	s.monitor.SetAnomalyDetection(on)
}

// ResetAggregates clears monitor state and dispatcher counters.
func (s *System) ResetAggregates() {
	s.monitor.Reset()
	s.dispatcher.ResetStats()
}
