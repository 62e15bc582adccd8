package syserr

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

// Strategy selects how the dispatcher reacts to a failure of a given
// kind before surfacing it to the caller.
type Strategy uint8

const (
	// FailFast surfaces the error immediately; the caller must fix its input.
	FailFast Strategy = iota
	// Retry re-invokes the same handler with the same validated
	// arguments after an exponential backoff.
	Retry
	// Escalate surfaces the error immediately but records it at
	// elevated severity.
	Escalate
	// Translate surfaces a different kind in place of the original.
	Translate
)

var strategyNames = map[Strategy]string{
	FailFast:  "fail_fast",
	Retry:     "retry",
	Escalate:  "escalate",
	Translate: "translate",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

func parseStrategy(s string) (Strategy, error) {
	for k, name := range strategyNames {
		if name == s {
			return k, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrBadPlan, s)
}

var ErrBadPlan = errors.New("invalid recovery plan")

// Plan is the recovery strategy for one error kind.
//
// For Retry plans, MaxAttempts bounds the total handler invocations
// (first attempt included), Backoff is the delay before the first
// re-invocation (doubling each attempt), and MaxBackoff caps any single
// delay so the cumulative wait stays below MaxAttempts*MaxBackoff.
type Plan struct {
	Strategy    Strategy
	MaxAttempts uint
	Backoff     time.Duration
	MaxBackoff  time.Duration
	TranslateTo Kind
}

func (p Plan) validate() error {
	var errs error

	if p.Strategy == Retry {
		if p.MaxAttempts < 2 {
			errs = multierr.Append(errs, fmt.Errorf("%w: retry needs at least 2 attempts, got %d", ErrBadPlan, p.MaxAttempts))
		}
		if p.Backoff <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: retry backoff must be positive", ErrBadPlan))
		}
		if p.MaxBackoff < p.Backoff {
			errs = multierr.Append(errs, fmt.Errorf("%w: max backoff below base backoff", ErrBadPlan))
		}
	}

	if p.Strategy == Translate && (!p.TranslateTo.Valid() || p.TranslateTo == Ok) {
		errs = multierr.Append(errs, fmt.Errorf("%w: translate target %v", ErrBadPlan, p.TranslateTo))
	}

	return errs
}

// PlanTable maps every error kind to its plan. The table is built once
// at init (or loaded from TOML) and mutated only through Set, which is
// the administrative reload path.
type PlanTable struct {
	mu    sync.RWMutex
	plans [KindCount]Plan
}

// DefaultPlans returns the stock plan table:
//
//	InvalidArgument, ValueOutOfRange, InvalidPointer  FailFast
//	ResourceUnavailable                               Retry(3, 1ms..100ms)
//	MemoryAllocationFailed                            Retry(2, 5ms..50ms)
//	PermissionDenied, SecurityViolation               Escalate
//	FileNotFound, OperationNotSupported               FailFast
//	Internal                                          FailFast (elevated)
func DefaultPlans() *PlanTable {
	t := &PlanTable{}

	t.plans[ResourceUnavailable] = Plan{
		Strategy:    Retry,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		MaxBackoff:  100 * time.Millisecond,
	}
	t.plans[MemoryAllocationFailed] = Plan{
		Strategy:    Retry,
		MaxAttempts: 2,
		Backoff:     5 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}
	t.plans[PermissionDenied] = Plan{Strategy: Escalate}
	t.plans[SecurityViolation] = Plan{Strategy: Escalate}

	// Everything else defaults to the zero Plan, which is FailFast.

	return t
}

// Plan returns the active plan for k. Unknown kinds fail fast.
func (t *PlanTable) Plan(k Kind) Plan {
	if !k.Valid() {
		return Plan{Strategy: FailFast}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.plans[k]
}

// Set installs a new plan for k. This is the only writer after init.
func (t *PlanTable) Set(k Kind, p Plan) error {
	if !k.Valid() || k == Ok {
		return fmt.Errorf("%w: cannot plan for kind %v", ErrBadPlan, k)
	}

	if err := p.validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.plans[k] = p

	return nil
}

type planTOML struct {
	Strategy    string `toml:"strategy"`
	MaxAttempts uint   `toml:"max-attempts"`
	Backoff     string `toml:"backoff"`
	MaxBackoff  string `toml:"max-backoff"`
	TranslateTo string `toml:"translate-to"`
}

type planFileTOML struct {
	Plans map[string]planTOML `toml:"plans"`
}

// LoadPlans reads a plan table from a TOML file. Kinds absent from the
// file keep their default plan. Every malformed entry is reported, not
// just the first.
func LoadPlans(path string) (*PlanTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer file.Close()

	var parsed planFileTOML
	if _, err := toml.NewDecoder(file).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode plan file: %w", err)
	}

	table := DefaultPlans()

	var errs error

	for name, raw := range parsed.Plans {
		kind, err := ParseKind(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		plan, err := raw.toPlan()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plan for %q: %w", name, err))
			continue
		}

		if err := table.Set(kind, plan); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plan for %q: %w", name, err))
		}
	}

	if errs != nil {
		return nil, errs
	}

	return table, nil
}

func (p planTOML) toPlan() (Plan, error) {
	strategy, err := parseStrategy(p.Strategy)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Strategy:    strategy,
		MaxAttempts: p.MaxAttempts,
	}

	if p.Backoff != "" {
		if plan.Backoff, err = time.ParseDuration(p.Backoff); err != nil {
			return Plan{}, fmt.Errorf("%w: backoff: %v", ErrBadPlan, err)
		}
	}

	if p.MaxBackoff != "" {
		if plan.MaxBackoff, err = time.ParseDuration(p.MaxBackoff); err != nil {
			return Plan{}, fmt.Errorf("%w: max-backoff: %v", ErrBadPlan, err)
		}
	}

	if p.TranslateTo != "" {
		if plan.TranslateTo, err = ParseKind(p.TranslateTo); err != nil {
			return Plan{}, err
		}
	}

	return plan, nil
}

// MarshalTOML renders the table's current contents as TOML, suitable
// for round-tripping through LoadPlans.
func (t *PlanTable) MarshalTOML() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := planFileTOML{Plans: make(map[string]planTOML, KindCount)}

	for k := InvalidArgument; k < KindCount; k++ {
		p := t.plans[k]

		entry := planTOML{
			Strategy:    p.Strategy.String(),
			MaxAttempts: p.MaxAttempts,
		}

		if p.Backoff > 0 {
			entry.Backoff = p.Backoff.String()
		}
		if p.MaxBackoff > 0 {
			entry.MaxBackoff = p.MaxBackoff.String()
		}
		if p.Strategy == Translate {
			entry.TranslateTo = p.TranslateTo.String()
		}

		out.Plans[k.String()] = entry
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(out); err != nil {
		return nil, fmt.Errorf("failed to encode plan table: %w", err)
	}

	return buf.Bytes(), nil
}
