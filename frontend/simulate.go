package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/multios-dev/syscore/dispatch"
	"github.com/multios-dev/syscore/perf"
	"github.com/multios-dev/syscore/syserr"
)

// SimulateCfg shapes a synthetic workload.
type SimulateCfg struct {
	Workers    int
	Calls      int // per worker
	PlanPath   string
	LayoutPath string // optional extra address-space layout
	Seed       int64
	ErrorShare float64 // fraction of calls built to fail
	Verbose    bool
}

// SimReport is the JSON document a simulation run emits.
type SimReport struct {
	Workers    int                    `json:"workers"`
	CallsPerW  int                    `json:"calls_per_worker"`
	Elapsed    time.Duration          `json:"elapsed_ns"`
	Dispatch   dispatch.StatsSnapshot `json:"dispatch"`
	Aggregates []perf.Aggregate       `json:"aggregates"`
	Flags      []perf.Recommendation  `json:"flags"`
	ErrorsTail []syserr.Record        `json:"errors_tail"`
}

const (
	simBufBase = 0x0000_7000_0000_0000
	simBufSize = 1 << 16

	simAllocCap = 1 << 24
)

// RunSimulation drives a synthetic mixed workload through a freshly
// assembled System and writes a JSON report to out. Every worker gets
// its own mapped buffer region so validation always sees disjoint
// memory.
func RunSimulation(ctx context.Context, sys *System, cfg *SimulateCfg, out io.Writer) error {
	space := NewSimAddressSpace()
	fds := NewSimFDTable(0, 1, 2)

	if cfg.LayoutPath != "" {
		regions, err := LoadLayout(cfg.LayoutPath)
		if err != nil {
			return fmt.Errorf("failed to load address-space layout: %w", err)
		}

		for _, r := range regions {
			if err := space.Map(r.Start, r.End-r.Start, r.Writable); err != nil {
				return fmt.Errorf("failed to map layout region: %w", err)
			}
		}
	}

	if err := InstallSimHandlers(sys, fds, simAllocCap); err != nil {
		return fmt.Errorf("failed to install simulation handlers: %w", err)
	}

	for w := 0; w < cfg.Workers; w++ {
		base := uint64(simBufBase + w*2*simBufSize)
		if err := space.Map(base, simBufSize, true); err != nil {
			return fmt.Errorf("failed to map worker buffer: %w", err)
		}
	}

	// In verbose runs every failed call and each worker's finish is
	// logged.
	var trace *zap.SugaredLogger
	if cfg.Verbose {
		trace = sys.logger
	}

	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)

	for w := 0; w < cfg.Workers; w++ {
		worker := simWorker{
			sys:   sys,
			rng:   rand.New(rand.NewSource(cfg.Seed + int64(w))),
			trace: trace,
			base:  uint64(simBufBase + w*2*simBufSize),
			caller: &dispatch.Caller{
				Credentials: dispatch.Credentials{
					UID:  uint32(1000 + w),
					GID:  1000,
					Caps: dispatch.CapsBasic | dispatch.CapFileWrite | dispatch.CapMemControl,
				},
				Space: space,
				FDs:   fds,
			},
			errShare: cfg.ErrorShare,
		}

		g.Go(func() error {
			return worker.run(ctx, cfg.Calls)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed running simulation workload: %w", err)
	}

	report := SimReport{
		Workers:    cfg.Workers,
		CallsPerW:  cfg.Calls,
		Elapsed:    time.Since(start),
		Dispatch:   sys.DispatchStats(),
		Aggregates: sys.AllAggregates(),
		Flags:      sys.Recommendations(),
		ErrorsTail: sys.RecentErrors(16),
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode simulation report: %w", err)
	}

	return nil
}

type simWorker struct {
	sys      *System
	rng      *rand.Rand
	trace    *zap.SugaredLogger
	base     uint64
	caller   *dispatch.Caller
	errShare float64
}

func (w *simWorker) run(ctx context.Context, calls int) error {
	pathAddr := w.base
	bufAddr := w.base + 4096

	if err := w.caller.Space.(*SimAddressSpace).WriteString(pathAddr, "/tmp/sim.dat"); err != nil {
		return err
	}

	const flagCreate = 0x40

	for i := 0; i < calls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		bad := w.rng.Float64() < w.errShare

		switch w.rng.Intn(6) {
		case 0: // open/write/close round trip
			fd, kind := w.dispatch(dispatch.SysFileOpen, pathAddr, flagCreate, 0o644)
			if kind != syserr.Ok {
				continue
			}

			w.dispatch(dispatch.SysFileWrite, fd, bufAddr, 64)
			w.dispatch(dispatch.SysFileClose, fd)
		case 1: // read through a possibly-bogus buffer
			addr := bufAddr
			if bad {
				addr = 0 // null pointer, rejected in validation
			}

			fd, kind := w.dispatch(dispatch.SysFileOpen, pathAddr, flagCreate, 0o644)
			if kind != syserr.Ok {
				continue
			}

			w.dispatch(dispatch.SysFileRead, fd, addr, 128)
			w.dispatch(dispatch.SysFileClose, fd)
		case 2: // fast path
			w.dispatch(dispatch.SysProcGetPID)
		case 3:
			w.dispatch(dispatch.SysThreadYield)
		case 4: // allocation pressure
			size := uint64(4096)
			if bad {
				size = simAllocCap // guaranteed to trip the cap
			}

			addr, kind := w.dispatch(dispatch.SysMemAlloc, size, 0)
			if kind == syserr.Ok {
				w.dispatch(dispatch.SysMemFree, addr, size)
			}
		case 5: // privileged id from an unprivileged caller
			if bad {
				w.dispatch(dispatch.SysSecSetPerm, 42, 0)
			} else {
				w.dispatch(dispatch.SysInfoTime)
			}
		}
	}

	if w.trace != nil {
		w.trace.Infow("worker finished",
			"uid", w.caller.Credentials.UID,
			"calls", calls,
		)
	}

	return nil
}

// dispatch issues one user-privilege call with up to six raw words.
func (w *simWorker) dispatch(id uint32, args ...uint64) (uint64, syserr.Kind) {
	frame := dispatch.Frame{Syscall: id, Privilege: dispatch.PrivilegeUser}
	copy(frame.Args[:], args)

	res := w.sys.Dispatch(&frame, w.caller)

	if w.trace != nil && res.Kind != syserr.Ok {
		w.trace.Infow("call failed",
			"syscall", id,
			"kind", res.Kind.String(),
			"uid", w.caller.Credentials.UID,
		)
	}

	return res.Value, res.Kind
}
