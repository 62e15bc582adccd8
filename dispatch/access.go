package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/multios-dev/syscore/syserr"
)

// Capability bits compared against a descriptor's RequiredCaps. A call
// proceeds only when the caller holds every bit the descriptor names.
const (
	CapFileRead uint64 = 1 << iota
	CapFileWrite
	CapProcControl
	CapThreadControl
	CapMemControl
	CapSysInfo
	CapSecurityAdmin
	CapDebug
)

// CapsBasic is the capability set granted to ordinary unprivileged
// callers.
const CapsBasic = CapFileRead | CapFileWrite | CapThreadControl | CapSysInfo

// Privilege is the trap's origin mode. Only the two recognized levels
// are ever accepted; anything else is rejected outright to prevent
// confused-deputy cases.
type Privilege uint8

const (
	PrivilegeUser   Privilege = 0
	PrivilegeKernel Privilege = 3
)

func (p Privilege) String() string {
	switch p {
	case PrivilegeUser:
		return "user"
	case PrivilegeKernel:
		return "kernel"
	default:
		return "unrecognized"
	}
}

// Credentials identify the calling process. They are process-wide and
// read-only for the duration of a call.
type Credentials struct {
	UID  uint32
	GID  uint32
	Caps uint64
}

// AddressSpace is the memory subsystem's view of the caller: it reports
// whether user ranges are mapped with the required permissions and
// exposes kernel-addressable views of them. Implementations must not
// mutate caller memory on either call.
type AddressSpace interface {
	// Accessible reports whether [addr, addr+length) lies inside a
	// mapped, caller-accessible region with the required permission.
	Accessible(addr, length uint64, write bool) bool
	// View returns a kernel-addressable slice backing [addr, addr+length).
	View(addr, length uint64) ([]byte, error)
}

// FDTable is the caller's open-descriptor table.
type FDTable interface {
	Contains(fd int32) bool
}

// Caller bundles everything the pipeline needs to know about the
// process behind a trap. The process subsystem supplies one per call.
type Caller struct {
	Credentials Credentials
	// Space may be nil for kernel-mode callers, whose pointers are
	// trusted and never resolved through it.
	Space AddressSpace
	FDs   FDTable
}

// AccessController decides whether a validated call may proceed, and
// audits every denial before returning it so downstream aggregation
// sees the event even if the caller discards the result.
type AccessController struct {
	logger *zap.SugaredLogger
	errlog *syserr.Log
}

func NewAccessController(logger *zap.SugaredLogger, errlog *syserr.Log) *AccessController {
	return &AccessController{logger: logger, errlog: errlog}
}

// Check applies the access algorithm: kernel mode is always allowed;
// kernel-only descriptors and missing capability bits are denied.
// Unrecognized privilege levels are denied unconditionally.
func (a *AccessController) Check(callID uint64, desc *Descriptor, caller *Caller, priv Privilege) syserr.Kind {
	if priv == PrivilegeKernel {
		return syserr.Ok
	}

	if priv != PrivilegeUser {
		a.audit(callID, desc, caller, "unrecognized privilege level")
		return syserr.PermissionDenied
	}

	if desc.KernelOnly {
		a.audit(callID, desc, caller, "kernel-only syscall from user mode")
		return syserr.PermissionDenied
	}

	if caller.Credentials.Caps&desc.RequiredCaps != desc.RequiredCaps {
		a.audit(callID, desc, caller, "missing required capabilities")
		return syserr.PermissionDenied
	}

	return syserr.Ok
}

func (a *AccessController) audit(callID uint64, desc *Descriptor, caller *Caller, reason string) {
	a.errlog.Append(syserr.Record{
		CallID:   callID,
		Syscall:  desc.ID,
		Kind:     syserr.SecurityViolation,
		Severity: syserr.SeverityElevated,
		Message:  syserr.SecurityViolation.Message(),
		UID:      caller.Credentials.UID,
		GID:      caller.Credentials.GID,
		Time:     time.Now(),
	})

	a.logger.Warnw("syscall denied",
		"call_id", callID,
		"syscall", desc.Name,
		"uid", caller.Credentials.UID,
		"reason", reason,
	)
}
