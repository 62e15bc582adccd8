package dispatch

import (
	"math"

	"go.uber.org/zap"

	"github.com/multios-dev/syscore/syserr"
)

// KernelBase is the lowest kernel virtual address. User ranges that
// reach it fail validation rather than fault later.
const KernelBase uint64 = 0xFFFF_8000_0000_0000

// stringScanChunk bounds each accessibility probe during terminator
// scans, so a string crossing into an unmapped page fails cleanly.
const stringScanChunk = 256

// Arg is one typed, bounds-checked argument. Which field is meaningful
// depends on Kind.
type Arg struct {
	Kind ArgKind
	// Int holds integer values, and the raw word for kernel-mode
	// pointer arguments that bypass translation.
	Int uint64
	// Buf is a kernel-addressable view of a validated user range. It is
	// safe to read (and write, for Write specs) but must not be
	// retained past the handler invocation.
	Buf []byte
	// Str is a copied, terminator-stripped user string.
	Str string
	FD  int32
}

// ValidatedArgs pairs a call's typed arguments with their descriptor.
// It lives for the handler invocation only.
type ValidatedArgs struct {
	Desc *Descriptor

	args [MaxArgs]Arg
	n    int
}

func (va *ValidatedArgs) Len() int { return va.n }

func (va *ValidatedArgs) Arg(i int) *Arg {
	if i < 0 || i >= va.n {
		return nil
	}
	return &va.args[i]
}

// Int returns argument i's integer value, or 0 when out of range.
func (va *ValidatedArgs) Int(i int) uint64 {
	if a := va.Arg(i); a != nil {
		return a.Int
	}
	return 0
}

// Buf returns argument i's kernel-safe buffer view.
func (va *ValidatedArgs) Buf(i int) []byte {
	if a := va.Arg(i); a != nil {
		return a.Buf
	}
	return nil
}

// Str returns argument i's validated string.
func (va *ValidatedArgs) Str(i int) string {
	if a := va.Arg(i); a != nil {
		return a.Str
	}
	return ""
}

// FD returns argument i's file descriptor, or -1 when out of range.
func (va *ValidatedArgs) FD(i int) int32 {
	if a := va.Arg(i); a != nil {
		return a.FD
	}
	return -1
}

// Validator converts raw register words into typed arguments safe for
// kernel consumption. Validation is side-effect-free: it never writes
// to caller memory.
type Validator struct {
	logger *zap.SugaredLogger
}

func NewValidator(logger *zap.SugaredLogger) *Validator {
	return &Validator{logger: logger}
}

// Validate checks each raw word against its declared spec.
//
// Kernel-mode callers are trusted: user-address checks are bypassed and
// pointer words pass through raw, but integer-range checks still apply.
func (v *Validator) Validate(desc *Descriptor, raw *[MaxArgs]uint64, caller *Caller, priv Privilege) (ValidatedArgs, syserr.Kind) {
	va := ValidatedArgs{Desc: desc, n: len(desc.Args)}

	trusted := priv == PrivilegeKernel

	for i, spec := range desc.Args {
		arg, kind := v.validateOne(&spec, raw, raw[i], caller, trusted)
		if kind != syserr.Ok {
			v.logger.Debugw("argument rejected",
				"syscall", desc.Name,
				"arg", spec.Name,
				"kind", kind.String(),
			)

			return ValidatedArgs{}, kind
		}

		va.args[i] = arg
	}

	return va, syserr.Ok
}

func (v *Validator) validateOne(spec *ArgSpec, raw *[MaxArgs]uint64, word uint64, caller *Caller, trusted bool) (Arg, syserr.Kind) {
	switch spec.Kind {
	case ArgInteger:
		if word < spec.Min || word > spec.Max {
			return Arg{}, syserr.ValueOutOfRange
		}
		return Arg{Kind: ArgInteger, Int: word}, syserr.Ok

	case ArgPointer:
		if trusted {
			return Arg{Kind: ArgPointer, Int: word}, syserr.Ok
		}
		return v.validatePointer(spec, raw, word, caller.Space)

	case ArgString:
		if trusted {
			return Arg{Kind: ArgString, Int: word}, syserr.Ok
		}
		return v.validateString(spec, word, caller.Space)

	case ArgFD:
		if trusted {
			return Arg{Kind: ArgFD, Int: word, FD: int32(word)}, syserr.Ok
		}
		return v.validateFD(word, caller.FDs)

	default:
		return Arg{}, syserr.Internal
	}
}

func (v *Validator) validatePointer(spec *ArgSpec, raw *[MaxArgs]uint64, word uint64, space AddressSpace) (Arg, syserr.Kind) {
	length := spec.Size
	if spec.LenArg >= 0 {
		length = raw[spec.LenArg]
	}

	// Zero-length buffers are valid and need no backing memory.
	if length == 0 {
		return Arg{Kind: ArgPointer, Int: word, Buf: []byte{}}, syserr.Ok
	}

	if kind := checkUserRange(word, length); kind != syserr.Ok {
		return Arg{}, kind
	}

	if space == nil || !space.Accessible(word, length, spec.Write) {
		return Arg{}, syserr.InvalidPointer
	}

	buf, err := space.View(word, length)
	if err != nil {
		return Arg{}, syserr.InvalidPointer
	}

	return Arg{Kind: ArgPointer, Int: word, Buf: buf}, syserr.Ok
}

func (v *Validator) validateString(spec *ArgSpec, word uint64, space AddressSpace) (Arg, syserr.Kind) {
	if kind := checkUserRange(word, 1); kind != syserr.Ok {
		return Arg{}, kind
	}

	if space == nil {
		return Arg{}, syserr.InvalidPointer
	}

	// Scan for the terminator in bounded chunks so a string that runs
	// into an unmapped page is rejected, not faulted on. A chunk that
	// is only partly mapped is shrunk to its accessible prefix; the
	// terminator must then fall inside it.
	var collected []byte

	for off := uint64(0); off < spec.MaxLen; off += stringScanChunk {
		chunk := uint64(stringScanChunk)
		if rem := spec.MaxLen - off; rem < chunk {
			chunk = rem
		}

		if kind := checkUserRange(word+off, chunk); kind != syserr.Ok {
			return Arg{}, kind
		}

		got := accessiblePrefix(space, word+off, chunk)
		if got == 0 {
			return Arg{}, syserr.InvalidPointer
		}

		view, err := space.View(word+off, got)
		if err != nil {
			return Arg{}, syserr.InvalidPointer
		}

		for i, b := range view {
			if b == 0 {
				collected = append(collected, view[:i]...)
				return Arg{Kind: ArgString, Int: word, Str: string(collected)}, syserr.Ok
			}
		}

		// Region ended before a terminator appeared.
		if got < chunk {
			return Arg{}, syserr.InvalidPointer
		}

		collected = append(collected, view...)
	}

	// No terminator within MaxLen.
	return Arg{}, syserr.InvalidArgument
}

func (v *Validator) validateFD(word uint64, fds FDTable) (Arg, syserr.Kind) {
	fd := int64(word)
	if fd < 0 || fd > math.MaxInt32 {
		return Arg{}, syserr.InvalidArgument
	}

	if fds == nil || !fds.Contains(int32(fd)) {
		return Arg{}, syserr.InvalidArgument
	}

	return Arg{Kind: ArgFD, Int: word, FD: int32(fd)}, syserr.Ok
}

// accessiblePrefix reports the longest accessible prefix of
// [addr, addr+want), found by binary search so a partly mapped chunk
// costs O(log chunk) probes rather than one per byte.
func accessiblePrefix(space AddressSpace, addr, want uint64) uint64 {
	if space.Accessible(addr, want, false) {
		return want
	}

	var lo, hi uint64 = 0, want
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if space.Accessible(addr, mid, false) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return lo
}

// checkUserRange rejects null pointers, ranges that wrap the address
// space, and ranges that reach kernel memory.
func checkUserRange(addr, length uint64) syserr.Kind {
	if addr == 0 {
		return syserr.InvalidPointer
	}

	end := addr + length
	if end < addr {
		return syserr.InvalidPointer
	}

	if addr >= KernelBase || end > KernelBase {
		return syserr.InvalidPointer
	}

	return syserr.Ok
}
