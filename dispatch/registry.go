package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// MaxSyscalls bounds the numeric id space. Ids are part of the external
// ABI once assigned and are never reused for different operations.
const MaxSyscalls = 1000

// MaxArgs is the register-packed argument limit per call.
const MaxArgs = 6

var (
	ErrBadDescriptor = errors.New("invalid syscall descriptor")
	ErrDuplicateID   = errors.New("duplicate syscall id")
	ErrDuplicateName = errors.New("duplicate syscall name")
)

// ArgKind discriminates how a raw register word is interpreted.
type ArgKind uint8

const (
	ArgInteger ArgKind = iota
	ArgPointer
	ArgString
	ArgFD
)

func (k ArgKind) String() string {
	switch k {
	case ArgInteger:
		return "integer"
	case ArgPointer:
		return "pointer"
	case ArgString:
		return "string"
	case ArgFD:
		return "fd"
	default:
		return fmt.Sprintf("argkind(%d)", uint8(k))
	}
}

// ArgSpec declares how one argument slot is validated. Build specs with
// the Int/Ptr/OutPtr/BufPtr/Str/FD constructors; the zero value is not a
// valid spec.
type ArgSpec struct {
	Name string
	Kind ArgKind

	// Integer bounds, inclusive. Only meaningful for ArgInteger.
	Min, Max uint64

	// Pointer sizing: either a fixed byte count, or the index of the
	// argument slot holding the length (LenArg >= 0 wins).
	Size   uint64
	LenArg int

	// Write marks a pointer the handler writes through, requiring the
	// caller mapping to be writable.
	Write bool

	// MaxLen bounds the terminator scan for ArgString.
	MaxLen uint64
}

// Int declares an integer argument constrained to [min, max].
func Int(name string, min, max uint64) ArgSpec {
	return ArgSpec{Name: name, Kind: ArgInteger, Min: min, Max: max, LenArg: -1}
}

// Ptr declares a read-only user pointer to a fixed-size object.
func Ptr(name string, size uint64) ArgSpec {
	return ArgSpec{Name: name, Kind: ArgPointer, Size: size, LenArg: -1}
}

// OutPtr declares a writable user pointer to a fixed-size object.
func OutPtr(name string, size uint64) ArgSpec {
	return ArgSpec{Name: name, Kind: ArgPointer, Size: size, LenArg: -1, Write: true}
}

// BufPtr declares a user buffer whose length lives in argument slot
// lenArg. Writable buffers set write.
func BufPtr(name string, lenArg int, write bool) ArgSpec {
	return ArgSpec{Name: name, Kind: ArgPointer, LenArg: lenArg, Write: write}
}

// Str declares a terminator-scanned user string of at most maxLen bytes.
func Str(name string, maxLen uint64) ArgSpec {
	return ArgSpec{Name: name, Kind: ArgString, MaxLen: maxLen, LenArg: -1}
}

// FD declares a file-descriptor argument checked against the caller's
// open-descriptor table.
func FD(name string) ArgSpec {
	return ArgSpec{Name: name, Kind: ArgFD, LenArg: -1}
}

// Category groups syscall ids by their reserved hundred-block.
type Category uint8

const (
	CategoryFile Category = iota
	CategoryProcess
	CategoryThread
	CategoryMemory
	CategoryFileExt
	CategorySysInfo
	CategorySecurity
	CategoryDebug
	CategoryReserved
)

var categoryNames = [...]string{
	CategoryFile:     "file",
	CategoryProcess:  "process",
	CategoryThread:   "thread",
	CategoryMemory:   "memory",
	CategoryFileExt:  "file_ext",
	CategorySysInfo:  "sysinfo",
	CategorySecurity: "security",
	CategoryDebug:    "debug",
	CategoryReserved: "reserved",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory maps a category name back to its Category value.
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if name == s {
			return Category(c), nil
		}
	}

	return 0, fmt.Errorf("unknown category %q", s)
}

// CategoryOf reports the reserved category for a syscall id:
// 0-99 file/IO, 100-199 process, 200-299 thread, 300-399 memory,
// 400-499 extended file ops, 500-599 system info, 600-699 security,
// 700-799 debug/profiling, 800-999 reserved.
func CategoryOf(id uint32) Category {
	switch {
	case id < 100:
		return CategoryFile
	case id < 200:
		return CategoryProcess
	case id < 300:
		return CategoryThread
	case id < 400:
		return CategoryMemory
	case id < 500:
		return CategoryFileExt
	case id < 600:
		return CategorySysInfo
	case id < 700:
		return CategorySecurity
	case id < 800:
		return CategoryDebug
	default:
		return CategoryReserved
	}
}

// Descriptor is the static metadata record for one syscall id. Built
// once at startup, immutable thereafter.
type Descriptor struct {
	ID           uint32
	Name         string
	Args         []ArgSpec
	RequiredCaps uint64
	// KernelOnly calls are denied to unprivileged callers regardless of
	// capabilities.
	KernelOnly bool
	// FastPath is advisory registry metadata: the call is known to be
	// trivial (no arguments, no side effects). The dispatcher runs the
	// full pipeline either way; the monitor counts the two groups
	// separately.
	FastPath bool
}

// Category reports the descriptor's reserved id block.
func (d *Descriptor) Category() Category { return CategoryOf(d.ID) }

func (d *Descriptor) validate() error {
	var errs error

	if d.ID >= MaxSyscalls {
		errs = multierr.Append(errs, fmt.Errorf("%w: id %d out of range", ErrBadDescriptor, d.ID))
	}

	if d.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: id %d has no name", ErrBadDescriptor, d.ID))
	}

	if len(d.Args) > MaxArgs {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s declares %d args (max %d)",
			ErrBadDescriptor, d.Name, len(d.Args), MaxArgs))
	}

	for i, a := range d.Args {
		switch a.Kind {
		case ArgInteger:
			if a.Min > a.Max {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s arg %d: min above max",
					ErrBadDescriptor, d.Name, i))
			}
		case ArgPointer:
			if a.LenArg >= len(d.Args) {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s arg %d: length arg %d out of range",
					ErrBadDescriptor, d.Name, i, a.LenArg))
			}
			if a.LenArg >= 0 && d.Args[a.LenArg].Kind != ArgInteger {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s arg %d: length arg %d is not an integer",
					ErrBadDescriptor, d.Name, i, a.LenArg))
			}
		case ArgString:
			if a.MaxLen == 0 {
				errs = multierr.Append(errs, fmt.Errorf("%w: %s arg %d: string without max length",
					ErrBadDescriptor, d.Name, i))
			}
		}
	}

	return errs
}

// Registry is the static description of every syscall number. Lookup is
// O(1) on the numeric id; the table is shared-immutable after init and
// needs no synchronization.
type Registry struct {
	byID   [MaxSyscalls]*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry builds a registry from a descriptor table, rejecting
// duplicate ids, duplicate names, out-of-range ids, and malformed
// argument specs. All problems are reported together.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(descs))}

	var errs error

	for i := range descs {
		d := &descs[i]

		if err := d.validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if r.byID[d.ID] != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %d (%s vs %s)",
				ErrDuplicateID, d.ID, r.byID[d.ID].Name, d.Name))
			continue
		}

		if _, ok := r.byName[d.Name]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name))
			continue
		}

		r.byID[d.ID] = d
		r.byName[d.Name] = d
	}

	if errs != nil {
		return nil, errs
	}

	return r, nil
}

// Lookup returns the descriptor for id, or nil when the id is not
// registered. An absent id is a dispatcher input condition, not a
// registry error.
func (r *Registry) Lookup(id uint32) *Descriptor {
	if id >= MaxSyscalls {
		return nil
	}
	return r.byID[id]
}

// LookupName returns the descriptor registered under name, or nil.
func (r *Registry) LookupName(name string) *Descriptor {
	return r.byName[name]
}

// Search returns every descriptor whose name contains fragment, ordered
// by id. An empty fragment returns the full table.
func (r *Registry) Search(fragment string) []*Descriptor {
	var out []*Descriptor

	for _, d := range r.byID {
		if d != nil && strings.Contains(d.Name, fragment) {
			out = append(out, d)
		}
	}

	return out
}

// ByCategory returns every descriptor in the given reserved block,
// ordered by id.
func (r *Registry) ByCategory(c Category) []*Descriptor {
	var out []*Descriptor

	for _, d := range r.byID {
		if d != nil && d.Category() == c {
			out = append(out, d)
		}
	}

	return out
}

// Descriptors returns the full table ordered by id.
func (r *Registry) Descriptors() []*Descriptor {
	return r.Search("")
}
