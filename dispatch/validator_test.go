package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/multios-dev/syscore/syserr"
)

// stubSpace backs a single mapped region for validator tests.
type stubSpace struct {
	base     uint64
	data     []byte
	writable bool
}

func (s *stubSpace) Accessible(addr, length uint64, write bool) bool {
	if write && !s.writable {
		return false
	}

	return addr >= s.base && addr+length <= s.base+uint64(len(s.data))
}

func (s *stubSpace) View(addr, length uint64) ([]byte, error) {
	if !s.Accessible(addr, length, false) {
		return nil, fmt.Errorf("unmapped range at %#x", addr)
	}

	off := addr - s.base

	return s.data[off : off+length], nil
}

type stubFDs map[int32]struct{}

func (s stubFDs) Contains(fd int32) bool {
	_, ok := s[fd]
	return ok
}

const stubBase = uint64(0x7000_0000)

func stubCaller(data []byte, fds ...int32) *Caller {
	table := stubFDs{}
	for _, fd := range fds {
		table[fd] = struct{}{}
	}

	return &Caller{
		Credentials: Credentials{UID: 1000, GID: 1000, Caps: CapsBasic},
		Space:       &stubSpace{base: stubBase, data: data, writable: true},
		FDs:         table,
	}
}

func TestValidateInteger(t *testing.T) {
	type testcase struct {
		name string
		word uint64
		want syserr.Kind
	}

	desc := &Descriptor{
		ID:   1,
		Name: "int_call",
		Args: []ArgSpec{Int("value", 10, 100)},
	}

	cases := []testcase{
		{name: "in range", word: 50, want: syserr.Ok},
		{name: "at min", word: 10, want: syserr.Ok},
		{name: "at max", word: 100, want: syserr.Ok},
		{name: "below min", word: 9, want: syserr.ValueOutOfRange},
		{name: "above max", word: 101, want: syserr.ValueOutOfRange},
	}

	v := NewValidator(zap.NewNop().Sugar())
	caller := stubCaller(nil)

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := [MaxArgs]uint64{c.word}

			args, kind := v.Validate(desc, &raw, caller, PrivilegeUser)
			require.Equal(t, c.want, kind)

			if c.want == syserr.Ok {
				require.Equal(t, c.word, args.Int(0))
			}
		})
	}
}

func TestValidatePointer(t *testing.T) {
	type testcase struct {
		name string
		addr uint64
		len  uint64
		want syserr.Kind
	}

	desc := &Descriptor{
		ID:   2,
		Name: "buf_call",
		Args: []ArgSpec{
			BufPtr("buf", 1, false),
			Int("count", 0, 1<<20),
		},
	}

	cases := []testcase{
		{name: "valid range", addr: stubBase, len: 64, want: syserr.Ok},
		{name: "whole region", addr: stubBase, len: 256, want: syserr.Ok},
		{name: "zero length", addr: stubBase, len: 0, want: syserr.Ok},
		{name: "null pointer", addr: 0, len: 64, want: syserr.InvalidPointer},
		{name: "one past end", addr: stubBase, len: 257, want: syserr.InvalidPointer},
		{name: "before region", addr: stubBase - 1, len: 64, want: syserr.InvalidPointer},
		{name: "kernel address", addr: KernelBase, len: 64, want: syserr.InvalidPointer},
		{name: "straddles kernel base", addr: KernelBase - 32, len: 64, want: syserr.InvalidPointer},
		{name: "wraps address space", addr: ^uint64(0) - 8, len: 64, want: syserr.InvalidPointer},
	}

	v := NewValidator(zap.NewNop().Sugar())
	caller := stubCaller(make([]byte, 256))

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := [MaxArgs]uint64{c.addr, c.len}

			args, kind := v.Validate(desc, &raw, caller, PrivilegeUser)
			require.Equal(t, c.want, kind)

			if c.want == syserr.Ok {
				require.Len(t, args.Buf(0), int(c.len))
			}
		})
	}
}

func TestValidatePointerWritePermission(t *testing.T) {
	desc := &Descriptor{
		ID:   3,
		Name: "read_into",
		Args: []ArgSpec{OutPtr("out", 16)},
	}

	v := NewValidator(zap.NewNop().Sugar())

	caller := stubCaller(make([]byte, 64))
	caller.Space.(*stubSpace).writable = false

	raw := [MaxArgs]uint64{stubBase}

	_, kind := v.Validate(desc, &raw, caller, PrivilegeUser)
	require.Equal(t, syserr.InvalidPointer, kind)
}

func TestValidateString(t *testing.T) {
	type testcase struct {
		name string
		data []byte
		addr uint64
		want syserr.Kind
		str  string
	}

	region := make([]byte, 1024)
	copy(region, "hello/world\x00")

	long := make([]byte, 1024)
	for i := range long {
		long[i] = 'a' // no terminator anywhere
	}

	cases := []testcase{
		{name: "terminated", data: region, addr: stubBase, want: syserr.Ok, str: "hello/world"},
		{name: "empty string", data: []byte{0}, addr: stubBase, want: syserr.Ok, str: ""},
		{name: "no terminator", data: long, addr: stubBase, want: syserr.InvalidArgument},
		{name: "null pointer", data: region, addr: 0, want: syserr.InvalidPointer},
		{name: "runs off region", data: []byte("abc"), addr: stubBase, want: syserr.InvalidPointer},
	}

	desc := &Descriptor{
		ID:   4,
		Name: "str_call",
		Args: []ArgSpec{Str("path", 512)},
	}

	v := NewValidator(zap.NewNop().Sugar())

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			caller := stubCaller(c.data)
			raw := [MaxArgs]uint64{c.addr}

			args, kind := v.Validate(desc, &raw, caller, PrivilegeUser)
			require.Equal(t, c.want, kind)

			if c.want == syserr.Ok {
				require.Equal(t, c.str, args.Str(0))
			}
		})
	}
}

func TestValidateStringCopies(t *testing.T) {
	region := []byte("mutable\x00")

	desc := &Descriptor{
		ID:   5,
		Name: "str_copy",
		Args: []ArgSpec{Str("s", 64)},
	}

	v := NewValidator(zap.NewNop().Sugar())
	caller := stubCaller(region)

	raw := [MaxArgs]uint64{stubBase}

	args, kind := v.Validate(desc, &raw, caller, PrivilegeUser)
	require.Equal(t, syserr.Ok, kind)

	// A concurrent writer must not be able to change the validated
	// value after the fact.
	region[0] = 'X'
	require.Equal(t, "mutable", args.Str(0))
}

func TestValidateFD(t *testing.T) {
	type testcase struct {
		name string
		word uint64
		want syserr.Kind
	}

	cases := []testcase{
		{name: "open fd", word: 3, want: syserr.Ok},
		{name: "closed fd", word: 7, want: syserr.InvalidArgument},
		{name: "negative fd", word: ^uint64(0), want: syserr.InvalidArgument},
		{name: "fd above int32", word: 1 << 40, want: syserr.InvalidArgument},
	}

	desc := &Descriptor{
		ID:   6,
		Name: "fd_call",
		Args: []ArgSpec{FD("fd")},
	}

	v := NewValidator(zap.NewNop().Sugar())
	caller := stubCaller(nil, 3)

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := [MaxArgs]uint64{c.word}

			args, kind := v.Validate(desc, &raw, caller, PrivilegeUser)
			require.Equal(t, c.want, kind)

			if c.want == syserr.Ok {
				require.Equal(t, int32(c.word), args.FD(0))
			}
		})
	}
}

func TestValidateKernelBypass(t *testing.T) {
	desc := &Descriptor{
		ID:   7,
		Name: "mixed_call",
		Args: []ArgSpec{
			Ptr("p", 64),
			Int("n", 0, 10),
		},
	}

	v := NewValidator(zap.NewNop().Sugar())

	// Kernel-mode callers carry no address space; pointers pass raw.
	caller := &Caller{Credentials: Credentials{UID: 0}}

	raw := [MaxArgs]uint64{KernelBase + 0x1000, 5}

	args, kind := v.Validate(desc, &raw, caller, PrivilegeKernel)
	require.Equal(t, syserr.Ok, kind)
	require.Equal(t, KernelBase+0x1000, args.Int(0))

	// Integer range checks still apply in kernel mode.
	raw[1] = 11

	_, kind = v.Validate(desc, &raw, caller, PrivilegeKernel)
	require.Equal(t, syserr.ValueOutOfRange, kind)
}
